package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/hospital-scheduling/pkg/logging"
)

// VelocityGuard counts booking attempts per patient in Redis. It fails open:
// when Redis is unreachable every attempt is allowed.
type VelocityGuard struct {
	redis       *redis.Client
	logger      *logging.Logger
	maxAttempts int
	window      time.Duration
}

func NewVelocityGuard(client *redis.Client, maxAttempts int, window time.Duration, logger *logging.Logger) *VelocityGuard {
	if logger == nil {
		logger = logging.Default()
	}
	if window <= 0 {
		window = time.Hour
	}
	return &VelocityGuard{redis: client, logger: logger, maxAttempts: maxAttempts, window: window}
}

func velocityKey(patientID uuid.UUID) string {
	return fmt.Sprintf("velocity:booking:%s", patientID)
}

// Allow records an attempt and reports whether the patient is still within budget.
func (g *VelocityGuard) Allow(ctx context.Context, patientID uuid.UUID) (bool, error) {
	if g == nil || g.redis == nil || g.maxAttempts <= 0 {
		return true, nil
	}
	ctx, span := tracer.Start(ctx, "scheduling.velocity")
	defer span.End()

	key := velocityKey(patientID)
	count, err := g.redis.Incr(ctx, key).Result()
	if err != nil {
		g.logger.Error("velocity check failed", "error", err, "key", key)
		return true, nil
	}
	// Expiry is set only on the first attempt so the window is fixed.
	if count == 1 {
		if err := g.redis.Expire(ctx, key, g.window).Err(); err != nil {
			g.logger.Warn("velocity expiry not set", "error", err, "key", key)
		}
	}
	if int(count) > g.maxAttempts {
		span.SetAttributes(attribute.Bool("velocity.exceeded", true))
		g.logger.Warn("booking velocity exceeded", "patient_id", patientID, "count", count, "max", g.maxAttempts)
		return false, nil
	}
	return true, nil
}

// Reset clears the attempt counter for a patient.
func (g *VelocityGuard) Reset(ctx context.Context, patientID uuid.UUID) error {
	if g == nil || g.redis == nil {
		return nil
	}
	return g.redis.Del(ctx, velocityKey(patientID)).Err()
}
