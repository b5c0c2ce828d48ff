package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/hospital-scheduling/internal/audit"
	"github.com/wolfman30/hospital-scheduling/internal/directory"
	httpmiddleware "github.com/wolfman30/hospital-scheduling/internal/http/middleware"
	"github.com/wolfman30/hospital-scheduling/internal/prescriptions"
	"github.com/wolfman30/hospital-scheduling/internal/scheduling"
	"github.com/wolfman30/hospital-scheduling/internal/session"
	"github.com/wolfman30/hospital-scheduling/internal/vitals"
	"github.com/wolfman30/hospital-scheduling/pkg/logging"
)

// Config holds the router configuration.
type Config struct {
	Logger             *logging.Logger
	Scheduling         *scheduling.Handler
	Directory          *directory.Handler
	Vitals             *vitals.Handler
	Prescriptions      *prescriptions.Handler
	Audit              *audit.Handler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	SessionSecret      string
	// DevSessions trusts X-Debug-User/X-Debug-Role headers. Never enable outside development.
	DevSessions bool
	RateLimiter *httpmiddleware.RateLimiter
	// HealthCheck is called by /health when set (typically a database ping).
	HealthCheck func(ctx context.Context) error
}

// New creates a new HTTP router with all routes configured.
func New(cfg *Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(httpmiddleware.CORSPolicy{
			AllowedOrigins:    cfg.CORSAllowedOrigins,
			DevSessionHeaders: cfg.DevSessions,
		}))
	}
	r.Use(httpmiddleware.SessionJWT(cfg.SessionSecret, cfg.Logger))
	if cfg.DevSessions {
		r.Use(httpmiddleware.DevSession)
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.HealthCheck))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Everything else needs a session.
	r.Group(func(r chi.Router) {
		r.Use(httpmiddleware.RequireRole())
		if cfg.RateLimiter != nil {
			r.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
		}

		if cfg.Directory != nil {
			r.Get("/doctors", cfg.Directory.ListDoctors)
		}

		if h := cfg.Scheduling; h != nil {
			r.Route("/doctors/{doctorID}", func(r chi.Router) {
				r.Put("/availability/{date}", h.DeclareAvailability)
				r.Get("/availability", h.ListAvailability)
				r.Get("/slots", h.ListSlots)
				r.Get("/commitments", h.DoctorCommitments)
			})
			r.Route("/appointments", func(r chi.Router) {
				r.Post("/", h.BookAppointment)
				r.Post("/{id}/status", h.UpdateAppointmentStatus)
				r.Post("/{id}/reschedule", h.Reschedule)
			})
			r.Route("/video-calls", func(r chi.Router) {
				r.Post("/", h.BookVideoCall)
				r.Post("/{id}/status", h.UpdateVideoCallStatus)
			})
			r.Get("/patients/{patientID}/commitments", h.PatientCommitments)
			r.Post("/patients/{patientID}/emergency", h.RaiseEmergency)
		}

		if h := cfg.Vitals; h != nil {
			r.Post("/patients/{patientID}/vitals", h.Record)
			r.Get("/patients/{patientID}/vitals/{kind}", h.Series)
		}

		if h := cfg.Prescriptions; h != nil {
			r.Post("/patients/{patientID}/prescriptions", h.Prescribe)
			r.Get("/patients/{patientID}/prescriptions", h.List)
		}

		if cfg.Audit != nil {
			r.With(httpmiddleware.RequireRole(session.RoleAdmin)).Get("/admin/logs", cfg.Audit.ListLogs)
		}
	})

	return r
}

func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
