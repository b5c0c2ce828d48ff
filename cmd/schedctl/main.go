// Command schedctl is the operator CLI: it mints session tokens, inspects
// and declares doctor availability, and runs schema migrations.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	appconfig "github.com/wolfman30/hospital-scheduling/internal/config"
	httpmiddleware "github.com/wolfman30/hospital-scheduling/internal/http/middleware"
	"github.com/wolfman30/hospital-scheduling/internal/scheduling"
	"github.com/wolfman30/hospital-scheduling/internal/session"
	appmigrations "github.com/wolfman30/hospital-scheduling/migrations"
	"github.com/wolfman30/hospital-scheduling/pkg/logging"
)

func main() {
	_ = appconfig.LoadDotEnv()
	if err := newRootCmd(appconfig.Load()).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *appconfig.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "schedctl",
		Short:        "Hospital scheduling operator CLI",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(tokenCmd(cfg))
	rootCmd.AddCommand(slotsCmd(cfg))
	rootCmd.AddCommand(declareCmd(cfg))
	rootCmd.AddCommand(migrateCmd(cfg))
	return rootCmd
}

func tokenCmd(cfg *appconfig.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a session token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			rawUser, _ := cmd.Flags().GetString("user")
			rawRole, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			userID, err := uuid.Parse(rawUser)
			if err != nil {
				return fmt.Errorf("--user must be a uuid: %w", err)
			}
			role, err := session.ParseRole(rawRole)
			if err != nil {
				return err
			}
			if cfg.SessionJWTSecret == "" {
				return errors.New("SESSION_JWT_SECRET is required")
			}
			token, err := httpmiddleware.IssueToken(cfg.SessionJWTSecret, session.Session{UserID: userID, Role: role}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("user", "", "User id (uuid)")
	cmd.Flags().String("role", "", "Role: admin, doctor or patient")
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func slotsCmd(cfg *appconfig.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List free slots for a doctor on a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			doctorID, date, err := doctorAndDate(cmd)
			if err != nil {
				return err
			}
			duration, _ := cmd.Flags().GetDuration("duration")
			step, _ := cmd.Flags().GetDuration("step")

			return withService(cmd.Context(), cfg, func(svc *scheduling.Service) error {
				slots, err := svc.ListAvailableSlots(cmd.Context(), doctorID, date, scheduling.SlotQuery{Duration: duration, Step: step})
				if err != nil {
					return err
				}
				printSlots(cmd.OutOrStdout(), slots)
				return nil
			})
		},
	}
	cmd.Flags().String("doctor", "", "Doctor id (uuid)")
	cmd.Flags().String("date", "", "Date (YYYY-MM-DD)")
	cmd.Flags().Duration("duration", 0, "Slot length (default SLOT_DURATION_MINUTES)")
	cmd.Flags().Duration("step", 0, "Start-time step (default SLOT_STEP_MINUTES)")
	return cmd
}

func declareCmd(cfg *appconfig.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "declare",
		Short: "Declare or replace a doctor's working window for a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			doctorID, date, err := doctorAndDate(cmd)
			if err != nil {
				return err
			}
			rawStart, _ := cmd.Flags().GetString("start")
			rawEnd, _ := cmd.Flags().GetString("end")
			start, err := scheduling.ParseTimeOfDay(rawStart)
			if err != nil {
				return err
			}
			end, err := scheduling.ParseTimeOfDay(rawEnd)
			if err != nil {
				return err
			}

			return withService(cmd.Context(), cfg, func(svc *scheduling.Service) error {
				w, err := svc.DeclareAvailability(cmd.Context(), doctorID, date, start, end)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s-%s (window %s)\n", w.Date, w.Start, w.End, w.ID)
				return nil
			})
		},
	}
	cmd.Flags().String("doctor", "", "Doctor id (uuid)")
	cmd.Flags().String("date", "", "Date (YYYY-MM-DD)")
	cmd.Flags().String("start", "", "Window start (HH:MM)")
	cmd.Flags().String("end", "", "Window end (HH:MM)")
	return cmd
}

func migrateCmd(cfg *appconfig.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cfg, func(db *sql.DB) error {
				m, err := appmigrations.NewMigrator(db)
				if err != nil {
					return err
				}
				if err := appmigrations.Up(m); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations complete")
				return nil
			})
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cfg, func(db *sql.DB) error {
				m, err := appmigrations.NewMigrator(db)
				if err != nil {
					return err
				}
				version, dirty, err := m.Version()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty=%t)\n", version, dirty)
				return nil
			})
		},
	}

	cmd.AddCommand(upCmd, versionCmd)
	return cmd
}

func doctorAndDate(cmd *cobra.Command) (uuid.UUID, scheduling.Date, error) {
	rawDoctor, _ := cmd.Flags().GetString("doctor")
	rawDate, _ := cmd.Flags().GetString("date")
	doctorID, err := uuid.Parse(rawDoctor)
	if err != nil {
		return uuid.Nil, scheduling.Date{}, fmt.Errorf("--doctor must be a uuid: %w", err)
	}
	date, err := scheduling.ParseDate(rawDate)
	if err != nil {
		return uuid.Nil, scheduling.Date{}, err
	}
	return doctorID, date, nil
}

func withService(ctx context.Context, cfg *appconfig.Config, fn func(*scheduling.Service) error) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	store := scheduling.NewPostgresStore(pool, cfg.Location())
	svc := scheduling.NewService(store, store, logging.New(cfg.LogLevel)).
		WithOptions(scheduling.Options{
			Location: cfg.Location(),
			Step:     time.Duration(cfg.SlotStepMinutes) * time.Minute,
			Duration: time.Duration(cfg.SlotDurationMinutes) * time.Minute,
		})
	return fn(svc)
}

func withMigrator(cfg *appconfig.Config, fn func(*sql.DB) error) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()
	return fn(db)
}

func printSlots(w io.Writer, slots []scheduling.Slot) {
	if len(slots) == 0 {
		fmt.Fprintln(w, "no free slots")
		return
	}
	for _, s := range slots {
		fmt.Fprintf(w, "%s %s-%s\n", s.Date, s.Start, s.End)
	}
}
