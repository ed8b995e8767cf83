package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/gym-scheduler/internal/auth"
	"github.com/example/gym-scheduler/internal/config"
	"github.com/example/gym-scheduler/internal/crypto"
	"github.com/example/gym-scheduler/internal/db"
	"github.com/example/gym-scheduler/internal/engine"
	"github.com/example/gym-scheduler/internal/lifecycle"
	"github.com/example/gym-scheduler/internal/migrate"
	"github.com/example/gym-scheduler/internal/notify"
	"github.com/example/gym-scheduler/internal/reservations"
	"github.com/example/gym-scheduler/internal/scheduler"
	"github.com/example/gym-scheduler/internal/vivagym"
	"github.com/example/gym-scheduler/internal/web"
)

// provider adapts the concrete gym client to the engine's interface.
type provider struct {
	client *vivagym.Client
}

func (p provider) Authenticate(ctx context.Context, email, password string) (engine.ProviderSession, error) {
	sess, err := p.client.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func newServerCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the API server + booking scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := d.Ping(ctx); err != nil {
				return fmt.Errorf("db ping: %w", err)
			}

			if migrateUp {
				if err := migrate.Up(ctx, d); err != nil {
					return err
				}
			}

			vault, err := openVault(cfg)
			if err != nil {
				return err
			}

			repo := reservations.NewRepo(d)
			prov := provider{client: vivagym.New(cfg.ProviderBaseURL, cfg.ProviderTimeout)}

			var notifier engine.Notifier = notify.Discard{}
			if cfg.SMTPHost != "" {
				notifier = &notify.Mailer{
					Host:     cfg.SMTPHost,
					Port:     cfg.SMTPPort,
					From:     cfg.SMTPFrom,
					Password: cfg.SMTPPassword,
				}
			}

			eng := engine.New(repo, vault, prov, notifier, cfg.BookingAttempts, cfg.RetryDelay)

			// Weekly triggers fire the day before each class with deferred
			// semantics; the engine books the next day's occurrence.
			runner := scheduler.RunnerFunc(func(ctx context.Context, j scheduler.Job, firedAt time.Time) {
				err := eng.Execute(ctx, engine.Task{
					ReservationID: j.ReservationID,
					ClassTime:     j.ClassTime,
					Center:        j.Center,
					ClassName:     j.ClassName,
					FiredAt:       firedAt,
					Deferred:      true,
				})
				if err != nil {
					log.Printf("scheduled booking for reservation %d: %v", j.ReservationID, err)
				}
			})

			sched := scheduler.New(scheduler.NewPGStore(d), runner, cfg.MisfireGrace)
			if err := sched.Start(ctx); err != nil {
				return fmt.Errorf("start scheduler: %w", err)
			}
			defer sched.Stop()

			life := lifecycle.New(sched, eng, repo, vault, prov, cfg.BookingWindow)

			ws := &web.Server{
				Store:    repo,
				Life:     life,
				Vault:    vault,
				Provider: prov,
				Tokens:   auth.New(cfg.JWTSecret, cfg.JWTTTL),
			}
			return web.Start(ctx, cfg.ListenAddr, ws.Routes())
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}

func openVault(cfg config.Config) (*crypto.AEAD, error) {
	key := cfg.VaultKey
	if key == nil {
		var err error
		key, err = crypto.DeriveKey(cfg.VaultPassphrase, cfg.VaultSalt)
		if err != nil {
			return nil, fmt.Errorf("derive vault key: %w", err)
		}
	}
	return crypto.New(key)
}
