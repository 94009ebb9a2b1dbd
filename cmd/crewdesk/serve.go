package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"golang.org/x/crypto/bcrypt"

	"github.com/crewdesk/crewdesk/internal/config"
	"github.com/crewdesk/crewdesk/internal/conversation"
	"github.com/crewdesk/crewdesk/internal/event"
	"github.com/crewdesk/crewdesk/internal/finder"
	"github.com/crewdesk/crewdesk/internal/handlers"
	"github.com/crewdesk/crewdesk/internal/hooks"
	"github.com/crewdesk/crewdesk/internal/i18n"
	"github.com/crewdesk/crewdesk/internal/jobs"
	"github.com/crewdesk/crewdesk/internal/kvstore"
	"github.com/crewdesk/crewdesk/internal/logger"
	"github.com/crewdesk/crewdesk/internal/mailer"
	"github.com/crewdesk/crewdesk/internal/message"
	"github.com/crewdesk/crewdesk/internal/models"
	"github.com/crewdesk/crewdesk/internal/push"
	"github.com/crewdesk/crewdesk/internal/routing"
	"github.com/crewdesk/crewdesk/internal/server"
	"github.com/crewdesk/crewdesk/internal/store"
	"github.com/crewdesk/crewdesk/internal/webhooks"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideStore,
			provideKVStore,
			provideCatalog,
			provideHub,
			provideRunner,
			provideQueue,
			provideMailer,
			mailer.NewDigestService,
			routing.NewService,
			conversation.NewService,
			provideMessageService,
			hooks.NewService,
			finder.New,
			provideSweeper,
			provideWebhookDeliverer,
			push.NewHub,
			provideHandlers,
			provideServer,
		),
		fx.Invoke(
			registerJobHandlers,
			registerSubscribers,
			startSweeper,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideStore(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (store.Store, error) {
	if cfg.Store.Driver == "memory" {
		log.Warn("using in-memory store; data will not survive a restart")
		return store.NewMemory(), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	pg, err := store.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(); err != nil {
		pg.Close()
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { pg.Close(); return nil }})
	return pg, nil
}

func provideKVStore() kvstore.Store {
	return kvstore.NewMemory()
}

func provideCatalog() (*i18n.Catalog, error) {
	return i18n.Load()
}

func provideHub(log *slog.Logger) *event.Hub {
	return event.NewHub(log)
}

func provideRunner(lc fx.Lifecycle, log *slog.Logger) *jobs.Runner {
	runner := jobs.NewRunner(log)
	lc.Append(fx.Hook{OnStop: func(context.Context) error { runner.Stop(); return nil }})
	return runner
}

func provideQueue(runner *jobs.Runner) jobs.Queue {
	return runner
}

func provideMailer(log *slog.Logger, cfg config.Config) mailer.Mailer {
	if !cfg.Mailer.Enabled {
		return mailer.NewNoop(log)
	}
	return mailer.NewSMTP(log, cfg.Mailer)
}

func provideMessageService(log *slog.Logger, st store.Store, kv kvstore.Store, hub *event.Hub, queue jobs.Queue, convs *conversation.Service) *message.Service {
	return message.NewService(log, st, kv, hub, queue, convs)
}

func provideSweeper(log *slog.Logger, cfg config.Config, convs *conversation.Service) *jobs.Sweeper {
	return jobs.NewSweeper(log, convs, cfg.Conversations.AutoResolveSweep)
}

func provideWebhookDeliverer(log *slog.Logger, cfg config.Config, st store.Store) *webhooks.Deliverer {
	return webhooks.NewDeliverer(log, st, time.Duration(cfg.Webhooks.TimeoutSeconds)*time.Second)
}

func provideHandlers(log *slog.Logger, cfg config.Config, st store.Store, convs *conversation.Service, msgs *message.Service, fnd *finder.Finder, pushHub *push.Hub) []server.Handler {
	expiresIn, err := time.ParseDuration(cfg.Auth.JWTExpiresIn)
	if err != nil || expiresIn <= 0 {
		expiresIn = 24 * time.Hour
	}
	return []server.Handler{
		handlers.NewPingHandler(),
		handlers.NewAuthHandler(log, st, cfg.Auth.JWTSecret, expiresIn),
		handlers.NewConversationHandler(log, st, convs, fnd),
		handlers.NewMessageHandler(log, st, msgs),
		handlers.NewWSHandler(log, pushHub),
	}
}

func provideServer(log *slog.Logger, cfg config.Config, hs []server.Handler) *server.Server {
	return server.NewServer(log, cfg.Server.Addr, cfg.Auth.JWTSecret, hs...)
}

// registerJobHandlers binds the deferred job types to their service methods
// and closes the hook loop between the message and hooks services.
func registerJobHandlers(runner *jobs.Runner, convs *conversation.Service, digests *mailer.DigestService, msgs *message.Service, hookSvc *hooks.Service) {
	msgs.SetTemplateHook(hookSvc)

	runner.Register(jobs.TypeAutoResolve, func(ctx context.Context, job jobs.Job) error {
		return convs.RunAutoResolveCheck(ctx, job.Args["account_id"], job.Args["conversation_id"])
	})
	runner.Register(jobs.TypeDigestEmail, func(ctx context.Context, job jobs.Job) error {
		return digests.DeliverDigest(ctx, job.Args["account_id"], job.Args["conversation_id"])
	})
}

func registerSubscribers(hub *event.Hub, deliverer *webhooks.Deliverer, pushHub *push.Hub) {
	deliverer.Register(hub)
	pushHub.Register(hub)
}

func startSweeper(lc fx.Lifecycle, sweeper *jobs.Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return sweeper.Start() },
		OnStop:  func(context.Context) error { sweeper.Stop(); return nil },
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config, st store.Store) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := ensureAdminAgent(ctx, log, st, cfg); err != nil {
				return err
			}
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			log.Info("server listening", slog.String("addr", cfg.Server.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}

// ensureAdminAgent seeds the first account and its administrator on an
// empty installation.
func ensureAdminAgent(ctx context.Context, log *slog.Logger, st store.Store, cfg config.Config) error {
	count, err := st.CountAccounts(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	name := strings.TrimSpace(cfg.Admin.Name)
	email := strings.TrimSpace(cfg.Admin.Email)
	password := strings.TrimSpace(cfg.Admin.Password)
	if email == "" || password == "" {
		return fmt.Errorf("admin email/password required in config.toml")
	}
	if password == "change-your-password-here" {
		log.Warn("admin password uses default placeholder; please update config.toml")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	account := models.Account{Name: "Default"}
	if err := st.CreateAccount(ctx, &account); err != nil {
		return fmt.Errorf("create default account: %w", err)
	}
	agent := models.Agent{
		AccountID:    account.ID,
		Name:         name,
		Email:        email,
		PasswordHash: string(hashed),
		Role:         models.RoleAdministrator,
	}
	if err := st.CreateAgent(ctx, &agent); err != nil {
		return fmt.Errorf("create admin agent: %w", err)
	}
	log.Info("admin agent created", slog.String("email", email))
	return nil
}
