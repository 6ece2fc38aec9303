package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/fieldwalk/fieldwalk/internal/accounts"
	"github.com/fieldwalk/fieldwalk/internal/channel"
	"github.com/fieldwalk/fieldwalk/internal/channel/whatsapp"
	"github.com/fieldwalk/fieldwalk/internal/checklist"
	"github.com/fieldwalk/fieldwalk/internal/config"
	"github.com/fieldwalk/fieldwalk/internal/conversation"
	"github.com/fieldwalk/fieldwalk/internal/db"
	"github.com/fieldwalk/fieldwalk/internal/dispatch"
	"github.com/fieldwalk/fieldwalk/internal/handlers"
	"github.com/fieldwalk/fieldwalk/internal/identity"
	"github.com/fieldwalk/fieldwalk/internal/intent"
	"github.com/fieldwalk/fieldwalk/internal/logger"
	"github.com/fieldwalk/fieldwalk/internal/media"
	"github.com/fieldwalk/fieldwalk/internal/reminder"
	"github.com/fieldwalk/fieldwalk/internal/report"
	"github.com/fieldwalk/fieldwalk/internal/server"
	"github.com/fieldwalk/fieldwalk/internal/storage"
	"github.com/fieldwalk/fieldwalk/internal/storage/localfs"
	"github.com/fieldwalk/fieldwalk/internal/version"
	"github.com/fieldwalk/fieldwalk/internal/workflow"
	"github.com/fieldwalk/fieldwalk/internal/workorder"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook and admin API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			fx.New(
				fx.Provide(
					provideConfig,
					provideLogger,
					provideDBConn,
					provideTxRunner,
					provideStorage,

					identity.NewService,
					workorder.NewService,
					checklist.NewService,
					conversation.NewStore,
					provideMediaService,
					provideAccountsService,
					provideChannelRegistry,
					provideWhatsAppAdapter,
					provideClassifier,
					provideEngine,
					provideDispatcher,
					provideReportGenerator,
					provideReminder,

					provideServerHandler(handlers.NewPingHandler),
					provideServerHandler(provideAuthHandler),
					provideServerHandler(provideWebhookHandler),
					provideServerHandler(handlers.NewUsersHandler),
					provideServerHandler(handlers.NewTemplatesHandler),
					provideServerHandler(handlers.NewWorkOrdersHandler),
					provideServerHandler(handlers.NewMediaHandler),

					provideServer,
				),
				fx.Invoke(
					registerTriggerHandlers,
					startReminder,
					startServer,
				),
				fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
					return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
				}),
			).Run()
			return nil
		},
	}
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
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

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			conn.Close()
			return nil
		},
	})
	return conn, nil
}

func provideTxRunner(conn *pgxpool.Pool) db.TxRunner {
	return db.NewTxRunner(conn)
}

func provideStorage(cfg config.Config) (storage.Provider, error) {
	store, err := localfs.New(cfg.Media.Root)
	if err != nil {
		return nil, fmt.Errorf("media storage: %w", err)
	}
	return store, nil
}

func provideMediaService(log *slog.Logger, provider storage.Provider, cfg config.Config) *media.Service {
	return media.NewService(log, provider, cfg.Media.MaxBytes)
}

func provideAccountsService(log *slog.Logger, pool *pgxpool.Pool) *accounts.Service {
	return accounts.NewService(log, pool)
}

func provideWhatsAppAdapter(log *slog.Logger, cfg config.Config) *whatsapp.Adapter {
	return whatsapp.New(log, cfg.WhatsApp)
}

func provideChannelRegistry(wa *whatsapp.Adapter) *channel.Registry {
	registry := channel.NewRegistry()
	registry.MustRegister(wa)
	return registry
}

func provideClassifier(log *slog.Logger, cfg config.Config) intent.Classifier {
	return intent.NewHTTPClassifier(log, cfg.Classifier)
}

func provideEngine(
	log *slog.Logger,
	tx db.TxRunner,
	conversations *conversation.Store,
	users *identity.Service,
	orders *workorder.Service,
	checklists *checklist.Service,
	mediaService *media.Service,
	registry *channel.Registry,
	classifier intent.Classifier,
	cfg config.Config,
) *workflow.Engine {
	return workflow.NewEngine(log, tx, conversations, users, orders, checklists,
		mediaService, registry, classifier, cfg.Classifier.MinConfidence)
}

func provideDispatcher(log *slog.Logger, registry *channel.Registry, cfg config.Config) *dispatch.Dispatcher {
	return dispatch.NewDispatcher(log, registry, cfg.Dispatch)
}

func provideReportGenerator(log *slog.Logger, pool *pgxpool.Pool, orders *workorder.Service,
	checklists *checklist.Service, mediaService *media.Service, store storage.Provider,
) *report.Generator {
	return report.NewGenerator(log, pool, orders, checklists, mediaService, store)
}

func registerTriggerHandlers(dispatcher *dispatch.Dispatcher, reports *report.Generator) {
	dispatcher.RegisterTriggerHandler(workflow.TriggerGenerateReport, reports)
}

func provideReminder(log *slog.Logger, cfg config.Config, pool *pgxpool.Pool,
	users *identity.Service, orders *workorder.Service, dispatcher *dispatch.Dispatcher,
) *reminder.Service {
	return reminder.NewService(log, cfg.Reminder, pool, users, orders, dispatcher)
}

func provideAuthHandler(log *slog.Logger, accountsService *accounts.Service, cfg config.Config) *handlers.AuthHandler {
	return handlers.NewAuthHandler(log, accountsService, cfg.Auth)
}

func provideWebhookHandler(log *slog.Logger, wa *whatsapp.Adapter, engine *workflow.Engine,
	dispatcher *dispatch.Dispatcher, cfg config.Config,
) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, wa, engine, dispatcher, cfg.WhatsApp.WebhookPath)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr,
		params.Config.Auth.JWTSecret, params.Config.WhatsApp.WebhookPath,
		params.ServerHandlers...)
}

func startReminder(lc fx.Lifecycle, svc *reminder.Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return svc.Start()
		},
		OnStop: func(ctx context.Context) error {
			svc.Stop()
			return nil
		},
	})
}

func startServer(
	lc fx.Lifecycle,
	logger *slog.Logger,
	srv *server.Server,
	shutdowner fx.Shutdowner,
	cfg config.Config,
	accountsService *accounts.Service,
) {
	fmt.Printf("Starting fieldwalk %s\n", version.GetInfo())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := accountsService.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Password); err != nil {
				return err
			}

			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
