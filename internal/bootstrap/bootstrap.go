// Package bootstrap wires the gateway's components together through a
// dependency-ordered sequence of named init steps, then runs the HTTP
// and websocket servers under a shared errgroup until a shutdown signal
// arrives.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"asrgateway/internal/domain/archive"
	"asrgateway/internal/domain/asr"
	"asrgateway/internal/domain/clerkauth"
	"asrgateway/internal/domain/eventbus"
	"asrgateway/internal/domain/session"
	"asrgateway/internal/domain/ticket"
	"asrgateway/internal/domain/ticket/store"
	platformconfig "asrgateway/internal/platform/config"
	platformerrors "asrgateway/internal/platform/errors"
	platformlogging "asrgateway/internal/platform/logging"
	platformobservability "asrgateway/internal/platform/observability"
	httptransport "asrgateway/internal/transport/http"
	"asrgateway/internal/transport/ws"
)

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	config      *platformconfig.Config
	configPath  string
	logger      *platformlogging.Logger
	obsShutdown platformobservability.ShutdownFunc

	group    *errgroup.Group
	groupCtx context.Context

	ticketStore   store.Store
	ticketManager *ticket.Manager
	ticketIssuer  *ticket.Issuer
	dispatcher    *asr.Dispatcher
	objectStore   archive.ObjectStore
	wsServer      *ws.Server
	httpServer    *http.Server
}

// Run loads configuration, wires every component, starts the HTTP and
// websocket servers, and blocks until SIGINT/SIGTERM or a fatal error.
func Run(ctx context.Context) error {
	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(signalCtx)

	state := &appState{group: group, groupCtx: groupCtx}

	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, state); err != nil {
		return err
	}

	if state.config == nil || state.logger == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "bootstrap state validation", "config/logger not initialised")
	}

	logBootstrapGraph(steps, state.logger)

	if shutdown := state.obsShutdown; shutdown != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				state.logger.WarnTag("Bootstrap", "observability did not shut down cleanly", map[string]any{"error": err.Error()})
			}
		}()
	}

	state.logger.InfoTag("Bootstrap", "gateway started", map[string]any{
		"http_addr":      state.config.Server.Addr,
		"transport_addr": state.config.Transport.Addr,
	})

	if err := waitForShutdown(signalCtx, cancel, state.logger, group); err != nil {
		return err
	}

	state.logger.InfoTag("Bootstrap", "gateway stopped cleanly", nil)
	return state.logger.Close()
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	if logger == nil {
		return
	}
	logger.InfoTag("Bootstrap", "init graph", map[string]any{"steps": stepIDs(steps)})
}

func stepIDs(steps []initStep) []string {
	ids := make([]string, len(steps))
	for i, step := range steps {
		ids[i] = step.ID
	}
	return ids
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "execute init steps", "nil bootstrap state")
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(platformerrors.KindBootstrap, step.ID, fmt.Sprintf("dependency %s not satisfied", dep))
			}
		}
		if step.Execute == nil {
			return platformerrors.New(platformerrors.KindBootstrap, step.ID, "missing execute function")
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}
			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

// InitGraph returns the gateway's nine-step dependency-ordered init
// sequence: the first seven build process state, the last two launch the
// HTTP ticket issuer and the websocket transport as supervised goroutines.
func InitGraph() []initStep {
	return []initStep{
		{ID: "config:load", Title: "Load configuration", Kind: platformerrors.KindConfig, Execute: loadConfigStep},
		{ID: "logging:init", Title: "Initialise structured logger", DependsOn: []string{"config:load"}, Kind: platformerrors.KindBootstrap, Execute: initLoggingStep},
		{ID: "observability:setup", Title: "Setup observability hooks", DependsOn: []string{"logging:init"}, Kind: platformerrors.KindBootstrap, Execute: setupObservabilityStep},
		{ID: "eventbus:start", Title: "Start event bus handlers", DependsOn: []string{"logging:init"}, Kind: platformerrors.KindBootstrap, Execute: startEventBusStep},
		{ID: "ticketstore:init", Title: "Initialise ticket store", DependsOn: []string{"config:load", "logging:init"}, Kind: platformerrors.KindTicket, Execute: initTicketStoreStep},
		{ID: "asr:init-clients", Title: "Initialise ASR dispatcher", DependsOn: []string{"config:load", "logging:init"}, Kind: platformerrors.KindASR, Execute: initASRStep},
		{ID: "archive:init-objectstore", Title: "Initialise archive object store", DependsOn: []string{"config:load", "logging:init"}, Kind: platformerrors.KindArchive, Execute: initObjectStoreStep},
		{ID: "http:start-ticket-issuer", Title: "Start HTTP ticket issuer", DependsOn: []string{"ticketstore:init", "archive:init-objectstore"}, Kind: platformerrors.KindTransport, Execute: startTicketIssuerStep},
		{ID: "ws:start-transport", Title: "Start websocket transport", DependsOn: []string{"ticketstore:init", "asr:init-clients", "archive:init-objectstore"}, Kind: platformerrors.KindTransport, Execute: startTransportStep},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	result, err := platformconfig.NewLoader().Load()
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "config:load", "failed to load configuration", err)
	}
	state.config = result.Config
	state.configPath = result.Path
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	logger, err := platformlogging.New(state.config.Log)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init", "failed to initialise logger", err)
	}
	state.logger = logger
	if state.configPath != "" {
		logger.InfoTag("Bootstrap", "configuration loaded", map[string]any{"path": state.configPath})
	} else {
		logger.InfoTag("Bootstrap", "configuration loaded from defaults and environment", nil)
	}
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	cfg := platformobservability.Config{Enabled: strings.EqualFold(state.config.Log.Level, "debug")}
	shutdown, err := platformobservability.Setup(ctx, cfg, state.logger.Slog())
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "observability:setup", "failed to setup observability hooks", err)
	}
	state.obsShutdown = shutdown
	return nil
}

func startEventBusStep(_ context.Context, state *appState) error {
	eventbus.SetupEventHandlers(state.logger.Slog())
	return nil
}

func initTicketStoreStep(_ context.Context, state *appState) error {
	cfg := state.config.TicketStore
	storeCfg := store.Config{
		Driver: cfg.Driver,
		TTL:    time.Duration(cfg.TTLSeconds) * time.Second,
	}
	switch cfg.Driver {
	case store.DriverRedis:
		storeCfg.Redis = &store.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
	case store.DriverSQLite:
		storeCfg.SQLite = &store.SQLiteConfig{DSN: cfg.SQLite.DSN}
	}

	s, err := store.New(storeCfg, store.Dependencies{})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindTicket, "ticketstore:init", "failed to build ticket store", err)
	}
	state.ticketStore = s
	state.ticketManager = ticket.NewManager(s)
	state.ticketIssuer = ticket.NewIssuer(state.ticketManager)
	state.logger.InfoTag("Bootstrap", "ticket store ready", map[string]any{"driver": cfg.Driver})
	return nil
}

func initASRStep(_ context.Context, state *appState) error {
	cfg := state.config.ASR
	state.dispatcher = asr.New(asr.Config{
		UseFireworks:    cfg.UseFireworks,
		GroqAPIKey:      cfg.GroqAPIKey,
		FireworksAPIKey: cfg.FireworksAPIKey,
		DebugMode:       cfg.DebugMode,
	}, state.logger)
	return nil
}

func initObjectStoreStep(ctx context.Context, state *appState) error {
	cfg := state.config.Archive.ObjectStore
	if cfg.Bucket == "" {
		state.logger.WarnTag("Bootstrap", "no object store bucket configured, using in-memory object store", nil)
		state.objectStore = archive.NewMemoryStore()
		return nil
	}

	s3Store, err := archive.NewS3Store(ctx, archive.S3Config{
		Bucket:    cfg.Bucket,
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Region:    cfg.Region,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindArchive, "archive:init-objectstore", "failed to build object store client", err)
	}
	state.objectStore = s3Store
	return nil
}

func startTicketIssuerStep(_ context.Context, state *appState) error {
	router, err := httptransport.Build(httptransport.Options{Config: state.config, Logger: state.logger})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindTransport, "http:start-ticket-issuer", "failed to build http router", err)
	}

	verifier, err := clerkauth.NewVerifier(state.config.Server.ClerkJWTKey)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindAuth, "http:start-ticket-issuer", "failed to build clerk verifier", err)
	}
	verifier = verifier.WithAuthorizedParties(state.config.Server.AuthorizedParties)

	ticketSvc := httptransport.NewTicketService(verifier, state.ticketIssuer, state.logger)
	ticketSvc.Register(router.API)

	adminSvc := httptransport.NewAdminService(state.config.Server.AdminToken, state.objectStore, state.ticketManager, state.logger)
	adminSvc.Register(router.API)

	httpSrv := &http.Server{Addr: state.config.Server.Addr, Handler: router.Engine}
	state.httpServer = httpSrv

	state.group.Go(func() error {
		go func() {
			<-state.groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				state.logger.ErrorTag("HTTP", "shutdown failed", map[string]any{"error": err.Error()})
			}
		}()

		state.logger.InfoTag("HTTP", "listening", map[string]any{"addr": state.config.Server.Addr})
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	return nil
}

func startTransportStep(_ context.Context, state *appState) error {
	hub := ws.NewHub(state.logger)
	router := ws.NewRouter(hub, state.logger, ws.RouterOptions{AllowedOrigins: state.config.Transport.AllowedOrigins})

	wsSrv := ws.NewServer(ws.ServerConfig{
		Addr:             state.config.Transport.Addr,
		Path:             state.config.Transport.Path,
		HandshakeTimeout: state.config.Transport.HandshakeTimeout,
		IdleTimeout:      state.config.Transport.IdleTimeout,
	}, router, hub, state.logger)

	wsSrv.SetHandlerBuilder(session.NewHandlerBuilder(session.Dependencies{
		Tickets:     state.ticketManager,
		Dispatcher:  state.dispatcher,
		ObjectStore: state.objectStore,
		ArchiveCfg: archive.Config{
			WindowSizeMs:       state.config.Archive.WindowSizeMs,
			UploadIntervalMs:   state.config.Archive.UploadIntervalMs,
			MaxMemoryMB:        state.config.Archive.MaxMemoryMB,
			StoreOriginalAudio: state.config.Archive.StoreOriginalAudio,
			StoreVadSegments:   state.config.Archive.StoreVadSegments,
		},
		Logger: state.logger,
	}))
	state.wsServer = wsSrv

	state.group.Go(func() error {
		return wsSrv.Start(state.groupCtx)
	})
	state.group.Go(func() error {
		<-state.groupCtx.Done()
		return wsSrv.Stop()
	})

	return nil
}

func waitForShutdown(ctx context.Context, cancel context.CancelFunc, logger *platformlogging.Logger, g *errgroup.Group) error {
	<-ctx.Done()
	logger.InfoTag("Bootstrap", "shutdown signal received", map[string]any{"cause": context.Cause(ctx).Error()})

	cancel()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("Bootstrap", "shutdown completed with errors", map[string]any{"error": err.Error()})
			return err
		}
		logger.InfoTag("Bootstrap", "all services stopped", nil)
	case <-time.After(15 * time.Second):
		logger.ErrorTag("Bootstrap", "shutdown timed out, forcing exit", nil)
		return errors.New("shutdown timed out")
	}
	return nil
}
