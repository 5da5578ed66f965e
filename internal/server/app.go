// Package server wires the m-market backend together: configuration,
// PostgreSQL and migrations, the Redis session store, the credential
// authority client, the HTTP API and the periodic session cleanup.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/mmarket/internal/logging"
	"github.com/dmitrijs2005/mmarket/internal/server/config"
	"github.com/dmitrijs2005/mmarket/internal/server/credentials"
	"github.com/dmitrijs2005/mmarket/internal/server/httpapi"
	"github.com/dmitrijs2005/mmarket/internal/server/metrics"
	"github.com/dmitrijs2005/mmarket/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/mmarket/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/mmarket/internal/server/services"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	grpccreds "google.golang.org/grpc/credentials"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const startupTimeout = 15 * time.Second

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	redis       *redis.Client
	credentials *credentials.Client
	metrics     *metrics.Metrics
	userService *services.UserService
	httpServer  *httpapi.Server
}

// NewApp connects every dependency and runs the database migrations. The
// credential authority must be reachable: its public key is needed to
// verify tokens locally.
func NewApp(c *config.Config) (*App, error) {
	logger := logging.New(os.Stdout, c.LogLevel).With("env", c.Env)

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	app := &App{config: c, logger: logger, metrics: metrics.New()}
	if err := app.init(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (app *App) init(ctx context.Context) error {
	c := app.config

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("db init error: %w", err)
	}
	app.db = db
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return err
	}

	opts, err := redis.ParseURL(c.RedisURL)
	if err != nil {
		return fmt.Errorf("redis url: %w", err)
	}
	app.redis = redis.NewClient(opts)
	sessionRepo := sessions.NewRedisRepository(app.redis, c.TokenTTL, app.logger)
	if err := sessionRepo.Ping(ctx); err != nil {
		return err
	}

	clientOpts := []credentials.Option{
		credentials.WithIssuer(c.TokenIssuer),
		credentials.WithEnv(c.Env),
		credentials.WithLogger(app.logger),
	}
	if c.AuthServiceCAFile != "" {
		tc, err := grpccreds.NewClientTLSFromFile(c.AuthServiceCAFile, "")
		if err != nil {
			return fmt.Errorf("auth service tls: %w", err)
		}
		clientOpts = append(clientOpts, credentials.WithDialOptions(grpc.WithTransportCredentials(tc)))
	}
	app.credentials = credentials.NewClient(c.AuthServiceAddr, clientOpts...)
	if err := app.credentials.Connect(ctx); err != nil {
		return err
	}
	if err := app.credentials.Ping(ctx); err != nil {
		return err
	}
	if err := app.credentials.FetchPublicKey(ctx); err != nil {
		return err
	}

	coordinator := services.NewAuthCoordinator(app.credentials, c.TokenTTL, app.metrics, app.logger)
	app.userService = services.NewUserService(db, rm, sessionRepo, coordinator, c, app.metrics, app.logger)

	app.httpServer = httpapi.NewServer(c.EndpointAddrHTTP, app.userService, c.TokenTTL, app.metrics, app.logger,
		httpapi.WithSecureCookies(c.IsProd()),
		httpapi.WithReadyCheck("postgres", db.PingContext),
		httpapi.WithReadyCheck("redis", sessionRepo.Ping),
		httpapi.WithReadyCheck("auth", app.credentials.Ping),
	)
	return nil
}

// Users exposes the user service, e.g. for the superadmin bootstrap tool.
func (app *App) Users() *services.UserService { return app.userService }

// Close releases every opened connection.
func (app *App) Close() {
	if app.credentials != nil {
		_ = app.credentials.Close()
	}
	if app.redis != nil {
		_ = app.redis.Close()
	}
	if app.db != nil {
		_ = app.db.Close()
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) initSuperAdmin(ctx context.Context) {
	c := app.config
	if c.SuperAdminUsername == "" || c.SuperAdminPassword == "" {
		app.logger.Info(ctx, "superadmin credentials are not configured, skipping bootstrap")
		return
	}
	if _, err := app.userService.InitSuperAdmin(ctx, c.SuperAdminUsername, c.SuperAdminPassword); err != nil {
		app.logger.Error(ctx, "superadmin bootstrap failed", "error", err)
	}
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.httpServer.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run serves until a termination signal arrives or the HTTP server fails.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	defer app.Close()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)
	app.initSuperAdmin(ctx)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runSessionCleanup(ctx, app.config.SessionCleanupInterval, app.userService.CleanSessions, app.logger)
	}()

	wg.Wait()
	app.logger.Info(context.Background(), "App stopped")
}

// runSessionCleanup calls clean every interval until ctx is done. A
// non-positive interval disables the sweep.
func runSessionCleanup(ctx context.Context, interval time.Duration, clean func(context.Context) (int, error), l logging.Logger) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := clean(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				l.Error(ctx, "session cleanup failed", "error", err)
				continue
			}
			l.Info(ctx, "session cleanup finished", "removed", n)
		}
	}
}
