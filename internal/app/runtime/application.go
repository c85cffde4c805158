// Package runtime assembles the application from configuration and manages
// its lifecycle.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	"github.com/plantree-xyz/plantree-server/internal/app/httpapi"
	"github.com/plantree-xyz/plantree-server/internal/app/services/content"
	"github.com/plantree-xyz/plantree-server/internal/app/services/identity"
	"github.com/plantree-xyz/plantree-server/internal/app/services/session"
	"github.com/plantree-xyz/plantree-server/internal/app/services/uploads"
	"github.com/plantree-xyz/plantree-server/internal/app/storage/postgres"
	"github.com/plantree-xyz/plantree-server/internal/auth"
	"github.com/plantree-xyz/plantree-server/internal/backup"
	"github.com/plantree-xyz/plantree-server/internal/blob"
	"github.com/plantree-xyz/plantree-server/internal/cache"
	"github.com/plantree-xyz/plantree-server/internal/chain"
	"github.com/plantree-xyz/plantree-server/internal/config"

	"github.com/plantree-xyz/plantree-server/internal/app/metrics"
	"github.com/plantree-xyz/plantree-server/pkg/logger"
)

// Application owns every long-lived component of the server process.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	db         *sql.DB
	dispatcher *backup.Dispatcher
	server     *http.Server
}

// New builds the full application graph from configuration. Nothing is
// started yet; call Run.
func New(cfg *config.Config) (*Application, error) {
	log := logger.New("plantree", cfg.Logging.Level)

	if err := postgres.RunMigrations(cfg.Database.URL); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := postgres.New(db)

	chainClient, err := chain.NewClient(chain.Config{
		RPCURL:  cfg.Chain.RPCURL,
		Timeout: cfg.Chain.Timeout,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("chain client: %w", err)
	}
	space := chain.NewSpaceContract(chainClient, cfg.Chain.SpaceHash, cfg.Chain.NameHash)

	sessions, err := session.New(store, space, session.Config{
		Secret:    cfg.Session.Secret,
		TTL:       cfg.Session.TTL,
		Issuer:    cfg.Session.Issuer,
		ChainID:   cfg.Chain.ChainID,
		PlanIndex: cfg.Chain.PlanIndex,
	}, log.WithField("component", "session"))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("session service: %w", err)
	}

	var tokenVerifier auth.TokenVerifier
	if cfg.Provider.AppID != "" {
		client, err := auth.NewProviderClient(auth.ProviderConfig{
			AppID:     cfg.Provider.AppID,
			AppSecret: cfg.Provider.AppSecret,
			VerifyURL: cfg.Provider.VerifyURL,
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("provider client: %w", err)
		}
		tokenVerifier = client
	}

	identitySvc := identity.New(store, auth.WalletVerifier{}, tokenVerifier, sessions, log.WithField("component", "identity"))

	var listingCache cache.Cache
	if cfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedis(context.Background(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		listingCache = redisCache
	} else {
		listingCache = cache.NewMemory()
		log.Warn("redis not configured, using in-process cache")
	}

	drive := backup.NewDriveClient(backup.DriveConfig{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
	})
	dispatcher := backup.NewDispatcher(drive, store, log.WithField("component", "backup"),
		backup.WithResultHook(metrics.RecordBackup))

	contentSvc := content.New(store, listingCache, dispatcher, log.WithField("component", "content"))

	var objectStore uploads.ObjectStore
	if cfg.BlobConfigured() {
		blobClient, err := blob.NewClient(blob.Config{
			Endpoint:   cfg.Blob.Endpoint,
			Bucket:     cfg.Blob.Bucket,
			ServiceKey: cfg.Blob.ServiceKey,
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("blob client: %w", err)
		}
		objectStore = blobClient
	} else {
		log.Warn("object storage not configured, uploads disabled")
	}
	uploadsSvc := uploads.New(objectStore, store, log.WithField("component", "uploads"))

	handler := httpapi.New(identitySvc, sessions, contentSvc, uploadsSvc, store, chainClient, httpapi.Config{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		RateLimitRPS:   cfg.HTTP.RateLimit,
		RateLimitBurst: cfg.HTTP.RateBurst,
		ErrorRedirect:  cfg.Redirect.Error,
		BackupRedirect: cfg.Redirect.Backup,
	}, log.WithField("component", "httpapi"))

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Application{
		cfg:        cfg,
		log:        log,
		db:         db,
		dispatcher: dispatcher,
		server:     server,
	}, nil
}

// Run starts the server and blocks until ctx is cancelled, then shuts the
// process down in dependency order.
func (a *Application) Run(ctx context.Context) error {
	a.dispatcher.Start()

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", a.server.Addr).Info("server listening")
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.dispatcher.Stop()
		a.db.Close()
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	err := a.server.Shutdown(shutdownCtx)
	a.dispatcher.Stop()
	if closeErr := a.db.Close(); err == nil {
		err = closeErr
	}
	return err
}
