package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/sftpgate/internal/api"
	"github.com/charlesng35/sftpgate/internal/app"
	"github.com/charlesng35/sftpgate/internal/app/maintenance"
	"github.com/charlesng35/sftpgate/internal/cache"
	"github.com/charlesng35/sftpgate/internal/database"
	"github.com/charlesng35/sftpgate/internal/middleware"
	"github.com/charlesng35/sftpgate/internal/monitoring"
	"github.com/charlesng35/sftpgate/internal/monitoring/checks"
	"github.com/charlesng35/sftpgate/internal/realtime"
	"github.com/charlesng35/sftpgate/internal/remotepath"
	"github.com/charlesng35/sftpgate/internal/services"
	"github.com/charlesng35/sftpgate/internal/session"
	"github.com/charlesng35/sftpgate/internal/sftp"
	"github.com/charlesng35/sftpgate/pkg/logger"
)

type runtimeStack struct {
	DB        *gorm.DB
	Redis     *cache.RedisStore
	Audit     *services.AuditService
	Manager   session.Manager
	Files     *services.FileService
	Hub       *realtime.Hub
	Cleaner   *maintenance.Cleaner
	RateStore middleware.RateStore
	Health    *monitoring.Checker
	Router    *gin.Engine
}

// fileStack is the part of the runtime the CLI commands need.
type fileStack struct {
	Manager session.Manager
	Files   *services.FileService
}

// newFileStack builds the connection factory, session manager and file service.
// No connection is opened until the first operation.
func newFileStack(cfg *app.Config, opts ...services.FileServiceOption) (*fileStack, error) {
	sftpCfg := cfg.SFTPConfig()
	dialer, err := sftp.NewSSHDialer(sftpCfg)
	if err != nil {
		return nil, fmt.Errorf("initialise sftp dialer: %w", err)
	}
	factory, err := sftp.NewFactory(sftpCfg, dialer, sftp.WithRetryPolicy(cfg.RetryPolicy()))
	if err != nil {
		return nil, fmt.Errorf("initialise sftp factory: %w", err)
	}

	manager, err := session.New(factory, cfg.SessionOptions())
	if err != nil {
		return nil, fmt.Errorf("initialise session manager: %w", err)
	}

	identity := services.ServerIdentity{Host: sftpCfg.Host, Port: sftpCfg.Port, Username: sftpCfg.Username}
	files, err := services.NewFileService(manager, remotepath.NewResolver(sftpCfg.RootDirectory), identity, opts...)
	if err != nil {
		_ = manager.Shutdown(context.Background())
		return nil, fmt.Errorf("initialise file service: %w", err)
	}
	return &fileStack{Manager: manager, Files: files}, nil
}

func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if log == nil {
		log = logger.WithModule("bootstrap")
	}

	if strings.EqualFold(os.Getenv("GIN_DEBUG"), "true") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	stack := &runtimeStack{}
	success := false
	defer func() {
		if !success {
			if shutdownErr := stack.Shutdown(context.Background()); shutdownErr != nil {
				log.Warn("partial runtime shutdown failed", zap.Error(shutdownErr))
			}
		}
	}()

	var fileOpts []services.FileServiceOption
	if cfg.Audit.Enabled {
		db, dbErr := initialiseDatabase(cfg)
		if dbErr != nil {
			return nil, dbErr
		}
		stack.DB = db

		audit, auditErr := services.NewAuditService(db)
		if auditErr != nil {
			return nil, fmt.Errorf("initialise audit service: %w", auditErr)
		}
		stack.Audit = audit
		fileOpts = append(fileOpts, services.WithRecorder(audit))
	}

	files, err := newFileStack(cfg, fileOpts...)
	if err != nil {
		return nil, err
	}
	stack.Manager = files.Manager
	stack.Files = files.Files
	stack.Hub = realtime.NewHub()

	if cfg.Cache.Redis.Enabled {
		redisStore, redisErr := cache.NewRedisStore(ctx, cfg.Cache.RedisClientConfig())
		if redisErr != nil {
			log.Warn("redis unavailable; rate limiting falls back to process memory", zap.Error(redisErr))
		} else {
			stack.Redis = redisStore
			stack.RateStore = middleware.NewCacheRateStore(redisStore)
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	if cfg.Maintenance.Enabled {
		stack.Cleaner = maintenance.NewCleaner(stack.Audit, stack.Manager,
			maintenance.WithAuditRetentionDays(cfg.Audit.RetentionDays),
			maintenance.WithAuditSchedule(cfg.Maintenance.AuditSchedule),
			maintenance.WithPruneSchedule(cfg.Maintenance.PruneSchedule),
		)
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	stack.Health = monitoring.NewChecker(0, checks.Sessions(stack.Manager))
	if stack.DB != nil {
		stack.Health.Register(checks.Database(stack.DB))
	}
	if cfg.Cache.Redis.Enabled {
		var pinger checks.Pinger
		if stack.Redis != nil {
			pinger = stack.Redis
		}
		stack.Health.Register(checks.Redis(pinger))
	}

	router, err := api.NewRouter(api.Dependencies{
		Config:    cfg,
		Files:     stack.Files,
		Audit:     stack.Audit,
		Hub:       stack.Hub,
		RateStore: stack.RateStore,
		Health:    stack.Health,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}
	stack.Router = router

	success = true
	return stack, nil
}

// Shutdown drains sessions, stops maintenance and releases backing stores.
func (s *runtimeStack) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}

	var err error
	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		<-stopCtx.Done()
		if runErr := s.Cleaner.RunOnce(ctx); runErr != nil {
			err = multierr.Append(err, fmt.Errorf("maintenance shutdown cleanup: %w", runErr))
		}
		s.Cleaner = nil
	}

	if s.Manager != nil {
		if shutdownErr := s.Manager.Shutdown(ctx); shutdownErr != nil {
			err = multierr.Append(err, fmt.Errorf("session shutdown: %w", shutdownErr))
		}
		s.Manager = nil
	}

	if s.Redis != nil {
		if closeErr := s.Redis.Close(); closeErr != nil {
			err = multierr.Append(err, fmt.Errorf("close redis: %w", closeErr))
		}
		s.Redis = nil
	}

	if s.DB != nil {
		if closeErr := database.Close(s.DB); closeErr != nil {
			err = multierr.Append(err, fmt.Errorf("close database: %w", closeErr))
		}
		s.DB = nil
	}

	return err
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.DatabaseOptions()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}
