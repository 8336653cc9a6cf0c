package common

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"eco-challenge-rewards-go/internal/api"
	"eco-challenge-rewards-go/internal/capture"
	"eco-challenge-rewards-go/internal/classifier"
	"eco-challenge-rewards-go/internal/database"
	"eco-challenge-rewards-go/internal/formance"
	"eco-challenge-rewards-go/internal/httpclient"
	"eco-challenge-rewards-go/internal/imagestore"
	"eco-challenge-rewards-go/internal/issuer"
	"eco-challenge-rewards-go/internal/lock"
	"eco-challenge-rewards-go/internal/models"
	"eco-challenge-rewards-go/internal/verification"
	"eco-challenge-rewards-go/internal/webhook"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// init loads environment variables from .env file if it exists
func init() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

const imageFetchTimeout = 15 * time.Second

type Services struct {
	DbService           *database.Service
	LedgerService       *api.LedgerService
	VerificationService *verification.Service
	FormanceService     *formance.Service
	Locker              lock.Locker

	redis *redis.Client
}

// InitializeLogger installs a JSON zap logger on stdout, teed to a rolling
// file when cfg.Path is set.
func InitializeLogger(cfg models.LogConfig) (*zap.Logger, func()) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(os.Stdout), level),
	}

	if cfg.Path != "" {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				log.Printf("Unable to create log directory %s: %v\n", dir, err)
			}
		}
		rolling := &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			MaxAge:     orDefault(cfg.MaxAgeDays, 7),
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rolling), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeServices wires the store, collaborators and the two domain
// services from configuration.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	services := &Services{DbService: dbService}

	fail := func(err error) (*Services, error) {
		services.Close()
		return nil, err
	}

	images, err := initializeImageStore(ctx, cfg.ImageStore)
	if err != nil {
		return fail(err)
	}

	ai, err := classifier.NewClient(cfg.AI.BaseURL, cfg.AI.Timeout)
	if err != nil {
		return fail(err)
	}

	if cfg.Redis.Addr != "" {
		zap.L().Info("Using Redis locks", zap.String("addr", cfg.Redis.Addr))
		client, err := lock.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return fail(err)
		}
		services.redis = client
		services.Locker = lock.NewRedisLocker(client)
	} else {
		services.Locker = lock.NewLocalLocker()
	}

	emitter, err := webhook.New(cfg.Webhook.URL, cfg.Webhook.Token, cfg.Webhook.Timeout)
	if err != nil {
		return fail(err)
	}

	iss, err := services.initializeIssuer(ctx, cfg)
	if err != nil {
		return fail(err)
	}

	services.VerificationService = verification.NewService(verification.Dependencies{
		Store:      dbService,
		Images:     images,
		Validator:  capture.NewValidator(capture.PolicyFromConfig(cfg.Policy)),
		Classifier: ai,
		Locker:     services.Locker,
		Webhook:    emitter,
	}, verification.Options{
		LockTTL:                    cfg.Ledger.LockTTL,
		RegisterHashOnApprovalOnly: cfg.Policy.RegisterHashOnApprovalOnly,
	})

	services.LedgerService = api.NewLedgerService(api.LedgerDependencies{
		Store:   dbService,
		Issuer:  iss,
		Locker:  services.Locker,
		Webhook: emitter,
	}, cfg.Ledger)

	return services, nil
}

func initializeImageStore(ctx context.Context, cfg models.ImageStoreConfig) (*imagestore.Router, error) {
	var router *imagestore.Router
	switch strings.ToLower(cfg.Backend) {
	case "s3":
		zap.L().Info("Using S3 image store", zap.String("bucket", cfg.S3.Bucket))
		s3Store, err := imagestore.NewS3Store(ctx, cfg.S3, cfg.MaxBytes)
		if err != nil {
			return nil, err
		}
		router = imagestore.NewRouter(s3Store, "s3")
	case "local", "":
		zap.L().Info("Using local image store", zap.String("dir", cfg.LocalDir))
		local, err := imagestore.NewLocalStore(cfg.LocalDir, cfg.MaxBytes)
		if err != nil {
			return nil, err
		}
		router = imagestore.NewRouter(local, "local")
	default:
		return nil, fmt.Errorf("unknown image store backend %q", cfg.Backend)
	}

	client, err := httpclient.New(imageFetchTimeout)
	if err != nil {
		return nil, err
	}
	if len(cfg.FetchAllowedHosts) == 0 {
		zap.L().Info("IMAGE_FETCH_ALLOWED_HOSTS is empty, http(s) image refs will not be fetched")
	}
	fetcher := imagestore.NewHTTPFetcher(client, cfg.MaxBytes, cfg.FetchAllowedHosts)
	return router.Handle("http", fetcher).Handle("https", fetcher), nil
}

func (cs *Services) initializeIssuer(ctx context.Context, cfg *models.Config) (issuer.Issuer, error) {
	switch strings.ToLower(cfg.Issuer.Backend) {
	case "http", "":
		if cfg.Issuer.BaseURL == "" {
			zap.L().Warn("ISSUER_BASE_URL is empty, conversions are disabled")
			return issuer.Disabled{}, nil
		}
		return issuer.NewHTTPIssuer(cfg.Issuer.BaseURL, cfg.Issuer.ServiceToken, cfg.Issuer.Timeout)
	case "formance":
		zap.L().Info("Using Formance issuance ledger", zap.String("ledger", cfg.Formance.LedgerName))
		svc, err := formance.NewService(ctx, cfg.Formance)
		if err != nil {
			return nil, err
		}
		cs.FormanceService = svc
		return svc, nil
	case "none":
		return issuer.Disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown issuer backend %q", cfg.Issuer.Backend)
	}
}

// InitializeDatabaseOnly initializes just the database service
// Useful for read-only operations like querying balances
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return dbService, nil
}

func (cs *Services) Close() {
	if cs.redis != nil {
		if err := cs.redis.Close(); err != nil {
			zap.L().Warn("Unable to close redis client", zap.Error(err))
		}
	}
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
