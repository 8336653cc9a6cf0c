/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"eco-challenge-rewards-go/internal/models"

	"github.com/shopspring/decimal"
)

// durations lists every duration key with its default so a bad value fails
// Load instead of silently falling back.
var durations = map[string]time.Duration{
	"DB_CONN_MAX_LIFETIME":  5 * time.Minute,
	"DB_CONN_MAX_IDLE_TIME": 30 * time.Second,
	"DB_PING_TIMEOUT":       5 * time.Second,
	"HTTP_SHUTDOWN_TIMEOUT": 10 * time.Second,
	"AI_TIMEOUT":            10 * time.Second,
	"CAPTURE_WINDOW":        72 * time.Hour,
	"CLOCK_SKEW":            5 * time.Minute,
	"LOCK_TTL":              30 * time.Second,
	"ISSUER_TIMEOUT":        10 * time.Second,
	"WEBHOOK_TIMEOUT":       5 * time.Second,
	"SWEEPER_INTERVAL":      time.Minute,
	"SWEEPER_STALE_AFTER":   5 * time.Minute,
}

func Load() (*models.Config, error) {
	d := make(map[string]time.Duration, len(durations))
	for key, def := range durations {
		v, err := getEnvDuration(key, def)
		if err != nil {
			return nil, err
		}
		d[key] = v
	}

	threshold, err := getEnvFloat("PLAUSIBILITY_THRESHOLD", 0.4)
	if err != nil {
		return nil, err
	}
	baseline, err := getEnvFloat("PLAUSIBILITY_BASELINE", 0.5)
	if err != nil {
		return nil, err
	}
	if threshold < 0 || threshold > 1 || baseline < 0 || baseline > 1 {
		return nil, fmt.Errorf("plausibility threshold and baseline must be within [0,1]")
	}

	rate, err := getEnvDecimal("CONVERSION_RATE", decimal.NewFromInt(1))
	if err != nil {
		return nil, err
	}
	if !rate.IsPositive() {
		return nil, fmt.Errorf("CONVERSION_RATE must be positive, got %s", rate)
	}

	cfg := &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "rewards.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: d["DB_CONN_MAX_LIFETIME"],
			ConnMaxIdleTime: d["DB_CONN_MAX_IDLE_TIME"],
			PingTimeout:     d["DB_PING_TIMEOUT"],
			CreateDemoData:  getEnvBool("CREATE_DEMO_DATA", false),
		},
		Log: models.LogConfig{
			Level:      getEnvString("LOG_LEVEL", "info"),
			Path:       getEnvString("LOG_PATH", ""),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 7),
			Compress:   getEnvBool("LOG_COMPRESS", false),
		},
		HTTP: models.HTTPConfig{
			Addr:               getEnvString("HTTP_ADDR", ":8080"),
			GinMode:            getEnvString("GIN_MODE", "release"),
			AllowedOrigins:     getEnvList("CORS_ORIGINS", []string{"*"}),
			RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
			ShutdownTimeout:    d["HTTP_SHUTDOWN_TIMEOUT"],
		},
		Auth: models.AuthConfig{
			JWTSecret:            os.Getenv("JWT_SECRET"),
			InternalServiceToken: os.Getenv("INTERNAL_SERVICE_TOKEN"),
		},
		AI: models.AIConfig{
			BaseURL: getEnvString("AI_BASE_URL", "http://localhost:8000"),
			Timeout: d["AI_TIMEOUT"],
		},
		Policy: models.PolicyConfig{
			CaptureWindow:              d["CAPTURE_WINDOW"],
			PlausibilityThreshold:      threshold,
			PlausibilityBaseline:       baseline,
			ClockSkew:                  d["CLOCK_SKEW"],
			BackdatedRequiresReview:    getEnvBool("BACKDATED_REQUIRES_REVIEW", true),
			RegisterHashOnApprovalOnly: getEnvBool("REGISTER_HASH_ON_APPROVAL_ONLY", true),
		},
		Ledger: models.LedgerConfig{
			ConversionRate: rate,
			LockTTL:        d["LOCK_TTL"],
		},
		Issuer: models.IssuerConfig{
			Backend:      strings.ToLower(getEnvString("ISSUER_BACKEND", "http")),
			BaseURL:      os.Getenv("ISSUER_BASE_URL"),
			ServiceToken: getEnvString("ISSUER_SERVICE_TOKEN", os.Getenv("INTERNAL_SERVICE_TOKEN")),
			Timeout:      d["ISSUER_TIMEOUT"],
		},
		Formance: models.FormanceConfig{
			StackURL:     os.Getenv("FORMANCE_STACK_URL"),
			ClientID:     os.Getenv("FORMANCE_CLIENT_ID"),
			ClientSecret: os.Getenv("FORMANCE_CLIENT_SECRET"),
			LedgerName:   getEnvString("FORMANCE_LEDGER", "eco-rewards"),
		},
		ImageStore: models.ImageStoreConfig{
			Backend:           strings.ToLower(getEnvString("IMAGE_STORE", "local")),
			LocalDir:          getEnvString("IMAGE_LOCAL_DIR", "./images"),
			MaxBytes:          getEnvInt64("IMAGE_MAX_BYTES", 10<<20),
			FetchAllowedHosts: getEnvList("IMAGE_FETCH_ALLOWED_HOSTS", nil),
			S3: models.S3Config{
				Bucket:          os.Getenv("S3_BUCKET"),
				Region:          getEnvString("S3_REGION", "auto"),
				Endpoint:        os.Getenv("S3_ENDPOINT"),
				AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
				SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			},
		},
		Redis: models.RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Webhook: models.WebhookConfig{
			URL:     os.Getenv("WEBHOOK_URL"),
			Token:   os.Getenv("WEBHOOK_TOKEN"),
			Timeout: d["WEBHOOK_TIMEOUT"],
		},
		Sweeper: models.SweeperConfig{
			Interval:   d["SWEEPER_INTERVAL"],
			StaleAfter: d["SWEEPER_STALE_AFTER"],
		},
		Catalog: models.CatalogConfig{
			ChallengesFile: getEnvString("CHALLENGES_FILE", "challenges.yaml"),
		},
	}

	switch cfg.Issuer.Backend {
	case "http", "formance", "none":
	default:
		return nil, fmt.Errorf("unknown ISSUER_BACKEND %q (want http, formance or none)", cfg.Issuer.Backend)
	}
	switch cfg.ImageStore.Backend {
	case "local", "s3":
	default:
		return nil, fmt.Errorf("unknown IMAGE_STORE %q (want local or s3)", cfg.ImageStore.Backend)
	}

	return cfg, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number for %s: %q (%w)", key, value, err)
		}
		return f, nil
	}
	return defaultValue, nil
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	if value := os.Getenv(key); value != "" {
		d, err := decimal.NewFromString(value)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid decimal for %s: %q (%w)", key, value, err)
		}
		return d, nil
	}
	return defaultValue, nil
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
