package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config represents the application configuration
type Config struct {
	Database   DatabaseConfig
	Log        LogConfig
	HTTP       HTTPConfig
	Auth       AuthConfig
	AI         AIConfig
	Policy     PolicyConfig
	Ledger     LedgerConfig
	Issuer     IssuerConfig
	Formance   FormanceConfig
	ImageStore ImageStoreConfig
	Redis      RedisConfig
	Webhook    WebhookConfig
	Sweeper    SweeperConfig
	Catalog    CatalogConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	CreateDemoData  bool
}

// LogConfig controls the zap core and the optional rolling file sink
type LogConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type HTTPConfig struct {
	Addr               string
	GinMode            string
	AllowedOrigins     []string
	RateLimitPerMinute int
	ShutdownTimeout    time.Duration
}

type AuthConfig struct {
	JWTSecret            string
	InternalServiceToken string
}

type AIConfig struct {
	BaseURL string
	Timeout time.Duration
}

// PolicyConfig carries the business-tunable verification thresholds
type PolicyConfig struct {
	CaptureWindow              time.Duration
	PlausibilityThreshold      float64
	PlausibilityBaseline       float64
	ClockSkew                  time.Duration
	BackdatedRequiresReview    bool
	RegisterHashOnApprovalOnly bool
}

type LedgerConfig struct {
	ConversionRate decimal.Decimal
	LockTTL        time.Duration
}

// IssuerConfig selects the external balance-issuance collaborator
type IssuerConfig struct {
	Backend      string // http, formance or none
	BaseURL      string
	ServiceToken string
	Timeout      time.Duration
}

// FormanceConfig holds the credentials for a Formance Stack ledger
type FormanceConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
}

type ImageStoreConfig struct {
	Backend  string // local or s3
	LocalDir string
	MaxBytes int64
	// FetchAllowedHosts lists hosts that http(s) image refs may point at.
	FetchAllowedHosts []string
	S3                S3Config
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type WebhookConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

type SweeperConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
}

type CatalogConfig struct {
	ChallengesFile string
}
