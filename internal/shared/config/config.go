package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Encryption EncryptionConfig
	Scheduler  SchedulerConfig
	TLS        TLSConfig
	Xero       XeroConfig
	Ledger     LedgerConfig
	Match      MatchConfig
	Kafka      KafkaConfig
	Firebase   FirebaseConfig
	Telemetry  TelemetryConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	AllowedHosts []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type JWTConfig struct {
	Secret string
}

type EncryptionConfig struct {
	Key string
}

type SchedulerConfig struct {
	Enabled      bool
	PollInterval time.Duration
	WorkerCount  int
	JobDelay     time.Duration
	QueueSize    int
	RunOnStartup bool
}

type TLSConfig struct {
	Enabled      bool
	CertPath     string
	KeyPath      string
	RedirectHTTP bool
}

// XeroConfig holds the OAuth client registered with the accounting service.
type XeroConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type LedgerConfig struct {
	MaxPages             int
	TokenRefreshBuffer   time.Duration
	DefaultSyncFrequency string
	StateTTL             time.Duration
}

// MatchConfig mirrors the account matcher thresholds so they can be tuned
// without a rebuild.
type MatchConfig struct {
	AccountNumberConfidence int
	ExactNameSimilarity     int
	ExactNameConfidence     int
	ContainmentConfidence   int
	FuzzyNameSimilarity     int
	FuzzyNameFactor         float64
	TypeSimilarity          int
	TypeFactor              float64
	ActionableConfidence    int
}

type KafkaConfig struct {
	Brokers   []string
	SyncTopic string
}

type FirebaseConfig struct {
	CredentialsFile string
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	MetricsPort  string
	SampleRatio  float64
}

func Load() (*Config, error) {
	options := viper.New()
	setDefaults(options)
	options.AutomaticEnv()

	dbPort, err := strconv.Atoi(options.GetString("DB_PORT"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	schedulerWorkers, err := strconv.Atoi(options.GetString("SCHEDULER_WORKERS"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_WORKERS: %w", err)
	}
	schedulerQueueSize, err := strconv.Atoi(options.GetString("SCHEDULER_QUEUE_SIZE"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_QUEUE_SIZE: %w", err)
	}
	schedulerJobDelay, err := time.ParseDuration(options.GetString("SCHEDULER_JOB_DELAY"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_JOB_DELAY: %w", err)
	}
	schedulerPollInterval, err := time.ParseDuration(options.GetString("SCHEDULER_POLL_INTERVAL"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_POLL_INTERVAL: %w", err)
	}

	maxPages, err := strconv.Atoi(options.GetString("LEDGER_MAX_PAGES"))
	if err != nil {
		return nil, fmt.Errorf("invalid LEDGER_MAX_PAGES: %w", err)
	}
	refreshBuffer, err := time.ParseDuration(options.GetString("LEDGER_TOKEN_REFRESH_BUFFER"))
	if err != nil {
		return nil, fmt.Errorf("invalid LEDGER_TOKEN_REFRESH_BUFFER: %w", err)
	}
	stateTTL, err := time.ParseDuration(options.GetString("LEDGER_STATE_TTL"))
	if err != nil {
		return nil, fmt.Errorf("invalid LEDGER_STATE_TTL: %w", err)
	}

	match, err := loadMatchConfig(options)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         options.GetString("PORT"),
			Host:         options.GetString("HOST"),
			AllowedHosts: splitList(options.GetString("ALLOWED_HOSTS")),
		},
		Database: DatabaseConfig{
			Host:     options.GetString("DB_HOST"),
			Port:     dbPort,
			User:     options.GetString("DB_USER"),
			Password: options.GetString("DB_PASSWORD"),
			DBName:   options.GetString("DB_NAME"),
			SSLMode:  options.GetString("DB_SSLMODE"),
		},
		JWT: JWTConfig{
			Secret: options.GetString("JWT_SECRET"),
		},
		Encryption: EncryptionConfig{
			Key: options.GetString("ENCRYPTION_KEY"),
		},
		Scheduler: SchedulerConfig{
			Enabled:      options.GetBool("SCHEDULER_ENABLED"),
			PollInterval: schedulerPollInterval,
			WorkerCount:  schedulerWorkers,
			JobDelay:     schedulerJobDelay,
			QueueSize:    schedulerQueueSize,
			RunOnStartup: options.GetBool("SCHEDULER_RUN_ON_STARTUP"),
		},
		TLS: TLSConfig{
			Enabled:      options.GetBool("TLS_ENABLED"),
			CertPath:     options.GetString("TLS_CERT_PATH"),
			KeyPath:      options.GetString("TLS_KEY_PATH"),
			RedirectHTTP: options.GetBool("TLS_REDIRECT_HTTP"),
		},
		Xero: XeroConfig{
			ClientID:     options.GetString("XERO_CLIENT_ID"),
			ClientSecret: options.GetString("XERO_CLIENT_SECRET"),
			RedirectURL:  callbackURL(options),
		},
		Ledger: LedgerConfig{
			MaxPages:             maxPages,
			TokenRefreshBuffer:   refreshBuffer,
			DefaultSyncFrequency: strings.ToLower(options.GetString("LEDGER_DEFAULT_SYNC_FREQUENCY")),
			StateTTL:             stateTTL,
		},
		Match: match,
		Kafka: KafkaConfig{
			Brokers:   splitList(options.GetString("KAFKA_BROKERS")),
			SyncTopic: options.GetString("KAFKA_SYNC_TOPIC"),
		},
		Firebase: FirebaseConfig{
			CredentialsFile: options.GetString("FIREBASE_CREDENTIALS_FILE"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      options.GetBool("OTEL_ENABLED"),
			ServiceName:  options.GetString("OTEL_SERVICE_NAME"),
			Environment:  options.GetString("ENVIRONMENT"),
			OTLPEndpoint: options.GetString("OTEL_EXPORTER_ENDPOINT"),
			MetricsPort:  options.GetString("METRICS_PORT"),
			SampleRatio:  options.GetFloat64("OTEL_SAMPLE_RATIO"),
		},
	}

	// Validate required fields
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.Encryption.Key == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if len(cfg.Encryption.Key) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes")
	}
	if cfg.Ledger.MaxPages < 1 {
		return nil, fmt.Errorf("LEDGER_MAX_PAGES must be at least 1")
	}
	switch cfg.Ledger.DefaultSyncFrequency {
	case "hourly", "daily", "weekly", "manual":
	default:
		return nil, fmt.Errorf("invalid LEDGER_DEFAULT_SYNC_FREQUENCY: %q", cfg.Ledger.DefaultSyncFrequency)
	}

	if cfg.TLS.Enabled {
		if cfg.TLS.CertPath == "" {
			return nil, fmt.Errorf("TLS_CERT_PATH is required when TLS_ENABLED=true")
		}
		if cfg.TLS.KeyPath == "" {
			return nil, fmt.Errorf("TLS_KEY_PATH is required when TLS_ENABLED=true")
		}
	}

	return cfg, nil
}

// Validate checks the OAuth client settings. Only the API server needs them;
// admin commands that never talk to the remote service skip this.
func (c *XeroConfig) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("XERO_CLIENT_ID is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("XERO_CLIENT_SECRET is required")
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("XERO_REDIRECT_URL or HOST_URL is required")
	}
	return nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// URL returns the connection string in URL form, as golang-migrate expects.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

func setDefaults(options *viper.Viper) {
	options.SetDefault("PORT", "8080")
	options.SetDefault("HOST", "0.0.0.0")
	options.SetDefault("ALLOWED_HOSTS", "")

	options.SetDefault("DB_HOST", "localhost")
	options.SetDefault("DB_PORT", "5432")
	options.SetDefault("DB_USER", "homeledger")
	options.SetDefault("DB_PASSWORD", "")
	options.SetDefault("DB_NAME", "homeledger")
	options.SetDefault("DB_SSLMODE", "disable")

	options.SetDefault("JWT_SECRET", "")
	options.SetDefault("ENCRYPTION_KEY", "")

	options.SetDefault("SCHEDULER_ENABLED", true)
	options.SetDefault("SCHEDULER_POLL_INTERVAL", "5m")
	options.SetDefault("SCHEDULER_WORKERS", "5")
	options.SetDefault("SCHEDULER_JOB_DELAY", "1s")
	options.SetDefault("SCHEDULER_QUEUE_SIZE", "100")
	options.SetDefault("SCHEDULER_RUN_ON_STARTUP", false)

	options.SetDefault("TLS_ENABLED", false)
	options.SetDefault("TLS_CERT_PATH", "")
	options.SetDefault("TLS_KEY_PATH", "")
	options.SetDefault("TLS_REDIRECT_HTTP", false)

	options.SetDefault("HOST_URL", "")
	options.SetDefault("XERO_CLIENT_ID", "")
	options.SetDefault("XERO_CLIENT_SECRET", "")
	options.SetDefault("XERO_REDIRECT_URL", "")

	options.SetDefault("LEDGER_MAX_PAGES", "10")
	options.SetDefault("LEDGER_TOKEN_REFRESH_BUFFER", "5m")
	options.SetDefault("LEDGER_DEFAULT_SYNC_FREQUENCY", "daily")
	options.SetDefault("LEDGER_STATE_TTL", "10m")

	options.SetDefault("MATCH_ACCOUNT_NUMBER_CONFIDENCE", "95")
	options.SetDefault("MATCH_EXACT_NAME_SIMILARITY", "90")
	options.SetDefault("MATCH_EXACT_NAME_CONFIDENCE", "85")
	options.SetDefault("MATCH_CONTAINMENT_CONFIDENCE", "70")
	options.SetDefault("MATCH_FUZZY_NAME_SIMILARITY", "70")
	options.SetDefault("MATCH_FUZZY_NAME_FACTOR", "0.8")
	options.SetDefault("MATCH_TYPE_SIMILARITY", "50")
	options.SetDefault("MATCH_TYPE_FACTOR", "0.7")
	options.SetDefault("MATCH_ACTIONABLE_CONFIDENCE", "50")

	options.SetDefault("KAFKA_BROKERS", "")
	options.SetDefault("KAFKA_SYNC_TOPIC", "homeledger.ledger.sync-events")

	options.SetDefault("FIREBASE_CREDENTIALS_FILE", "")

	options.SetDefault("OTEL_ENABLED", false)
	options.SetDefault("OTEL_SERVICE_NAME", "homeledger-api")
	options.SetDefault("ENVIRONMENT", "development")
	options.SetDefault("OTEL_EXPORTER_ENDPOINT", "localhost:4317")
	options.SetDefault("METRICS_PORT", "9464")
	options.SetDefault("OTEL_SAMPLE_RATIO", 1.0)
}

func loadMatchConfig(options *viper.Viper) (MatchConfig, error) {
	var m MatchConfig
	ints := []struct {
		key  string
		dest *int
	}{
		{"MATCH_ACCOUNT_NUMBER_CONFIDENCE", &m.AccountNumberConfidence},
		{"MATCH_EXACT_NAME_SIMILARITY", &m.ExactNameSimilarity},
		{"MATCH_EXACT_NAME_CONFIDENCE", &m.ExactNameConfidence},
		{"MATCH_CONTAINMENT_CONFIDENCE", &m.ContainmentConfidence},
		{"MATCH_FUZZY_NAME_SIMILARITY", &m.FuzzyNameSimilarity},
		{"MATCH_TYPE_SIMILARITY", &m.TypeSimilarity},
		{"MATCH_ACTIONABLE_CONFIDENCE", &m.ActionableConfidence},
	}
	for _, f := range ints {
		v, err := strconv.Atoi(options.GetString(f.key))
		if err != nil {
			return m, fmt.Errorf("invalid %s: %w", f.key, err)
		}
		if v < 0 || v > 100 {
			return m, fmt.Errorf("invalid %s: %d (must be 0-100)", f.key, v)
		}
		*f.dest = v
	}

	floats := []struct {
		key  string
		dest *float64
	}{
		{"MATCH_FUZZY_NAME_FACTOR", &m.FuzzyNameFactor},
		{"MATCH_TYPE_FACTOR", &m.TypeFactor},
	}
	for _, f := range floats {
		v, err := strconv.ParseFloat(options.GetString(f.key), 64)
		if err != nil {
			return m, fmt.Errorf("invalid %s: %w", f.key, err)
		}
		if v < 0 || v > 1 {
			return m, fmt.Errorf("invalid %s: %v (must be 0-1)", f.key, v)
		}
		*f.dest = v
	}

	return m, nil
}

func callbackURL(options *viper.Viper) string {
	if override := options.GetString("XERO_REDIRECT_URL"); override != "" {
		return override
	}
	if hostURL := options.GetString("HOST_URL"); hostURL != "" {
		return strings.TrimRight(hostURL, "/") + "/api/ledger/callback"
	}
	return ""
}

// splitList parses a comma-separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
