package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env        string
	ServerPort int
	LogLevel   string
	Database   DatabaseConfig
	Store      StoreConfig
	Tokens     TokenConfig
	Password   PasswordConfig
	OAuth      GoogleOAuthConfig
	Storage    StorageConfig
	MQ         MQConfig
	Sweeper    SweeperConfig
	Mailer     MailerConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	UseSSL   bool

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// StoreConfig selects the entity store backend. "memory" keeps everything in
// process and is meant for local development only.
type StoreConfig struct {
	Backend string
}

// TokenConfig holds one signing secret and one default lifetime per token kind.
type TokenConfig struct {
	AccessSecret         string
	RefreshSecret        string
	VerifyEmailSecret    string
	ForgotPasswordSecret string

	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	VerifyEmailTTL    time.Duration
	ForgotPasswordTTL time.Duration
}

type PasswordConfig struct {
	// Algorithm is "bcrypt" (default) or "sha256". The latter reproduces the
	// legacy single-salt digest and exists only for previously stored accounts.
	Algorithm  string
	Salt       string
	BcryptCost int
}

type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
}

type StorageConfig struct {
	Backend       string
	PublicBaseURL string
	Minio         MinioConfig
	GCS           GCSConfig
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type GCSConfig struct {
	Bucket          string
	ProjectID       string
	CredentialsFile string
}

// MQConfig selects the notification broker. A message whose handler fails
// MaxAttempts times is dropped.
type MQConfig struct {
	Backend             string
	NotificationChannel string
	MaxAttempts         int
	RabbitMQ            RabbitMQConfig
	PubSub              PubSubConfig
}

type RabbitMQConfig struct {
	URL             string
	QueueDurable    bool
	QueueAutoDelete bool
	PrefetchCount   int
}

type PubSubConfig struct {
	ProjectID          string
	CredentialsFile    string
	SubscriptionSuffix string
}

type SweeperConfig struct {
	Interval time.Duration
}

// MailerConfig configures the notification consumer. LinkBaseURL is the
// client origin the verify and reset links point at.
type MailerConfig struct {
	LinkBaseURL string
}

func LoadConfig() Config {
	env := getEnv("ENV", "prod")
	if env == "dev" {
		godotenv.Load()
	}

	dbConfig := DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "birdnest"),
		Password: getEnv("DB_PASSWORD", "password"),
		DBName:   getEnv("DB_NAME", "birdnest_db"),
		UseSSL:   getEnvBool("DB_USE_SSL", false),

		MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 2*time.Minute),
	}

	tokenConfig := TokenConfig{
		AccessSecret:         getEnv("JWT_ACCESS_TOKEN_SECRET", ""),
		RefreshSecret:        getEnv("JWT_REFRESH_TOKEN_SECRET", ""),
		VerifyEmailSecret:    getEnv("JWT_VERIFY_EMAIL_TOKEN_SECRET", ""),
		ForgotPasswordSecret: getEnv("JWT_FORGOT_PASSWORD_TOKEN_SECRET", ""),
		AccessTTL:            getEnvDuration("JWT_ACCESS_TOKEN_EXPIRES_IN", 15*time.Minute),
		RefreshTTL:           getEnvDuration("JWT_REFRESH_TOKEN_EXPIRES_IN", 100*24*time.Hour),
		VerifyEmailTTL:       getEnvDuration("JWT_VERIFY_EMAIL_TOKEN_EXPIRES_IN", 7*24*time.Hour),
		ForgotPasswordTTL:    getEnvDuration("JWT_FORGOT_PASSWORD_TOKEN_EXPIRES_IN", 15*time.Minute),
	}

	return Config{
		Env:        env,
		ServerPort: getEnvInt("SERVER_PORT", 8080),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		Database:   dbConfig,
		Store: StoreConfig{
			Backend: getEnv("STORE_BACKEND", "postgres"),
		},
		Tokens: tokenConfig,
		Password: PasswordConfig{
			Algorithm:  getEnv("PASSWORD_HASH_ALGORITHM", "bcrypt"),
			Salt:       getEnv("PASSWORD_SECRET", ""),
			BcryptCost: getEnvInt("PASSWORD_BCRYPT_COST", 0),
		},
		OAuth: GoogleOAuthConfig{
			ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
			RedirectURL:  getEnv("GOOGLE_REDIRECT_URI", ""),
			AuthURL:      getEnv("GOOGLE_AUTH_URL", ""),
			TokenURL:     getEnv("GOOGLE_TOKEN_URL", ""),
			UserInfoURL:  getEnv("GOOGLE_USERINFO_URL", ""),
		},
		Storage: StorageConfig{
			Backend:       getEnv("STORAGE_BACKEND", ""),
			PublicBaseURL: getEnv("MEDIA_PUBLIC_BASE_URL", "/api/media/images"),
			Minio: MinioConfig{
				Endpoint:  getEnv("MINIO_ENDPOINT", ""),
				AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
				SecretKey: getEnv("MINIO_SECRET_KEY", ""),
				Bucket:    getEnv("MINIO_BUCKET", "birdnest-media"),
				UseSSL:    getEnvBool("MINIO_USE_SSL", false),
			},
			GCS: GCSConfig{
				Bucket:          getEnv("GCS_BUCKET", ""),
				ProjectID:       getEnv("GCS_PROJECT_ID", ""),
				CredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
			},
		},
		MQ: MQConfig{
			Backend:             getEnv("MQ_BACKEND", ""),
			NotificationChannel: getEnv("MQ_NOTIFICATION_CHANNEL", "account-notifications"),
			MaxAttempts:         getEnvInt("MQ_MAX_ATTEMPTS", 5),
			RabbitMQ: RabbitMQConfig{
				URL:             getEnv("RABBITMQ_URL", ""),
				QueueDurable:    getEnvBool("RABBITMQ_QUEUE_DURABLE", true),
				QueueAutoDelete: getEnvBool("RABBITMQ_QUEUE_AUTO_DELETE", false),
				PrefetchCount:   getEnvInt("RABBITMQ_PREFETCH_COUNT", 0),
			},
			PubSub: PubSubConfig{
				ProjectID:          getEnv("PUBSUB_PROJECT_ID", ""),
				CredentialsFile:    getEnv("PUBSUB_CREDENTIALS_FILE", ""),
				SubscriptionSuffix: getEnv("PUBSUB_SUBSCRIPTION_SUFFIX", ""),
			},
		},
		Sweeper: SweeperConfig{
			Interval: getEnvDuration("REFRESH_TOKEN_SWEEP_INTERVAL", 10*time.Minute),
		},
		Mailer: MailerConfig{
			LinkBaseURL: getEnv("MAILER_LINK_BASE_URL", "http://localhost:3000"),
		},
	}
}

// Validate reports configuration that would let the server start in an
// unsafe state.
func (c Config) Validate() error {
	secrets := map[string]string{
		"JWT_ACCESS_TOKEN_SECRET":          c.Tokens.AccessSecret,
		"JWT_REFRESH_TOKEN_SECRET":         c.Tokens.RefreshSecret,
		"JWT_VERIFY_EMAIL_TOKEN_SECRET":    c.Tokens.VerifyEmailSecret,
		"JWT_FORGOT_PASSWORD_TOKEN_SECRET": c.Tokens.ForgotPasswordSecret,
	}
	seen := make(map[string]string, len(secrets))
	var errs []error
	for _, key := range []string{
		"JWT_ACCESS_TOKEN_SECRET",
		"JWT_REFRESH_TOKEN_SECRET",
		"JWT_VERIFY_EMAIL_TOKEN_SECRET",
		"JWT_FORGOT_PASSWORD_TOKEN_SECRET",
	} {
		value := strings.TrimSpace(secrets[key])
		if value == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
			continue
		}
		if other, ok := seen[value]; ok {
			errs = append(errs, fmt.Errorf("%s must differ from %s", key, other))
			continue
		}
		seen[value] = key
	}

	switch strings.ToLower(c.Password.Algorithm) {
	case "", "bcrypt":
	case "sha256":
		if strings.TrimSpace(c.Password.Salt) == "" {
			errs = append(errs, errors.New("PASSWORD_SECRET is required for the sha256 hasher"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PASSWORD_HASH_ALGORITHM %q", c.Password.Algorithm))
	}

	switch c.Store.Backend {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		var value int
		fmt.Sscanf(valueStr, "%d", &value)
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := time.ParseDuration(strings.TrimSpace(valueStr))
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}
