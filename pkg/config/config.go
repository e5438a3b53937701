package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr     string `mapstructure:"ADDR"`
		Protocol string `mapstructure:"PROTOCOL"`
		Insecure bool   `mapstructure:"INSECURE"`
	} `mapstructure:"OTEL"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Grpc struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"GRPC_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Credential struct {
		TTLDays       int           `mapstructure:"TTL_DAYS"`
		DefaultUses   int           `mapstructure:"DEFAULT_USES"`
		KeySize       int           `mapstructure:"KEY_SIZE"`
		TokenSize     int           `mapstructure:"TOKEN_SIZE"`
		KeyKind       string        `mapstructure:"KEY_KIND"`
		CapabilityTTL time.Duration `mapstructure:"CAPABILITY_TTL"`
	} `mapstructure:"CREDENTIAL"`
	Ledger struct {
		Enabled         bool          `mapstructure:"ENABLED"`
		Mode            string        `mapstructure:"MODE"`
		RPCURL          string        `mapstructure:"RPC_URL"`
		ContractAddress string        `mapstructure:"CONTRACT_ADDRESS"`
		PrivateKey      string        `mapstructure:"PRIVATE_KEY"`
		ChainID         int64         `mapstructure:"CHAIN_ID"`
		Timeout         time.Duration `mapstructure:"TIMEOUT"`
		RetryCount      int           `mapstructure:"RETRY_COUNT"`
		RetryInterval   time.Duration `mapstructure:"RETRY_INTERVAL"`
		FailurePolicy   string        `mapstructure:"FAILURE_POLICY"`
		ConfirmDelay    time.Duration `mapstructure:"CONFIRM_DELAY"`
		SweepInterval   time.Duration `mapstructure:"SWEEP_INTERVAL"`
	} `mapstructure:"LEDGER"`
	Snowflake struct {
		NodeID int64 `mapstructure:"NODE_ID"`
	} `mapstructure:"SNOWFLAKE"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Flagsmith struct {
		Addr   string `mapstructure:"ADDR"`
		ApiKey string `mapstructure:"API_KEY"`
	} `mapstructure:"FLAGSMITH"`
	Consul struct {
		Addr        string `mapstructure:"ADDR"`
		ServiceHost string `mapstructure:"SERVICE_HOST"`
	} `mapstructure:"CONSUL"`
	AccessControl struct {
		Model  string `mapstructure:"MODEL"`
		Policy string `mapstructure:"POLICY"`
	} `mapstructure:"ACCESS_CONTROL"`
	SecretAES        string `mapstructure:"SECRET_AES"`
	CapabilitySecret string `mapstructure:"CAPABILITY_SECRET"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig, NewSettings))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "vaultkey")
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("GRPC_SERVER.ADDR", "9090")
	v.SetDefault("OTEL.PROTOCOL", "grpc")
	v.SetDefault("OTEL.INSECURE", true)
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 4*time.Second)
	v.SetDefault("CREDENTIAL.TTL_DAYS", 30)
	v.SetDefault("CREDENTIAL.DEFAULT_USES", 90)
	v.SetDefault("CREDENTIAL.KEY_SIZE", 32)
	v.SetDefault("CREDENTIAL.TOKEN_SIZE", 32)
	v.SetDefault("CREDENTIAL.KEY_KIND", "VIDEO_DECRYPTION")
	v.SetDefault("CREDENTIAL.CAPABILITY_TTL", 5*time.Minute)
	v.SetDefault("LEDGER.ENABLED", true)
	v.SetDefault("LEDGER.MODE", LedgerModeSimulator)
	v.SetDefault("LEDGER.TIMEOUT", 5*time.Second)
	v.SetDefault("LEDGER.RETRY_COUNT", 2)
	v.SetDefault("LEDGER.RETRY_INTERVAL", 500*time.Millisecond)
	v.SetDefault("LEDGER.FAILURE_POLICY", FailurePolicyWarn)
	v.SetDefault("LEDGER.CONFIRM_DELAY", 30*time.Second)
	v.SetDefault("LEDGER.SWEEP_INTERVAL", 5*time.Minute)
	v.SetDefault("SNOWFLAKE.NODE_ID", 1)

	// keys without a meaningful default still need registering for AutomaticEnv
	for _, key := range []string{
		"APP_VERSION", "TLS.ENABLE", "TLS.CERT_PATH", "TLS.KEY_PATH", "OTEL.ADDR",
		"DATABASE.HOST", "DATABASE.PORT", "DATABASE.DBNAME", "DATABASE.USER", "DATABASE.PASSWORD",
		"DATABASE.CONNECTION_POOL.MAX_IDLE_CONN", "DATABASE.CONNECTION_POOL.MAX_OPEN_CONNS",
		"DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME", "DATABASE.CONNECTION_POOL.CONN_MAX_IDLE_TIME",
		"REDIS.PASSWORD", "REDIS.DB", "LEDGER.RPC_URL", "LEDGER.CONTRACT_ADDRESS", "LEDGER.PRIVATE_KEY",
		"LEDGER.CHAIN_ID", "PYROSCOPE.ADDR", "FLAGSMITH.ADDR", "FLAGSMITH.API_KEY",
		"CONSUL.ADDR", "CONSUL.SERVICE_HOST", "ACCESS_CONTROL.MODEL", "ACCESS_CONTROL.POLICY", "SECRET_AES", "CAPABILITY_SECRET",
	} {
		_ = v.BindEnv(key)
	}
}

// LoadConfig reads config.yaml from the working directory (optional) overlaid with
// environment variables, then pulls secrets from vault when a client is available.
func LoadConfig(p Params) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		zap.L().Warn("config.yaml not found, using defaults and environment")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if p.Vault != nil {
		if err := overlaySecrets(context.Background(), p.Vault, &cfg); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func overlaySecrets(ctx context.Context, client *vault.Client, cfg *Config) error {
	zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
	secret, err := client.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath("secret"))
	if err != nil {
		zap.L().Error("failed get secret from vault", zap.Error(err))
		return fmt.Errorf("read vault secrets: %w", err)
	}
	zap.L().Info("Success Get Secret")

	get := func(key, fallback string) string {
		if val, ok := secret.Data.Data[key].(string); ok && val != "" {
			return val
		}
		return fallback
	}

	cfg.Database.User = get("postgres_user", cfg.Database.User)
	cfg.Database.Password = get("postgres_password", cfg.Database.Password)
	cfg.Redis.Password = get("redis_password", cfg.Redis.Password)
	cfg.SecretAES = get("secret_aes", cfg.SecretAES)
	cfg.CapabilitySecret = get("capability_secret", cfg.CapabilitySecret)
	cfg.Ledger.PrivateKey = get("ledger_private_key", cfg.Ledger.PrivateKey)
	cfg.Flagsmith.ApiKey = get("flagsmith_api_key", cfg.Flagsmith.ApiKey)

	return nil
}
