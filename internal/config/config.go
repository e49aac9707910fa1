package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultListenAddr = ":3000"
)

type MySQLConfig struct {
	Dsn             string `mapstructure:"dsn"`
	TablePrefix     string `mapstructure:"tablePrefix"`
	MaxIdleConns    int    `mapstructure:"maxIdleConns"`
	MaxOpenConns    int    `mapstructure:"maxOpenConns"`
	ConnMaxIdleTime int    `mapstructure:"connMaxIdleTime"`
	ConnMaxLifetime int    `mapstructure:"connMaxLifetime"`
}

type RedisConfig struct {
	URL         string `mapstructure:"url"`
	PoolSize    int    `mapstructure:"poolSize"`
	ClusterMode bool   `mapstructure:"clusterMode"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	TLS      bool   `mapstructure:"tls"`
	CertFile string `mapstructure:"certFile"`
	KeyFile  string `mapstructure:"keyFile"`
	CAFile   string `mapstructure:"caFile"`
}

type MailConfig struct {
	Backend string     `mapstructure:"backend"`
	From    string     `mapstructure:"from"`
	SMTP    SMTPConfig `mapstructure:"smtp"`
}

type SMSConfig struct {
	Backend    string `mapstructure:"backend"`
	GatewayURL string `mapstructure:"gatewayURL"`
	APIKey     string `mapstructure:"apiKey"`
	Sender     string `mapstructure:"sender"`
}

type MediaConfig struct {
	Bucket          string        `mapstructure:"bucket"`
	Region          string        `mapstructure:"region"`
	Endpoint        string        `mapstructure:"endpoint"` // optional, for S3-compatible stores
	AccessKeyID     string        `mapstructure:"accessKeyID"`
	SecretAccessKey string        `mapstructure:"secretAccessKey"`
	UploadExpiry    time.Duration `mapstructure:"uploadExpiry"`
	DownloadExpiry  time.Duration `mapstructure:"downloadExpiry"`
}

// TwoFactorConfig carries every 2FA tunable. It is materialized into
// twofactor.Config and injected into the service constructor so tests can
// vary the knobs without touching globals.
type TwoFactorConfig struct {
	CodeExpiryMinutes   int           `mapstructure:"codeExpiryMinutes"`
	CodeMaxAttempts     int           `mapstructure:"codeMaxAttempts"`
	RateLimitWindow     time.Duration `mapstructure:"rateLimitWindow"`
	RateLimitMax        int           `mapstructure:"rateLimitMax"`
	TrustedDeviceMax    int           `mapstructure:"trustedDeviceMax"`
	TrustedDeviceDays   int           `mapstructure:"trustedDeviceDays"`
	PartialTokenTTL     time.Duration `mapstructure:"partialTokenTTL"`
	LockoutThreshold    int           `mapstructure:"lockoutThreshold"`
	LockoutBaseDuration time.Duration `mapstructure:"lockoutBaseDuration"`
	LockoutMaxDuration  time.Duration `mapstructure:"lockoutMaxDuration"`
}

type OAuthProviderConfig struct {
	ClientID     string   `mapstructure:"clientID"`
	ClientSecret string   `mapstructure:"clientSecret"`
	Scope        []string `mapstructure:"scope"`
}

type Config struct {
	Debug        bool                           `mapstructure:"debug"`
	SiteName     string                         `mapstructure:"siteName"`
	BaseURL      string                         `mapstructure:"baseURL"`
	MasterKey    string                         `mapstructure:"masterKey"`
	ListenAddr   string                         `mapstructure:"listenAddr"`
	AllowOrigins []string                       `mapstructure:"allowOrigins"`
	Redis        RedisConfig                    `mapstructure:"redis"`
	MySQL        MySQLConfig                    `mapstructure:"mysql"`
	Mail         MailConfig                     `mapstructure:"mail"`
	SMS          SMSConfig                      `mapstructure:"sms"`
	Media        MediaConfig                    `mapstructure:"media"`
	TwoFactor    TwoFactorConfig                `mapstructure:"twoFactor"`
	OAuth        map[string]OAuthProviderConfig `mapstructure:"oauth"`
}

func (c *Config) Sanitize() error {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.SiteName == "" {
		c.SiteName = "kinship"
	}
	if c.Media.UploadExpiry == 0 {
		c.Media.UploadExpiry = 15 * time.Minute
	}
	if c.Media.DownloadExpiry == 0 {
		c.Media.DownloadExpiry = 1 * time.Hour
	}
	return nil
}

func LoadConfig(filename string) (*Config, error) {
	viper.SetConfigFile(filename)
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Sanitize(); err != nil {
		return nil, err
	}
	return &config, nil
}
