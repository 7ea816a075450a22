package config

import (
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Bot          BotConfig
	API          APIConfig
	Payment      PaymentConfig
	Backend      BackendConfig
	Provisioning ProvisioningConfig
}

type ServerConfig struct {
	Port int
	Env  string // "development", "production"
	// TrustedProxies are CIDRs whose X-Forwarded-For is believed. Empty means
	// the client address is taken from the TCP peer.
	TrustedProxies []string
}

type DatabaseConfig struct {
	Host    string
	Port    string
	Name    string
	User    string
	Pass    string
	Charset string
}

type RedisConfig struct {
	Addr string
	Pass string
	DB   int
}

type BotConfig struct {
	Token      string
	AdminID    int64
	Username   string
	SupportURL string
	FAQURL     string
}

type APIConfig struct {
	Key string
}

type PaymentConfig struct {
	YooKassa    YooKassaConfig
	CryptoCloud CryptoCloudConfig
}

type YooKassaConfig struct {
	ShopID       string
	SecretKey    string
	ReturnURL    string
	BaseURL      string
	AllowedCIDRs []string
}

type CryptoCloudConfig struct {
	APIKey  string
	ShopID  string
	Secret  string
	BaseURL string
}

type BackendConfig struct {
	ServersFile   string
	MaxClients    int
	Timeout       time.Duration
	DefaultServer string
}

type ProvisioningConfig struct {
	Timeout  time.Duration
	DedupTTL time.Duration
	LockTTL  time.Duration
}

// YooKassa notification source ranges.
var defaultYooKassaCIDRs = []string{
	"185.71.76.0/27",
	"185.71.77.0/27",
	"77.75.153.0/25",
	"77.75.156.11",
	"77.75.156.35",
	"77.75.154.128/25",
	"2a02:5180::/32",
}

// Load reads configuration from .env file and environment variables.
func Load() (*Config, error) {
	// Load .env file (ignore error if missing)
	_ = godotenv.Load()

	viper.AutomaticEnv()

	viper.SetDefault("APP_PORT", 8443)
	viper.SetDefault("APP_ENV", "production")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "3306")
	viper.SetDefault("DB_CHARSET", "utf8mb4")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("SUPPORT_URL", "https://t.me/RealityVPNSupportBot?start")
	viper.SetDefault("FAQ_URL", "https://organization-170.gitbook.io/reality-vpn")
	viper.SetDefault("YOOKASSA_BASE_URL", "https://api.yookassa.ru/v3")
	viper.SetDefault("YOOKASSA_RETURN_URL", "https://t.me/BestRealityVpnBot")
	viper.SetDefault("YOOKASSA_ALLOWED_CIDRS", strings.Join(defaultYooKassaCIDRs, ","))
	viper.SetDefault("CRYPTOCLOUD_BASE_URL", "https://api.cryptocloud.plus/v2")
	viper.SetDefault("SERVERS_FILE", "settings/servers.json")
	viper.SetDefault("MAX_CLIENTS", 80)
	viper.SetDefault("DEFAULT_SERVER", "germany_1")
	viper.SetDefault("BACKEND_TIMEOUT", "30s")
	viper.SetDefault("PROVISION_TIMEOUT", "2m")
	viper.SetDefault("DEDUP_TTL", "72h")
	viper.SetDefault("LOCK_TTL", "2m")

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetInt("APP_PORT"),
			Env:  viper.GetString("APP_ENV"),

			TrustedProxies: splitList(viper.GetString("TRUSTED_PROXIES")),
		},
		Database: DatabaseConfig{
			Host:    viper.GetString("DB_HOST"),
			Port:    viper.GetString("DB_PORT"),
			Name:    viper.GetString("DB_NAME"),
			User:    viper.GetString("DB_USER"),
			Pass:    viper.GetString("DB_PASS"),
			Charset: viper.GetString("DB_CHARSET"),
		},
		Redis: RedisConfig{
			Addr: viper.GetString("REDIS_ADDR"),
			Pass: viper.GetString("REDIS_PASS"),
			DB:   viper.GetInt("REDIS_DB"),
		},
		Bot: BotConfig{
			Token:      viper.GetString("BOT_TOKEN"),
			AdminID:    viper.GetInt64("BOT_ADMIN_ID"),
			Username:   viper.GetString("BOT_USERNAME"),
			SupportURL: viper.GetString("SUPPORT_URL"),
			FAQURL:     viper.GetString("FAQ_URL"),
		},
		API: APIConfig{
			Key: viper.GetString("API_KEY"),
		},
		Payment: PaymentConfig{
			YooKassa: YooKassaConfig{
				ShopID:       viper.GetString("YOOKASSA_SHOP_ID"),
				SecretKey:    viper.GetString("YOOKASSA_SECRET_KEY"),
				ReturnURL:    viper.GetString("YOOKASSA_RETURN_URL"),
				BaseURL:      viper.GetString("YOOKASSA_BASE_URL"),
				AllowedCIDRs: splitList(viper.GetString("YOOKASSA_ALLOWED_CIDRS")),
			},
			CryptoCloud: CryptoCloudConfig{
				APIKey:  viper.GetString("CRYPTOCLOUD_API_KEY"),
				ShopID:  viper.GetString("CRYPTOCLOUD_SHOP_ID"),
				Secret:  viper.GetString("CRYPTOCLOUD_SECRET"),
				BaseURL: viper.GetString("CRYPTOCLOUD_BASE_URL"),
			},
		},
		Backend: BackendConfig{
			ServersFile:   viper.GetString("SERVERS_FILE"),
			MaxClients:    viper.GetInt("MAX_CLIENTS"),
			Timeout:       durationOr("BACKEND_TIMEOUT", 30*time.Second),
			DefaultServer: viper.GetString("DEFAULT_SERVER"),
		},
		Provisioning: ProvisioningConfig{
			Timeout:  durationOr("PROVISION_TIMEOUT", 2*time.Minute),
			DedupTTL: durationOr("DEDUP_TTL", 72*time.Hour),
			LockTTL:  durationOr("LOCK_TTL", 2*time.Minute),
		},
	}

	if cfg.Database.Name == "" {
		log.Println("WARNING: DB_NAME is not set, payment ledger goes to logs only")
	}
	if cfg.Bot.Token == "" {
		log.Println("WARNING: BOT_TOKEN is not set")
	}

	return cfg, nil
}

// Enabled reports whether a database is configured.
func (d *DatabaseConfig) Enabled() bool {
	return d.Name != ""
}

// DSN returns the MySQL DSN string for GORM.
func (d *DatabaseConfig) DSN() string {
	return d.User + ":" + d.Pass + "@tcp(" + d.Host + ":" + d.Port + ")/" + d.Name + "?charset=" + d.Charset + "&parseTime=True&loc=Local"
}

func durationOr(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(viper.GetString(key))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
