package config

import (
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Bot      BotConfig
	API      APIConfig
	Panel    PanelConfig
	Payment  PaymentConfig
	Kafka    KafkaConfig
}

type ServerConfig struct {
	Port int
	Env  string // "development", "production"
}

type DatabaseConfig struct {
	Driver  string // "mysql" or "postgres"
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
	Token   string
	AdminID string
	Domain  string // public base URL, used for gateway callbacks
	APIURL  string // Bot API server, empty for the public one
}

type APIConfig struct {
	Key      string
	HashFile string
}

type PanelConfig struct {
	Timeout time.Duration
}

type PaymentConfig struct {
	Expiry      time.Duration
	ZarinPal    ZarinPalConfig
	NOWPayments NOWPaymentsConfig
}

type ZarinPalConfig struct {
	Merchant string
	Sandbox  bool
}

type NOWPaymentsConfig struct {
	APIKey    string
	IPNSecret string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Load reads configuration from .env file and environment variables.
func Load() (*Config, error) {
	// Load .env file (ignore error if missing)
	_ = godotenv.Load()

	viper.AutomaticEnv()

	viper.SetDefault("APP_PORT", 8080)
	viper.SetDefault("APP_ENV", "production")
	viper.SetDefault("DB_DRIVER", "mysql")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "3306")
	viper.SetDefault("DB_CHARSET", "utf8mb4")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("PANEL_TIMEOUT", "20s")
	viper.SetDefault("PAYMENT_EXPIRY", "24h")
	viper.SetDefault("ZARINPAL_SANDBOX", false)
	viper.SetDefault("KAFKA_TOPIC", "resellbot.events")

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetInt("APP_PORT"),
			Env:  viper.GetString("APP_ENV"),
		},
		Database: loadDatabase(),
		Redis: RedisConfig{
			Addr: viper.GetString("REDIS_ADDR"),
			Pass: viper.GetString("REDIS_PASS"),
			DB:   viper.GetInt("REDIS_DB"),
		},
		Bot: BotConfig{
			Token:   viper.GetString("BOT_TOKEN"),
			AdminID: viper.GetString("BOT_ADMIN_ID"),
			Domain:  strings.TrimRight(viper.GetString("BOT_DOMAIN"), "/"),
			APIURL:  viper.GetString("BOT_API_URL"),
		},
		API: APIConfig{
			Key:      viper.GetString("API_KEY"),
			HashFile: viper.GetString("API_HASH_FILE"),
		},
		Panel: PanelConfig{
			Timeout: parseDuration(viper.GetString("PANEL_TIMEOUT"), 20*time.Second),
		},
		Payment: PaymentConfig{
			Expiry: parseDuration(viper.GetString("PAYMENT_EXPIRY"), 24*time.Hour),
			ZarinPal: ZarinPalConfig{
				Merchant: viper.GetString("ZARINPAL_MERCHANT"),
				Sandbox:  viper.GetBool("ZARINPAL_SANDBOX"),
			},
			NOWPayments: NOWPaymentsConfig{
				APIKey:    viper.GetString("NOWPAYMENTS_API_KEY"),
				IPNSecret: viper.GetString("NOWPAYMENTS_IPN_SECRET"),
			},
		},
		Kafka: KafkaConfig{
			Brokers: splitList(viper.GetString("KAFKA_BROKERS")),
			Topic:   viper.GetString("KAFKA_TOPIC"),
		},
	}

	if cfg.Database.Name == "" {
		log.Println("WARNING: DB_NAME is not set")
	}
	if cfg.Bot.Token == "" {
		log.Println("WARNING: BOT_TOKEN is not set, notifications are disabled")
	}
	if cfg.API.Key == "" && cfg.API.HashFile == "" {
		log.Println("WARNING: API_KEY is not set, /api is unreachable")
	}

	return cfg, nil
}

// LoadDatabaseOnly reads just the database settings (used by --bootstrap-db).
func LoadDatabaseOnly() (*DatabaseConfig, error) {
	_ = godotenv.Load()
	viper.AutomaticEnv()
	viper.SetDefault("DB_DRIVER", "mysql")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "3306")
	viper.SetDefault("DB_CHARSET", "utf8mb4")
	db := loadDatabase()
	return &db, nil
}

func loadDatabase() DatabaseConfig {
	return DatabaseConfig{
		Driver:  strings.ToLower(viper.GetString("DB_DRIVER")),
		Host:    viper.GetString("DB_HOST"),
		Port:    viper.GetString("DB_PORT"),
		Name:    viper.GetString("DB_NAME"),
		User:    viper.GetString("DB_USER"),
		Pass:    viper.GetString("DB_PASS"),
		Charset: viper.GetString("DB_CHARSET"),
	}
}

// DSN returns the driver-specific DSN string for GORM.
func (d *DatabaseConfig) DSN() string {
	if d.Driver == "postgres" {
		return "host=" + d.Host + " port=" + d.Port + " user=" + d.User + " password=" + d.Pass +
			" dbname=" + d.Name + " sslmode=disable TimeZone=UTC"
	}
	return d.User + ":" + d.Pass + "@tcp(" + d.Host + ":" + d.Port + ")/" + d.Name + "?charset=" + d.Charset + "&parseTime=True&loc=Local"
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
