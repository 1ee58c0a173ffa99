package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("DB_NAME", "shop")
	t.Setenv("PANEL_TIMEOUT", "5s")
	t.Setenv("PAYMENT_EXPIRY", "garbage")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("BOT_DOMAIN", "https://bot.example.com/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5*time.Second, cfg.Panel.Timeout)
	assert.Equal(t, 24*time.Hour, cfg.Payment.Expiry)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "https://bot.example.com", cfg.Bot.Domain)
	assert.Contains(t, cfg.Database.DSN(), "dbname=shop")
}

func TestMySQLDSN(t *testing.T) {
	d := DatabaseConfig{Driver: "mysql", Host: "db", Port: "3306", Name: "shop", User: "u", Pass: "p", Charset: "utf8mb4"}
	assert.Equal(t, "u:p@tcp(db:3306)/shop?charset=utf8mb4&parseTime=True&loc=Local", d.DSN())
}
