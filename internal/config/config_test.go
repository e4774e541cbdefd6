package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: feed\n"))
	require.NoError(t, err)

	assert.Equal(t, "feed", cfg.App.Name)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	require.Len(t, cfg.Pricing.Rules, 4)
	assert.Equal(t, "MSFT", cfg.Pricing.Rules[0].Symbol)
	assert.True(t, cfg.Pricing.Rules[0].MinPrice.Equal(decimal.NewFromInt(250)))
	assert.True(t, cfg.Pricing.Rules[0].MaxPrice.Equal(decimal.NewFromInt(500)))
}

func TestLoadRulesFromFile(t *testing.T) {
	path := writeConfig(t, `
scheduler:
  interval: 2s
pricing:
  seed: 7
  rules:
    - symbol: MSFT
      min_price: 250
      max_price: 500.5
    - symbol: TSLA
      min_price: "180.25"
      max_price: "320"
      initial_price: 200
delivery:
  endpoint: http://localhost:7071/api/quotes
  timeout: 3s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Scheduler.Interval)
	assert.EqualValues(t, 7, cfg.Pricing.Seed)
	require.Len(t, cfg.Pricing.Rules, 2)
	assert.Equal(t, "500.5", cfg.Pricing.Rules[0].MaxPrice.String())
	assert.Equal(t, "180.25", cfg.Pricing.Rules[1].MinPrice.String())
	assert.Equal(t, "200", cfg.Pricing.Rules[1].InitialPrice.String())
	assert.True(t, cfg.Pricing.Rules[0].InitialPrice.IsZero())
	assert.Equal(t, "http://localhost:7071/api/quotes", cfg.Delivery.Endpoint)
	assert.Equal(t, 3*time.Second, cfg.Delivery.Timeout)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("STOCKFEED_DELIVERY_ENDPOINT", "https://sink.example.com/quotes")
	t.Setenv("STOCKFEED_SCHEDULER_INTERVAL", "30s")

	cfg, err := Load(writeConfig(t, "app:\n  name: feed\n"))
	require.NoError(t, err)
	assert.Equal(t, "https://sink.example.com/quotes", cfg.Delivery.Endpoint)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Interval)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Scheduler: SchedulerConfig{Interval: time.Second},
			Pricing:   PricingConfig{Rules: []RuleConfig{{Symbol: "MSFT"}}},
			Storage:   StorageConfig{Driver: DriverMemory},
			Export:    ExportConfig{MaxDataPoints: 10},
		}
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(c *Config){
		"zero interval":    func(c *Config) { c.Scheduler.Interval = 0 },
		"no rules":         func(c *Config) { c.Pricing.Rules = nil },
		"relative url":     func(c *Config) { c.Delivery.Endpoint = "/quotes" },
		"unknown driver":   func(c *Config) { c.Storage.Driver = "cosmos" },
		"postgres no dsn":  func(c *Config) { c.Storage.Driver = DriverPostgres },
		"redis no addr":    func(c *Config) { c.Storage.Driver = DriverRedis },
		"queue no topic":   func(c *Config) { c.Queue = QueueConfig{Enabled: true, Brokers: []string{"b:9092"}, GroupID: "g"} },
		"no export points": func(c *Config) { c.Export.MaxDataPoints = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 50}}
	assert.Equal(t, 50, cfg.ResolveMaxPoints(0))
	assert.Equal(t, 5, cfg.ResolveMaxPoints(5))
}
