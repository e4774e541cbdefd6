package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockfeed/internal/config"
	"stockfeed/internal/pricing"
	"stockfeed/internal/storage"
)

func testApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{Interval: 10 * time.Second},
		Pricing: config.PricingConfig{
			Seed: 42,
			Rules: []config.RuleConfig{
				{Symbol: "MSFT", MinPrice: decimal.NewFromInt(250), MaxPrice: decimal.NewFromInt(500), InitialPrice: decimal.NewFromInt(300)},
				{Symbol: "AAPL", MinPrice: decimal.NewFromInt(150), MaxPrice: decimal.NewFromInt(250)},
			},
		},
		Storage: config.StorageConfig{Driver: config.DriverMemory},
		Export:  config.ExportConfig{MaxDataPoints: 100},
	}
	out := &bytes.Buffer{}
	a := NewApp(cfg, zerolog.Nop())
	a.Out = out
	return a, out
}

func TestSeedQuotesFollowRules(t *testing.T) {
	a, _ := testApp(t)
	rules, err := a.ruleTable()
	require.NoError(t, err)

	quotes := seedQuotes(rules)
	require.Len(t, quotes, 2)
	assert.Equal(t, "MSFT", quotes[0].ID)
	assert.Equal(t, "300", quotes[0].Price.String())
	assert.Equal(t, "250-500", quotes[0].Range)
	assert.Equal(t, "200", quotes[1].Price.String(), "midpoint when no initial price is set")
	assert.True(t, quotes[1].Timestamp.IsZero())
}

func TestRuleTableRejectsBadConfig(t *testing.T) {
	a, _ := testApp(t)
	a.Config.Pricing.Rules = append(a.Config.Pricing.Rules, config.RuleConfig{
		Symbol: "MSFT", MinPrice: decimal.NewFromInt(1), MaxPrice: decimal.NewFromInt(2),
	})
	_, err := a.ruleTable()
	require.Error(t, err)
}

func TestRunTickDeliversBatch(t *testing.T) {
	var received []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	a, out := testApp(t)
	a.Config.Delivery.Endpoint = srv.URL

	result, err := a.RunTick(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Quotes, 2)
	assert.True(t, result.Delivery.OK())
	assert.NoError(t, result.PersistErr)
	require.Len(t, received, 2)
	assert.Equal(t, "MSFT", received[0]["symbol"])
	assert.Equal(t, "250-500", received[0]["range"])
	assert.Contains(t, out.String(), "delivery ok (202)")
}

func TestRunTickWithoutEndpointSkipsDelivery(t *testing.T) {
	a, out := testApp(t)

	result, err := a.RunTick(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Delivery.Delivered)
	assert.NoError(t, result.Delivery.Err)
	assert.Contains(t, out.String(), "delivery skipped")
}

func TestSeedSkipsExistingQuotes(t *testing.T) {
	a, out := testApp(t)

	require.NoError(t, a.Seed(context.Background(), SeedOptions{}))
	assert.Contains(t, out.String(), "seeded 0 quote(s)")

	out.Reset()
	require.NoError(t, a.Seed(context.Background(), SeedOptions{Overwrite: true}))
	assert.Contains(t, out.String(), "seeded 2 quote(s)")
}

func TestShowFiltersBySymbol(t *testing.T) {
	a, out := testApp(t)

	require.NoError(t, a.Show(context.Background(), ShowOptions{Symbol: "aapl"}))
	assert.Contains(t, out.String(), "AAPL")
	assert.NotContains(t, out.String(), "MSFT")

	out.Reset()
	require.NoError(t, a.Show(context.Background(), ShowOptions{Symbol: "TSLA"}))
	assert.Contains(t, out.String(), "no quotes found")
}

func TestSimulateWritesTrail(t *testing.T) {
	a, out := testApp(t)
	csvPath := filepath.Join(t.TempDir(), "out", "trail.csv")

	err := a.Simulate(context.Background(), SimulateOptions{Ticks: 25, Interval: time.Minute, Seed: 7, CSVPath: csvPath})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Outside")

	file, err := os.Open(csvPath)
	require.NoError(t, err)
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 1+25*2)
	assert.Equal(t, []string{"timestamp", "quote_id", "symbol", "price", "range"}, rows[0])
	first, err := time.Parse(time.RFC3339, rows[1][0])
	require.NoError(t, err)
	last, err := time.Parse(time.RFC3339, rows[len(rows)-1][0])
	require.NoError(t, err)
	assert.Equal(t, 24*time.Minute, last.Sub(first))
}

func TestSimulateIsReproducibleWithSeed(t *testing.T) {
	a, first := testApp(t)
	require.NoError(t, a.Simulate(context.Background(), SimulateOptions{Ticks: 50, Seed: 99}))

	b, second := testApp(t)
	require.NoError(t, b.Simulate(context.Background(), SimulateOptions{Ticks: 50, Seed: 99}))

	assert.Equal(t, first.String(), second.String())
}

func TestSimulateValidatesOptions(t *testing.T) {
	a, _ := testApp(t)
	require.Error(t, a.Simulate(context.Background(), SimulateOptions{Ticks: 0}))
	require.Error(t, a.Simulate(context.Background(), SimulateOptions{Ticks: 1, Deliver: true}))
}

func TestExportNeedsHistoryStore(t *testing.T) {
	a, _ := testApp(t)
	err := a.Export(context.Background(), ExportOptions{Symbol: "MSFT", CSVPath: filepath.Join(t.TempDir(), "x.csv")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keeps no price history")

	require.Error(t, a.Export(context.Background(), ExportOptions{Symbol: "MSFT"}))
	require.Error(t, a.Export(context.Background(), ExportOptions{CSVPath: "x.csv"}))
}

func TestMigrateRequiresPostgres(t *testing.T) {
	a, _ := testApp(t)
	err := a.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres driver only")
}

func TestConsumeRequiresQueueSettings(t *testing.T) {
	a, _ := testApp(t)
	require.Error(t, a.Consume(context.Background()))
}

func TestDownsamplePoints(t *testing.T) {
	points := make([]storage.PricePoint, 10)
	for i := range points {
		points[i] = storage.PricePoint{Price: decimal.NewFromInt(int64(i))}
	}

	assert.Len(t, downsamplePoints(points, 20), 10)
	sampled := downsamplePoints(points, 4)
	require.Len(t, sampled, 4)
	assert.Equal(t, "0", sampled[0].Price.String())
	assert.Equal(t, "9", sampled[3].Price.String())
	assert.Equal(t, "9", downsamplePoints(points, 1)[0].Price.String())
}

func TestWriteHistoryPNGNeedsTwoPoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chart.png")
	err := writeHistoryPNG(path, "MSFT", []storage.PricePoint{{Symbol: "MSFT"}}, pricing.PriceRule{})
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
