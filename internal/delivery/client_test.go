package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockfeed/internal/quote"
)

func sampleQuotes() []quote.Quote {
	ts := time.Date(2024, 11, 10, 8, 0, 5, 0, time.UTC)
	return []quote.Quote{
		{ID: "1", Symbol: "MSFT", Price: decimal.RequireFromString("300.9"), Timestamp: ts, Range: "250-500"},
		{ID: "2", Symbol: "AAPL", Price: decimal.RequireFromString("201"), Timestamp: ts, Range: "150-250"},
	}
}

func TestDeliverSuccess(t *testing.T) {
	var (
		gotBody        []map[string]any
		gotContentType string
		gotMethod      string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewClient(Options{Endpoint: srv.URL, Timeout: time.Second, UserAgent: "test"}, zerolog.Nop())
	res := client.Deliver(context.Background(), sampleQuotes())

	require.True(t, res.OK(), "unexpected failure: %v", res.Err)
	assert.Equal(t, http.StatusAccepted, res.StatusCode)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json; charset=utf-8", gotContentType)

	require.Len(t, gotBody, 2)
	assert.Equal(t, "MSFT", gotBody[0]["symbol"])
	assert.Equal(t, 300.9, gotBody[0]["price"])
	assert.Equal(t, "2024-11-10T08:00:05.000Z", gotBody[0]["timestamp"])
	assert.Equal(t, "250-500", gotBody[0]["range"])
}

func TestDeliverEmptyBatchSendsArray(t *testing.T) {
	var raw []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	res := NewClient(Options{Endpoint: srv.URL}, zerolog.Nop()).Deliver(context.Background(), nil)
	require.True(t, res.OK())
	assert.Equal(t, "[]", string(raw))
}

func TestDeliverNon2xxIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "logic app unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	res := NewClient(Options{Endpoint: srv.URL, Timeout: time.Second}, zerolog.Nop()).Deliver(context.Background(), sampleQuotes())

	assert.False(t, res.OK())
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.True(t, errors.Is(res.Err, ErrDeliveryFailed))
	assert.Contains(t, res.Err.Error(), "logic app unavailable")
}

func TestDeliverUnreachableEndpoint(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	client := NewClient(Options{Endpoint: "http://" + addr + "/hook", Timeout: time.Second}, zerolog.Nop())

	var res Result
	require.NotPanics(t, func() {
		res = client.Deliver(context.Background(), sampleQuotes())
	})
	assert.False(t, res.OK())
	assert.Zero(t, res.StatusCode)
	assert.True(t, errors.Is(res.Err, ErrDeliveryFailed))
}

func TestDeliverMissingEndpoint(t *testing.T) {
	res := NewClient(Options{}, zerolog.Nop()).Deliver(context.Background(), sampleQuotes())
	assert.False(t, res.OK())
	assert.True(t, errors.Is(res.Err, ErrDeliveryFailed))
}

func TestDeliverCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := NewClient(Options{Endpoint: srv.URL}, zerolog.Nop()).Deliver(ctx, sampleQuotes())
	assert.False(t, res.OK())
	assert.True(t, errors.Is(res.Err, context.Canceled))
}
