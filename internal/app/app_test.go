package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/transit-bulletin-crawler/internal/app"
	"github.com/JakeFAU/transit-bulletin-crawler/internal/api"
	"github.com/JakeFAU/transit-bulletin-crawler/internal/bulletin"
	"github.com/JakeFAU/transit-bulletin-crawler/internal/config"
)

const alertsPage = `<html><body><div id="alerts">Service Alerts
Route 5: 5, 5A
Buses delayed due to weather
Route 9: 9
Service suspended</div></body></html>`

func TestNew_MemoryParserEndToEnd(t *testing.T) {
	t.Parallel()

	srv := newPageServer(t, alertsPage)
	a, err := app.New(context.Background(), baseConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	first := scrape(t, a)
	require.Equal(t, srv.URL, first.TargetURL)
	require.Len(t, first.Data, 2)
	require.Equal(t, "Route 5", first.Data[0].Title)
	require.Equal(t, []string{"5", "5A"}, first.Data[0].Buses)
	require.True(t, first.Data[0].IsNew)
	require.True(t, first.Data[1].IsNew)

	second := scrape(t, a)
	require.Len(t, second.Data, 2)
	for i := range second.Data {
		require.False(t, second.Data[i].IsNew)
		require.Equal(t, first.Data[i].Hash, second.Data[i].Hash)
		require.Equal(t, first.Data[i].Timestamp, second.Data[i].Timestamp)
	}
}

func TestNew_SQLiteStorePersistsAcrossApps(t *testing.T) {
	t.Parallel()

	srv := newPageServer(t, alertsPage)
	cfg := baseConfig(srv.URL)
	cfg.Storage.Provider = "sqlite"
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "cache", "bulletins.db")

	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.True(t, scrape(t, a).Data[0].IsNew)
	require.NoError(t, a.Close())

	b, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, b.Close()) })
	require.False(t, scrape(t, b).Data[0].IsNew)
}

func TestNew_LocalStoreTextMode(t *testing.T) {
	t.Parallel()

	srv := newPageServer(t, alertsPage)
	cfg := baseConfig(srv.URL)
	cfg.Storage.Provider = "local"
	cfg.Storage.LocalDir = t.TempDir()
	cfg.Pipeline.Fingerprint = "text"
	cfg.Publisher.Provider = "memory"

	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	first := scrape(t, a)
	require.Len(t, first.Data, 2)
	require.Equal(t, first.Data[0].Hash, first.Data[1].Hash)
	require.True(t, first.Data[0].IsNew)

	second := scrape(t, a)
	require.False(t, second.Data[0].IsNew)
	require.False(t, second.Data[1].IsNew)
}

func TestNew_FeedSource(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, `<?xml version="1.0"?><rss version="2.0"><channel><title>Metro</title>
<item><title>Detour</title><category>12</category><description>Use Main St</description></item>
</channel></rss>`)
	}))
	t.Cleanup(srv.Close)

	cfg := baseConfig(srv.URL)
	cfg.Source.Kind = "feed"
	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	got := scrape(t, a)
	require.Len(t, got.Data, 1)
	require.Equal(t, "Detour", got.Data[0].Title)
	require.Equal(t, []string{"12"}, got.Data[0].Buses)
	require.Equal(t, "Use Main St", got.Data[0].Content)
}

func TestNew_MissingAIKeyFailsPerRequest(t *testing.T) {
	t.Parallel()

	srv := newPageServer(t, alertsPage)
	cfg := baseConfig(srv.URL)
	cfg.Environment = config.EnvDevelopment
	cfg.Pipeline.Extractor = "ai"
	cfg.AI.APIKey = ""

	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	_, err = a.Pipeline.Run(context.Background())
	require.ErrorIs(t, err, bulletin.ErrConfiguration)

	rec := httptest.NewRecorder()
	a.Server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body api.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ConfigurationError", body.Error)
	require.NotEmpty(t, body.Message)
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := baseConfig("https://transit.example")
	cfg.Storage.Provider = "redis"

	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.Nil(t, a)
	require.Error(t, err)
	require.True(t, errors.Is(err, bulletin.ErrConfiguration))
}

func TestNew_LocalStoreUnwritableDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	cfg := baseConfig("https://transit.example")
	cfg.Storage.Provider = "local"
	cfg.Storage.LocalDir = filepath.Join(file, "cache")

	_, err := app.New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

// --- helpers ---

func baseConfig(target string) config.Config {
	return config.Config{
		Environment: "production",
		Server:      config.ServerConfig{Port: 8080, RequestTimeoutSeconds: 10},
		Auth:        config.AuthConfig{SecretKey: "s3cret"},
		Source: config.SourceConfig{
			TargetURL:                 target,
			Kind:                      "html",
			Selector:                  "#alerts",
			UserAgent:                 "bulletin-test",
			TimeoutSeconds:            5,
			HeadlessMaxParallel:       1,
			HeadlessNavTimeoutSeconds: 5,
		},
		Pipeline:  config.PipelineConfig{Extractor: "parser", Fingerprint: "record"},
		Storage:   config.StorageConfig{Provider: "memory"},
		Publisher: config.PublisherConfig{Provider: "none", Topic: "bulletins"},
	}
}

func newPageServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func scrape(t *testing.T, a *app.App) bulletin.Result {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(api.SecretHeader, a.Config.Auth.SecretKey)
	rec := httptest.NewRecorder()
	a.Server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result bulletin.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	return result
}
