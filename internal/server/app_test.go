package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sneaky-snake/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Server:    config.ServerConfig{Port: 8080},
		Scrape:    config.ScrapeConfig{DefaultTimeoutMs: 2000, MaxTimeoutMs: 5000, MaxBatchSize: 10},
		Scheduler: config.SchedulerConfig{MinDelaySeconds: 0, MaxDelaySeconds: 0},
		Worker:    config.WorkerConfig{Concurrency: 2, QueueDepth: 8},
		Fetcher:   config.FetcherConfig{Engine: config.EngineHTTP, UserAgent: "sneaky-test"},
		Store:     config.StoreConfig{Backend: config.StoreSQLite, SQLitePath: filepath.Join(t.TempDir(), "results.db")},
		Queue:     config.QueueConfig{Backend: config.QueueMemory},
		PubSub:    config.PubSubConfig{TopicName: "scrapes"},
	}
}

func TestBuildServesScrapeLifecycle(t *testing.T) {
	t.Parallel()

	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><h1>hello</h1></body></html>`))
	}))
	t.Cleanup(site.Close)

	app, err := Build(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		app.dispatch.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		require.NoError(t, app.Close())
	})

	handler := app.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := `{"urls":[{"url":"` + site.URL + `","selector":"h1"}]}`
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/scrape", bytes.NewBufferString(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var submitted struct {
		RequestIDs []string `json:"request_ids"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	require.Len(t, submitted.RequestIDs, 1)
	id := submitted.RequestIDs[0]

	var result map[string]any
	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/result/"+id, nil))
		if rec.Code != http.StatusOK {
			return false
		}
		result = nil
		if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
			return false
		}
		return result["processed"] == true
	}, 5*time.Second, 20*time.Millisecond)

	require.Equal(t, "<h1>hello</h1>", result["content"])
	require.Nil(t, result["errors"])
	require.Equal(t, "h1", result["selector"])
}

func TestBuildFailsOnBadDatabase(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Store = config.StoreConfig{Backend: config.StorePostgres}
	cfg.DB = config.DBConfig{DSN: "not a dsn ::"}

	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	require.Nil(t, app)
}

func TestBuildSelectsBackends(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Store = config.StoreConfig{Backend: config.StoreMemory}
	cfg.Fetcher.StealthEnabled = true
	cfg.Fetcher.Engine = config.EngineRod

	app, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, app.fetcher)
	require.NoError(t, app.Close())
}

func TestBuildSeedsSeparateBrowserProfiles(t *testing.T) {
	t.Parallel()

	tmpl := filepath.Join(t.TempDir(), "google-chrome")
	require.NoError(t, os.MkdirAll(filepath.Join(tmpl, "Default"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(tmpl, "Default", "Preferences"), []byte("{}"), 0o600))

	dir := filepath.Join(t.TempDir(), "chrome")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stale"), []byte("x"), 0o600))

	cfg := testConfig(t)
	cfg.Store = config.StoreConfig{Backend: config.StoreMemory}
	cfg.Fetcher.Engine = config.EngineRod
	cfg.Fetcher.StealthEnabled = true
	cfg.Fetcher.ProfileDir = dir
	cfg.Fetcher.ProfileTemplate = tmpl
	cfg.Fetcher.ResetProfileOnStart = true

	app, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	require.NoFileExists(t, filepath.Join(dir, "stale"))
	require.FileExists(t, filepath.Join(dir, "Default", "Preferences"))
	require.FileExists(t, filepath.Join(dir+"-stealth", "Default", "Preferences"))
}

func TestBuildFailsOnMissingProfileTemplate(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Store = config.StoreConfig{Backend: config.StoreMemory}
	cfg.Fetcher.Engine = config.EngineRod
	cfg.Fetcher.ProfileDir = filepath.Join(t.TempDir(), "chrome")
	cfg.Fetcher.ProfileTemplate = filepath.Join(t.TempDir(), "missing")

	app, err := Build(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "browser profile init failed")
	require.Nil(t, app)
}
