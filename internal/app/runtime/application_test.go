package runtime

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sailfish-mobile/storefront/internal/config"
)

const fixtures = "../services/catalog/testdata/products.yaml"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Logging.Level = "error"
	cfg.Catalog.FixturesPath = fixtures
	cfg.Audit.Path = filepath.Join(t.TempDir(), "audit.jsonl")
	return cfg
}

func listProducts(t *testing.T, h http.Handler) []map[string]any {
	t.Helper()
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/products", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var products []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &products); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return products
}

func TestNewApplicationMemory(t *testing.T) {
	a, err := NewApplication(testConfig(t))
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	defer a.closeResources()

	if got := len(listProducts(t, a.Handler())); got != 2 {
		t.Fatalf("expected 2 available fixture products, got %d", got)
	}
}

func TestNewApplicationSQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "sqlite3"
	cfg.Database.DSN = "file:" + filepath.Join(t.TempDir(), "storefront.db")
	cfg.Database.AutoMigrate = true

	a, err := NewApplication(cfg)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if got := len(listProducts(t, a.Handler())); got != 2 {
		t.Fatalf("expected 2 available fixture products, got %d", got)
	}
	a.closeResources()

	// fixtures are not duplicated on restart
	again, err := NewApplication(cfg)
	if err != nil {
		t.Fatalf("restart application: %v", err)
	}
	defer again.closeResources()
	if got := len(listProducts(t, again.Handler())); got != 2 {
		t.Fatalf("expected 2 products after restart, got %d", got)
	}
}

func TestNewApplicationBadFixtures(t *testing.T) {
	cfg := testConfig(t)
	cfg.Catalog.FixturesPath = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := NewApplication(cfg); err == nil {
		t.Fatalf("expected error for missing fixtures")
	}
}

func TestRunAndShutdown(t *testing.T) {
	a, err := NewApplication(testConfig(t))
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if err := a.app.Start(context.Background()); err != nil {
		t.Fatalf("start services: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx, ln) }()

	client := &http.Client{Timeout: 2 * time.Second}
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = client.Get("http://" + ln.Addr().String() + "/healthz")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("serve returned %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
