package core

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tehaksbrid/shop-databaser/internal/config"
	"github.com/tehaksbrid/shop-databaser/internal/models"
	"github.com/tehaksbrid/shop-databaser/internal/registry"
	"github.com/tehaksbrid/shop-databaser/internal/shopify"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count(typ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

type testEnv struct {
	svc    *Service
	cfg    *config.Config
	events *recorder
	source *shopify.MockSource
	cancel context.CancelFunc
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg, err := config.Initialize(t.TempDir())
	require.NoError(t, err)
	cfg.General.MinimumDuration = 10
	cfg.Logging.ReportLogsToConsole = false

	reg, err := registry.Open(cfg.RegistryPath())
	require.NoError(t, err)

	src := shopify.NewMockSource(time.Now().Add(-2 * time.Hour))
	src.AddOrders(models.Record{"id": json.Number("1"), "created_at": time.Now().Add(-time.Hour), "total_price": "12.00"})

	env := &testEnv{cfg: cfg, events: &recorder{}, source: src}
	svc, err := New(Options{
		Config:    cfg,
		Registry:  reg,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		NewSource: func(*models.Store, *slog.Logger) shopify.Source { return src },
		Publisher: env.events,
		Console:   io.Discard,
	})
	require.NoError(t, err)
	env.svc = svc

	ctx, cancel := context.WithCancel(context.Background())
	env.cancel = cancel
	require.NoError(t, svc.Start(ctx))
	t.Cleanup(func() {
		cancel()
		svc.Wait()
		reg.Close()
	})
	return env
}

func (e *testEnv) register(t *testing.T) *models.Store {
	t.Helper()
	store, err := e.svc.RegisterStore(context.Background(), RegisterRequest{
		Name:      "Test Shop",
		URL:       "test.myshopify.com",
		APIKey:    "key",
		APISecret: "secret",
	})
	require.NoError(t, err)
	return store
}

// ==================== Registration Tests ====================

func TestService_RegisterStore(t *testing.T) {
	env := newTestEnv(t)
	store := env.register(t)

	assert.Equal(t, "https://test.myshopify.com", store.URL)
	assert.Empty(t, store.APISecret)
	assert.False(t, store.IsPlusTier)
	assert.Equal(t, 1, env.events.count(EventReload))

	stores, err := env.svc.Stores()
	require.NoError(t, err)
	require.Len(t, stores, 1)
	assert.Equal(t, store.UUID, stores[0].UUID)
	assert.Empty(t, stores[0].APIKey)
}

func TestService_RegisterPlusTier(t *testing.T) {
	env := newTestEnv(t)
	env.source.Shop.PlanName = models.PlusPlanName
	store := env.register(t)
	assert.True(t, store.IsPlusTier)
}

func TestService_RegisterVerificationFails(t *testing.T) {
	env := newTestEnv(t)
	env.source.ShopErr = assert.AnError

	_, err := env.svc.RegisterStore(context.Background(), RegisterRequest{
		URL: "test.myshopify.com", APIKey: "key", APISecret: "secret",
	})
	assert.ErrorIs(t, err, ErrVerification)

	stores, err := env.svc.Stores()
	require.NoError(t, err)
	assert.Empty(t, stores)
}

func TestService_RegisterInvalidInput(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.RegisterStore(context.Background(), RegisterRequest{URL: "", APIKey: "k", APISecret: "s"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = env.svc.RegisterStore(context.Background(), RegisterRequest{URL: "shop.myshopify.com"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestService_DeregisterStore(t *testing.T) {
	env := newTestEnv(t)
	store := env.register(t)
	dir := env.cfg.StoreDir(store.UUID)

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, config.MetadataFile))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, env.svc.DeregisterStore(context.Background(), store.UUID))
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	stores, err := env.svc.Stores()
	require.NoError(t, err)
	assert.Empty(t, stores)

	err = env.svc.DeregisterStore(context.Background(), store.UUID)
	assert.ErrorIs(t, err, ErrStoreNotFound)
}

func TestService_DeregisterAfterLoopStopped(t *testing.T) {
	env := newTestEnv(t)
	store := env.register(t)
	dir := env.cfg.StoreDir(store.UUID)

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, config.MetadataFile))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	// Daemon shutdown ends every loop without purging.
	env.cancel()
	env.svc.Wait()
	_, err := os.Stat(dir)
	require.NoError(t, err)

	require.NoError(t, env.svc.DeregisterStore(context.Background(), store.UUID))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

// ==================== Sync Tests ====================

func TestService_QueryAfterSync(t *testing.T) {
	env := newTestEnv(t)
	store := env.register(t)

	var result []models.Record
	require.Eventually(t, func() bool {
		res, err := env.svc.Query(context.Background(), store.UUID, "orders[total_price>10]")
		if err != nil {
			return false
		}
		result = res.Records
		return len(res.Records) == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, json.Number("1"), result[0]["id"])

	_, err := env.svc.Query(context.Background(), "missing", "orders")
	assert.ErrorIs(t, err, ErrStoreNotFound)
}

func TestService_StatusAndResync(t *testing.T) {
	env := newTestEnv(t)
	store := env.register(t)

	require.Eventually(t, func() bool {
		reports, err := env.svc.Status("")
		return err == nil && len(reports) == 1
	}, 5*time.Second, 10*time.Millisecond)

	reports, err := env.svc.Status(store.UUID)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Empty(t, reports[0].Store.APISecret)
	assert.Positive(t, env.events.count(EventStatusReport))

	require.NoError(t, env.svc.ForceResync(store.UUID))
	assert.ErrorIs(t, env.svc.ForceResync("missing"), ErrStoreNotFound)
	_, err = env.svc.Status("missing")
	assert.ErrorIs(t, err, ErrStoreNotFound)
}

func TestService_RestartResumesStores(t *testing.T) {
	cfg, err := config.Initialize(t.TempDir())
	require.NoError(t, err)
	cfg.General.MinimumDuration = 10
	reg, err := registry.Open(cfg.RegistryPath())
	require.NoError(t, err)
	defer reg.Close()
	require.NoError(t, reg.Add(&models.Store{UUID: "s1", Name: "one", URL: "https://one.myshopify.com", APIKey: "k", APISecret: "s"}))

	src := shopify.NewMockSource(time.Now().Add(-time.Hour))
	svc, err := New(Options{
		Config:    cfg,
		Registry:  reg,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		NewSource: func(*models.Store, *slog.Logger) shopify.Source { return src },
		Console:   io.Discard,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, svc.Start(ctx))
	require.Eventually(t, func() bool {
		return src.Calls("GetShop") > 0
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	svc.Wait()
}

// ==================== Config Tests ====================

func TestService_UpdateConfig(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)

	cfg, err := env.svc.UpdateConfig("general", "gc_datapile_size", 750)
	require.NoError(t, err)
	assert.Equal(t, 750, cfg.General.GCDatapileSize)
	assert.Equal(t, 1, env.events.count(EventConfigUpdated))

	onDisk, err := config.Load(env.cfg.DataDir())
	require.NoError(t, err)
	assert.Equal(t, 750, onDisk.General.GCDatapileSize)

	// the watcher echo of our own save is ignored
	env.svc.ReloadConfig(onDisk)
	assert.Equal(t, 1, env.events.count(EventConfigUpdated))

	onDisk.Queries.UseCaching = false
	env.svc.ReloadConfig(onDisk)
	assert.Equal(t, 2, env.events.count(EventConfigUpdated))
	assert.False(t, env.svc.Config().Queries.UseCaching)
}

func TestService_UpdateConfigRejectsUnknown(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.UpdateConfig("general", "nope", 1)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = env.svc.UpdateConfig("general", "gc_datapile_size", "many")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestNormalizeStoreURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"shop.myshopify.com", "https://shop.myshopify.com"},
		{"https://shop.myshopify.com/admin", "https://shop.myshopify.com"},
		{"  http://localhost:8080/ ", "http://localhost:8080"},
	}
	for _, tt := range tests {
		got, err := normalizeStoreURL(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
	_, err := normalizeStoreURL("https://")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
