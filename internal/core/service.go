// Package core owns one sync orchestrator per registered store and implements the
// operations the API exposes: store registration, configuration, status and queries.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tehaksbrid/shop-databaser/internal/config"
	"github.com/tehaksbrid/shop-databaser/internal/models"
	"github.com/tehaksbrid/shop-databaser/internal/query"
	"github.com/tehaksbrid/shop-databaser/internal/registry"
	"github.com/tehaksbrid/shop-databaser/internal/shopify"
	"github.com/tehaksbrid/shop-databaser/internal/storage"
	"github.com/tehaksbrid/shop-databaser/internal/syncer"
)

var (
	// ErrStoreNotFound is returned for operations on an unknown store uuid.
	ErrStoreNotFound = registry.ErrNotFound
	// ErrVerification is returned when a store's credentials or shop profile
	// cannot be confirmed at registration.
	ErrVerification = errors.New("store verification failed")
	// ErrInvalidRequest is returned for malformed registration input.
	ErrInvalidRequest = errors.New("invalid request")
)

// Registry is the persistence the service needs for stores.
type Registry interface {
	Add(s *models.Store) error
	Get(uuid string) (*models.Store, error)
	List() ([]*models.Store, error)
	SetPlusTier(uuid string, plus bool) error
	Delete(uuid string) error
}

// SourceFactory builds the remote data source for a store.
type SourceFactory func(store *models.Store, logger *slog.Logger) shopify.Source

// DefaultSourceFactory connects to the store's admin API.
func DefaultSourceFactory(store *models.Store, logger *slog.Logger) shopify.Source {
	return shopify.NewClient(store, shopify.ClientOptions{Logger: logger})
}

// Options configure a Service.
type Options struct {
	Config    *config.Config
	Registry  Registry
	Logger    *slog.Logger
	NewSource SourceFactory
	Publisher Publisher
	Clock     syncer.Clock
	Console   io.Writer
}

// RegisterRequest is the input to RegisterStore.
type RegisterRequest struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// Service coordinates the per-store orchestrators.
type Service struct {
	registry  Registry
	logger    *slog.Logger
	newSource SourceFactory
	clock     syncer.Clock
	console   io.Writer

	cfgMu sync.Mutex
	cfg   *config.Config

	pubMu     sync.RWMutex
	publisher Publisher

	mu      sync.Mutex
	ctx     context.Context
	runners map[string]*runner
	wg      sync.WaitGroup
}

type runner struct {
	store  *models.Store
	orch   *syncer.Orchestrator
	cache  *storage.TTLCache
	cancel context.CancelFunc
}

// New creates a service. Call Start to launch the stored orchestrators.
func New(opts Options) (*Service, error) {
	if opts.Config == nil || opts.Registry == nil {
		return nil, errors.New("service requires a config and a registry")
	}
	s := &Service{
		registry:  opts.Registry,
		logger:    opts.Logger,
		newSource: opts.NewSource,
		clock:     opts.Clock,
		console:   opts.Console,
		cfg:       opts.Config,
		publisher: opts.Publisher,
		runners:   make(map[string]*runner),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.newSource == nil {
		s.newSource = DefaultSourceFactory
	}
	if s.publisher == nil {
		s.publisher = noopPublisher{}
	}
	return s, nil
}

// SetPublisher replaces the push channel.
func (s *Service) SetPublisher(p Publisher) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	if p == nil {
		p = noopPublisher{}
	}
	s.publisher = p
}

func (s *Service) publish(e Event) {
	s.pubMu.RLock()
	p := s.publisher
	s.pubMu.RUnlock()
	p.Publish(e)
}

// Start launches an orchestrator for every registered store. They run until ctx
// is cancelled; Wait blocks until all have stopped.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	stores, err := s.registry.List()
	if err != nil {
		return fmt.Errorf("list stores: %w", err)
	}
	for _, store := range stores {
		if err := s.startRunner(store); err != nil {
			s.logger.Error("failed to start store", "store", store.Name, "error", err)
		}
	}
	s.logger.Info("service started", "stores", len(stores))
	return nil
}

// Wait blocks until every orchestrator has returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) startRunner(store *models.Store) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return errors.New("service not started")
	}
	if _, ok := s.runners[store.UUID]; ok {
		return nil
	}

	cfg := s.Config()
	logger := s.logger.With("store", store.Name)
	cache := storage.NewTTLCache(cacheTTL(cfg), nil)
	orch, err := syncer.New(syncer.Options{
		Store:   store,
		Dir:     cfg.StoreDir(store.UUID),
		Source:  s.newSource(store, logger),
		Config:  cfg,
		Clock:   s.clock,
		Console: s.console,
		Cache:   cache,
		Report: func(r *models.StatusReport) {
			s.publish(Event{Type: EventStatusReport, Payload: redactReport(r)})
		},
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(s.ctx)
	r := &runner{store: store, orch: orch, cache: cache, cancel: cancel}
	s.runners[store.UUID] = r

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		if err := orch.Run(ctx); err != nil {
			logger.Error("orchestrator stopped with error", "error", err)
		}
	}()
	return nil
}

func (s *Service) runner(uuid string) (*runner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runners[uuid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, uuid)
	}
	return r, nil
}

// Stores lists registered stores without their credentials.
func (s *Service) Stores() ([]*models.Store, error) {
	stores, err := s.registry.List()
	if err != nil {
		return nil, err
	}
	out := make([]*models.Store, 0, len(stores))
	for _, st := range stores {
		out = append(out, redact(st))
	}
	return out, nil
}

// RegisterStore verifies the store's credentials against its shop profile, records
// the plan tier, persists the store and starts syncing it.
func (s *Service) RegisterStore(ctx context.Context, req RegisterRequest) (*models.Store, error) {
	u, err := normalizeStoreURL(req.URL)
	if err != nil {
		return nil, err
	}
	if req.APIKey == "" || req.APISecret == "" {
		return nil, fmt.Errorf("%w: api_key and api_secret are required", ErrInvalidRequest)
	}

	store := &models.Store{
		UUID:      uuid.NewString(),
		Name:      strings.TrimSpace(req.Name),
		URL:       u,
		APIKey:    req.APIKey,
		APISecret: req.APISecret,
	}
	shop, err := s.newSource(store, s.logger).GetShop(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVerification, err)
	}
	store.IsPlusTier = shop.IsPlus()
	if store.Name == "" {
		store.Name = shop.Name
	}
	store.RegisteredAt = s.now().UTC()

	if err := s.registry.Add(store); err != nil {
		return nil, err
	}
	s.logger.Info("store registered", "store", store.Name, "uuid", store.UUID, "plus", store.IsPlusTier)

	if err := s.startRunner(store); err != nil {
		s.logger.Error("failed to start store", "store", store.Name, "error", err)
	}
	s.publish(Event{Type: EventReload})
	return redact(store), nil
}

// DeregisterStore removes the store from the registry, then purges its local data.
// It returns once the purge has finished or ctx ends.
func (s *Service) DeregisterStore(ctx context.Context, uuid string) error {
	if _, err := s.registry.Get(uuid); err != nil {
		return err
	}
	if err := s.registry.Delete(uuid); err != nil {
		return err
	}

	s.mu.Lock()
	r, ok := s.runners[uuid]
	delete(s.runners, uuid)
	s.mu.Unlock()

	if ok {
		r.orch.Disconnect()
		select {
		case <-r.orch.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	// A loop that had already stopped never saw the disconnect and left its data.
	if err := os.RemoveAll(s.Config().StoreDir(uuid)); err != nil {
		return fmt.Errorf("remove store data: %w", err)
	}
	s.logger.Info("store disconnected", "uuid", uuid)
	s.publish(Event{Type: EventReload})
	return nil
}

// ForceResync restarts a store's historical pass.
func (s *Service) ForceResync(uuid string) error {
	r, err := s.runner(uuid)
	if err != nil {
		return err
	}
	r.orch.ForceResync()
	return nil
}

// Status returns the latest report of one store, or of every store when uuid is
// empty, and pushes the same reports to subscribers. Stores that have not yet
// produced a report are omitted.
func (s *Service) Status(uuid string) ([]*models.StatusReport, error) {
	var targets []*runner
	if uuid != "" {
		r, err := s.runner(uuid)
		if err != nil {
			return nil, err
		}
		targets = append(targets, r)
	} else {
		s.mu.Lock()
		for _, r := range s.runners {
			targets = append(targets, r)
		}
		s.mu.Unlock()
	}

	reports := make([]*models.StatusReport, 0, len(targets))
	for _, r := range targets {
		if rep := r.orch.Status(); rep != nil {
			reports = append(reports, redactReport(rep))
		}
		r.orch.RequestStatus()
	}
	return reports, nil
}

// Query runs q against one store.
func (s *Service) Query(ctx context.Context, uuid, q string) (*query.Result, error) {
	r, err := s.runner(uuid)
	if err != nil {
		return nil, err
	}
	return query.NewEngine(r.orch.Engine(), r.store.Ref()).Run(ctx, q)
}

// Config returns a copy of the current configuration.
func (s *Service) Config() *config.Config {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return s.cfg.Clone()
}

// UpdateConfig sets one option, saves the file and applies it to every store.
func (s *Service) UpdateConfig(section, key string, value any) (*config.Config, error) {
	s.cfgMu.Lock()
	next := s.cfg.Clone()
	if err := next.Set(section, key, value); err != nil {
		s.cfgMu.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if err := next.Save(); err != nil {
		s.cfgMu.Unlock()
		return nil, err
	}
	s.cfg = next
	s.cfgMu.Unlock()

	s.logger.Info("config updated", "option", section+"."+key, "value", value)
	s.apply(next)
	return next.Clone(), nil
}

// ReloadConfig applies a configuration read back from disk. A file identical to
// the current configuration is ignored, which absorbs the watcher event caused by
// UpdateConfig's own save.
func (s *Service) ReloadConfig(cfg *config.Config) {
	s.cfgMu.Lock()
	if cfg.Equal(s.cfg) {
		s.cfgMu.Unlock()
		return
	}
	s.cfg = cfg
	s.cfgMu.Unlock()

	s.logger.Info("config reloaded from disk")
	s.apply(cfg)
}

func (s *Service) apply(cfg *config.Config) {
	s.mu.Lock()
	runners := make([]*runner, 0, len(s.runners))
	for _, r := range s.runners {
		runners = append(runners, r)
	}
	s.mu.Unlock()

	for _, r := range runners {
		r.orch.UpdateConfig(cfg.Clone())
		r.cache.SetTTL(cacheTTL(cfg))
	}
	s.publish(Event{Type: EventConfigUpdated, Payload: cfg.Clone()})
}

func (s *Service) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now()
}

// cacheTTL is zero when caching is off, which makes every entry expire on insert.
func cacheTTL(cfg *config.Config) time.Duration {
	if !cfg.Queries.UseCaching {
		return 0
	}
	return cfg.CacheTTL()
}

// normalizeStoreURL accepts a bare domain or a URL and returns https://host.
func normalizeStoreURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: invalid store url %q", ErrInvalidRequest, raw)
	}
	return u.Scheme + "://" + u.Host, nil
}

func redact(s *models.Store) *models.Store {
	cp := *s
	cp.APIKey = ""
	cp.APISecret = ""
	return &cp
}

func redactReport(r *models.StatusReport) *models.StatusReport {
	cp := *r
	if r.Store != nil {
		cp.Store = redact(r.Store)
	}
	return &cp
}
