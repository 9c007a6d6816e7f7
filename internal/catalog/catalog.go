package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	gateway "github.com/nimasrn/engagement-reseller/internal/gateways"
	"github.com/nimasrn/engagement-reseller/internal/model"
	"github.com/nimasrn/engagement-reseller/pkg/clock"
	"github.com/nimasrn/engagement-reseller/pkg/logger"
)

var (
	ErrServiceNotFound = errors.New("service not found in catalog")
	ErrUnavailable     = errors.New("service catalog unavailable")
)

const (
	defaultTTL           = time.Hour
	defaultRetryInterval = 30 * time.Second
	defaultSnapshotKey   = "catalog:services"
	snapshotTTL          = 7 * 24 * time.Hour
)

// Source lists the vendor's services.
type Source interface {
	ListServices(ctx context.Context) (*gateway.Response[[]gateway.Service], error)
}

// SnapshotStore keeps the last good catalog across restarts. A redis adapter
// satisfies it.
type SnapshotStore interface {
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}

type Options struct {
	TTL           time.Duration
	RetryInterval time.Duration
	Clock         clock.Clock
	Snapshots     SnapshotStore
	SnapshotKey   string
}

// Cache holds the vendor catalog for TTL. The first caller that sees it stale
// refreshes it; while that runs, or after it fails, everyone else gets the
// stale copy.
type Cache struct {
	source    Source
	clock     clock.Clock
	ttl       time.Duration
	retry     time.Duration
	snapshots SnapshotStore
	key       string

	mu       sync.RWMutex
	entries  map[int64]*model.ServiceCatalogEntry
	sorted   []*model.ServiceCatalogEntry
	loadedAt time.Time
	failedAt time.Time

	refreshMu sync.Mutex
}

func New(source Source, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.System()
	}
	if opts.SnapshotKey == "" {
		opts.SnapshotKey = defaultSnapshotKey
	}
	return &Cache{
		source:    source,
		clock:     opts.Clock,
		ttl:       opts.TTL,
		retry:     opts.RetryInterval,
		snapshots: opts.Snapshots,
		key:       opts.SnapshotKey,
	}
}

func (c *Cache) Get(ctx context.Context, serviceID int64) (*model.ServiceCatalogEntry, error) {
	entries, _, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	entry, ok := entries[serviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrServiceNotFound, serviceID)
	}
	clone := *entry
	return &clone, nil
}

// List returns the catalog ordered by service id.
func (c *Cache) List(ctx context.Context) ([]model.ServiceCatalogEntry, error) {
	_, sorted, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.ServiceCatalogEntry, len(sorted))
	for i, e := range sorted {
		out[i] = *e
	}
	return out, nil
}

// Refresh reloads the catalog now, regardless of its age.
func (c *Cache) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	return c.refresh(ctx)
}

// Invalidate marks the catalog stale without dropping it.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.loadedAt = time.Time{}
	c.failedAt = time.Time{}
	c.mu.Unlock()
}

func (c *Cache) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedAt
}

func (c *Cache) current(ctx context.Context) (map[int64]*model.ServiceCatalogEntry, []*model.ServiceCatalogEntry, error) {
	c.mu.RLock()
	entries, sorted, due := c.entries, c.sorted, c.refreshDue()
	c.mu.RUnlock()

	if !due {
		return entries, sorted, nil
	}

	if entries != nil {
		// someone else is already refreshing, serve what we have
		if !c.refreshMu.TryLock() {
			return entries, sorted, nil
		}
		defer c.refreshMu.Unlock()

		c.mu.RLock()
		due = c.refreshDue()
		c.mu.RUnlock()
		if due {
			if err := c.refresh(ctx); err != nil {
				logger.Warn("Serving stale service catalog", "error", err, "loaded_at", c.LoadedAt())
			}
		}
		return c.read()
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.mu.RLock()
	loaded := c.entries != nil
	c.mu.RUnlock()
	if loaded {
		return c.read()
	}

	if err := c.refresh(ctx); err != nil {
		if !c.restoreSnapshot() {
			return nil, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		logger.Warn("Service catalog restored from snapshot", "error", err)
	}
	return c.read()
}

func (c *Cache) read() (map[int64]*model.ServiceCatalogEntry, []*model.ServiceCatalogEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries, c.sorted, nil
}

// refreshDue must be called with mu held.
func (c *Cache) refreshDue() bool {
	now := c.clock.Now()
	if !c.failedAt.IsZero() && now.Before(c.failedAt.Add(c.retry)) {
		return c.entries == nil
	}
	return c.loadedAt.IsZero() || !now.Before(c.loadedAt.Add(c.ttl))
}

// refresh must be called with refreshMu held.
func (c *Cache) refresh(ctx context.Context) error {
	res, err := c.source.ListServices(ctx)
	if err != nil {
		c.mu.Lock()
		c.failedAt = c.clock.Now()
		c.mu.Unlock()
		return err
	}

	list := make([]*model.ServiceCatalogEntry, 0, len(res.Data))
	for _, s := range res.Data {
		entry, err := s.CatalogEntry()
		if err != nil {
			logger.Warn("Skipping malformed catalog entry", "service", s.Service, "error", err)
			continue
		}
		entry.Platform, entry.ServiceType = Classify(entry.Category, entry.Name)
		list = append(list, entry)
	}

	c.install(list, c.clock.Now())
	logger.Info("Service catalog refreshed", "services", len(list))

	c.saveSnapshot(list)
	return nil
}

func (c *Cache) install(list []*model.ServiceCatalogEntry, loadedAt time.Time) {
	sort.Slice(list, func(i, j int) bool { return list[i].ServiceID < list[j].ServiceID })
	entries := make(map[int64]*model.ServiceCatalogEntry, len(list))
	for _, e := range list {
		entries[e.ServiceID] = e
	}

	c.mu.Lock()
	c.entries = entries
	c.sorted = list
	c.loadedAt = loadedAt
	c.failedAt = time.Time{}
	c.mu.Unlock()
}

func (c *Cache) saveSnapshot(list []*model.ServiceCatalogEntry) {
	if c.snapshots == nil {
		return
	}
	data, err := json.Marshal(list)
	if err != nil {
		logger.Error("Failed to encode catalog snapshot", "error", err)
		return
	}
	if err := c.snapshots.Set(c.key, data, snapshotTTL); err != nil {
		logger.Warn("Failed to store catalog snapshot", "error", err)
	}
}

// restoreSnapshot loads the last stored catalog as already stale, so the next
// caller after the retry interval tries the vendor again.
func (c *Cache) restoreSnapshot() bool {
	if c.snapshots == nil {
		return false
	}
	data, err := c.snapshots.Get(c.key)
	if err != nil {
		return false
	}
	var list []*model.ServiceCatalogEntry
	if err := json.Unmarshal(data, &list); err != nil {
		logger.Warn("Discarding unreadable catalog snapshot", "error", err)
		return false
	}

	failedAt := c.clock.Now()
	c.install(list, time.Time{})
	c.mu.Lock()
	c.failedAt = failedAt
	c.mu.Unlock()
	return true
}
