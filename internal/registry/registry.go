// Package registry owns the process-wide mapping from tenant key to
// connection factory and the one-time provisioning protocol that backs it.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"tenantapi/internal/apperr"
	"tenantapi/internal/metrics"
	"tenantapi/internal/tenantkey"
)

// Provisioner executes the storage-level steps of tenant setup. The
// registry decides when each step runs; the provisioner decides how.
type Provisioner interface {
	// EnsureDatabase checks the control database for dbName and creates it
	// if absent. A concurrent-creation race must be treated as success.
	EnsureDatabase(ctx context.Context, dbName string) error
	// Open returns a pooled handle bound to dbName.
	Open(dbName string) (*sqlx.DB, error)
	// EnsureSchema creates the schema namespace, tables, and indexes.
	// All statements must be idempotent.
	EnsureSchema(ctx context.Context, db *sqlx.DB) error
	// Reset drops and recreates all domain tables.
	Reset(ctx context.Context, db *sqlx.DB) error
}

type entry struct {
	once sync.Once
	db   *sqlx.DB
	err  error
}

// Registry caches one connection factory per tenant key and serializes the
// one-time provisioning work so concurrent first requests for the same key
// build a single pool between them.
type Registry struct {
	prov Provisioner
	log  *zap.Logger

	mu          sync.RWMutex
	entries     map[string]*entry
	provisioned map[string]bool
}

func New(prov Provisioner, log *zap.Logger) *Registry {
	return &Registry{
		prov:        prov,
		log:         log,
		entries:     make(map[string]*entry),
		provisioned: make(map[string]bool),
	}
}

// Resolve returns the tenant's connection factory, provisioning the
// database and schema if this process has never seen the key. Concurrent
// callers for an unseen key share one provisioning run; all of them see
// its outcome. A failed run is forgotten so a later request can retry.
func (r *Registry) Resolve(ctx context.Context, key string) (*sqlx.DB, error) {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		e, ok = r.entries[key]
		if !ok {
			e = &entry{}
			r.entries[key] = e
		}
		r.mu.Unlock()
	}

	e.once.Do(func() {
		e.db, e.err = r.provision(ctx, key)
	})

	if e.err != nil {
		r.evict(key, e)
		return nil, e.err
	}
	return e.db, nil
}

func (r *Registry) provision(ctx context.Context, key string) (*sqlx.DB, error) {
	start := time.Now()
	dbName := tenantkey.DatabaseName(key)

	if err := r.prov.EnsureDatabase(ctx, dbName); err != nil {
		metrics.ProvisionFailures.WithLabelValues(key).Inc()
		return nil, apperr.Infra(fmt.Errorf("ensure database %q: %w", dbName, err))
	}

	db, err := r.prov.Open(dbName)
	if err != nil {
		metrics.ProvisionFailures.WithLabelValues(key).Inc()
		return nil, apperr.Infra(fmt.Errorf("open database %q: %w", dbName, err))
	}

	r.mu.RLock()
	done := r.provisioned[key]
	r.mu.RUnlock()

	if !done {
		if err := r.prov.EnsureSchema(ctx, db); err != nil {
			db.Close()
			metrics.ProvisionFailures.WithLabelValues(key).Inc()
			return nil, apperr.Infra(fmt.Errorf("ensure schema for %q: %w", dbName, err))
		}
		r.mu.Lock()
		r.provisioned[key] = true
		r.mu.Unlock()
	}

	metrics.TenantsProvisioned.WithLabelValues(key).Inc()
	metrics.ProvisionDuration.Observe(time.Since(start).Seconds())
	metrics.CachedFactories.Set(float64(r.Len()))

	r.log.Info("tenant provisioned",
		zap.String("tenant", key),
		zap.String("database", dbName),
		zap.Duration("took", time.Since(start)))
	return db, nil
}

// Recreate destructively resets the tenant's tables: the cached factory is
// evicted and closed, a fresh handle is opened against the (possibly
// dangling) tenant database, all tables are dropped and recreated, and the
// key ends up provisioned with the new handle cached.
func (r *Registry) Recreate(ctx context.Context, key string) error {
	r.mu.Lock()
	if e, ok := r.entries[key]; ok {
		delete(r.entries, key)
		if e.db != nil {
			e.db.Close()
		}
	}
	r.mu.Unlock()

	dbName := tenantkey.DatabaseName(key)
	db, err := r.prov.Open(dbName)
	if err != nil {
		return apperr.Infra(fmt.Errorf("recreate tenant %q: open database: %w", key, err))
	}
	if err := r.prov.Reset(ctx, db); err != nil {
		db.Close()
		return apperr.Infra(fmt.Errorf("recreate tenant %q: %w", key, err))
	}

	e := &entry{db: db}
	e.once.Do(func() {})

	r.mu.Lock()
	r.entries[key] = e
	r.provisioned[key] = true
	r.mu.Unlock()

	metrics.CachedFactories.Set(float64(r.Len()))
	r.log.Info("tenant tables recreated", zap.String("tenant", key))
	return nil
}

// evict removes e from the cache if it is still the current entry for key.
func (r *Registry) evict(key string, e *entry) {
	r.mu.Lock()
	if cur, ok := r.entries[key]; ok && cur == e {
		delete(r.entries, key)
	}
	r.mu.Unlock()
	metrics.CachedFactories.Set(float64(r.Len()))
}

// Provisioned reports whether schema setup already ran for key in this
// process.
func (r *Registry) Provisioned(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.provisioned[key]
}

// Len returns the number of cached factories. There is no eviction policy:
// a long-lived process serving many tenants grows this cache unboundedly.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Close closes every cached factory. Used on shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, e := range r.entries {
		if e.db != nil {
			if err := e.db.Close(); err != nil {
				r.log.Warn("closing tenant pool", zap.String("tenant", key), zap.Error(err))
			}
		}
	}
	r.entries = make(map[string]*entry)
}
