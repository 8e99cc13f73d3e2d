package registry

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tenantapi/internal/apperr"
)

// nopDriver satisfies database/sql so tests can hand out real pool handles
// without a server behind them.
type nopDriver struct{}

func (nopDriver) Open(string) (driver.Conn, error) { return nopConn{}, nil }

type nopConn struct{}

func (nopConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (nopConn) Close() error                        { return nil }
func (nopConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }

func init() {
	sql.Register("registrytest", nopDriver{})
}

func newPool(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sql.Open("registrytest", "")
	require.NoError(t, err)
	return sqlx.NewDb(db, "registrytest")
}

// fakeProvisioner counts each protocol step and can fail any of them.
type fakeProvisioner struct {
	t *testing.T

	ensureDatabase atomic.Int32
	open           atomic.Int32
	ensureSchema   atomic.Int32
	reset          atomic.Int32

	mu         sync.Mutex
	failEnsure error
	failSchema error
}

func (p *fakeProvisioner) EnsureDatabase(ctx context.Context, dbName string) error {
	p.ensureDatabase.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failEnsure
}

func (p *fakeProvisioner) Open(dbName string) (*sqlx.DB, error) {
	p.open.Add(1)
	return newPool(p.t), nil
}

func (p *fakeProvisioner) EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	p.ensureSchema.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failSchema
}

func (p *fakeProvisioner) Reset(ctx context.Context, db *sqlx.DB) error {
	p.reset.Add(1)
	return nil
}

func (p *fakeProvisioner) setFailEnsure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failEnsure = err
}

func (p *fakeProvisioner) setFailSchema(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failSchema = err
}

func newTestRegistry(t *testing.T) (*Registry, *fakeProvisioner) {
	t.Helper()
	prov := &fakeProvisioner{t: t}
	reg := New(prov, zap.NewNop())
	t.Cleanup(reg.Close)
	return reg, prov
}

func TestResolveProvisionsOnFirstRequest(t *testing.T) {
	reg, prov := newTestRegistry(t)

	db, err := reg.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	require.NotNil(t, db)

	assert.Equal(t, int32(1), prov.ensureDatabase.Load())
	assert.Equal(t, int32(1), prov.ensureSchema.Load())
	assert.True(t, reg.Provisioned("acme"))
	assert.Equal(t, 1, reg.Len())
}

func TestResolveReturnsCachedFactory(t *testing.T) {
	reg, prov := newTestRegistry(t)

	first, err := reg.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	second, err := reg.Resolve(context.Background(), "acme")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), prov.ensureDatabase.Load())
	assert.Equal(t, int32(1), prov.open.Load())
}

func TestConcurrentFirstRequestsShareOneProvisioningRun(t *testing.T) {
	reg, prov := newTestRegistry(t)

	const workers = 32
	dbs := make([]*sqlx.DB, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			db, err := reg.Resolve(context.Background(), "acme")
			assert.NoError(t, err)
			dbs[i] = db
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), prov.ensureDatabase.Load())
	assert.Equal(t, int32(1), prov.open.Load())
	assert.Equal(t, int32(1), prov.ensureSchema.Load())
	for i := 1; i < workers; i++ {
		assert.Same(t, dbs[0], dbs[i])
	}
}

func TestDistinctKeysGetDistinctFactories(t *testing.T) {
	reg, prov := newTestRegistry(t)

	a, err := reg.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	b, err := reg.Resolve(context.Background(), "globex")
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, int32(2), prov.ensureDatabase.Load())
	assert.Equal(t, 2, reg.Len())
}

func TestProvisioningFailureIsRetryable(t *testing.T) {
	reg, prov := newTestRegistry(t)
	prov.setFailEnsure(errors.New("connection refused"))

	_, err := reg.Resolve(context.Background(), "acme")
	require.Error(t, err)
	assert.Equal(t, apperr.KindInfrastructure, apperr.KindOf(err))
	assert.Equal(t, 0, reg.Len(), "failed entry must not stay cached")
	assert.False(t, reg.Provisioned("acme"))

	prov.setFailEnsure(nil)
	db, err := reg.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	require.NotNil(t, db)
	assert.Equal(t, int32(2), prov.ensureDatabase.Load())
}

func TestSchemaFailureClosesPoolAndRetries(t *testing.T) {
	reg, prov := newTestRegistry(t)
	prov.setFailSchema(errors.New("permission denied for schema"))

	_, err := reg.Resolve(context.Background(), "acme")
	require.Error(t, err)
	assert.Equal(t, apperr.KindInfrastructure, apperr.KindOf(err))
	assert.False(t, reg.Provisioned("acme"))

	prov.setFailSchema(nil)
	_, err = reg.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, int32(2), prov.ensureSchema.Load())
	assert.True(t, reg.Provisioned("acme"))
}

func TestRecreateResetsAndCaches(t *testing.T) {
	reg, prov := newTestRegistry(t)

	_, err := reg.Resolve(context.Background(), "acme")
	require.NoError(t, err)

	require.NoError(t, reg.Recreate(context.Background(), "acme"))
	assert.Equal(t, int32(1), prov.reset.Load())
	assert.True(t, reg.Provisioned("acme"))

	// The recreated handle is cached: no further provisioning on resolve.
	_, err = reg.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, int32(1), prov.ensureDatabase.Load())
}

func TestRecreateWorksForUnseenKey(t *testing.T) {
	reg, prov := newTestRegistry(t)

	require.NoError(t, reg.Recreate(context.Background(), "fresh"))
	assert.Equal(t, int32(1), prov.reset.Load())
	assert.Equal(t, int32(0), prov.ensureDatabase.Load())
	assert.True(t, reg.Provisioned("fresh"))
	assert.Equal(t, 1, reg.Len())
}

func TestCloseEmptiesCache(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, err := reg.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	_, err = reg.Resolve(context.Background(), "globex")
	require.NoError(t, err)

	reg.Close()
	assert.Equal(t, 0, reg.Len())
}
