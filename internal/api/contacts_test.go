package api

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tenantapi/internal/model"
	"tenantapi/internal/registry"
	"tenantapi/internal/tenantkey"
)

type nopDriver struct{}

func (nopDriver) Open(string) (driver.Conn, error) { return nopConn{}, nil }

type nopConn struct{}

func (nopConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (nopConn) Close() error                        { return nil }
func (nopConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }

func init() {
	sql.Register("apitest", nopDriver{})
}

// fakeProvisioner satisfies registry.Provisioner without a server. The
// stub stores never touch the handles it hands out.
type fakeProvisioner struct {
	resets atomic.Int32
}

func (p *fakeProvisioner) EnsureDatabase(ctx context.Context, dbName string) error { return nil }

func (p *fakeProvisioner) Open(dbName string) (*sqlx.DB, error) {
	db, err := sql.Open("apitest", "")
	if err != nil {
		return nil, err
	}
	return sqlx.NewDb(db, "apitest"), nil
}

func (p *fakeProvisioner) EnsureSchema(ctx context.Context, db *sqlx.DB) error { return nil }

func (p *fakeProvisioner) Reset(ctx context.Context, db *sqlx.DB) error {
	p.resets.Add(1)
	return nil
}

type stubContactStore struct {
	contacts map[uuid.UUID]*model.Contact
}

func newStubContactStore() *stubContactStore {
	return &stubContactStore{contacts: make(map[uuid.UUID]*model.Contact)}
}

func (s *stubContactStore) Get(ctx context.Context, db *sqlx.DB, id uuid.UUID) (*model.Contact, error) {
	c, ok := s.contacts[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *stubContactStore) List(ctx context.Context, db *sqlx.DB, limit, offset int) ([]model.Contact, error) {
	out := []model.Contact{}
	for _, c := range s.contacts {
		out = append(out, *c)
	}
	return out, nil
}

func (s *stubContactStore) Search(ctx context.Context, db *sqlx.DB, query string, limit, offset int) ([]model.Contact, error) {
	out := []model.Contact{}
	q := strings.ToLower(query)
	for _, c := range s.contacts {
		if strings.Contains(strings.ToLower(c.FullName), q) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *stubContactStore) FindByEmailOrPhone(ctx context.Context, db *sqlx.DB, email, phone *string, excludeID *uuid.UUID) (*model.Contact, error) {
	for _, c := range s.contacts {
		if excludeID != nil && c.ContactID == *excludeID {
			continue
		}
		if email != nil && c.Email != nil && *c.Email == *email {
			cp := *c
			return &cp, nil
		}
		if phone != nil && c.Phone != nil && *c.Phone == *phone {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *stubContactStore) Create(ctx context.Context, db *sqlx.DB, c *model.Contact) error {
	c.ContactID = uuid.New()
	c.DateCreated = time.Now().UTC()
	c.DateModified = c.DateCreated
	cp := *c
	s.contacts[c.ContactID] = &cp
	return nil
}

func (s *stubContactStore) Update(ctx context.Context, db *sqlx.DB, c *model.Contact) error {
	c.DateModified = time.Now().UTC()
	cp := *c
	s.contacts[c.ContactID] = &cp
	return nil
}

func (s *stubContactStore) Delete(ctx context.Context, db *sqlx.DB, id uuid.UUID) error {
	delete(s.contacts, id)
	return nil
}

func newContactServer(t *testing.T) (http.Handler, *stubContactStore, *fakeProvisioner) {
	t.Helper()
	prov := &fakeProvisioner{}
	reg := registry.New(prov, zap.NewNop())
	t.Cleanup(reg.Close)
	store := newStubContactStore()
	return NewContactAPI(reg, store, zap.NewNop()).Router(), store, prov
}

func doJSON(t *testing.T, h http.Handler, method, path, tenant string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if tenant != "" {
		req.Header.Set(tenantkey.HeaderTenantID, tenant)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Detail
}

func validContactBody() map[string]any {
	return map[string]any{
		"first_name":   "Ada",
		"last_name":    "Lovelace",
		"contact_type": "private",
		"created_by":   "importer",
		"email":        "ada@example.com",
	}
}

func TestHealthCheckNeedsNoTenant(t *testing.T) {
	h, _, _ := newContactServer(t)
	rec := doJSON(t, h, http.MethodGet, "/contacts/health-check", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"HEALTH":"OK"}`, rec.Body.String())
}

func TestMissingTenantHeaderRejected(t *testing.T) {
	h, _, _ := newContactServer(t)
	rec := doJSON(t, h, http.MethodGet, "/contacts/", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestInvalidTenantKeyRejected(t *testing.T) {
	h, _, _ := newContactServer(t)
	for _, tenant := range []string{"acme-corp", "a.b", "x;DROP DATABASE"} {
		rec := doJSON(t, h, http.MethodGet, "/contacts/", tenant, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "tenant %q", tenant)
	}
}

func TestCreateContact(t *testing.T) {
	h, _, _ := newContactServer(t)
	rec := doJSON(t, h, http.MethodPost, "/contacts/", "acme", validContactBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	var c model.Contact
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	assert.Equal(t, "Ada Lovelace", c.FullName)
	assert.NotEqual(t, uuid.Nil, c.ContactID)
	require.NotNil(t, c.ListOfProfileIDs)
	assert.Empty(t, c.ListOfProfileIDs)
}

func TestCreateContactRequiresEmailOrPhone(t *testing.T) {
	h, _, _ := newContactServer(t)
	body := validContactBody()
	delete(body, "email")
	rec := doJSON(t, h, http.MethodPost, "/contacts/", "acme", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "At least one of email or phone must be provided.", decodeDetail(t, rec))
}

func TestCreateContactPhoneFormat(t *testing.T) {
	h, _, _ := newContactServer(t)

	body := validContactBody()
	delete(body, "email")
	body["phone"] = "+123456789"
	rec := doJSON(t, h, http.MethodPost, "/contacts/", "acme", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body["phone"] = "12345678901"
	rec = doJSON(t, h, http.MethodPost, "/contacts/", "acme", body)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateContactWhitespaceNameRejected(t *testing.T) {
	h, _, _ := newContactServer(t)
	body := validContactBody()
	body["first_name"] = "   "
	rec := doJSON(t, h, http.MethodPost, "/contacts/", "acme", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCreateContactDuplicateEmail(t *testing.T) {
	h, _, _ := newContactServer(t)
	rec := doJSON(t, h, http.MethodPost, "/contacts/", "acme", validContactBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/contacts/", "acme", validContactBody())
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Contact already exists with the same phone or email.", decodeDetail(t, rec))
}

func TestGetContactNotFound(t *testing.T) {
	h, _, _ := newContactServer(t)
	id := uuid.New()
	rec := doJSON(t, h, http.MethodGet, "/contacts/"+id.String(), "acme", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Contact with ID '"+id.String()+"' not found.", decodeDetail(t, rec))
}

func TestGetContactInvalidID(t *testing.T) {
	h, _, _ := newContactServer(t)
	rec := doJSON(t, h, http.MethodGet, "/contacts/not-a-uuid", "acme", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestUpdateContactNotFound(t *testing.T) {
	h, _, _ := newContactServer(t)
	id := uuid.New()
	rec := doJSON(t, h, http.MethodPut, "/contacts/"+id.String(), "acme", validContactBody())
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Contact ID '"+id.String()+"' not found for update.", decodeDetail(t, rec))
}

func TestUpdateContactKeepsOwnEmail(t *testing.T) {
	h, _, _ := newContactServer(t)
	rec := doJSON(t, h, http.MethodPost, "/contacts/", "acme", validContactBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	var created model.Contact
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	// Re-submitting the same email for the same contact is not a conflict.
	body := validContactBody()
	body["last_name"] = "Byron"
	rec = doJSON(t, h, http.MethodPut, "/contacts/"+created.ContactID.String(), "acme", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var updated model.Contact
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "Ada Byron", updated.FullName)
}

func TestDeleteContact(t *testing.T) {
	h, store, _ := newContactServer(t)
	rec := doJSON(t, h, http.MethodPost, "/contacts/", "acme", validContactBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	var created model.Contact
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, h, http.MethodDelete, "/contacts/"+created.ContactID.String(), "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Contact ID '"+created.ContactID.String()+"' successfully deleted.", decodeDetail(t, rec))
	assert.Empty(t, store.contacts)

	rec = doJSON(t, h, http.MethodDelete, "/contacts/"+created.ContactID.String(), "acme", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Contact ID '"+created.ContactID.String()+"' not found for deletion.", decodeDetail(t, rec))
}

func TestSearchContacts(t *testing.T) {
	h, _, _ := newContactServer(t)
	rec := doJSON(t, h, http.MethodPost, "/contacts/", "acme", validContactBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/contacts/search?query=lovelace", "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count    int             `json:"count"`
		Contacts []model.Contact `json:"contacts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)

	rec = doJSON(t, h, http.MethodGet, "/contacts/search", "acme", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestListPaginationBounds(t *testing.T) {
	h, _, _ := newContactServer(t)
	for _, q := range []string{"limit=0", "limit=1001", "limit=abc", "offset=-1"} {
		rec := doJSON(t, h, http.MethodGet, "/contacts/?"+q, "acme", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "query %s", q)
	}
}

func TestRecreateTablesRequiresFlag(t *testing.T) {
	h, _, prov := newContactServer(t)

	rec := doJSON(t, h, http.MethodDelete, "/contacts/recreate-tables", "acme", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Tables are not recreated. Set `recreate=true` to proceed", decodeDetail(t, rec))
	assert.Equal(t, int32(0), prov.resets.Load())

	rec = doJSON(t, h, http.MethodDelete, "/contacts/recreate-tables?recreate=true", "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Tables recreated for tenant: acme", decodeDetail(t, rec))
	assert.Equal(t, int32(1), prov.resets.Load())
}
