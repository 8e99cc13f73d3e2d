package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"tenantapi/internal/apperr"
	"tenantapi/internal/metrics"
	"tenantapi/internal/model"
	"tenantapi/internal/registry"
	"tenantapi/internal/tenantkey"
)

// ContactStore is the slice of the storage layer the contact handlers use.
type ContactStore interface {
	Get(ctx context.Context, db *sqlx.DB, id uuid.UUID) (*model.Contact, error)
	List(ctx context.Context, db *sqlx.DB, limit, offset int) ([]model.Contact, error)
	Search(ctx context.Context, db *sqlx.DB, query string, limit, offset int) ([]model.Contact, error)
	FindByEmailOrPhone(ctx context.Context, db *sqlx.DB, email, phone *string, excludeID *uuid.UUID) (*model.Contact, error)
	Create(ctx context.Context, db *sqlx.DB, c *model.Contact) error
	Update(ctx context.Context, db *sqlx.DB, c *model.Contact) error
	Delete(ctx context.Context, db *sqlx.DB, id uuid.UUID) error
}

type ContactAPI struct {
	registry *registry.Registry
	store    ContactStore
	log      *zap.Logger
	validate *validator.Validate
}

func NewContactAPI(reg *registry.Registry, store ContactStore, log *zap.Logger) *ContactAPI {
	return &ContactAPI{
		registry: reg,
		store:    store,
		log:      log,
		validate: newValidator(),
	}
}

func (a *ContactAPI) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(countResponses("contact"))
	r.Use(recoverer(a.log))

	r.Handle("/metrics", metrics.Handler())

	r.Route("/contacts", func(r chi.Router) {
		r.Get("/health-check", healthCheck)

		r.Group(func(r chi.Router) {
			r.Use(a.withTenantKey)
			r.Delete("/recreate-tables", a.recreateTables)

			r.Group(func(r chi.Router) {
				r.Use(a.withTenantDB)
				r.Get("/search", a.searchContacts)
				r.Get("/", a.listContacts)
				r.Post("/", a.createContact)
				r.Get("/{contact_id}", a.getContact)
				r.Put("/{contact_id}", a.updateContact)
				r.Delete("/{contact_id}", a.deleteContact)
			})
		})
	})

	return r
}

// withTenantKey derives and validates the tenant key from the request
// header; nothing downstream sees an unvalidated key.
func (a *ContactAPI) withTenantKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(tenantkey.HeaderTenantID)
		key, err := tenantkey.Sanitize(raw)
		if err != nil {
			respondError(a.log, w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxTenantKey, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withTenantDB resolves the tenant's connection factory, provisioning the
// database on first contact with the key.
func (a *ContactAPI) withTenantDB(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := tenantFrom(r.Context())
		db, err := a.registry.Resolve(r.Context(), key)
		if err != nil {
			respondError(a.log, w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxTenantDB, db)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type contactRequest struct {
	FirstName   string           `json:"first_name" validate:"required,max=100"`
	LastName    string           `json:"last_name" validate:"required,max=100"`
	ContactType string           `json:"contact_type" validate:"required,oneof=private business"`
	Owner       *string          `json:"owner"`
	CreatedBy   string           `json:"created_by" validate:"required,max=100"`
	Email       *string          `json:"email" validate:"omitempty,email"`
	Phone       *string          `json:"phone" validate:"omitempty,phone"`
	Attributes  model.Attributes `json:"attributes"`
}

// normalize trims the name fields and collapses empty optionals to nil so
// the whitespace-only and empty-string cases fail the same way.
func (req *contactRequest) normalize() {
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.CreatedBy = strings.TrimSpace(req.CreatedBy)
	if req.Email != nil && strings.TrimSpace(*req.Email) == "" {
		req.Email = nil
	}
	if req.Phone != nil && strings.TrimSpace(*req.Phone) == "" {
		req.Phone = nil
	}
}

func (a *ContactAPI) parseContact(r *http.Request) (*contactRequest, error) {
	var req contactRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	req.normalize()
	if err := checkStruct(a.validate, &req); err != nil {
		return nil, err
	}
	if req.Email == nil && req.Phone == nil {
		return nil, apperr.Validationf("At least one of email or phone must be provided.")
	}
	return &req, nil
}

func (req *contactRequest) apply(c *model.Contact) {
	c.FirstName = req.FirstName
	c.LastName = req.LastName
	c.FullName = req.FirstName + " " + req.LastName
	c.ContactType = req.ContactType
	c.Owner = req.Owner
	c.CreatedBy = req.CreatedBy
	c.Email = req.Email
	c.Phone = req.Phone
	c.Attributes = req.Attributes
	c.ListOfProfileIDs = model.ProfileIDs{}
}

func contactIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "contact_id"))
	if err != nil {
		return uuid.Nil, apperr.Validationf("Invalid contact ID. Must be a valid UUID.")
	}
	return id, nil
}

type contactsResponse struct {
	Offset   int             `json:"offset"`
	Limit    int             `json:"limit"`
	Count    int             `json:"count"`
	Contacts []model.Contact `json:"contacts"`
}

func (a *ContactAPI) listContacts(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r, 100)
	if err != nil {
		respondError(a.log, w, r, err)
		return
	}

	contacts, err := a.store.List(r.Context(), dbFrom(r.Context()), limit, offset)
	if err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	respondJSON(w, http.StatusOK, contactsResponse{
		Offset:   offset,
		Limit:    limit,
		Count:    len(contacts),
		Contacts: contacts,
	})
}

func (a *ContactAPI) searchContacts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		respondError(a.log, w, r, apperr.Validationf("query must not be empty."))
		return
	}
	limit, offset, err := pagination(r, 100)
	if err != nil {
		respondError(a.log, w, r, err)
		return
	}

	contacts, err := a.store.Search(r.Context(), dbFrom(r.Context()), query, limit, offset)
	if err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	respondJSON(w, http.StatusOK, contactsResponse{
		Offset:   0,
		Limit:    len(contacts),
		Count:    len(contacts),
		Contacts: contacts,
	})
}

func (a *ContactAPI) getContact(w http.ResponseWriter, r *http.Request) {
	id, err := contactIDParam(r)
	if err != nil {
		respondError(a.log, w, r, err)
		return
	}

	contact, err := a.store.Get(r.Context(), dbFrom(r.Context()), id)
	if err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	if contact == nil {
		respondError(a.log, w, r, apperr.NotFoundf("Contact with ID '%s' not found.", id))
		return
	}
	respondJSON(w, http.StatusOK, contact)
}

func (a *ContactAPI) createContact(w http.ResponseWriter, r *http.Request) {
	req, err := a.parseContact(r)
	if err != nil {
		respondError(a.log, w, r, err)
		return
	}

	db := dbFrom(r.Context())
	existing, err := a.store.FindByEmailOrPhone(r.Context(), db, req.Email, req.Phone, nil)
	if err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	if existing != nil {
		respondError(a.log, w, r, apperr.Conflictf("Contact already exists with the same phone or email."))
		return
	}

	var contact model.Contact
	req.apply(&contact)
	if err := a.store.Create(r.Context(), db, &contact); err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	respondJSON(w, http.StatusCreated, &contact)
}

func (a *ContactAPI) updateContact(w http.ResponseWriter, r *http.Request) {
	id, err := contactIDParam(r)
	if err != nil {
		respondError(a.log, w, r, err)
		return
	}
	req, err := a.parseContact(r)
	if err != nil {
		respondError(a.log, w, r, err)
		return
	}

	db := dbFrom(r.Context())
	contact, err := a.store.Get(r.Context(), db, id)
	if err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	if contact == nil {
		respondError(a.log, w, r, apperr.NotFoundf("Contact ID '%s' not found for update.", id))
		return
	}

	existing, err := a.store.FindByEmailOrPhone(r.Context(), db, req.Email, req.Phone, &id)
	if err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	if existing != nil {
		respondError(a.log, w, r, apperr.Conflictf("Contact already exists with the same phone or email."))
		return
	}

	req.apply(contact)
	if err := a.store.Update(r.Context(), db, contact); err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	respondJSON(w, http.StatusOK, contact)
}

func (a *ContactAPI) deleteContact(w http.ResponseWriter, r *http.Request) {
	id, err := contactIDParam(r)
	if err != nil {
		respondError(a.log, w, r, err)
		return
	}

	db := dbFrom(r.Context())
	contact, err := a.store.Get(r.Context(), db, id)
	if err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	if contact == nil {
		respondError(a.log, w, r, apperr.NotFoundf("Contact ID '%s' not found for deletion.", id))
		return
	}
	if err := a.store.Delete(r.Context(), db, id); err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	respondJSON(w, http.StatusOK, detailResponse{
		Detail: "Contact ID '" + id.String() + "' successfully deleted.",
	})
}

// recreateTables destructively resets the tenant's storage. It requires an
// explicit recreate=true flag and acts even when the tenant has never been
// resolved in this process.
func (a *ContactAPI) recreateTables(w http.ResponseWriter, r *http.Request) {
	if err := requireRecreateFlag(r); err != nil {
		respondError(a.log, w, r, err)
		return
	}
	key := tenantFrom(r.Context())
	if err := a.registry.Recreate(r.Context(), key); err != nil {
		respondError(a.log, w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, detailResponse{Detail: recreatedDetail(key)})
}
