package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"tenantapi/internal/apperr"
	"tenantapi/internal/config"
	"tenantapi/internal/metrics"
	"tenantapi/internal/model"
	"tenantapi/internal/registry"
	"tenantapi/internal/storage"
	"tenantapi/internal/tenantkey"
)

// EventStore is the slice of the storage layer the events handlers use.
type EventStore interface {
	GetUser(ctx context.Context, db *sqlx.DB, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, db *sqlx.DB, email string) (*model.User, error)
	CreateUser(ctx context.Context, db *sqlx.DB, u *model.User) error
	UpdateUser(ctx context.Context, db *sqlx.DB, id string, patch model.UserPatch) (*model.User, error)

	GetEventOwner(ctx context.Context, db *sqlx.DB, eventID string) (string, error)
	GetEvent(ctx context.Context, db *sqlx.DB, eventID, ownerID string) (*model.Event, error)
	ListEvents(ctx context.Context, db *sqlx.DB, ownerID string, status *string, limit, offset int) ([]model.Event, int, error)
	CreateEvent(ctx context.Context, db *sqlx.DB, e *model.Event) error
	UpdateEvent(ctx context.Context, db *sqlx.DB, eventID, ownerID string, patch model.EventPatch) error
	DeleteEvent(ctx context.Context, db *sqlx.DB, eventID, ownerID string) error

	GetAgendaByEvent(ctx context.Context, db *sqlx.DB, eventID string) (*model.Agenda, error)
	CreateAgenda(ctx context.Context, db *sqlx.DB, a *model.Agenda) error
	UpdateAgenda(ctx context.Context, db *sqlx.DB, agendaID string, patch model.AgendaPatch) error
	DeleteAgenda(ctx context.Context, db *sqlx.DB, agendaID string) error

	GetItem(ctx context.Context, db *sqlx.DB, itemID, agendaID string) (*model.AgendaItem, error)
	CreateItem(ctx context.Context, db *sqlx.DB, item *model.AgendaItem, assignOrder bool) error
	UpdateItem(ctx context.Context, db *sqlx.DB, itemID string, patch model.AgendaItemPatch) error
	DeleteItem(ctx context.Context, db *sqlx.DB, itemID string) error
	Reorder(ctx context.Context, db *sqlx.DB, agendaID string, orders []model.ReorderItem) error
}

type EventsAPI struct {
	registry *registry.Registry
	store    EventStore
	log      *zap.Logger
	validate *validator.Validate

	dbKey       string
	agendaTitle string
	requireUUID bool
}

func NewEventsAPI(reg *registry.Registry, store EventStore, cfg *config.Config, log *zap.Logger) *EventsAPI {
	return &EventsAPI{
		registry:    reg,
		store:       store,
		log:         log,
		validate:    newValidator(),
		dbKey:       cfg.Events.DatabaseKey,
		agendaTitle: cfg.Events.AgendaTitle,
		requireUUID: cfg.Auth.RequireUUID,
	}
}

func (a *EventsAPI) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(countResponses("events"))
	r.Use(recoverer(a.log))

	r.Get("/health-check", healthCheck)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(a.withDatabase)
		r.Post("/users", a.createUser)

		r.Group(func(r chi.Router) {
			r.Use(a.withOwner)
			r.Delete("/recreate-tables", a.recreateTables)

			r.Get("/users/profile", a.getUserProfile)
			r.Put("/users/profile", a.updateUserProfile)

			r.Get("/events", a.listEvents)
			r.Post("/events", a.createEvent)
			r.Get("/events/{event_id}", a.getEvent)
			r.Put("/events/{event_id}", a.updateEvent)
			r.Delete("/events/{event_id}", a.deleteEvent)

			r.Get("/events/{event_id}/agenda", a.getAgenda)
			r.Post("/events/{event_id}/agenda", a.createAgenda)
			r.Put("/events/{event_id}/agenda", a.updateAgenda)
			r.Delete("/events/{event_id}/agenda", a.deleteAgenda)
			r.Put("/events/{event_id}/agenda/reorder", a.reorderAgendaItems)

			r.Post("/events/{event_id}/agenda/items", a.createAgendaItem)
			r.Put("/events/{event_id}/agenda/items/{item_id}", a.updateAgendaItem)
			r.Delete("/events/{event_id}/agenda/items/{item_id}", a.deleteAgendaItem)
		})
	})

	return r
}

// withDatabase resolves the events database through the registry. All
// owners share the database; rows are scoped by owner_id.
func (a *EventsAPI) withDatabase(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		db, err := a.registry.Resolve(r.Context(), a.dbKey)
		if err != nil {
			respondError(a.log, w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxTenantDB, db)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withOwner derives the caller's owner id from the Authorization header.
func (a *EventsAPI) withOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, err := tenantkey.FromBearer(r.Header.Get("Authorization"), a.requireUUID)
		if err != nil {
			respondError(a.log, w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxOwnerID, owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// --- users ---

type userCreateRequest struct {
	Email     string  `json:"email" validate:"required,email"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Phone     *string `json:"phone"`
}

type userUpdateRequest struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Phone     *string `json:"phone"`
}

type userResponse struct {
	User *model.User `json:"user"`
}

func (a *EventsAPI) createUser(w http.ResponseWriter, r *http.Request) {
	var req userCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(a.log, w, r, err)
		return
	}
	if err := checkStruct(a.validate, &req); err != nil {
		respondError(a.log, w, r, err)
		return
	}

	db := dbFrom(r.Context())
	existing, err := a.store.GetUserByEmail(r.Context(), db, req.Email)
	if err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	if existing != nil {
		respondError(a.log, w, r, apperr.Conflictf("User already exists with the same email."))
		return
	}

	user := &model.User{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	}
	if err := a.store.CreateUser(r.Context(), db, user); err != nil {
		if errors.Is(err, storage.ErrDuplicateEmail) {
			respondError(a.log, w, r, apperr.Conflictf("User already exists with the same email."))
			return
		}
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	respondJSON(w, http.StatusCreated, userResponse{User: user})
}

func (a *EventsAPI) getUserProfile(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())
	user, err := a.store.GetUser(r.Context(), dbFrom(r.Context()), owner)
	if err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	if user == nil {
		respondError(a.log, w, r, apperr.NotFoundf("User with ID '%s' not found.", owner))
		return
	}
	respondJSON(w, http.StatusOK, userResponse{User: user})
}

func (a *EventsAPI) updateUserProfile(w http.ResponseWriter, r *http.Request) {
	var req userUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(a.log, w, r, err)
		return
	}

	owner := ownerFrom(r.Context())
	db := dbFrom(r.Context())
	existing, err := a.store.GetUser(r.Context(), db, owner)
	if err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	if existing == nil {
		respondError(a.log, w, r, apperr.NotFoundf("User ID '%s' not found for update.", owner))
		return
	}

	user, err := a.store.UpdateUser(r.Context(), db, owner, model.UserPatch{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	})
	if err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	respondJSON(w, http.StatusOK, userResponse{User: user})
}

// --- events ---

type eventCreateRequest struct {
	Name           string          `json:"name" validate:"required,max=200"`
	Plan           string          `json:"plan" validate:"required,oneof=freemium starter plus full"`
	Location       string          `json:"location" validate:"required"`
	RestaurantName *string         `json:"restaurant_name"`
	Date           model.DateOnly  `json:"date"`
	Time           model.TimeOfDay `json:"time"`
	EventType      string          `json:"event_type" validate:"required,oneof=wedding birthday baptism graduation anniversary corporate other"`
	ExpectedGuests *int            `json:"expected_guests" validate:"omitempty,gte=1"`
	Description    *string         `json:"description" validate:"omitempty,max=1000"`
}

type eventUpdateRequest struct {
	Name           *string          `json:"name" validate:"omitempty,max=200"`
	Location       *string          `json:"location"`
	RestaurantName *string          `json:"restaurant_name"`
	Date           *model.DateOnly  `json:"date"`
	Time           *model.TimeOfDay `json:"time"`
	EventType      *string          `json:"event_type" validate:"omitempty,oneof=wedding birthday baptism graduation anniversary corporate other"`
	ExpectedGuests *int             `json:"expected_guests" validate:"omitempty,gte=1"`
	Description    *string          `json:"description" validate:"omitempty,max=1000"`
}

type eventResponse struct {
	Event *model.Event `json:"event"`
}

type eventsResponse struct {
	Events  []model.Event `json:"events"`
	Total   int           `json:"total"`
	HasMore bool          `json:"has_more"`
}

func (a *EventsAPI) listEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r, 20)
	if err != nil {
		respondError(a.log, w, r, err)
		return
	}

	var status *string
	if raw := r.URL.Query().Get("status"); raw != "" {
		switch raw {
		case "active", "expired", "draft":
			status = &raw
		default:
			respondError(a.log, w, r, apperr.Validationf("status must be one of: active, expired, draft."))
			return
		}
	}

	events, total, err := a.store.ListEvents(r.Context(), dbFrom(r.Context()), ownerFrom(r.Context()), status, limit, offset)
	if err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	respondJSON(w, http.StatusOK, eventsResponse{
		Events:  events,
		Total:   total,
		HasMore: offset+limit < total,
	})
}

func (a *EventsAPI) createEvent(w http.ResponseWriter, r *http.Request) {
	var req eventCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(a.log, w, r, err)
		return
	}
	if err := checkStruct(a.validate, &req); err != nil {
		respondError(a.log, w, r, err)
		return
	}
	if req.Date.IsZero() {
		respondError(a.log, w, r, apperr.Validationf("date must not be empty."))
		return
	}
	if req.Time.IsZero() {
		respondError(a.log, w, r, apperr.Validationf("time must not be empty."))
		return
	}

	owner := ownerFrom(r.Context())
	db := dbFrom(r.Context())
	user, err := a.store.GetUser(r.Context(), db, owner)
	if err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	if user == nil {
		respondError(a.log, w, r, apperr.NotFoundf("User with ID '%s' not found. Please create user first.", owner))
		return
	}

	event := &model.Event{
		Name:           req.Name,
		Plan:           req.Plan,
		Location:       req.Location,
		RestaurantName: req.RestaurantName,
		Date:           req.Date,
		Time:           req.Time,
		EventType:      req.EventType,
		ExpectedGuests: req.ExpectedGuests,
		Description:    req.Description,
		OwnerID:        owner,
	}
	if err := a.store.CreateEvent(r.Context(), db, event); err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	event.Owner = user
	respondJSON(w, http.StatusCreated, eventResponse{Event: event})
}

func (a *EventsAPI) getEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "event_id")
	event, err := a.store.GetEvent(r.Context(), dbFrom(r.Context()), eventID, ownerFrom(r.Context()))
	if err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	if event == nil {
		respondError(a.log, w, r, apperr.NotFoundf("Event with ID '%s' not found.", eventID))
		return
	}
	respondJSON(w, http.StatusOK, eventResponse{Event: event})
}

func (a *EventsAPI) updateEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "event_id")
	var req eventUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(a.log, w, r, err)
		return
	}
	if err := checkStruct(a.validate, &req); err != nil {
		respondError(a.log, w, r, err)
		return
	}

	owner := ownerFrom(r.Context())
	db := dbFrom(r.Context())
	existing, err := a.store.GetEvent(r.Context(), db, eventID, owner)
	if err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	if existing == nil {
		respondError(a.log, w, r, apperr.NotFoundf("Event ID '%s' not found for update.", eventID))
		return
	}

	patch := model.EventPatch{
		Name:           req.Name,
		Location:       req.Location,
		RestaurantName: req.RestaurantName,
		Date:           req.Date,
		Time:           req.Time,
		EventType:      req.EventType,
		ExpectedGuests: req.ExpectedGuests,
		Description:    req.Description,
	}
	if err := a.store.UpdateEvent(r.Context(), db, eventID, owner, patch); err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}

	event, err := a.store.GetEvent(r.Context(), db, eventID, owner)
	if err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	respondJSON(w, http.StatusOK, eventResponse{Event: event})
}

func (a *EventsAPI) deleteEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "event_id")
	owner := ownerFrom(r.Context())
	db := dbFrom(r.Context())

	existing, err := a.store.GetEvent(r.Context(), db, eventID, owner)
	if err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	if existing == nil {
		respondError(a.log, w, r, apperr.NotFoundf("Event ID '%s' not found for deletion.", eventID))
		return
	}
	if err := a.store.DeleteEvent(r.Context(), db, eventID, owner); err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	respondJSON(w, http.StatusOK, detailResponse{
		Detail: "Event ID '" + eventID + "' successfully deleted.",
	})
}

// recreateTables destructively resets the events database tables.
func (a *EventsAPI) recreateTables(w http.ResponseWriter, r *http.Request) {
	if err := requireRecreateFlag(r); err != nil {
		respondError(a.log, w, r, err)
		return
	}
	if err := a.registry.Recreate(r.Context(), a.dbKey); err != nil {
		respondError(a.log, w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, detailResponse{Detail: recreatedDetail(a.dbKey)})
}
