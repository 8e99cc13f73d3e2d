package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"

	"tenantapi/internal/model"
)

// Sentinel errors the handlers translate into conflict / bad-request
// responses.
var (
	ErrDuplicateEmail   = errors.New("user already exists with the same email")
	ErrDuplicateAgenda  = errors.New("agenda already exists for this event")
	ErrItemsNotInAgenda = errors.New("one or more items do not belong to this agenda")
)

const idLength = 12

func newID() (string, error) {
	return gonanoid.New(idLength)
}

var (
	userColumns = []string{"id", "email", "first_name", "last_name", "phone", "created_at", "updated_at"}

	eventColumns = []string{
		"id", "name", "plan", "location", "restaurant_name", "date", "time",
		"event_type", "expected_guests", "description", "qr_code_url",
		"landing_page_url", "photo_count", "guest_count", "status",
		"expires_at", "created_at", "updated_at", "owner_id",
	}

	agendaColumns = []string{"id", "event_id", "title", "description", "created_at", "updated_at"}

	itemColumns = []string{
		"id", "agenda_id", "title", "description", "start_time", "end_time",
		"location", "type", "display_order", "is_important", "created_at", "updated_at",
	}
)

// EventStore runs user, event, agenda, and agenda-item queries. Rows are
// scoped by owner_id; the caller passes the owner derived from the bearer
// token where scoping applies.
type EventStore struct {
	schema string
	log    *zap.Logger
	psql   sq.StatementBuilderType
}

func NewEventStore(schema string, log *zap.Logger) *EventStore {
	return &EventStore{
		schema: schema,
		log:    log,
		psql:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (s *EventStore) usersTable() string   { return s.schema + ".users" }
func (s *EventStore) eventsTable() string  { return s.schema + ".events" }
func (s *EventStore) agendasTable() string { return s.schema + ".agendas" }
func (s *EventStore) itemsTable() string   { return s.schema + ".agenda_items" }

// --- users ---

func (s *EventStore) GetUser(ctx context.Context, db *sqlx.DB, id string) (*model.User, error) {
	return s.getUserWhere(ctx, db, sq.Eq{"id": id})
}

func (s *EventStore) GetUserByEmail(ctx context.Context, db *sqlx.DB, email string) (*model.User, error) {
	return s.getUserWhere(ctx, db, sq.Eq{"email": email})
}

func (s *EventStore) getUserWhere(ctx context.Context, db *sqlx.DB, cond sq.Eq) (*model.User, error) {
	query, args, err := s.psql.Select(userColumns...).From(s.usersTable()).Where(cond).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build user query: %w", err)
	}
	var u model.User
	if err := db.GetContext(ctx, &u, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *EventStore) CreateUser(ctx context.Context, db *sqlx.DB, u *model.User) error {
	id, err := newID()
	if err != nil {
		return fmt.Errorf("generate user id: %w", err)
	}
	u.ID = id
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	query, args, err := s.psql.Insert(s.usersTable()).
		Columns(userColumns...).
		Values(u.ID, u.Email, u.FirstName, u.LastName, u.Phone, u.CreatedAt, u.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build user insert: %w", err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		s.log.Error("user insert failed", zap.Error(err))
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *EventStore) UpdateUser(ctx context.Context, db *sqlx.DB, id string, patch model.UserPatch) (*model.User, error) {
	builder := s.psql.Update(s.usersTable()).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id})
	if patch.FirstName != nil {
		builder = builder.Set("first_name", *patch.FirstName)
	}
	if patch.LastName != nil {
		builder = builder.Set("last_name", *patch.LastName)
	}
	if patch.Phone != nil {
		builder = builder.Set("phone", *patch.Phone)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build user update: %w", err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return s.GetUser(ctx, db, id)
}

// --- events ---

// GetEventOwner returns the owner id of an event regardless of caller, so
// handlers can distinguish a missing event (404) from someone else's
// event (403). The empty string means the event does not exist.
func (s *EventStore) GetEventOwner(ctx context.Context, db *sqlx.DB, eventID string) (string, error) {
	query, args, err := s.psql.Select("owner_id").From(s.eventsTable()).Where(sq.Eq{"id": eventID}).ToSql()
	if err != nil {
		return "", fmt.Errorf("build event owner query: %w", err)
	}
	var owner string
	if err := db.GetContext(ctx, &owner, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get event owner: %w", err)
	}
	return owner, nil
}

// GetEvent loads the owner-scoped event with its owner row and agenda
// (including items) attached, or nil when the id is absent or owned by
// someone else.
func (s *EventStore) GetEvent(ctx context.Context, db *sqlx.DB, eventID, ownerID string) (*model.Event, error) {
	query, args, err := s.psql.Select(eventColumns...).
		From(s.eventsTable()).
		Where(sq.Eq{"id": eventID, "owner_id": ownerID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build event query: %w", err)
	}

	var e model.Event
	if err := db.GetContext(ctx, &e, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get event: %w", err)
	}

	if err := s.attachRelations(ctx, db, []*model.Event{&e}); err != nil {
		return nil, err
	}
	return &e, nil
}

// ListEvents returns the owner's events (optionally filtered by status)
// plus the total for the unpaginated filter.
func (s *EventStore) ListEvents(ctx context.Context, db *sqlx.DB, ownerID string, status *string, limit, offset int) ([]model.Event, int, error) {
	where := sq.Eq{"owner_id": ownerID}
	if status != nil {
		where["status"] = *status
	}

	query, args, err := s.psql.Select(eventColumns...).
		From(s.eventsTable()).
		Where(where).
		OrderBy("created_at").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build event list query: %w", err)
	}

	events := []model.Event{}
	if err := db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}

	countQuery, countArgs, err := s.psql.Select("COUNT(*)").From(s.eventsTable()).Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build event count query: %w", err)
	}
	var total int
	if err := db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	refs := make([]*model.Event, len(events))
	for i := range events {
		refs[i] = &events[i]
	}
	if err := s.attachRelations(ctx, db, refs); err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// attachRelations loads owners and agendas (with items) for the given
// events in batched queries.
func (s *EventStore) attachRelations(ctx context.Context, db *sqlx.DB, events []*model.Event) error {
	if len(events) == 0 {
		return nil
	}

	ownerIDs := make([]string, 0, len(events))
	eventIDs := make([]string, 0, len(events))
	for _, e := range events {
		ownerIDs = append(ownerIDs, e.OwnerID)
		eventIDs = append(eventIDs, e.ID)
	}

	users := []model.User{}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ANY($1)`, joinColumns(userColumns), s.usersTable())
	if err := db.SelectContext(ctx, &users, query, pq.Array(ownerIDs)); err != nil {
		return fmt.Errorf("load event owners: %w", err)
	}
	byID := make(map[string]*model.User, len(users))
	for i := range users {
		byID[users[i].ID] = &users[i]
	}

	agendas := []model.Agenda{}
	query = fmt.Sprintf(`SELECT %s FROM %s WHERE event_id = ANY($1)`, joinColumns(agendaColumns), s.agendasTable())
	if err := db.SelectContext(ctx, &agendas, query, pq.Array(eventIDs)); err != nil {
		return fmt.Errorf("load agendas: %w", err)
	}

	agendaByEvent := make(map[string]*model.Agenda, len(agendas))
	agendaIDs := make([]string, 0, len(agendas))
	for i := range agendas {
		agendas[i].Items = []model.AgendaItem{}
		agendaByEvent[agendas[i].EventID] = &agendas[i]
		agendaIDs = append(agendaIDs, agendas[i].ID)
	}

	if len(agendaIDs) > 0 {
		items := []model.AgendaItem{}
		query = fmt.Sprintf(`SELECT %s FROM %s WHERE agenda_id = ANY($1) ORDER BY display_order, start_time`,
			joinColumns(itemColumns), s.itemsTable())
		if err := db.SelectContext(ctx, &items, query, pq.Array(agendaIDs)); err != nil {
			return fmt.Errorf("load agenda items: %w", err)
		}
		byAgenda := make(map[string][]model.AgendaItem)
		for _, item := range items {
			byAgenda[item.AgendaID] = append(byAgenda[item.AgendaID], item)
		}
		for _, a := range agendaByEvent {
			if got, ok := byAgenda[a.ID]; ok {
				a.Items = got
			}
		}
	}

	for _, e := range events {
		e.Owner = byID[e.OwnerID]
		e.Agenda = agendaByEvent[e.ID]
	}
	return nil
}

func (s *EventStore) CreateEvent(ctx context.Context, db *sqlx.DB, e *model.Event) error {
	id, err := newID()
	if err != nil {
		return fmt.Errorf("generate event id: %w", err)
	}
	e.ID = id
	e.Status = "draft"
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	query, args, err := s.psql.Insert(s.eventsTable()).
		Columns(eventColumns...).
		Values(e.ID, e.Name, e.Plan, e.Location, e.RestaurantName, e.Date, e.Time,
			e.EventType, e.ExpectedGuests, e.Description, e.QRCodeURL,
			e.LandingPageURL, e.PhotoCount, e.GuestCount, e.Status,
			e.ExpiresAt, e.CreatedAt, e.UpdatedAt, e.OwnerID).
		ToSql()
	if err != nil {
		return fmt.Errorf("build event insert: %w", err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		s.log.Error("event insert failed", zap.Error(err))
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

func (s *EventStore) UpdateEvent(ctx context.Context, db *sqlx.DB, eventID, ownerID string, patch model.EventPatch) error {
	builder := s.psql.Update(s.eventsTable()).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": eventID, "owner_id": ownerID})
	if patch.Name != nil {
		builder = builder.Set("name", *patch.Name)
	}
	if patch.Location != nil {
		builder = builder.Set("location", *patch.Location)
	}
	if patch.RestaurantName != nil {
		builder = builder.Set("restaurant_name", *patch.RestaurantName)
	}
	if patch.Date != nil {
		builder = builder.Set("date", *patch.Date)
	}
	if patch.Time != nil {
		builder = builder.Set("time", *patch.Time)
	}
	if patch.EventType != nil {
		builder = builder.Set("event_type", *patch.EventType)
	}
	if patch.ExpectedGuests != nil {
		builder = builder.Set("expected_guests", *patch.ExpectedGuests)
	}
	if patch.Description != nil {
		builder = builder.Set("description", *patch.Description)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build event update: %w", err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	return nil
}

// DeleteEvent removes the event; agenda and items go with it via the
// ON DELETE CASCADE foreign keys.
func (s *EventStore) DeleteEvent(ctx context.Context, db *sqlx.DB, eventID, ownerID string) error {
	query, args, err := s.psql.Delete(s.eventsTable()).
		Where(sq.Eq{"id": eventID, "owner_id": ownerID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build event delete: %w", err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

// --- agendas ---

func (s *EventStore) GetAgendaByEvent(ctx context.Context, db *sqlx.DB, eventID string) (*model.Agenda, error) {
	query, args, err := s.psql.Select(agendaColumns...).
		From(s.agendasTable()).
		Where(sq.Eq{"event_id": eventID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build agenda query: %w", err)
	}

	var a model.Agenda
	if err := db.GetContext(ctx, &a, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get agenda: %w", err)
	}

	a.Items = []model.AgendaItem{}
	itemQuery, itemArgs, err := s.psql.Select(itemColumns...).
		From(s.itemsTable()).
		Where(sq.Eq{"agenda_id": a.ID}).
		OrderBy("display_order", "start_time").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build agenda item query: %w", err)
	}
	if err := db.SelectContext(ctx, &a.Items, itemQuery, itemArgs...); err != nil {
		return nil, fmt.Errorf("list agenda items: %w", err)
	}
	return &a, nil
}

func (s *EventStore) CreateAgenda(ctx context.Context, db *sqlx.DB, a *model.Agenda) error {
	id, err := newID()
	if err != nil {
		return fmt.Errorf("generate agenda id: %w", err)
	}
	a.ID = id
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	a.Items = []model.AgendaItem{}

	query, args, err := s.psql.Insert(s.agendasTable()).
		Columns(agendaColumns...).
		Values(a.ID, a.EventID, a.Title, a.Description, a.CreatedAt, a.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build agenda insert: %w", err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateAgenda
		}
		s.log.Error("agenda insert failed", zap.Error(err))
		return fmt.Errorf("create agenda: %w", err)
	}
	return nil
}

func (s *EventStore) UpdateAgenda(ctx context.Context, db *sqlx.DB, agendaID string, patch model.AgendaPatch) error {
	builder := s.psql.Update(s.agendasTable()).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": agendaID})
	if patch.Title != nil {
		builder = builder.Set("title", *patch.Title)
	}
	if patch.Description != nil {
		builder = builder.Set("description", *patch.Description)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build agenda update: %w", err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update agenda: %w", err)
	}
	return nil
}

func (s *EventStore) DeleteAgenda(ctx context.Context, db *sqlx.DB, agendaID string) error {
	query, args, err := s.psql.Delete(s.agendasTable()).Where(sq.Eq{"id": agendaID}).ToSql()
	if err != nil {
		return fmt.Errorf("build agenda delete: %w", err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete agenda: %w", err)
	}
	return nil
}

// --- agenda items ---

func (s *EventStore) GetItem(ctx context.Context, db *sqlx.DB, itemID, agendaID string) (*model.AgendaItem, error) {
	query, args, err := s.psql.Select(itemColumns...).
		From(s.itemsTable()).
		Where(sq.Eq{"id": itemID, "agenda_id": agendaID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build agenda item query: %w", err)
	}
	var item model.AgendaItem
	if err := db.GetContext(ctx, &item, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get agenda item: %w", err)
	}
	return &item, nil
}

// CreateItem inserts an agenda item, assigning display_order as
// max(existing)+1 when assignOrder is set.
func (s *EventStore) CreateItem(ctx context.Context, db *sqlx.DB, item *model.AgendaItem, assignOrder bool) error {
	id, err := newID()
	if err != nil {
		return fmt.Errorf("generate agenda item id: %w", err)
	}
	item.ID = id
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin agenda item insert: %w", err)
	}
	defer tx.Rollback()

	if assignOrder {
		query := fmt.Sprintf(`SELECT COALESCE(MAX(display_order), 0) FROM %s WHERE agenda_id = $1`, s.itemsTable())
		var maxOrder int
		if err := tx.GetContext(ctx, &maxOrder, query, item.AgendaID); err != nil {
			return fmt.Errorf("max display order: %w", err)
		}
		item.DisplayOrder = maxOrder + 1
	}

	query, args, err := s.psql.Insert(s.itemsTable()).
		Columns(itemColumns...).
		Values(item.ID, item.AgendaID, item.Title, item.Description, item.StartTime,
			item.EndTime, item.Location, item.Type, item.DisplayOrder,
			item.IsImportant, item.CreatedAt, item.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build agenda item insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		s.log.Error("agenda item insert failed", zap.Error(err))
		return fmt.Errorf("create agenda item: %w", err)
	}
	return tx.Commit()
}

func (s *EventStore) UpdateItem(ctx context.Context, db *sqlx.DB, itemID string, patch model.AgendaItemPatch) error {
	builder := s.psql.Update(s.itemsTable()).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": itemID})
	if patch.Title != nil {
		builder = builder.Set("title", *patch.Title)
	}
	if patch.Description != nil {
		builder = builder.Set("description", *patch.Description)
	}
	if patch.StartTime != nil {
		builder = builder.Set("start_time", *patch.StartTime)
	}
	if patch.EndTime != nil {
		builder = builder.Set("end_time", *patch.EndTime)
	}
	if patch.Location != nil {
		builder = builder.Set("location", *patch.Location)
	}
	if patch.Type != nil {
		builder = builder.Set("type", *patch.Type)
	}
	if patch.DisplayOrder != nil {
		builder = builder.Set("display_order", *patch.DisplayOrder)
	}
	if patch.IsImportant != nil {
		builder = builder.Set("is_important", *patch.IsImportant)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build agenda item update: %w", err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update agenda item: %w", err)
	}
	return nil
}

func (s *EventStore) DeleteItem(ctx context.Context, db *sqlx.DB, itemID string) error {
	query, args, err := s.psql.Delete(s.itemsTable()).Where(sq.Eq{"id": itemID}).ToSql()
	if err != nil {
		return fmt.Errorf("build agenda item delete: %w", err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete agenda item: %w", err)
	}
	return nil
}

// Reorder applies a batch of display_order updates in one transaction.
// If any referenced item does not belong to the agenda the whole batch is
// rejected and nothing is applied.
func (s *EventStore) Reorder(ctx context.Context, db *sqlx.DB, agendaID string, orders []model.ReorderItem) error {
	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ItemID
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reorder: %w", err)
	}
	defer tx.Rollback()

	var owned int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE agenda_id = $1 AND id = ANY($2)`, s.itemsTable())
	if err := tx.GetContext(ctx, &owned, query, agendaID, pq.Array(ids)); err != nil {
		return fmt.Errorf("validate reorder membership: %w", err)
	}
	if owned != len(ids) {
		return ErrItemsNotInAgenda
	}

	now := time.Now().UTC()
	for _, o := range orders {
		update, args, err := s.psql.Update(s.itemsTable()).
			Set("display_order", o.DisplayOrder).
			Set("updated_at", now).
			Where(sq.Eq{"id": o.ItemID}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build reorder update: %w", err)
		}
		if _, err := tx.ExecContext(ctx, update, args...); err != nil {
			return fmt.Errorf("reorder item %s: %w", o.ItemID, err)
		}
	}
	return tx.Commit()
}

func joinColumns(cols []string) string {
	return strings.Join(cols, ", ")
}
