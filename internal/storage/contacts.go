package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"tenantapi/internal/model"
)

// searchColumns is the fixed set of text columns substring search runs over.
var searchColumns = []string{"first_name", "last_name", "full_name", "email", "phone"}

var contactColumns = []string{
	"contact_id", "first_name", "last_name", "full_name", "contact_type",
	"owner", "created_by", "email", "phone", "attributes",
	"list_of_profile_ids", "date_created", "date_modified",
}

// ContactStore runs contact queries against whichever tenant database the
// request resolved. It holds no connection itself.
type ContactStore struct {
	schema string
	log    *zap.Logger
	psql   sq.StatementBuilderType
}

func NewContactStore(schema string, log *zap.Logger) *ContactStore {
	return &ContactStore{
		schema: schema,
		log:    log,
		psql:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (s *ContactStore) table() string {
	return s.schema + ".contacts"
}

// Get returns the contact or nil when the id is unknown.
func (s *ContactStore) Get(ctx context.Context, db *sqlx.DB, id uuid.UUID) (*model.Contact, error) {
	query, args, err := s.psql.Select(contactColumns...).
		From(s.table()).
		Where(sq.Eq{"contact_id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build contact query: %w", err)
	}

	var c model.Contact
	if err := db.GetContext(ctx, &c, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return &c, nil
}

func (s *ContactStore) List(ctx context.Context, db *sqlx.DB, limit, offset int) ([]model.Contact, error) {
	query, args, err := s.psql.Select(contactColumns...).
		From(s.table()).
		OrderBy("date_created").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build contact list query: %w", err)
	}

	contacts := []model.Contact{}
	if err := db.SelectContext(ctx, &contacts, query, args...); err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return contacts, nil
}

// Search matches the query as a case-insensitive substring across the
// fixed text columns, OR-combined.
func (s *ContactStore) Search(ctx context.Context, db *sqlx.DB, query string, limit, offset int) ([]model.Contact, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	or := sq.Or{}
	for _, col := range searchColumns {
		or = append(or, sq.ILike{col: pattern})
	}

	stmt, args, err := s.psql.Select(contactColumns...).
		From(s.table()).
		Where(or).
		OrderBy("date_created").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build contact search query: %w", err)
	}

	contacts := []model.Contact{}
	if err := db.SelectContext(ctx, &contacts, stmt, args...); err != nil {
		return nil, fmt.Errorf("search contacts: %w", err)
	}
	return contacts, nil
}

// FindByEmailOrPhone returns a contact holding either value, excluding
// excludeID when set (so an update does not conflict with itself).
func (s *ContactStore) FindByEmailOrPhone(ctx context.Context, db *sqlx.DB, email, phone *string, excludeID *uuid.UUID) (*model.Contact, error) {
	or := sq.Or{}
	if email != nil {
		or = append(or, sq.Eq{"email": *email})
	}
	if phone != nil {
		or = append(or, sq.Eq{"phone": *phone})
	}
	if len(or) == 0 {
		return nil, nil
	}

	builder := s.psql.Select(contactColumns...).From(s.table()).Where(or)
	if excludeID != nil {
		builder = builder.Where(sq.NotEq{"contact_id": *excludeID})
	}
	query, args, err := builder.Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build duplicate check query: %w", err)
	}

	var c model.Contact
	if err := db.GetContext(ctx, &c, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find contact by email or phone: %w", err)
	}
	return &c, nil
}

// Create inserts the contact, assigning a fresh id and audit stamps.
func (s *ContactStore) Create(ctx context.Context, db *sqlx.DB, c *model.Contact) error {
	c.ContactID = uuid.New()
	now := time.Now().UTC()
	c.DateCreated = now
	c.DateModified = now
	if c.ListOfProfileIDs == nil {
		c.ListOfProfileIDs = model.ProfileIDs{}
	}

	query, args, err := s.psql.Insert(s.table()).
		Columns(contactColumns...).
		Values(c.ContactID, c.FirstName, c.LastName, c.FullName, c.ContactType,
			c.Owner, c.CreatedBy, c.Email, c.Phone, c.Attributes,
			c.ListOfProfileIDs, c.DateCreated, c.DateModified).
		ToSql()
	if err != nil {
		return fmt.Errorf("build contact insert: %w", err)
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		s.log.Error("contact insert failed", zap.Error(err))
		return fmt.Errorf("create contact: %w", err)
	}
	return nil
}

// Update replaces every mutable field of the contact.
func (s *ContactStore) Update(ctx context.Context, db *sqlx.DB, c *model.Contact) error {
	c.DateModified = time.Now().UTC()

	query, args, err := s.psql.Update(s.table()).
		Set("first_name", c.FirstName).
		Set("last_name", c.LastName).
		Set("full_name", c.FullName).
		Set("contact_type", c.ContactType).
		Set("owner", c.Owner).
		Set("created_by", c.CreatedBy).
		Set("email", c.Email).
		Set("phone", c.Phone).
		Set("attributes", c.Attributes).
		Set("list_of_profile_ids", c.ListOfProfileIDs).
		Set("date_modified", c.DateModified).
		Where(sq.Eq{"contact_id": c.ContactID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build contact update: %w", err)
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		s.log.Error("contact update failed", zap.Error(err))
		return fmt.Errorf("update contact: %w", err)
	}
	return nil
}

func (s *ContactStore) Delete(ctx context.Context, db *sqlx.DB, id uuid.UUID) error {
	query, args, err := s.psql.Delete(s.table()).
		Where(sq.Eq{"contact_id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build contact delete: %w", err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	return nil
}
