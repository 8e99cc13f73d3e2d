package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"tenantapi/internal/config"
)

const (
	pqDuplicateDatabase = "42P04"
	pqUniqueViolation   = "23505"
)

// Schema describes one service's table set inside a tenant database.
type Schema struct {
	// Name is the Postgres schema the tables live under.
	Name string
	// DDL holds idempotent create statements, in dependency order.
	DDL []string
	// Tables lists fully-qualified table names for the destructive reset.
	Tables []string
}

// ContactSchema returns the contact registry's table set.
func ContactSchema(name string) Schema {
	contacts := name + ".contacts"
	return Schema{
		Name: name,
		DDL: []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				contact_id UUID PRIMARY KEY,
				first_name TEXT NOT NULL,
				last_name TEXT NOT NULL,
				full_name TEXT NOT NULL,
				contact_type TEXT NOT NULL CHECK (contact_type IN ('private', 'business')),
				owner TEXT,
				created_by TEXT NOT NULL,
				email TEXT,
				phone TEXT,
				attributes JSONB,
				list_of_profile_ids JSONB,
				date_created TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				date_modified TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, contacts),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_contacts_email ON %s (email)`, contacts),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_contacts_phone ON %s (phone)`, contacts),
		},
		Tables: []string{contacts},
	}
}

// EventsSchema returns the events planner's table set: users, events,
// agendas, and agenda items, with cascading deletes enforced by the
// foreign keys rather than application logic.
func EventsSchema(name string) Schema {
	users := name + ".users"
	events := name + ".events"
	agendas := name + ".agendas"
	items := name + ".agenda_items"
	return Schema{
		Name: name,
		DDL: []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id VARCHAR(12) PRIMARY KEY,
				email TEXT NOT NULL UNIQUE,
				first_name TEXT,
				last_name TEXT,
				phone TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, users),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id VARCHAR(12) PRIMARY KEY,
				name VARCHAR(200) NOT NULL,
				plan TEXT NOT NULL CHECK (plan IN ('freemium', 'starter', 'plus', 'full')),
				location TEXT NOT NULL,
				restaurant_name TEXT,
				date DATE NOT NULL,
				time TIME NOT NULL,
				event_type TEXT NOT NULL CHECK (event_type IN ('wedding', 'birthday', 'baptism', 'graduation', 'anniversary', 'corporate', 'other')),
				expected_guests INTEGER,
				description TEXT,
				qr_code_url TEXT,
				landing_page_url TEXT,
				photo_count INTEGER NOT NULL DEFAULT 0,
				guest_count INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('active', 'expired', 'draft')),
				expires_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				owner_id VARCHAR(12) NOT NULL REFERENCES %s (id)
			)`, events, users),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id VARCHAR(12) PRIMARY KEY,
				event_id VARCHAR(12) NOT NULL UNIQUE REFERENCES %s (id) ON DELETE CASCADE,
				title VARCHAR(200) NOT NULL,
				description TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, agendas, events),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id VARCHAR(12) PRIMARY KEY,
				agenda_id VARCHAR(12) NOT NULL REFERENCES %s (id) ON DELETE CASCADE,
				title VARCHAR(200) NOT NULL,
				description TEXT,
				start_time TIME NOT NULL,
				end_time TIME,
				location VARCHAR(200),
				type TEXT NOT NULL CHECK (type IN ('ceremony', 'reception', 'entertainment', 'speech', 'meal', 'break', 'photo_session', 'other')),
				display_order INTEGER NOT NULL DEFAULT 0,
				is_important BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, items, agendas),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_owner_id ON %s (owner_id)`, events),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_agendas_event_id ON %s (event_id)`, agendas),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_agenda_items_agenda_id ON %s (agenda_id)`, items),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_agenda_items_display_order ON %s (agenda_id, display_order, start_time)`, items),
		},
		Tables: []string{users, events, agendas, items},
	}
}

// Provisioner implements registry.Provisioner against Postgres for one
// service's schema.
type Provisioner struct {
	cfg    config.Database
	schema Schema
	log    *zap.Logger
}

func NewProvisioner(cfg config.Database, schema Schema, log *zap.Logger) *Provisioner {
	return &Provisioner{cfg: cfg, schema: schema, log: log}
}

func (p *Provisioner) dsn(dbName string) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.cfg.Host, p.cfg.Port, p.cfg.User, p.cfg.Password, dbName, p.cfg.SSLMode)
}

// EnsureDatabase checks pg_database through a short-lived connection to the
// control database and issues CREATE DATABASE when the tenant database is
// missing. Losing a creation race to another actor is not an error.
func (p *Provisioner) EnsureDatabase(ctx context.Context, dbName string) error {
	admin, err := sqlx.Open("postgres", p.dsn(p.cfg.ControlDB))
	if err != nil {
		return fmt.Errorf("open control database: %w", err)
	}
	defer admin.Close()

	var exists bool
	err = admin.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, dbName)
	if err != nil {
		return fmt.Errorf("check database existence: %w", err)
	}
	if exists {
		p.log.Debug("database already exists, skipping creation", zap.String("database", dbName))
		return nil
	}

	// CREATE DATABASE cannot be parameterized.
	_, err = admin.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName)))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqDuplicateDatabase {
			p.log.Info("database created concurrently by another actor",
				zap.String("database", dbName))
			return nil
		}
		return fmt.Errorf("create database %q: %w", dbName, err)
	}
	p.log.Info("database created", zap.String("database", dbName))
	return nil
}

// Open builds the tenant's pooled handle: bounded size and periodic
// recycling so idle-timeout disconnects from the backing store do not
// surface as request failures.
func (p *Provisioner) Open(dbName string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", p.dsn(dbName))
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", dbName, err)
	}
	db.SetMaxOpenConns(p.cfg.MaxOpenConns)
	db.SetMaxIdleConns(p.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(p.cfg.ConnMaxLifetime())
	return db, nil
}

func (p *Provisioner) EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	stmts := append(
		[]string{fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pq.QuoteIdentifier(p.schema.Name))},
		p.schema.DDL...,
	)
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema setup: %w", err)
		}
	}
	return nil
}

// Reset drops every domain table and rebuilds the schema from scratch.
func (p *Provisioner) Reset(ctx context.Context, db *sqlx.DB) error {
	for i := len(p.schema.Tables) - 1; i >= 0; i-- {
		stmt := fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", p.schema.Tables[i])
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("drop table %s: %w", p.schema.Tables[i], err)
		}
	}
	return p.EnsureSchema(ctx, db)
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// failure, which the services surface as a conflict.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation
}
