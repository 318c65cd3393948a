// Package postgres is the Project Store (SPEC_FULL §3.9): the external
// relational collaborator spec §1 scopes out except for its read/write
// contract ("project records keyed by id and queryable by geohash
// prefix").
//
// Grounded on streamspace-dev-streamspace/api's internal/db/database.go
// for Config/validateConfig/connection-pool/Migrate idiom, narrowed to the
// Project/Image/Suggestion/Contribution schema this spec actually needs.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

var identRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// Config holds the connection parameters for the Project Store.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c Config) validate() error {
	if net.ParseIP(c.Host) == nil {
		if _, err := net.LookupHost(c.Host); err != nil {
			return fmt.Errorf("postgres: invalid host %q: %w", c.Host, err)
		}
	}
	if !identRe.MatchString(c.User) {
		return fmt.Errorf("postgres: invalid user %q", c.User)
	}
	if !identRe.MatchString(c.DBName) {
		return fmt.Errorf("postgres: invalid dbname %q", c.DBName)
	}
	switch c.SSLMode {
	case "disable", "require", "verify-ca", "verify-full", "":
	default:
		return fmt.Errorf("postgres: invalid sslmode %q", c.SSLMode)
	}
	return nil
}

// Store wraps a database/sql handle against the project schema.
type Store struct {
	db *sql.DB
}

// New opens a pooled connection, following streamspace's pool sizing
// (MaxOpenConns 25 / MaxIdleConns 5 / 5m lifetime / 1m idle timeout).
func New(cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &Store{db: db}, nil
}

// ParseDatabaseURL decomposes a postgres:// DSN (spec §6's DATABASE_URL)
// into a Config, so callers can keep config.Config to a single string
// field while the Store keeps its own explicit field set.
func ParseDatabaseURL(raw string) (Config, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("postgres: parse DATABASE_URL: %w", err)
	}

	cfg := Config{
		Host:    u.Hostname(),
		Port:    u.Port(),
		DBName:  strings.TrimPrefix(u.Path, "/"),
		SSLMode: u.Query().Get("sslmode"),
	}
	if cfg.Port == "" {
		cfg.Port = "5432"
	}
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Password, _ = u.User.Password()
	}
	return cfg, nil
}

// NewForTesting wraps an already-open *sql.DB (e.g. sqlmock or a local
// test instance), following streamspace's NewDatabaseForTesting pattern.
func NewForTesting(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Migrate creates the project schema if absent.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			status TEXT NOT NULL,
			lat DOUBLE PRECISION NOT NULL,
			lng DOUBLE PRECISION NOT NULL,
			geohash TEXT NOT NULL,
			view_params JSONB,
			creator_id TEXT NOT NULL,
			updater_id TEXT NOT NULL,
			cost_breakdown JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_projects_geohash ON projects (geohash text_pattern_ops)`,
		`CREATE TABLE IF NOT EXISTS project_images (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			url TEXT NOT NULL,
			mime_type TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_project_images_project ON project_images (project_id)`,
		`CREATE TABLE IF NOT EXISTS project_suggestions (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_project_suggestions_project ON project_suggestions (project_id)`,
		`CREATE TABLE IF NOT EXISTS project_contributions (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			amount_cents BIGINT,
			message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_project_contributions_project ON project_contributions (project_id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}
