// Package registry is the patient directory backing SELECT_PATIENT checks and
// the local responder. It uses modernc.org/sqlite for CGO-free access.
package registry

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sahilm/fuzzy"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when no patient has the requested id.
var ErrNotFound = errors.New("patient not found")

// MemoryPath opens a private in-memory directory.
const MemoryPath = ":memory:"

// Patient is one directory entry.
type Patient struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Age       int       `json:"age"`
	History   string    `json:"history"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store provides access to the patient database.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite works best with a single writer, and an in-memory database only
	// exists on the connection that created it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "registry").Logger(),
	}

	if err := s.initPragmas(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize pragmas: %w", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s.logger.Debug().Str("path", path).Msg("Patient registry opened")
	return s, nil
}

func (s *Store) initPragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

// Migrate applies the embedded schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute statement %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

// Add creates a patient and returns it with its assigned id.
func (s *Store) Add(ctx context.Context, name string, age int, history string) (Patient, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Patient{}, errors.New("patient name is required")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO patients (name, age, medical_history) VALUES (?, ?, ?)`,
		name, age, history)
	if err != nil {
		return Patient{}, fmt.Errorf("insert patient: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Patient{}, fmt.Errorf("read patient id: %w", err)
	}

	s.logger.Info().Int64("id", id).Str("name", name).Msg("Patient created")
	return s.Get(ctx, int(id))
}

// Get returns the patient with id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id int) (Patient, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, age, medical_history, created_at FROM patients WHERE id = ?`, id)

	var p Patient
	if err := row.Scan(&p.ID, &p.Name, &p.Age, &p.History, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Patient{}, ErrNotFound
		}
		return Patient{}, fmt.Errorf("get patient %d: %w", id, err)
	}
	return p, nil
}

// Exists reports whether a patient with id is registered.
func (s *Store) Exists(ctx context.Context, id int) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM patients WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("check patient %d: %w", id, err)
	}
	return n > 0, nil
}

// List returns every patient ordered by id.
func (s *Store) List(ctx context.Context) ([]Patient, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, age, medical_history, created_at FROM patients ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	var out []Patient
	for rows.Next() {
		var p Patient
		if err := rows.Scan(&p.ID, &p.Name, &p.Age, &p.History, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Search ranks patients by fuzzy name match against query, best first.
func (s *Store) Search(ctx context.Context, query string) ([]Patient, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	patients, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return Rank(patients, query), nil
}

// Health checks the connection is alive.
func (s *Store) Health(ctx context.Context) error {
	var result int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

type nameSource []Patient

func (n nameSource) String(i int) string { return strings.ToLower(n[i].Name) }
func (n nameSource) Len() int { return len(n) }

// Rank orders patients by fuzzy match of their name against query.
func Rank(patients []Patient, query string) []Patient {
	matches := fuzzy.FindFrom(strings.ToLower(query), nameSource(patients))
	out := make([]Patient, len(matches))
	for i, m := range matches {
		out[i] = patients[m.Index]
	}
	return out
}

// Mentioned finds the first patient named in an utterance: the full name, or
// any name part longer than two letters.
func Mentioned(patients []Patient, utterance string) (Patient, bool) {
	q := strings.ToLower(utterance)
	for _, p := range patients {
		name := strings.ToLower(p.Name)
		if strings.Contains(q, name) {
			return p, true
		}
		for _, part := range strings.Fields(name) {
			if len(part) > 2 && strings.Contains(q, part) {
				return p, true
			}
		}
	}
	return Patient{}, false
}
