package profile

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cjeanneret/HelioGo/internal/debug"
)

// ErrNotFound is returned when a profile id is not in the store.
var ErrNotFound = errors.New("profile: not found")

// Meta is the listing row for a stored profile.
type Meta struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	GridRows  int       `json:"grid_rows"`
	GridCols  int       `json:"grid_cols"`
}

// Store persists calibration profiles in a sqlite database. The full
// profile is stored as a JSON payload next to the queryable columns.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS calibration_profiles (
	profile_id TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	grid_rows  INTEGER NOT NULL,
	grid_cols  INTEGER NOT NULL,
	payload    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_profiles_created
	ON calibration_profiles(created_at DESC);
`

// OpenStore opens (creating if needed) a profile store at the given
// sqlite path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("profile: open store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("profile: init schema: %w", err)
	}
	debug.Verbose("profile store opened at %s", path)
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save persists a profile. An empty ID gets a fresh UUID, a zero
// CreatedAt the current time; both are written back to the profile.
func (s *Store) Save(p *Profile) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	payload, err := p.Encode()
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO calibration_profiles (profile_id, created_at, grid_rows, grid_cols, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(profile_id) DO UPDATE SET
			created_at = excluded.created_at,
			grid_rows  = excluded.grid_rows,
			grid_cols  = excluded.grid_cols,
			payload    = excluded.payload`,
		p.ID, p.CreatedAt.UnixNano(), p.Grid.Rows, p.Grid.Cols, string(payload),
	)
	if err != nil {
		return fmt.Errorf("profile: save %s: %w", p.ID, err)
	}
	debug.Info("profile %s saved (%dx%d grid)", p.ID, p.Grid.Rows, p.Grid.Cols)
	return nil
}

// Load returns the profile with the given id.
func (s *Store) Load(id string) (*Profile, error) {
	var payload string
	err := s.db.QueryRow(
		`SELECT payload FROM calibration_profiles WHERE profile_id = ?`, id,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("profile: load %s: %w", id, err)
	}
	return Decode([]byte(payload))
}

// Latest returns the most recently created profile.
func (s *Store) Latest() (*Profile, error) {
	var payload string
	err := s.db.QueryRow(
		`SELECT payload FROM calibration_profiles ORDER BY created_at DESC LIMIT 1`,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: store is empty", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("profile: load latest: %w", err)
	}
	return Decode([]byte(payload))
}

// List returns metadata for all stored profiles, newest first.
func (s *Store) List() ([]Meta, error) {
	rows, err := s.db.Query(`
		SELECT profile_id, created_at, grid_rows, grid_cols
		FROM calibration_profiles
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("profile: list: %w", err)
	}
	defer rows.Close()

	var metas []Meta
	for rows.Next() {
		var m Meta
		var createdAt int64
		if err := rows.Scan(&m.ID, &createdAt, &m.GridRows, &m.GridCols); err != nil {
			return nil, fmt.Errorf("profile: list scan: %w", err)
		}
		m.CreatedAt = time.Unix(0, createdAt)
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// Delete removes a profile from the store.
func (s *Store) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM calibration_profiles WHERE profile_id = ?`, id)
	if err != nil {
		return fmt.Errorf("profile: delete %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
