package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cwygoda/fetchd/internal/domain"
	_ "modernc.org/sqlite"
)

const schemaVersion = "1.0"

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    origin     TEXT NOT NULL UNIQUE,
    options    TEXT NOT NULL DEFAULT '{}',
    priority   INTEGER NOT NULL DEFAULT 100,
    playlist   TEXT,
    title      TEXT,
    filepath   TEXT,
    outcome    INTEGER NOT NULL DEFAULT 0,
    total_size INTEGER NOT NULL DEFAULT 0,
    received   INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS config (
    key   TEXT NOT NULL UNIQUE,
    value TEXT
);
`

// columns a partial update may name, in jobs table order.
var updatableColumns = map[string]struct{}{
	domain.ColOptions:   {},
	domain.ColPriority:  {},
	domain.ColPlaylist:  {},
	domain.ColTitle:     {},
	domain.ColFilepath:  {},
	domain.ColOutcome:   {},
	domain.ColTotalSize: {},
	domain.ColReceived:  {},
}

// Store implements domain.Store using SQLite. Structured columns (options,
// playlist) are kept as JSON text; encoding never leaves this package.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at dbPath and initializes the
// schema and stored schema version.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	cfg, err := s.LoadConfig(context.Background())
	if err != nil {
		db.Close()
		return nil, err
	}
	if cfg["db_version"] != schemaVersion {
		if err := s.SaveConfig(context.Background(), map[string]string{"db_version": schemaVersion}); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const rowColumns = `origin, options, priority, playlist,
	COALESCE(title, ''), COALESCE(filepath, ''), outcome, total_size, received`

// ListRows returns all job rows in insertion order.
func (s *Store) ListRows(ctx context.Context) ([]domain.Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+rowColumns+` FROM jobs ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *row)
	}
	return out, rows.Err()
}

// GetRow returns the row for the origin, or (nil, nil) when absent.
func (s *Store) GetRow(ctx context.Context, origin string) (*domain.Row, error) {
	row, err := scanRow(s.db.QueryRowContext(ctx,
		`SELECT `+rowColumns+` FROM jobs WHERE origin = ?`, origin))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// InsertRow inserts a full job row. Fails on a duplicate origin.
func (s *Store) InsertRow(ctx context.Context, row domain.Row) error {
	options, err := encodeOptions(row.Options)
	if err != nil {
		return err
	}
	playlist, err := encodePlaylist(row.Playlist)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (origin, options, priority, playlist, title, filepath, outcome, total_size, received)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.Origin, options, row.Priority, playlist, row.Title, row.Filepath,
		row.Outcome, row.TotalSize, row.Received,
	)
	return err
}

// UpdateRow updates only the named columns for the origin. Column names come
// from the fixed domain column list; anything else is rejected.
func (s *Store) UpdateRow(ctx context.Context, origin string, changes map[string]any) error {
	if len(changes) == 0 {
		return nil
	}

	cols := make([]string, 0, len(changes))
	for col := range changes {
		if _, ok := updatableColumns[col]; !ok {
			return fmt.Errorf("unknown jobs column %q", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for _, col := range cols {
		val, err := encodeColumn(col, changes[col])
		if err != nil {
			return err
		}
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}
	args = append(args, origin)

	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET `+strings.Join(sets, ", ")+` WHERE origin = ?`, args...)
	return err
}

// DeleteRows deletes the rows for the given origins.
func (s *Store) DeleteRows(ctx context.Context, origins []string) error {
	for _, origin := range origins {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM jobs WHERE origin = ?`, origin); err != nil {
			return err
		}
	}
	return nil
}

// SaveConfig upserts process-level key/value settings.
func (s *Store) SaveConfig(ctx context.Context, values map[string]string) error {
	for key, value := range values {
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO config (key, value) VALUES (?, ?)`,
			key, value); err != nil {
			return err
		}
	}
	return nil
}

// LoadConfig returns the config table as a map.
func (s *Store) LoadConfig(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, COALESCE(value, '') FROM config`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, rows.Err()
}

// encodeColumn converts a domain value into its stored representation.
func encodeColumn(col string, val any) (any, error) {
	switch col {
	case domain.ColOptions:
		opts, ok := val.(domain.Options)
		if !ok {
			return nil, fmt.Errorf("options column: unexpected type %T", val)
		}
		return encodeOptions(opts)
	case domain.ColPlaylist:
		names, ok := val.([]string)
		if !ok && val != nil {
			return nil, fmt.Errorf("playlist column: unexpected type %T", val)
		}
		return encodePlaylist(names)
	default:
		return val, nil
	}
}

func encodeOptions(opts domain.Options) (string, error) {
	b, err := json.Marshal(opts)
	if err != nil {
		return "", fmt.Errorf("encode options: %w", err)
	}
	return string(b), nil
}

func encodePlaylist(names []string) (any, error) {
	if names == nil {
		return nil, nil
	}
	b, err := json.Marshal(names)
	if err != nil {
		return nil, fmt.Errorf("encode playlist: %w", err)
	}
	return string(b), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(sc scanner) (*domain.Row, error) {
	var row domain.Row
	var options string
	var playlist sql.NullString
	err := sc.Scan(&row.Origin, &options, &row.Priority, &playlist,
		&row.Title, &row.Filepath, &row.Outcome, &row.TotalSize, &row.Received)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(options), &row.Options); err != nil {
		return nil, fmt.Errorf("decode options for %s: %w", row.Origin, err)
	}
	if playlist.Valid {
		if err := json.Unmarshal([]byte(playlist.String), &row.Playlist); err != nil {
			return nil, fmt.Errorf("decode playlist for %s: %w", row.Origin, err)
		}
		if row.Playlist == nil {
			row.Playlist = []string{}
		}
	}
	return &row, nil
}
