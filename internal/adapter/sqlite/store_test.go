package sqlite

import (
	"context"
	"path/filepath"
	"slices"
	"testing"

	"github.com/cwygoda/fetchd/internal/domain"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := New(dbPath)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleRow(origin string) domain.Row {
	return domain.Row{
		Origin:    origin,
		Options:   domain.Options{OutputDir: "/videos", Playlist: true, Merge: true},
		Priority:  100,
		Playlist:  []string{"ep1.mp4", "ep2.mp4"},
		Title:     "Series",
		Filepath:  "/videos/ep1.mp4",
		Outcome:   -1,
		TotalSize: 1000,
		Received:  400,
	}
}

func TestStore_InsertAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	want := sampleRow("https://example.com/v")
	if err := store.InsertRow(ctx, want); err != nil {
		t.Fatalf("InsertRow() error = %v", err)
	}

	got, err := store.GetRow(ctx, want.Origin)
	if err != nil {
		t.Fatalf("GetRow() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetRow() = nil, want row")
	}
	if got.Origin != want.Origin || got.Title != want.Title || got.Filepath != want.Filepath {
		t.Errorf("GetRow() = %+v, want %+v", got, want)
	}
	if got.Options != want.Options {
		t.Errorf("Options = %+v, want %+v", got.Options, want.Options)
	}
	if !slices.Equal(got.Playlist, want.Playlist) {
		t.Errorf("Playlist = %v, want %v", got.Playlist, want.Playlist)
	}
	if got.Outcome != -1 || got.TotalSize != 1000 || got.Received != 400 {
		t.Errorf("counters = %d/%d/%d, want -1/1000/400",
			got.Outcome, got.TotalSize, got.Received)
	}
}

func TestStore_GetAbsent(t *testing.T) {
	store := setupTestStore(t)

	got, err := store.GetRow(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetRow() error = %v", err)
	}
	if got != nil {
		t.Errorf("GetRow() = %+v, want nil", got)
	}
}

func TestStore_InsertDuplicate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	row := sampleRow("a")
	if err := store.InsertRow(ctx, row); err != nil {
		t.Fatalf("InsertRow() error = %v", err)
	}
	if err := store.InsertRow(ctx, row); err == nil {
		t.Error("InsertRow() duplicate = nil error, want unique constraint failure")
	}
}

func TestStore_NilPlaylistRoundtrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	row := sampleRow("a")
	row.Playlist = nil
	row.Options.Playlist = false
	if err := store.InsertRow(ctx, row); err != nil {
		t.Fatalf("InsertRow() error = %v", err)
	}

	got, err := store.GetRow(ctx, "a")
	if err != nil {
		t.Fatalf("GetRow() error = %v", err)
	}
	if got.Playlist != nil {
		t.Errorf("Playlist = %v, want nil", got.Playlist)
	}
}

func TestStore_UpdateRowPartial(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	row := sampleRow("a")
	if err := store.InsertRow(ctx, row); err != nil {
		t.Fatalf("InsertRow() error = %v", err)
	}

	changes := map[string]any{
		domain.ColReceived: int64(900),
		domain.ColOutcome:  1,
		domain.ColPlaylist: []string{"ep1.mp4", "ep2.mp4", "ep3.mp4"},
	}
	if err := store.UpdateRow(ctx, "a", changes); err != nil {
		t.Fatalf("UpdateRow() error = %v", err)
	}

	got, err := store.GetRow(ctx, "a")
	if err != nil {
		t.Fatalf("GetRow() error = %v", err)
	}
	if got.Received != 900 || got.Outcome != 1 {
		t.Errorf("updated counters = %d/%d, want 900/1", got.Received, got.Outcome)
	}
	if len(got.Playlist) != 3 {
		t.Errorf("Playlist = %v, want 3 entries", got.Playlist)
	}
	// Untouched columns keep their values.
	if got.Title != row.Title || got.TotalSize != row.TotalSize {
		t.Errorf("untouched columns changed: title=%q total=%d", got.Title, got.TotalSize)
	}
}

func TestStore_UpdateRowUnknownColumn(t *testing.T) {
	store := setupTestStore(t)
	err := store.UpdateRow(context.Background(), "a", map[string]any{"nope": 1})
	if err == nil {
		t.Error("UpdateRow() with unknown column = nil error, want failure")
	}
}

func TestStore_ListRowsInsertionOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, origin := range []string{"c", "a", "b"} {
		row := sampleRow(origin)
		if err := store.InsertRow(ctx, row); err != nil {
			t.Fatalf("InsertRow(%s) error = %v", origin, err)
		}
	}

	rows, err := store.ListRows(ctx)
	if err != nil {
		t.Fatalf("ListRows() error = %v", err)
	}
	var got []string
	for _, row := range rows {
		got = append(got, row.Origin)
	}
	if !slices.Equal(got, []string{"c", "a", "b"}) {
		t.Errorf("ListRows() order = %v, want [c a b]", got)
	}
}

func TestStore_DeleteRows(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	store.InsertRow(ctx, sampleRow("a"))
	store.InsertRow(ctx, sampleRow("b"))

	if err := store.DeleteRows(ctx, []string{"a", "b", "missing"}); err != nil {
		t.Fatalf("DeleteRows() error = %v", err)
	}
	rows, err := store.ListRows(ctx)
	if err != nil {
		t.Fatalf("ListRows() error = %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("ListRows() = %d rows after delete, want 0", len(rows))
	}
}

func TestStore_ConfigRoundtrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.SaveConfig(ctx, map[string]string{"theme": "dark", "lang": "en"}); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}
	// Upsert semantics.
	if err := store.SaveConfig(ctx, map[string]string{"theme": "light"}); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}

	cfg, err := store.LoadConfig(ctx)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg["theme"] != "light" || cfg["lang"] != "en" {
		t.Errorf("LoadConfig() = %v", cfg)
	}
	if cfg["db_version"] != schemaVersion {
		t.Errorf("db_version = %q, want %q", cfg["db_version"], schemaVersion)
	}
}
