package observations

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ptrevors/beurerd/internal/engine"
	"github.com/ptrevors/beurerd/internal/infrastructure/database"
	_ "github.com/ptrevors/beurerd/migrations" // registers embedded schema
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	return NewStore(db.DB)
}

func TestStore_RecordAndListUnknown(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.RecordUnknown(ctx, "s1", "unknown_length", []byte{0xFE, 0xEF, 0x01}); err != nil {
		t.Fatalf("RecordUnknown() error = %v", err)
	}
	if err := store.RecordUnknown(ctx, "s1", "decode_error", []byte{0x00}); err != nil {
		t.Fatalf("RecordUnknown() error = %v", err)
	}

	entries, err := store.RecentUnknown(ctx, 10)
	if err != nil {
		t.Fatalf("RecentUnknown() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}

	// Newest first.
	if entries[0].Reason != "decode_error" {
		t.Errorf("entries[0].Reason = %s, want decode_error", entries[0].Reason)
	}
	if entries[1].PayloadHex != "feef01" {
		t.Errorf("PayloadHex = %s, want feef01", entries[1].PayloadHex)
	}
}

func TestStore_RecordUnknownRequiresReason(t *testing.T) {
	store := newTestStore(t)

	if err := store.RecordUnknown(context.Background(), "s1", "", nil); err == nil {
		t.Error("expected error for empty reason")
	}
}

func TestStore_RecordAndListCommands(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	rec := engine.CommandRecord{
		ID:          "cmd-1",
		SessionID:   "s1",
		Intent:      "set_brightness",
		FrameHex:    "feef0a0cabaa0531013206550d0a",
		SubmittedAt: now,
		CompletedAt: now.Add(150 * time.Millisecond),
		Outcome:     engine.OutcomeOK,
	}
	if err := store.RecordCommand(ctx, rec); err != nil {
		t.Fatalf("RecordCommand() error = %v", err)
	}

	failed := rec
	failed.ID = "cmd-2"
	failed.SubmittedAt = now.Add(time.Second)
	failed.Outcome = engine.OutcomeError
	failed.Error = "writing frame: link gone"
	if err := store.RecordCommand(ctx, failed); err != nil {
		t.Fatalf("RecordCommand() error = %v", err)
	}

	entries, err := store.RecentCommands(ctx, 10)
	if err != nil {
		t.Fatalf("RecentCommands() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].ID != "cmd-2" || entries[0].Outcome != engine.OutcomeError {
		t.Errorf("entries[0] = %+v, want failed command first", entries[0])
	}
	if entries[1].CompletedAt.IsZero() {
		t.Error("expected CompletedAt round-tripped")
	}
}

func TestStore_Prune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.RecordUnknown(ctx, "s1", "unknown_length", []byte{0x01}); err != nil {
		t.Fatalf("RecordUnknown() error = %v", err)
	}
	if err := store.RecordCommand(ctx, engine.CommandRecord{
		ID:          "cmd-1",
		SessionID:   "s1",
		Intent:      "set_brightness",
		SubmittedAt: time.Now(),
		Outcome:     engine.OutcomeOK,
	}); err != nil {
		t.Fatalf("RecordCommand() error = %v", err)
	}

	// Retention of zero prunes everything recorded before now, audit
	// rows included.
	time.Sleep(5 * time.Millisecond)
	if err := store.Prune(ctx, 0); err != nil {
		t.Fatalf("Prune() error = %v", err)
	}

	entries, err := store.RecentUnknown(ctx, 10)
	if err != nil {
		t.Fatalf("RecentUnknown() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries = %d, want 0 after prune", len(entries))
	}

	cmds, err := store.RecentCommands(ctx, 10)
	if err != nil {
		t.Fatalf("RecentCommands() error = %v", err)
	}
	if len(cmds) != 0 {
		t.Errorf("audit rows = %d, want 0 after prune", len(cmds))
	}
}
