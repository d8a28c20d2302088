package opstate

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/nugget/telenode/internal/outbox"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "opstate_test.db")
	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetMissing(t *testing.T) {
	s := testStore(t)

	val, err := s.Get("ns", "missing")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if val != "" {
		t.Errorf("Get() = %q, want empty string for missing key", val)
	}
}

func TestSetGetDelete(t *testing.T) {
	s := testStore(t)

	if err := s.Set("power", "last_halt", "manual-button"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := s.Set("power", "last_halt", "no-alert-timeout"); err != nil {
		t.Fatalf("Set(upsert) error: %v", err)
	}
	if err := s.Set("buffer", "last_halt", "other-namespace"); err != nil {
		t.Fatalf("Set(other ns) error: %v", err)
	}

	val, err := s.Get("power", "last_halt")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if val != "no-alert-timeout" {
		t.Errorf("Get() = %q, want upserted value", val)
	}

	if err := s.Delete("power", "last_halt"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if val, _ := s.Get("power", "last_halt"); val != "" {
		t.Errorf("Get() after delete = %q, want empty", val)
	}
	if val, _ := s.Get("buffer", "last_halt"); val != "other-namespace" {
		t.Errorf("other namespace = %q, want untouched", val)
	}

	if err := s.Delete("power", "nope"); err != nil {
		t.Errorf("Delete(missing) error: %v", err)
	}
}

func TestNewStore_InvalidPath(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "db.sqlite")
	if _, err := NewStore(dbPath); err == nil {
		t.Error("NewStore() should fail when parent directory doesn't exist")
	}
}

func TestRecordBoot_Lifecycle(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "boot.db")
	fixed := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	open := func() *Store {
		s, err := NewStore(dbPath)
		if err != nil {
			t.Fatalf("NewStore: %v", err)
		}
		s.now = func() time.Time { return fixed }
		return s
	}

	// Cold boot.
	s := open()
	b, err := s.RecordBoot()
	if err != nil {
		t.Fatalf("RecordBoot() error: %v", err)
	}
	if b.Count != 1 || b.Woke {
		t.Errorf("first boot = %+v, want count 1, not woke", b)
	}
	if err := s.RecordHalt("no-alert-timeout"); err != nil {
		t.Fatalf("RecordHalt() error: %v", err)
	}
	s.Close()

	// Wake after halt.
	s = open()
	b, err = s.RecordBoot()
	if err != nil {
		t.Fatalf("RecordBoot() error: %v", err)
	}
	if b.Count != 2 || !b.Woke || b.LastHalt != "no-alert-timeout" || !b.HaltedAt.Equal(fixed) {
		t.Errorf("second boot = %+v, want count 2 woke after no-alert-timeout at %v", b, fixed)
	}
	s.Close()

	// Crash without halting: not a wake.
	s = open()
	defer s.Close()
	b, err = s.RecordBoot()
	if err != nil {
		t.Fatalf("RecordBoot() error: %v", err)
	}
	if b.Count != 3 || b.Woke {
		t.Errorf("third boot = %+v, want count 3, not woke", b)
	}
}

func TestRecordBoot_CorruptCount(t *testing.T) {
	s := testStore(t)
	if err := s.Set(nsPower, keyBootCount, "many"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RecordBoot(); err == nil {
		t.Error("RecordBoot() error = nil, want parse error")
	}
}

func TestBacklog_RoundTrip(t *testing.T) {
	s := testStore(t)

	var saved []outbox.Record
	for i, kind := range []outbox.Kind{outbox.KindTelemetry, outbox.KindState, outbox.KindLifecycle} {
		r, err := outbox.NewRecord(kind, "telenode/n/"+string(kind), []byte(fmt.Sprintf(`{"n":%d}`, i)))
		if err != nil {
			t.Fatal(err)
		}
		saved = append(saved, r)
	}

	if err := s.SaveBacklog(saved); err != nil {
		t.Fatalf("SaveBacklog() error: %v", err)
	}

	got, err := s.TakeBacklog()
	if err != nil {
		t.Fatalf("TakeBacklog() error: %v", err)
	}
	if len(got) != len(saved) {
		t.Fatalf("TakeBacklog() returned %d records, want %d", len(got), len(saved))
	}
	for i := range saved {
		if got[i].Kind != saved[i].Kind || got[i].Topic != saved[i].Topic || string(got[i].Payload) != string(saved[i].Payload) {
			t.Errorf("record %d = %+v, want %+v", i, got[i], saved[i])
		}
	}

	again, err := s.TakeBacklog()
	if err != nil {
		t.Fatalf("second TakeBacklog() error: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second TakeBacklog() = %d records, want 0", len(again))
	}
}

func TestSaveBacklog_EmptyClears(t *testing.T) {
	s := testStore(t)

	r, _ := outbox.NewRecord(outbox.KindLifecycle, "t", []byte("AWAKE"))
	if err := s.SaveBacklog([]outbox.Record{r}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveBacklog(nil); err != nil {
		t.Fatalf("SaveBacklog(nil) error: %v", err)
	}
	got, err := s.TakeBacklog()
	if err != nil || len(got) != 0 {
		t.Errorf("TakeBacklog() = %v, %v, want empty", got, err)
	}
}
