package opstate

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nugget/telenode/internal/outbox"
)

const (
	nsPower  = "power"
	nsBuffer = "buffer"

	keyBootCount = "boot_count"
	keyLastHalt  = "last_halt"
	keyHaltedAt  = "halted_at"
	keyBacklog   = "backlog"
)

// Boot describes how this process lifetime began.
type Boot struct {
	// Count is the number of boots including this one.
	Count int
	// Woke is true when a halt was recorded by the previous lifetime,
	// so this start is a wake rather than a cold boot.
	Woke bool
	// LastHalt is the cause recorded by the previous halt, if any.
	LastHalt string
	// HaltedAt is when the previous halt happened.
	HaltedAt time.Time
}

// RecordBoot increments the boot counter and consumes the previous halt
// record. Call it once at startup.
func (s *Store) RecordBoot() (Boot, error) {
	var b Boot

	raw, err := s.Get(nsPower, keyBootCount)
	if err != nil {
		return b, err
	}
	if raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return b, fmt.Errorf("parse boot count %q: %w", raw, err)
		}
		b.Count = n
	}
	b.Count++
	if err := s.Set(nsPower, keyBootCount, strconv.Itoa(b.Count)); err != nil {
		return b, err
	}

	if b.LastHalt, err = s.Get(nsPower, keyLastHalt); err != nil {
		return b, err
	}
	b.Woke = b.LastHalt != ""
	if at, err := s.Get(nsPower, keyHaltedAt); err == nil && at != "" {
		b.HaltedAt, _ = time.Parse(time.RFC3339, at)
	}

	if err := s.Delete(nsPower, keyLastHalt); err != nil {
		return b, err
	}
	if err := s.Delete(nsPower, keyHaltedAt); err != nil {
		return b, err
	}
	return b, nil
}

// RecordHalt stores the halt cause for the next boot to find.
func (s *Store) RecordHalt(cause string) error {
	if err := s.Set(nsPower, keyLastHalt, cause); err != nil {
		return err
	}
	return s.Set(nsPower, keyHaltedAt, s.now().UTC().Format(time.RFC3339))
}

// SaveBacklog stores the undelivered records, oldest first, replacing
// any previously saved backlog. An empty backlog clears it.
func (s *Store) SaveBacklog(records []outbox.Record) error {
	if len(records) == 0 {
		return s.Delete(nsBuffer, keyBacklog)
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal backlog: %w", err)
	}
	return s.Set(nsBuffer, keyBacklog, string(data))
}

// TakeBacklog returns the saved backlog and clears it, so a record is
// restored at most once.
func (s *Store) TakeBacklog() ([]outbox.Record, error) {
	raw, err := s.Get(nsBuffer, keyBacklog)
	if err != nil || raw == "" {
		return nil, err
	}
	var records []outbox.Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("unmarshal backlog: %w", err)
	}
	if err := s.Delete(nsBuffer, keyBacklog); err != nil {
		return nil, err
	}
	return records, nil
}
