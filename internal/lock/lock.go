// Package lock provides cross-process mutual exclusion for ingest runs.
//
// The production implementation is a marker file created with O_EXCL, holding
// the acquisition timestamp. A crashed run leaves its marker behind; the next
// acquirer reclaims it once the timestamp is older than the staleness
// threshold, so no manual cleanup is ever needed.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrHeld signals that another run currently holds the lock. Expected
// control flow, not a failure.
var ErrHeld = errors.New("lock held by another run")

// DefaultStaleAfter is the age past which a held lock is presumed abandoned.
const DefaultStaleAfter = 15 * time.Minute

// Lock is the mutual-exclusion primitive the run coordinator acquires for
// the duration of a run.
type Lock interface {
	// Acquire takes the lock or returns ErrHeld when a fresh holder exists.
	Acquire() error
	// Release drops the lock. Safe to call after a failed Acquire.
	Release() error
}

// FileLock implements Lock with an exclusively-created marker file.
type FileLock struct {
	path       string
	staleAfter time.Duration
	clock      clockwork.Clock
}

// NewFileLock creates a file lock at path. A zero staleAfter uses
// DefaultStaleAfter; a nil clock uses the real one.
func NewFileLock(path string, staleAfter time.Duration, clock clockwork.Clock) *FileLock {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &FileLock{path: path, staleAfter: staleAfter, clock: clock}
}

// Acquire exclusively creates the marker. On conflict it inspects the
// holder's timestamp: stale markers are removed and acquisition retried
// once; fresh ones yield ErrHeld.
func (l *FileLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		err := l.tryCreate()
		if err == nil {
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create lock marker: %w", err)
		}

		held, err := l.holderFresh()
		if err != nil {
			return err
		}
		if held {
			return ErrHeld
		}
		// Stale marker from a crashed run: reclaim and retry once.
		if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("reclaim stale lock: %w", err)
		}
	}
	return ErrHeld
}

// Release removes the marker. Missing markers are not an error so Release is
// safe on every exit path.
func (l *FileLock) Release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock marker: %w", err)
	}
	return nil
}

func (l *FileLock) tryCreate() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.WriteString(l.clock.Now().UTC().Format(time.RFC3339))
	return err
}

// holderFresh reads the current marker and reports whether its holder is
// still within the staleness threshold. An unreadable or garbled marker is
// treated as stale.
func (l *FileLock) holderFresh() (bool, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil // holder released between create and read
	}
	if err != nil {
		return false, fmt.Errorf("read lock marker: %w", err)
	}

	acquired, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	if err != nil {
		return false, nil
	}
	return l.clock.Now().Sub(acquired) <= l.staleAfter, nil
}
