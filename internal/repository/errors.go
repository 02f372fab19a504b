package repository

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// Sentinel errors surfaced to the CLI layer, which maps them to exit
// codes per the control-surface table, and to the worker loop, which
// treats ErrStoreBusy as transient and everything else as fatal.
var (
	ErrInvalidSpec  = errors.New("invalid job spec")
	ErrDuplicateID  = errors.New("job id already exists")
	ErrNotFound     = errors.New("job not found")
	ErrNotDead      = errors.New("job is not in the dead state")
	ErrStoreBusy    = errors.New("store busy")
	ErrStoreCorrupt = errors.New("store corrupt")
)

// classifyStoreErr maps a raw go-sqlite3 driver error to ErrStoreBusy
// or ErrStoreCorrupt by inspecting its primary result code, so callers
// can tell transient write-lock contention (caller should retry) apart
// from a fatal, unrecoverable failure (bad file, not a database).
// Errors that aren't a sqlite3.Error (or don't match a known code) pass
// through unchanged.
func classifyStoreErr(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch sqliteErr.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return fmt.Errorf("%w: %v", ErrStoreBusy, err)
	case sqlite3.ErrCorrupt, sqlite3.ErrNotADB, sqlite3.ErrIoErr:
		return fmt.Errorf("%w: %v", ErrStoreCorrupt, err)
	default:
		return err
	}
}

// wrapStoreErr classifies err and prefixes it with context, the way
// every other repository method wraps its driver errors.
func wrapStoreErr(context string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, classifyStoreErr(err))
}
