package store

import (
	"context"
	"errors"
	"strings"
	"time"

	wizard "github.com/goliatone/go-wizard"
)

var (
	// ErrVersionConflict indicates optimistic-lock compare-and-set failure.
	ErrVersionConflict = errors.New("snapshot version conflict")
	// ErrRecordRequired is returned when saving a nil record or one without a session id.
	ErrRecordRequired = errors.New("session record with id required")
)

// Record is one persisted wizard session.
type Record struct {
	SessionID  string          `json:"session_id"`
	WizardType string          `json:"wizard_type"`
	Snapshot   wizard.Snapshot `json:"snapshot"`
	Version    int             `json:"version"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Store persists wizard snapshots with optimistic versioning. Version 0 means
// "no record yet"; every successful save returns the new version.
type Store interface {
	Load(ctx context.Context, sessionID string) (*Record, error)
	SaveIfVersion(ctx context.Context, rec *Record, expectedVersion int) (newVersion int, err error)
	Delete(ctx context.Context, sessionID string) error
	ListIdle(ctx context.Context, before time.Time) ([]string, error)
}

func cloneRecord(rec *Record) *Record {
	if rec == nil {
		return nil
	}
	cp := *rec
	cp.Snapshot = rec.Snapshot.Clone()
	return &cp
}

// prepareRecord normalizes rec and stamps the version it will carry once saved.
func prepareRecord(rec *Record, current *Record, expectedVersion int) (*Record, error) {
	rec = cloneRecord(rec)
	if rec == nil {
		return nil, ErrRecordRequired
	}
	rec.SessionID = strings.TrimSpace(rec.SessionID)
	if rec.SessionID == "" {
		return nil, ErrRecordRequired
	}
	if expectedVersion < 0 {
		expectedVersion = 0
	}
	if current == nil {
		if expectedVersion != 0 {
			return nil, ErrVersionConflict
		}
		rec.Version = 1
	} else {
		if current.Version != expectedVersion {
			return nil, ErrVersionConflict
		}
		rec.Version = expectedVersion + 1
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}
