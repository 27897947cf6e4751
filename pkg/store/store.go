// Package store persists call records. Audio and transcripts are never
// stored, only call metadata and dispositions.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Disposition is the terminal outcome of a call.
type Disposition string

const (
	// DispositionCompleted is a call that ended normally.
	DispositionCompleted Disposition = "completed"
	// DispositionError is a call torn down by a fatal pipeline error.
	DispositionError Disposition = "error"
	// DispositionDropped is a call whose carrier connection vanished.
	DispositionDropped Disposition = "dropped"
)

// CallRecord is one call's metadata row.
type CallRecord struct {
	ID          uuid.UUID   `json:"id"`
	CallSID     string      `json:"call_sid"`
	StreamSID   string      `json:"stream_sid"`
	AccountSID  string      `json:"account_sid,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	EndedAt     *time.Time  `json:"ended_at,omitempty"`
	Disposition Disposition `json:"disposition,omitempty"`
	ErrorCode   string      `json:"error_code,omitempty"`
	Turns       int         `json:"turns"`
}

// Store records call lifecycles.
type Store interface {
	// CallStarted inserts a record when a media stream goes active.
	CallStarted(ctx context.Context, rec *CallRecord) error

	// CallEnded seals a record with its outcome.
	CallEnded(ctx context.Context, callSID string, disposition Disposition, errorCode string, turns int) error

	// Recent returns the most recently started calls, newest first.
	Recent(ctx context.Context, limit int) ([]CallRecord, error)

	// Close releases the underlying resources.
	Close()
}

// Noop is a Store that records nothing. Used when no database is
// configured.
type Noop struct{}

func (Noop) CallStarted(ctx context.Context, rec *CallRecord) error { return nil }

func (Noop) CallEnded(ctx context.Context, callSID string, disposition Disposition, errorCode string, turns int) error {
	return nil
}

func (Noop) Recent(ctx context.Context, limit int) ([]CallRecord, error) { return nil, nil }

func (Noop) Close() {}
