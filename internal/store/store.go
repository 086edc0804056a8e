// Package store defines the alert lifecycle store and device directory consumed by
// the alert engine, with in-memory and Postgres implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rishi925-eng/Vital-Trace/internal/types"
)

var (
	ErrNotFound      = errors.New("alert not found")
	ErrUnknownDevice = errors.New("unknown device")
)

// AlertStore is the authoritative alert lifecycle state.
//
// It does not enforce the one-open-alert-per-(device, rule) invariant; callers
// check HasActive under their own per-key lock before Create.
type AlertStore interface {
	// HasActive reports whether an open (active, escalated or acknowledged) alert exists.
	HasActive(ctx context.Context, deviceID string, kind types.RuleKind) (bool, error)
	// Create stores a new alert and returns its ID. An empty ID is assigned.
	Create(ctx context.Context, alert types.Alert) (string, error)
	Get(ctx context.Context, id string) (types.Alert, error)
	// TransitionStatus moves id from one status to another only if it is still in from.
	// It returns false, with no error, when the precondition no longer holds.
	TransitionStatus(ctx context.Context, id string, from, to types.Status, ts time.Time) (bool, error)
	// RaiseSeverity sets the severity if it is higher than the stored one.
	RaiseSeverity(ctx context.Context, id string, severity types.Severity) error
	// ListOpen returns open alerts, for one device or all when deviceID is empty.
	ListOpen(ctx context.Context, deviceID string) ([]types.Alert, error)
	// ListSince returns alerts created at or after since, newest first.
	ListSince(ctx context.Context, since time.Time) ([]types.Alert, error)
}

// DeviceDirectory resolves device profiles.
type DeviceDirectory interface {
	// Lookup returns ErrUnknownDevice when the device is not registered.
	Lookup(ctx context.Context, deviceID string) (types.DeviceProfile, error)
}

// applyTransition stamps the timestamp that belongs to the target status.
func applyTransition(a *types.Alert, to types.Status, ts time.Time) {
	a.Status = to
	t := ts
	switch to {
	case types.StatusAcknowledged:
		a.AcknowledgedAt = &t
	case types.StatusResolved:
		a.ResolvedAt = &t
	case types.StatusEscalated:
		a.EscalatedAt = &t
	}
}
