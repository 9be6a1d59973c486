package deviceflow

import (
	"context"
	"errors"
	"time"
)

// Storage errors.
var (
	// ErrNotFound indicates that no record exists for the given code.
	ErrNotFound = errors.New("device authorization not found")

	// ErrUserCodeTaken indicates a user code collision; the caller
	// should generate a new code and retry.
	ErrUserCodeTaken = errors.New("user code already in use")
)

// Store persists device authorizations. Implementations must make the
// multi-step transitions (decision, consumption) atomic so concurrent
// pollers cannot double-spend an approval.
type Store interface {
	// Create persists a new pending record, failing with
	// ErrUserCodeTaken when the user code is already claimed.
	Create(ctx context.Context, record *Record, ttl time.Duration) error

	// GetByDeviceCode returns the record for a device code.
	GetByDeviceCode(ctx context.Context, deviceCode string) (*Record, error)

	// GetByUserCode returns the record for a normalized user code.
	GetByUserCode(ctx context.Context, userCode string) (*Record, error)

	// SetDecision moves a pending record to approved or denied and
	// attaches the deciding subject. It returns the record's prior
	// status, so callers can detect an already decided request.
	SetDecision(ctx context.Context, userCode string, approve bool, subject string) (Status, error)

	// Consume atomically moves an approved record to consumed. The
	// boolean reports whether this call spent the approval; when
	// false the record is returned unchanged with its current status
	// so the caller can map it to a protocol error.
	Consume(ctx context.Context, deviceCode string) (*Record, bool, error)

	// TouchPoll records a poll attempt. When the client polls faster
	// than the record's interval it returns false and the new, longer
	// interval in seconds.
	TouchPoll(ctx context.Context, deviceCode string, interval time.Duration) (bool, int, error)

	// Close releases store resources.
	Close() error
}
