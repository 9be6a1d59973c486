package deviceflow

import (
	"strconv"
	"time"
)

// Status is the lifecycle state of a device authorization.
type Status string

const (
	// StatusPending means no user decision has been made yet.
	StatusPending Status = "pending"

	// StatusApproved means the user approved and the token has not
	// been collected.
	StatusApproved Status = "approved"

	// StatusDenied means the user refused the request.
	StatusDenied Status = "denied"

	// StatusConsumed means the approval was exchanged for a token.
	// Device codes are single use.
	StatusConsumed Status = "consumed"
)

// Record is one device authorization in flight.
type Record struct {
	DeviceCode string
	UserCode   string
	ClientID   string
	Scope      string

	// Subject is the approving user, set by the decision.
	Subject string

	Status Status

	// Interval is the minimum polling interval in seconds. It grows
	// when the client polls too fast.
	Interval int

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the record's lifetime elapsed.
func (r *Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// fields flattens the record into hash field pairs for storage.
func (r *Record) fields() []interface{} {
	return []interface{}{
		"device_code", r.DeviceCode,
		"user_code", r.UserCode,
		"client_id", r.ClientID,
		"scope", r.Scope,
		"subject", r.Subject,
		"status", string(r.Status),
		"interval", strconv.Itoa(r.Interval),
		"created_at", strconv.FormatInt(r.CreatedAt.Unix(), 10),
		"expires_at", strconv.FormatInt(r.ExpiresAt.Unix(), 10),
	}
}

// recordFromHash rebuilds a Record from stored hash fields.
func recordFromHash(h map[string]string) *Record {
	interval, _ := strconv.Atoi(h["interval"])
	createdAt, _ := strconv.ParseInt(h["created_at"], 10, 64)
	expiresAt, _ := strconv.ParseInt(h["expires_at"], 10, 64)
	return &Record{
		DeviceCode: h["device_code"],
		UserCode:   h["user_code"],
		ClientID:   h["client_id"],
		Scope:      h["scope"],
		Subject:    h["subject"],
		Status:     Status(h["status"]),
		Interval:   interval,
		CreatedAt:  time.Unix(createdAt, 0).UTC(),
		ExpiresAt:  time.Unix(expiresAt, 0).UTC(),
	}
}
