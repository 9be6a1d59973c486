package deviceflow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/wearforce/gateway/internal/auth"
	"github.com/wearforce/gateway/internal/observability"
)

// GrantType is the grant_type value of the device code grant.
const GrantType = "urn:ietf:params:oauth:grant-type:device_code"

// maxUserCodeAttempts bounds collision retries during initiation.
const maxUserCodeAttempts = 5

// recordGrace keeps expired records around long enough to answer
// late polls with expired_token instead of invalid_grant.
const recordGrace = 10 * time.Minute

// TokenIssuer mints the token pair for a consumed approval.
type TokenIssuer interface {
	Issue(subject, clientID, scope string) (*auth.TokenPair, error)
}

// AuthorizationResponse is the body of a successful initiation, per
// RFC 8628 §3.2.
type AuthorizationResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int    `json:"interval"`
}

// Config tunes the device flow.
type Config struct {
	// VerificationURI is where users enter their code.
	VerificationURI string

	// Expiry is the device code lifetime.
	Expiry time.Duration

	// PollInterval is the starting minimum interval between polls.
	PollInterval time.Duration

	// AllowedClients restricts initiation to registered client IDs.
	// Empty admits any client.
	AllowedClients []string
}

// Manager drives the device authorization grant end to end.
type Manager struct {
	cfg    Config
	store  Store
	issuer TokenIssuer
	logger observability.Logger

	// Code generation is injectable for collision tests.
	newDeviceCode func() (string, error)
	newUserCode   func() (string, error)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager builds a Manager on top of a Store and a TokenIssuer.
func NewManager(cfg Config, store Store, issuer TokenIssuer, opts ...ManagerOption) *Manager {
	if cfg.Expiry <= 0 {
		cfg.Expiry = 10 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	m := &Manager{
		cfg:           cfg,
		store:         store,
		issuer:        issuer,
		logger:        observability.NopLogger(),
		newDeviceCode: GenerateDeviceCode,
		newUserCode:   GenerateUserCode,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initiate starts a device authorization for a client and returns the
// codes the device shows to its user.
func (m *Manager) Initiate(ctx context.Context, clientID, scope string) (*AuthorizationResponse, error) {
	if clientID == "" {
		return nil, invalidRequest("client_id is required")
	}
	if !m.clientAllowed(clientID) {
		return nil, ErrInvalidClient
	}

	deviceCode, err := m.newDeviceCode()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := &Record{
		DeviceCode: deviceCode,
		ClientID:   clientID,
		Scope:      scope,
		Status:     StatusPending,
		Interval:   int(m.cfg.PollInterval.Seconds()),
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.cfg.Expiry),
	}

	// User codes are short by design, so collisions happen; claim one
	// with a bounded retry.
	for attempt := 0; ; attempt++ {
		userCode, err := m.newUserCode()
		if err != nil {
			return nil, err
		}
		record.UserCode = NormalizeUserCode(userCode)

		err = m.store.Create(ctx, record, m.cfg.Expiry+recordGrace)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrUserCodeTaken) || attempt+1 >= maxUserCodeAttempts {
			return nil, fmt.Errorf("failed to start device authorization: %w", err)
		}
	}

	initiationsTotal.Inc()
	m.logger.Info("device authorization started",
		observability.String("clientID", clientID),
		observability.String("userCode", formatUserCode(record.UserCode)),
	)

	return &AuthorizationResponse{
		DeviceCode:              record.DeviceCode,
		UserCode:                formatUserCode(record.UserCode),
		VerificationURI:         m.cfg.VerificationURI,
		VerificationURIComplete: m.verificationURIComplete(record.UserCode),
		ExpiresIn:               int64(m.cfg.Expiry.Seconds()),
		Interval:                record.Interval,
	}, nil
}

// verificationURIComplete embeds the user code into the verification
// URI for clients that can render a QR code.
func (m *Manager) verificationURIComplete(userCode string) string {
	u, err := url.Parse(m.cfg.VerificationURI)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("user_code", formatUserCode(userCode))
	u.RawQuery = q.Encode()
	return u.String()
}

// Poll answers one token endpoint request. Errors of type *Error map
// directly onto the OAuth error response; anything else means the
// backing store failed and the caller must answer with a server error
// rather than guess.
func (m *Manager) Poll(ctx context.Context, grantType, deviceCode, clientID string) (*auth.TokenPair, error) {
	if grantType != GrantType {
		pollsTotal.WithLabelValues("unsupported_grant_type").Inc()
		return nil, ErrUnsupportedGrantType
	}
	if deviceCode == "" {
		pollsTotal.WithLabelValues("invalid_request").Inc()
		return nil, invalidRequest("device_code is required")
	}

	record, err := m.store.GetByDeviceCode(ctx, deviceCode)
	if errors.Is(err, ErrNotFound) {
		pollsTotal.WithLabelValues("invalid_grant").Inc()
		return nil, ErrInvalidGrant
	}
	if err != nil {
		pollsTotal.WithLabelValues("store_error").Inc()
		return nil, err
	}

	if clientID != record.ClientID {
		pollsTotal.WithLabelValues("invalid_client").Inc()
		return nil, ErrInvalidClient
	}

	if record.Expired(time.Now()) {
		pollsTotal.WithLabelValues("expired_token").Inc()
		return nil, ErrExpiredToken
	}

	ok, newInterval, err := m.store.TouchPoll(ctx, deviceCode, time.Duration(record.Interval)*time.Second)
	if err != nil {
		pollsTotal.WithLabelValues("store_error").Inc()
		return nil, err
	}
	if !ok {
		pollsTotal.WithLabelValues("slow_down").Inc()
		return nil, &Error{
			Code:        ErrSlowDown.Code,
			Description: fmt.Sprintf("poll no faster than every %d seconds", newInterval),
			Status:      ErrSlowDown.Status,
		}
	}

	record, spent, err := m.store.Consume(ctx, deviceCode)
	if err != nil {
		pollsTotal.WithLabelValues("store_error").Inc()
		return nil, err
	}
	if !spent {
		switch record.Status {
		case StatusPending:
			pollsTotal.WithLabelValues("authorization_pending").Inc()
			return nil, ErrAuthorizationPending
		case StatusDenied:
			pollsTotal.WithLabelValues("access_denied").Inc()
			return nil, ErrAccessDenied
		default:
			// Already consumed; device codes are single use.
			pollsTotal.WithLabelValues("invalid_grant").Inc()
			return nil, ErrInvalidGrant
		}
	}

	pair, err := m.issuer.Issue(record.Subject, record.ClientID, record.Scope)
	if err != nil {
		pollsTotal.WithLabelValues("issue_error").Inc()
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	pollsTotal.WithLabelValues("success").Inc()
	tokensIssuedTotal.Inc()
	m.logger.Info("device authorization completed",
		observability.String("clientID", record.ClientID),
		observability.String("subject", record.Subject),
	)
	return pair, nil
}

// Authorize records the user's decision for a user code and returns
// the updated record.
func (m *Manager) Authorize(ctx context.Context, userCode, subject string, approve bool) (*Record, error) {
	if subject == "" {
		return nil, invalidRequest("subject is required")
	}
	normalized := NormalizeUserCode(userCode)
	if err := ValidateUserCode(normalized); err != nil {
		return nil, err
	}

	record, err := m.store.GetByUserCode(ctx, normalized)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidGrant
	}
	if err != nil {
		return nil, err
	}
	if record.Expired(time.Now()) {
		return nil, ErrExpiredToken
	}

	prior, err := m.store.SetDecision(ctx, normalized, approve, subject)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidGrant
	}
	if err != nil {
		return nil, err
	}
	if prior != StatusPending {
		return nil, &Error{
			Code:        ErrInvalidGrant.Code,
			Description: "authorization request already completed",
			Status:      ErrInvalidGrant.Status,
		}
	}

	record.Subject = subject
	if approve {
		record.Status = StatusApproved
		decisionsTotal.WithLabelValues("approved").Inc()
	} else {
		record.Status = StatusDenied
		decisionsTotal.WithLabelValues("denied").Inc()
	}

	m.logger.Info("device authorization decided",
		observability.String("clientID", record.ClientID),
		observability.String("subject", subject),
		observability.Bool("approved", approve),
	)
	return record, nil
}

// Get returns the record behind a user code for the verification UI.
func (m *Manager) Get(ctx context.Context, userCode string) (*Record, error) {
	normalized := NormalizeUserCode(userCode)
	if err := ValidateUserCode(normalized); err != nil {
		return nil, err
	}

	record, err := m.store.GetByUserCode(ctx, normalized)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidGrant
	}
	if err != nil {
		return nil, err
	}
	if record.Expired(time.Now()) {
		return nil, ErrExpiredToken
	}
	return record, nil
}

// clientAllowed checks the client against the registration list.
func (m *Manager) clientAllowed(clientID string) bool {
	if len(m.cfg.AllowedClients) == 0 {
		return true
	}
	for _, allowed := range m.cfg.AllowedClients {
		if clientID == allowed {
			return true
		}
	}
	return false
}
