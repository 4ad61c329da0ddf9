package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Anvoria/tradeauth/internal/cache"
	"github.com/Anvoria/tradeauth/internal/domain/device"
	"github.com/Anvoria/tradeauth/internal/domain/session"
	"github.com/Anvoria/tradeauth/internal/domain/token"
	"github.com/Anvoria/tradeauth/internal/events"
	"github.com/Anvoria/tradeauth/internal/metrics"
)

// TokenCodec mints and verifies signed tokens
type TokenCodec interface {
	Mint(subject, tenant string, typ token.Type, ttl time.Duration) (string, token.Claims, error)
	Verify(tokenString string, expected token.Type) (token.Claims, error)
	VerifySignature(tokenString string, expected token.Type) (token.Claims, error)
}

// RevocationRegistry remembers revoked token ids until they would have expired
type RevocationRegistry interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// LockoutGuard counts failed logins per identifier
type LockoutGuard interface {
	RecordFailure(ctx context.Context, identifier string) (cache.LockoutResult, error)
	Clear(ctx context.Context, identifier string) error
	IsLocked(ctx context.Context, identifier string) (bool, time.Duration, error)
	RecentFailures(ctx context.Context, identifier string) (int, error)
}

// DeviceIdentifier turns a user agent and address into a fingerprint and description
type DeviceIdentifier interface {
	Identify(userAgent, ip string) (string, device.Descriptor)
}

// Deps are the collaborators of the Service. Events, Metrics, Logger and Clock
// are optional.
type Deps struct {
	Codec       TokenCodec
	Sessions    session.Store
	Revocations RevocationRegistry
	Lockout     LockoutGuard
	Devices     DeviceIdentifier
	Events      events.Sink
	Metrics     *metrics.Collector
	Logger      *slog.Logger
	Clock       func() time.Time
}

// Policy holds token lifetimes
type Policy struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Service orchestrates login, refresh and logout over the session store,
// the token codec and the shared cache.
type Service struct {
	codec       TokenCodec
	sessions    session.Store
	revocations RevocationRegistry
	lockout     LockoutGuard
	devices     DeviceIdentifier
	events      events.Sink
	metrics     *metrics.Collector
	logger      *slog.Logger
	now         func() time.Time
	policy      Policy
}

// NewService validates deps and policy and builds a Service
func NewService(deps Deps, policy Policy) (*Service, error) {
	switch {
	case deps.Codec == nil:
		return nil, errors.New("auth: token codec is required")
	case deps.Sessions == nil:
		return nil, errors.New("auth: session store is required")
	case deps.Revocations == nil:
		return nil, errors.New("auth: revocation registry is required")
	case deps.Lockout == nil:
		return nil, errors.New("auth: lockout guard is required")
	case deps.Devices == nil:
		return nil, errors.New("auth: device identifier is required")
	}
	if policy.AccessTTL <= 0 || policy.RefreshTTL <= 0 {
		return nil, errors.New("auth: token lifetimes must be positive")
	}
	if policy.RefreshTTL < policy.AccessTTL {
		return nil, fmt.Errorf("auth: refresh ttl %s is shorter than access ttl %s", policy.RefreshTTL, policy.AccessTTL)
	}

	s := &Service{
		codec:       deps.Codec,
		sessions:    deps.Sessions,
		revocations: deps.Revocations,
		lockout:     deps.Lockout,
		devices:     deps.Devices,
		events:      deps.Events,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		now:         deps.Clock,
		policy:      policy,
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Login opens a session for a caller whose credentials were already accepted
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if req.UserID == "" {
		return nil, errors.New("auth: login without user id")
	}
	now := s.now()

	fingerprint, desc := s.devices.Identify(req.UserAgent, req.IP)

	history, err := s.sessions.History(ctx, req.UserID)
	if err != nil {
		return nil, s.infra(ctx, "session_store", err)
	}

	var suspicious bool
	var reason string
	if !history.Empty() {
		suspicious, reason = device.IsSuspicious(fingerprint, req.IP, history.KnownFingerprints(), history.IPs)
	}

	trust := s.trustScore(ctx, req, history, fingerprint, now)

	pair, access, refresh, err := s.mintPair(req.UserID, req.TenantID)
	if err != nil {
		return nil, err
	}

	sess := &session.Session{
		UserID:           req.UserID,
		TenantID:         req.TenantID,
		Fingerprint:      fingerprint,
		DeviceClass:      string(desc.Class),
		OSName:           desc.OSName,
		OSVersion:        desc.OSVersion,
		BrowserName:      desc.BrowserName,
		BrowserVersion:   desc.BrowserVersion,
		DeviceLabel:      desc.Label,
		IPAddress:        req.IP,
		AccessID:         access.ID,
		RefreshID:        refresh.ID,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
		LastActiveAt:     now,
		IsActive:         true,
		IsSuspicious:     suspicious,
		SuspiciousReason: reason,
		TotalLogins:      1,
		TrustScore:       trust,
	}
	sess.CreatedAt = now
	sess.UpdatedAt = now
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, s.infra(ctx, "session_store", err)
	}

	if req.Identifier != "" {
		if err := s.lockout.Clear(ctx, req.Identifier); err != nil {
			s.logger.WarnContext(ctx, "Failed to clear lockout counter", "identifier", req.Identifier, "error", err)
		}
	}

	s.metrics.Login(suspicious)
	s.logger.InfoContext(ctx, "Session created",
		"user_id", req.UserID,
		"session_id", sess.ID,
		"device", desc.Label,
		"suspicious", suspicious,
		"trust_score", trust,
	)

	evt := s.event(events.LoginSucceeded, now, sess)
	evt.Metadata = map[string]string{"device": desc.Label, "trust_score": fmt.Sprintf("%.2f", trust)}
	s.emit(ctx, evt)
	if suspicious {
		evt := s.event(events.LoginSuspicious, now, sess)
		evt.Reason = reason
		s.emit(ctx, evt)
	}

	return &LoginResult{
		Tokens:     pair,
		Session:    sess,
		Suspicious: suspicious,
		Reason:     reason,
		TrustScore: trust,
	}, nil
}

// trustScore scores the device for this login. A lockout lookup failure
// degrades to zero recent failures.
func (s *Service) trustScore(ctx context.Context, req LoginRequest, history *session.History, fingerprint string, now time.Time) float64 {
	in := device.TrustInput{Verified: req.Verified}
	if stats, ok := history.Fingerprints[fingerprint]; ok {
		in.DeviceAge = now.Sub(stats.FirstSeen)
		in.Logins = stats.Logins
	}

	identifier := req.Identifier
	if identifier == "" {
		identifier = req.UserID
	}
	failures, err := s.lockout.RecentFailures(ctx, identifier)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to read recent failures", "identifier", identifier, "error", err)
		failures = 0
	}
	in.RecentFailures = failures

	return device.TrustScore(in)
}

// Refresh rotates a session's tokens. The presented refresh token is
// single use: after success both old ids are revoked.
func (s *Service) Refresh(ctx context.Context, refreshToken, userAgent, ip string) (*RefreshResult, error) {
	claims, err := s.codec.Verify(refreshToken, token.TypeRefresh)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			s.metrics.Refresh(metrics.RefreshExpired)
		} else {
			s.metrics.Refresh(metrics.RefreshInvalid)
		}
		return nil, err
	}

	revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		s.metrics.Refresh(metrics.RefreshError)
		return nil, s.infra(ctx, "revocation", err)
	}

	sess, err := s.sessions.FindByRefreshID(ctx, claims.ID)
	if errors.Is(err, session.ErrNotFound) {
		if revoked {
			s.replay(ctx, claims, ip, "revoked refresh token presented")
		}
		s.metrics.Refresh(metrics.RefreshNotFound)
		return nil, ErrSessionNotFound
	}
	if err != nil {
		s.metrics.Refresh(metrics.RefreshError)
		return nil, s.infra(ctx, "session_store", err)
	}
	if revoked {
		s.metrics.Refresh(metrics.RefreshRevoked)
		return nil, ErrTokenRevoked
	}

	now := s.now()
	if sess.RefreshExpired(now) {
		if err := s.sessions.Deactivate(ctx, sess.ID, now); err != nil {
			s.logger.ErrorContext(ctx, "Failed to deactivate expired session", "session_id", sess.ID, "error", err)
		}
		s.metrics.Refresh(metrics.RefreshExpired)
		return nil, ErrSessionExpired
	}

	pair, access, refresh, err := s.mintPair(sess.UserID, sess.TenantID)
	if err != nil {
		s.metrics.Refresh(metrics.RefreshError)
		return nil, err
	}

	oldAccessID, oldAccessExp := sess.AccessID, sess.AccessExpiresAt
	err = s.sessions.Rotate(ctx, sess, session.Rotation{
		AccessID:         access.ID,
		RefreshID:        refresh.ID,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
		IP:               ip,
		At:               now,
	}, claims.ID)
	if errors.Is(err, session.ErrStaleRefresh) {
		s.replay(ctx, claims, ip, "concurrent refresh lost the rotation")
		s.metrics.Refresh(metrics.RefreshReplay)
		return nil, ErrStaleTokenReplay
	}
	if err != nil {
		s.metrics.Refresh(metrics.RefreshError)
		return nil, s.infra(ctx, "session_store", err)
	}

	revokeErr := errors.Join(
		s.revoke(ctx, oldAccessID, oldAccessExp.Sub(now)),
		s.revoke(ctx, claims.ID, claims.Remaining(now)),
	)
	if revokeErr != nil {
		s.metrics.Refresh(metrics.RefreshError)
		return nil, s.infra(ctx, "revocation", revokeErr)
	}

	s.metrics.Refresh(metrics.RefreshOK)

	evt := s.event(events.SessionRotated, now, sess)
	if fingerprint, _ := s.devices.Identify(userAgent, ip); fingerprint != sess.Fingerprint {
		evt.Metadata = map[string]string{"device_changed": "true"}
	}
	s.emit(ctx, evt)

	return &RefreshResult{Tokens: pair, Session: sess}, nil
}

// replay records a refresh token presented after it was used
func (s *Service) replay(ctx context.Context, claims token.Claims, ip, reason string) {
	s.logger.WarnContext(ctx, "Refresh token replay detected",
		"user_id", claims.Subject,
		"token_id", claims.ID,
		"ip", ip,
		"reason", reason,
	)
	evt := events.New(events.RefreshReplay, s.now())
	evt.UserID = claims.Subject
	evt.TenantID = claims.TenantID
	evt.IP = ip
	evt.Reason = reason
	s.emit(ctx, evt)
}

// Logout ends the session behind a refresh token. Tokens that fail
// verification or match no session make this a no-op.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.codec.VerifySignature(refreshToken, token.TypeRefresh)
	if err != nil {
		s.logger.DebugContext(ctx, "Logout with unusable token", "error", err)
		return nil
	}

	sess, err := s.sessions.FindByRefreshID(ctx, claims.ID)
	if errors.Is(err, session.ErrNotFound) {
		return nil
	}
	if err != nil {
		return s.infra(ctx, "session_store", err)
	}

	return s.terminate(ctx, sess, events.LoggedOut)
}

// LogoutDevice ends one session owned by userID
func (s *Service) LogoutDevice(ctx context.Context, sessionID uuid.UUID, userID string) error {
	sess, err := s.sessions.FindByID(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return s.infra(ctx, "session_store", err)
	}
	if sess.UserID != userID {
		s.logger.WarnContext(ctx, "Session logout by non-owner", "session_id", sessionID, "user_id", userID)
		return ErrForbidden
	}
	if !sess.IsActive {
		return nil
	}
	return s.terminate(ctx, sess, events.LoggedOut)
}

// LogoutAll ends every active session of userID except the one given and
// returns how many were ended.
func (s *Service) LogoutAll(ctx context.Context, userID string, except *uuid.UUID) (int, error) {
	active, err := s.sessions.ListActive(ctx, userID)
	if err != nil {
		return 0, s.infra(ctx, "session_store", err)
	}

	now := s.now()
	var errs []error
	for i := range active {
		if except != nil && active[i].ID == *except {
			continue
		}
		if err := s.revokeSession(ctx, &active[i], now); err != nil {
			errs = append(errs, err)
		}
	}

	n, err := s.sessions.DeactivateAll(ctx, userID, except, now)
	if err != nil {
		errs = append(errs, s.infra(ctx, "session_store", err))
	}
	ended := int(n)

	evt := events.New(events.LoggedOutAll, now)
	evt.UserID = userID
	evt.Metadata = map[string]string{"sessions": fmt.Sprint(ended)}
	if except != nil {
		evt.SessionID = except.String()
	}
	s.emit(ctx, evt)

	s.logger.InfoContext(ctx, "Logged out all sessions", "user_id", userID, "ended", ended)

	if len(errs) > 0 {
		return ended, errors.Join(errs...)
	}
	return ended, nil
}

// terminate revokes both token ids and deactivates the row. A revocation
// failure does not stop the deactivation.
func (s *Service) terminate(ctx context.Context, sess *session.Session, typ events.Type) error {
	now := s.now()
	revokeErr := s.revokeSession(ctx, sess, now)

	var deactivateErr error
	if err := s.sessions.Deactivate(ctx, sess.ID, now); err != nil && !errors.Is(err, session.ErrNotFound) {
		deactivateErr = s.infra(ctx, "session_store", err)
	}

	s.emit(ctx, s.event(typ, now, sess))
	return errors.Join(revokeErr, deactivateErr)
}

func (s *Service) revokeSession(ctx context.Context, sess *session.Session, now time.Time) error {
	err := errors.Join(
		s.revoke(ctx, sess.AccessID, sess.AccessExpiresAt.Sub(now)),
		s.revoke(ctx, sess.RefreshID, sess.RefreshExpiresAt.Sub(now)),
	)
	if err != nil {
		return s.infra(ctx, "revocation", err)
	}
	return nil
}

// revoke skips ids that have already expired
func (s *Service) revoke(ctx context.Context, id string, ttl time.Duration) error {
	if id == "" || ttl <= 0 {
		return nil
	}
	if err := s.revocations.Revoke(ctx, id, ttl); err != nil {
		return err
	}
	s.metrics.Revoked(1)
	return nil
}

// Authenticate validates an access token for a protected request
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*Identity, error) {
	claims, err := s.codec.Verify(accessToken, token.TypeAccess)
	if err != nil {
		return nil, err
	}

	revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, s.infra(ctx, "revocation", err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}

	identity := &Identity{
		UserID:    claims.Subject,
		TenantID:  claims.TenantID,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt,
	}

	sess, err := s.sessions.FindByAccessID(ctx, claims.ID)
	switch {
	case err == nil:
		identity.SessionID = sess.ID
		if err := s.sessions.Touch(ctx, sess.ID, s.now()); err != nil {
			s.logger.DebugContext(ctx, "Failed to touch session", "session_id", sess.ID, "error", err)
		}
	case !errors.Is(err, session.ErrNotFound):
		s.logger.DebugContext(ctx, "Session lookup failed", "token_id", claims.ID, "error", err)
	}

	return identity, nil
}

// ListSessions returns the user's active sessions
func (s *Service) ListSessions(ctx context.Context, userID string) ([]session.Session, error) {
	sessions, err := s.sessions.ListActive(ctx, userID)
	if err != nil {
		return nil, s.infra(ctx, "session_store", err)
	}
	return sessions, nil
}

// CheckLockout returns a *LockedError while identifier is locked
func (s *Service) CheckLockout(ctx context.Context, identifier string) error {
	locked, ttl, err := s.lockout.IsLocked(ctx, identifier)
	if err != nil {
		return s.infra(ctx, "lockout", err)
	}
	if locked {
		return &LockedError{Identifier: identifier, RetryAfter: ttl}
	}
	return nil
}

// RecordLoginFailure counts a failed credential check. The returned error is
// a *LockedError once the identifier is locked.
func (s *Service) RecordLoginFailure(ctx context.Context, identifier, ip string) (cache.LockoutResult, error) {
	res, err := s.lockout.RecordFailure(ctx, identifier)
	if err != nil {
		return res, s.infra(ctx, "lockout", err)
	}

	now := s.now()
	evt := events.New(events.LoginFailed, now)
	evt.IP = ip
	evt.Metadata = map[string]string{"identifier": identifier}
	s.emit(ctx, evt)

	if !res.Locked {
		return res, nil
	}

	if res.Triggered {
		s.metrics.Lockout()
		s.logger.WarnContext(ctx, "Account locked", "identifier", identifier, "ip", ip, "duration", res.LockoutTTL)
		evt := events.New(events.AccountLocked, now)
		evt.IP = ip
		evt.Metadata = map[string]string{"identifier": identifier}
		s.emit(ctx, evt)
	}
	return res, &LockedError{Identifier: identifier, RetryAfter: res.LockoutTTL}
}

func (s *Service) mintPair(userID, tenantID string) (TokenPair, token.Claims, token.Claims, error) {
	accessToken, access, err := s.codec.Mint(userID, tenantID, token.TypeAccess, s.policy.AccessTTL)
	if err != nil {
		return TokenPair{}, token.Claims{}, token.Claims{}, fmt.Errorf("mint access token: %w", err)
	}
	refreshToken, refresh, err := s.codec.Mint(userID, tenantID, token.TypeRefresh, s.policy.RefreshTTL)
	if err != nil {
		return TokenPair{}, token.Claims{}, token.Claims{}, fmt.Errorf("mint refresh token: %w", err)
	}
	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
		TokenType:        "Bearer",
	}, access, refresh, nil
}

func (s *Service) infra(ctx context.Context, component string, err error) error {
	s.metrics.InfrastructureError(component)
	s.logger.ErrorContext(ctx, "Backing store unavailable", "component", component, "error", err)
	return infraError(component, err)
}

func (s *Service) event(typ events.Type, at time.Time, sess *session.Session) events.Event {
	evt := events.New(typ, at)
	evt.UserID = sess.UserID
	evt.TenantID = sess.TenantID
	evt.SessionID = sess.ID.String()
	evt.IP = sess.IPAddress
	if typ == events.LoginSucceeded || typ == events.LoginSuspicious {
		evt.Reason = sess.SuspiciousReason
	}
	return evt
}

// emit publishes without letting a sink failure affect the caller
func (s *Service) emit(ctx context.Context, evt events.Event) {
	if err := s.events.Publish(ctx, evt); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish event", "type", string(evt.Type), "event_id", evt.ID, "error", err)
	}
}
