package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/moodlearchiver/internal/backend"
	"github.com/GriffinCanCode/moodlearchiver/internal/infrastructure/logging"
	"github.com/GriffinCanCode/moodlearchiver/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/moodlearchiver/internal/storage"
)

// ErrNoSession is returned by operations that need an active session
var ErrNoSession = errors.New("no active session")

// Store owns the persisted session and its lifecycle:
// Absent -> (login) -> Active -> (logout | expiry | failed validation) -> Absent.
type Store struct {
	kv        storage.Store
	connector backend.Connector
	logger    *logging.Logger
	metrics   *monitoring.Metrics
	now       func() time.Time

	mu      sync.Mutex
	current *Handle
}

// NewStore creates a session store over kv
func NewStore(kv storage.Store, connector backend.Connector, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Store{
		kv:        kv,
		connector: connector,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the time source
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// WithMetrics attaches a metrics collector
func (s *Store) WithMetrics(metrics *monitoring.Metrics) *Store {
	s.metrics = metrics
	return s
}

// Save persists a fresh record issued now and valid for Validity. The token,
// profile and expiry are written in one storage operation.
func (s *Store) Save(username, backendURL, token string, userID int64) error {
	_, err := s.save(username, backendURL, token, userID)
	return err
}

func (s *Store) save(username, backendURL, token string, userID int64) (Session, error) {
	issuedAt := s.now().UTC().Truncate(time.Millisecond)
	expiresAt := issuedAt.Add(Validity)

	data := userData{
		Username:  username,
		Backend:   backendURL,
		Token:     token,
		UserID:    userID,
		Timestamp: issuedAt.UnixMilli(),
	}
	encoded, err := sonic.Marshal(data)
	if err != nil {
		return Session{}, fmt.Errorf("failed to encode session: %w", err)
	}

	err = s.kv.SetMany(map[string]string{
		TokenKey:    token,
		UserDataKey: string(encoded),
		ExpiryKey:   strconv.FormatInt(expiresAt.UnixMilli(), 10),
	})
	if err != nil {
		return Session{}, fmt.Errorf("failed to persist session: %w", err)
	}
	return data.session(), nil
}

// Load reads the persisted session. Expired, partial, or unreadable records
// are cleared and reported as absent.
func (s *Store) Load() (*Session, bool) {
	token, hasToken, errToken := s.kv.Get(TokenKey)
	raw, hasData, errData := s.kv.Get(UserDataKey)
	expiry, hasExpiry, errExpiry := s.kv.Get(ExpiryKey)

	if err := errors.Join(errToken, errData, errExpiry); err != nil {
		s.logger.Warn("Stored session unreadable", zap.Error(err))
		s.Clear()
		return nil, false
	}
	if !hasToken && !hasData && !hasExpiry {
		return nil, false
	}
	if !hasToken || !hasData || !hasExpiry {
		s.logger.Warn("Stored session incomplete, discarding",
			zap.Bool("token", hasToken),
			zap.Bool("user_data", hasData),
			zap.Bool("expiry", hasExpiry),
		)
		s.Clear()
		return nil, false
	}

	expiresAt, err := parseMillis(expiry)
	if err != nil {
		s.logger.Warn("Stored session expiry unparsable", zap.Error(err))
		s.Clear()
		return nil, false
	}
	if s.now().After(expiresAt) {
		s.logger.Info("Stored session expired", zap.Time("expired_at", expiresAt))
		s.Clear()
		return nil, false
	}

	var data userData
	if err := sonic.UnmarshalString(raw, &data); err != nil {
		s.logger.Warn("Stored session profile unparsable", zap.Error(err))
		s.Clear()
		return nil, false
	}
	if !data.complete() || data.Token != token {
		s.logger.Warn("Stored session inconsistent, discarding")
		s.Clear()
		return nil, false
	}

	sess := data.session()
	return &sess, true
}

// Clear removes every persisted session key. It never fails; storage errors
// are logged because there is nothing the caller could do about them.
func (s *Store) Clear() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()

	if err := s.kv.Delete(TokenKey, UserDataKey, ExpiryKey); err != nil {
		s.logger.Error("Failed to clear stored session", zap.Error(err))
	}
	s.metrics.SetSessionActive(false)
	s.metrics.IncSessionsCleared()
}

// RestoreAndValidate loads the persisted session and confirms with the
// backend that its token is still accepted. Any failure leaves the store
// Absent; a token rejected by the backend is also cleared from storage.
func (s *Store) RestoreAndValidate(ctx context.Context) (*Handle, bool) {
	sess, ok := s.Load()
	if !ok {
		s.metrics.RecordRestore("absent")
		return nil, false
	}

	client := s.connector.Connect(sess.Username, sess.BackendURL)
	client.Authorize(sess.Token, sess.UserID)

	if _, err := client.GetUserID(ctx); err != nil {
		if ctx.Err() != nil {
			// Interrupted, not rejected: keep the record for the next start
			s.logger.Info("Session validation interrupted", zap.Error(ctx.Err()))
			s.metrics.RecordRestore("interrupted")
			return nil, false
		}
		s.logger.Info("Stored session rejected by backend",
			zap.String("username", sess.Username),
			zap.String("backend", sess.BackendURL),
			zap.Error(err),
		)
		s.Clear()
		s.metrics.RecordRestore("invalid")
		return nil, false
	}

	handle := &Handle{Session: *sess, Client: client}
	s.activate(handle)
	s.metrics.RecordRestore("restored")
	s.logger.Info("Session restored",
		zap.String("username", sess.Username),
		zap.String("backend", sess.BackendURL),
		zap.Int("remaining_days", s.RemainingDays()),
	)
	return handle, true
}

// Login exchanges credentials for a token and persists the new session.
// Backend errors are returned unchanged.
func (s *Store) Login(ctx context.Context, username, password, backendURL string) (*Handle, error) {
	client := s.connector.Connect(username, backendURL)

	token, err := client.GetToken(ctx, password)
	if err != nil {
		s.metrics.RecordLogin("failure")
		return nil, err
	}
	userID, err := client.GetUserID(ctx)
	if err != nil {
		s.metrics.RecordLogin("failure")
		return nil, err
	}

	// A new login always starts from Absent
	if _, active := s.Current(); active {
		s.Clear()
	}

	sess, err := s.save(username, backendURL, token, userID)
	if err != nil {
		s.metrics.RecordLogin("failure")
		return nil, err
	}

	handle := &Handle{Session: sess, Client: client}
	s.activate(handle)
	s.metrics.RecordLogin("success")
	s.logger.Info("Logged in",
		zap.String("username", username),
		zap.String("backend", backendURL),
		zap.Int64("user_id", userID),
	)
	return handle, nil
}

// Logout clears the session
func (s *Store) Logout() {
	s.Clear()
	s.logger.Info("Logged out")
}

// Extend re-stamps the expiry of the persisted session to now + Validity.
// The backend has no refresh endpoint, so the token itself is unchanged.
func (s *Store) Extend() error {
	if _, ok := s.Load(); !ok {
		return ErrNoSession
	}
	expiresAt := s.now().UTC().Truncate(time.Millisecond).Add(Validity)
	if err := s.kv.Set(ExpiryKey, strconv.FormatInt(expiresAt.UnixMilli(), 10)); err != nil {
		return fmt.Errorf("failed to extend session: %w", err)
	}
	return nil
}

// ExpiresAt returns the persisted expiry, if any
func (s *Store) ExpiresAt() (time.Time, bool) {
	raw, ok, err := s.kv.Get(ExpiryKey)
	if err != nil || !ok {
		return time.Time{}, false
	}
	expiresAt, err := parseMillis(raw)
	if err != nil {
		return time.Time{}, false
	}
	return expiresAt, true
}

// RemainingDays returns whole days until expiry, rounded up, never negative
func (s *Store) RemainingDays() int {
	expiresAt, ok := s.ExpiresAt()
	if !ok {
		return 0
	}
	left := expiresAt.Sub(s.now())
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(float64(left) / float64(24*time.Hour)))
}

// Current returns the active handle. The persisted record is read again on
// every call: once it has expired, been cleared by another process, or been
// replaced by a different login, the handle is dropped and the store is Absent.
func (s *Store) Current() (*Handle, bool) {
	s.mu.Lock()
	handle := s.current
	s.mu.Unlock()
	if handle == nil {
		return nil, false
	}

	sess, ok := s.Load()
	if !ok || sess.Token != handle.Session.Token {
		s.deactivate(handle)
		return nil, false
	}
	return handle, true
}

// State reports whether a session is active
func (s *Store) State() State {
	if _, ok := s.Current(); ok {
		return StateActive
	}
	return StateAbsent
}

func (s *Store) activate(handle *Handle) {
	s.mu.Lock()
	s.current = handle
	s.mu.Unlock()
	s.metrics.SetSessionActive(true)
}

// deactivate drops handle if it is still the current one. Storage is left
// alone; it may hold another login's record.
func (s *Store) deactivate(handle *Handle) {
	s.mu.Lock()
	dropped := s.current == handle
	if dropped {
		s.current = nil
	}
	s.mu.Unlock()

	if dropped {
		s.metrics.SetSessionActive(false)
		s.logger.Info("Session no longer valid in storage",
			zap.String("username", handle.Session.Username),
		)
	}
}

func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
