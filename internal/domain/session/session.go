package session

import (
	"time"

	"github.com/GriffinCanCode/moodlearchiver/internal/backend"
)

// Persisted key names. They match the keys written by earlier releases so
// existing state files keep working.
const (
	TokenKey    = "moodle_auth_token"
	UserDataKey = "moodle_user_data"
	ExpiryKey   = "moodle_token_expiry"
)

// Validity is how long a stored session is honoured after it was issued
const Validity = 90 * 24 * time.Hour

// Session is one authenticated identity
type Session struct {
	Username   string    `json:"username"`
	BackendURL string    `json:"backend"`
	Token      string    `json:"-"`
	UserID     int64     `json:"userid"`
	IssuedAt   time.Time `json:"issued_at"`
}

// Handle binds a Session to a live backend client. The Session is a value
// copy; holders of a Handle cannot change what the Store persisted.
type Handle struct {
	Session Session
	Client  backend.Client
}

// State is the session lifecycle state
type State int

const (
	StateAbsent State = iota
	StateActive
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// userData is the persisted profile document
type userData struct {
	Username  string `json:"username"`
	Backend   string `json:"backend"`
	Token     string `json:"token"`
	UserID    int64  `json:"userid"`
	Timestamp int64  `json:"timestamp"`
}

func (u userData) complete() bool {
	return u.Username != "" && u.Backend != "" && u.Token != "" && u.UserID > 0 && u.Timestamp > 0
}

func (u userData) session() Session {
	return Session{
		Username:   u.Username,
		BackendURL: u.Backend,
		Token:      u.Token,
		UserID:     u.UserID,
		IssuedAt:   time.UnixMilli(u.Timestamp).UTC(),
	}
}
