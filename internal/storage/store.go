package storage

import "errors"

// ErrUnavailable is returned by stores that cannot reach their medium
var ErrUnavailable = errors.New("storage unavailable")

// Store is a flat string key space shared by the session and selection state.
//
// Implementations must make SetMany atomic: either every key is written or
// none is. Get reports ok=false for a missing key; a non-nil error means the
// medium itself could not be read.
type Store interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	SetMany(values map[string]string) error
	Delete(keys ...string) error
}
