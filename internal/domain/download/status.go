package download

import "fmt"

// Status is the lifecycle state of a download job
type Status int

const (
	StatusIdle Status = iota
	StatusEnumerating
	StatusDownloading
	StatusPackaging
	StatusSucceeded
	StatusFailed
)

var statusNames = [...]string{
	StatusIdle:        "idle",
	StatusEnumerating: "enumerating",
	StatusDownloading: "downloading",
	StatusPackaging:   "packaging",
	StatusSucceeded:   "succeeded",
	StatusFailed:      "failed",
}

// String returns the string representation of the status
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// Active reports whether a job in this status is still running
func (s Status) Active() bool {
	return s == StatusEnumerating || s == StatusDownloading || s == StatusPackaging
}

// Terminal reports whether the status ends a job
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// MarshalText encodes the status by name
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name
func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown download status %q", text)
}
