package backend

import "context"

// Course is an enrolled course as listed by the LMS
type Course struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"displayname"`
	ShortName   string `json:"shortname"`
	FullName    string `json:"fullname"`
}

// ProgressFunc receives packaging progress on a 0-100 scale
type ProgressFunc func(percent float64)

// Archive is the packaged result of a bulk download
type Archive struct {
	Name    string   `json:"name"`
	Path    string   `json:"path"`
	Files   int      `json:"files"`
	Bytes   int64    `json:"bytes"`
	Digest  string   `json:"digest"`
	Skipped []string `json:"skipped,omitempty"`
}

// Client is a handle onto one user's LMS account.
//
// A handle starts unauthenticated. GetToken or Authorize install a credential,
// after which the remaining calls are valid. GetFilesForDownload must complete
// before DownloadFilesIntoZIP, which packages whatever the last enumeration found.
type Client interface {
	GetToken(ctx context.Context, password string) (string, error)
	GetUserID(ctx context.Context) (int64, error)
	GetUserCourses(ctx context.Context) ([]Course, error)
	GetFilesForDownload(ctx context.Context, courses []Course) error
	DownloadFilesIntoZIP(ctx context.Context, onProgress ProgressFunc, filename string) (*Archive, error)
	Authorize(token string, userID int64)
}

// Connector constructs client handles for a username on a backend
type Connector interface {
	Connect(username, backendURL string) Client
}

// ConnectorFunc adapts a function to Connector
type ConnectorFunc func(username, backendURL string) Client

// Connect calls f(username, backendURL)
func (f ConnectorFunc) Connect(username, backendURL string) Client {
	return f(username, backendURL)
}
