// Package testutil provides testing utilities and helpers for archiver tests.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/GriffinCanCode/moodlearchiver/internal/backend"
)

// MockClient is a mock implementation of backend.Client for testing.
type MockClient struct {
	mock.Mock
}

// GetToken mocks the GetToken method.
func (m *MockClient) GetToken(ctx context.Context, password string) (string, error) {
	args := m.Called(ctx, password)
	return args.String(0), args.Error(1)
}

// GetUserID mocks the GetUserID method.
func (m *MockClient) GetUserID(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// GetUserCourses mocks the GetUserCourses method.
func (m *MockClient) GetUserCourses(ctx context.Context) ([]backend.Course, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]backend.Course), args.Error(1)
}

// GetFilesForDownload mocks the GetFilesForDownload method.
func (m *MockClient) GetFilesForDownload(ctx context.Context, courses []backend.Course) error {
	args := m.Called(ctx, courses)
	return args.Error(0)
}

// DownloadFilesIntoZIP mocks the DownloadFilesIntoZIP method.
// Use ReportProgress in a Run hook to drive the callback.
func (m *MockClient) DownloadFilesIntoZIP(ctx context.Context, onProgress backend.ProgressFunc, filename string) (*backend.Archive, error) {
	args := m.Called(ctx, onProgress, filename)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*backend.Archive), args.Error(1)
}

// Authorize mocks the Authorize method.
func (m *MockClient) Authorize(token string, userID int64) {
	m.Called(token, userID)
}

// MockConnector is a mock implementation of backend.Connector for testing.
type MockConnector struct {
	mock.Mock
}

// Connect mocks the Connect method.
func (m *MockConnector) Connect(username, backendURL string) backend.Client {
	args := m.Called(username, backendURL)
	return args.Get(0).(backend.Client)
}

// NewMockConnector returns a connector that hands out client for any user.
func NewMockConnector(t *testing.T, client backend.Client) *MockConnector {
	t.Helper()
	m := new(MockConnector)
	m.On("Connect", mock.Anything, mock.Anything).Return(client).Maybe()
	return m
}

// ReportProgress returns a Run hook that feeds values to the progress
// callback passed to DownloadFilesIntoZIP.
func ReportProgress(values ...float64) func(mock.Arguments) {
	return func(args mock.Arguments) {
		onProgress := args.Get(1).(backend.ProgressFunc)
		for _, v := range values {
			onProgress(v)
		}
	}
}

// Courses returns a fixed set of enrolled courses.
func Courses() []backend.Course {
	return []backend.Course{
		{ID: 1, DisplayName: "Intro to CS", ShortName: "CS101", FullName: "Introduction to Computer Science"},
		{ID: 2, DisplayName: "Linear Algebra", ShortName: "MA201", FullName: "Linear Algebra and Applications"},
		{ID: 3, DisplayName: "Technical English", ShortName: "EN110", FullName: "Technical Communication in English"},
	}
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock stopped at now.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the current clock time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
