package moodle

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/moodlearchiver/internal/backend"
	"github.com/GriffinCanCode/moodlearchiver/internal/shared/digest"
)

func testOptions(t *testing.T) Options {
	t.Helper()
	opts := DefaultOptions()
	opts.Retries = 0
	opts.RequestsPerSecond = 0
	opts.OutputDir = t.TempDir()
	opts.Exclude = []string{"**/*.mp4"}
	return opts
}

func loggedIn(t *testing.T, lms *fakeLMS, opts Options) *Client {
	t.Helper()
	c := NewClient("alice", lms.URL, opts, nil)
	_, err := c.GetToken(context.Background(), fakePassword)
	require.NoError(t, err)
	return c
}

type progressLog struct {
	mu     sync.Mutex
	values []float64
}

func (p *progressLog) record(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, v)
}

func TestGetToken(t *testing.T) {
	lms := newFakeLMS(t)
	c := NewClient("alice", lms.URL, testOptions(t), nil)

	token, err := c.GetToken(context.Background(), fakePassword)
	require.NoError(t, err)
	assert.Equal(t, fakeToken, token)
}

func TestGetTokenInvalidLogin(t *testing.T) {
	lms := newFakeLMS(t)
	c := NewClient("alice", lms.URL, testOptions(t), nil)

	_, err := c.GetToken(context.Background(), "wrong")
	require.Error(t, err)
	assert.Equal(t, "Invalid login, please try again", err.Error())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "invalidlogin", apiErr.Code)
}

func TestGetTokenUnreachableBackend(t *testing.T) {
	lms := newFakeLMS(t)
	url := lms.URL
	lms.Close()

	c := NewClient("alice", url, testOptions(t), nil)
	_, err := c.GetToken(context.Background(), fakePassword)
	assert.Error(t, err)
}

func TestInvalidBackendURL(t *testing.T) {
	for _, raw := range []string{"", "lms.example.edu", "ftp://lms.example.edu/", "://"} {
		c := NewClient("alice", raw, testOptions(t), nil)
		_, err := c.GetToken(context.Background(), fakePassword)
		assert.Error(t, err, "backend %q", raw)
	}
}

func TestBackendURLWithSubpath(t *testing.T) {
	base, err := parseBackend("https://lms.example.edu/moodle")
	require.NoError(t, err)

	c := &Client{base: base}
	assert.Equal(t, "https://lms.example.edu/moodle/login/token.php", c.endpoint(tokenPath))
	assert.Equal(t, "https://lms.example.edu/moodle/webservice/rest/server.php", c.endpoint(restPath))
}

func TestGetUserID(t *testing.T) {
	lms := newFakeLMS(t)
	c := loggedIn(t, lms, testOptions(t))

	userID, err := c.GetUserID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(fakeUserID), userID)
}

func TestGetUserIDRejectedToken(t *testing.T) {
	lms := newFakeLMS(t)
	c := NewClient("alice", lms.URL, testOptions(t), nil)
	c.Authorize("revoked", 42)

	_, err := c.GetUserID(context.Background())
	require.Error(t, err)
	assert.Equal(t, "Invalid token - token not found", err.Error())
	assert.True(t, IsInvalidToken(err))
}

func TestCallWithoutToken(t *testing.T) {
	lms := newFakeLMS(t)
	c := NewClient("alice", lms.URL, testOptions(t), nil)

	_, err := c.GetUserID(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Zero(t, lms.calls.Load())
}

func TestGetUserCourses(t *testing.T) {
	lms := newFakeLMS(t)
	c := loggedIn(t, lms, testOptions(t))

	courses, err := c.GetUserCourses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []backend.Course{
		{ID: 1, ShortName: "CS101", FullName: "Introduction to Computer Science", DisplayName: "Intro to CS"},
		{ID: 2, ShortName: "MA201", FullName: "Linear Algebra", DisplayName: "Linear Algebra"},
	}, courses)
}

func TestGetUserCoursesWithAuthorizedToken(t *testing.T) {
	lms := newFakeLMS(t)
	c := NewClient("alice", lms.URL, testOptions(t), nil)
	c.Authorize(fakeToken, fakeUserID)

	courses, err := c.GetUserCourses(context.Background())
	require.NoError(t, err)
	assert.Len(t, courses, 2)
	assert.Equal(t, int64(1), lms.calls.Load(), "user id should not be looked up again")
}

func TestDownloadArchive(t *testing.T) {
	lms := newFakeLMS(t)
	opts := testOptions(t)
	c := loggedIn(t, lms, opts)

	courses := []backend.Course{{ID: 1, ShortName: "CS101"}, {ID: 2, ShortName: "MA201"}}
	require.NoError(t, c.GetFilesForDownload(context.Background(), courses))

	progress := &progressLog{}
	archive, err := c.DownloadFilesIntoZIP(context.Background(), progress.record, "CS101_MA201_2024-05-03.zip")
	require.NoError(t, err)

	assert.Equal(t, []float64{25, 50, 75, 100}, progress.values)
	assert.Equal(t, "CS101_MA201_2024-05-03.zip", archive.Name)
	assert.Equal(t, filepath.Join(opts.OutputDir, archive.Name), archive.Path)
	assert.Equal(t, 4, archive.Files)
	assert.Equal(t, []string{"MA201/section-3/Lecture recording/recording.mp4"}, archive.Skipped)

	info, err := os.Stat(archive.Path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), archive.Bytes)

	sum, err := digest.File(archive.Path, digest.BLAKE2b)
	require.NoError(t, err)
	assert.Equal(t, sum, archive.Digest)

	contents := readZip(t, archive.Path)
	assert.Equal(t, map[string]string{
		"CS101/General/Syllabus/syllabus.pdf":               "%PDF-1.4\n%fake syllabus\n",
		"CS101/Week 1 Intro/Lecture notes/slides/notes.txt": "lecture notes\n",
		"CS101/Week 1 Intro/Lecture notes/README.png":       pngHeader,
		"MA201/section-3/Sheet 1/sheet1.txt":                "solve for x\n",
	}, contents)

	entries, err := os.ReadDir(opts.OutputDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestDownloadEmptyPlan(t *testing.T) {
	lms := newFakeLMS(t)
	opts := testOptions(t)
	opts.Exclude = []string{"**"}
	c := loggedIn(t, lms, opts)

	require.NoError(t, c.GetFilesForDownload(context.Background(), []backend.Course{{ID: 2, ShortName: "MA201"}}))

	progress := &progressLog{}
	archive, err := c.DownloadFilesIntoZIP(context.Background(), progress.record, "MA201_2024-05-03.zip")
	require.NoError(t, err)
	assert.Equal(t, []float64{100}, progress.values)
	assert.Equal(t, 0, archive.Files)
	assert.Len(t, archive.Skipped, 2)
	assert.Empty(t, readZip(t, archive.Path))
}

func TestDownloadWithoutPlan(t *testing.T) {
	lms := newFakeLMS(t)
	c := loggedIn(t, lms, testOptions(t))

	_, err := c.DownloadFilesIntoZIP(context.Background(), nil, "x.zip")
	assert.ErrorIs(t, err, ErrNoPlan)
}

func TestDownloadMissingFileLeavesNothing(t *testing.T) {
	lms := newFakeLMS(t)
	opts := testOptions(t)
	c := loggedIn(t, lms, opts)

	require.NoError(t, c.GetFilesForDownload(context.Background(), []backend.Course{{ID: 3, ShortName: "BRK"}}))

	_, err := c.DownloadFilesIntoZIP(context.Background(), nil, "BRK_2024-05-03.zip")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BRK/Broken/Gone/gone.pdf")
	assert.Contains(t, err.Error(), "404")
	assert.NotContains(t, err.Error(), fakeToken)

	entries, err := os.ReadDir(opts.OutputDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDownloadRejectedFileToken(t *testing.T) {
	lms := newFakeLMS(t)
	c := loggedIn(t, lms, testOptions(t))
	require.NoError(t, c.GetFilesForDownload(context.Background(), []backend.Course{{ID: 2, ShortName: "MA201"}}))

	c.Authorize("revoked", fakeUserID)
	_, err := c.DownloadFilesIntoZIP(context.Background(), nil, "MA201.zip")
	require.Error(t, err)
	assert.True(t, IsInvalidToken(err))
}

func TestGetFilesForDownloadErrors(t *testing.T) {
	lms := newFakeLMS(t)
	c := loggedIn(t, lms, testOptions(t))

	err := c.GetFilesForDownload(context.Background(), []backend.Course{{ID: 1}, {ID: 99}})
	require.Error(t, err)
	assert.Equal(t, "You are trying to use an invalid course ID", err.Error())

	lms.failContent.Store(true)
	err = c.GetFilesForDownload(context.Background(), []backend.Course{{ID: 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestGetFilesForDownloadReplacesPlan(t *testing.T) {
	lms := newFakeLMS(t)
	c := loggedIn(t, lms, testOptions(t))

	require.NoError(t, c.GetFilesForDownload(context.Background(), []backend.Course{{ID: 1, ShortName: "CS101"}}))
	require.NoError(t, c.GetFilesForDownload(context.Background(), []backend.Course{{ID: 2, ShortName: "MA201"}}))

	archive, err := c.DownloadFilesIntoZIP(context.Background(), nil, "MA201_2024-05-03")
	require.NoError(t, err)
	assert.Equal(t, "MA201_2024-05-03.zip", archive.Name)
	assert.Equal(t, 1, archive.Files)
}

func TestArchiveFileName(t *testing.T) {
	for _, bad := range []string{"", "..", "../x.zip", `a\b.zip`, "dir/x.zip"} {
		_, err := archiveFileName(bad)
		assert.Error(t, err, "name %q", bad)
	}
	name, err := archiveFileName("CS101_2024-05-03.zip")
	require.NoError(t, err)
	assert.Equal(t, "CS101_2024-05-03.zip", name)
}

func TestFileURL(t *testing.T) {
	c := &Client{}
	got, err := c.fileURL("https://lms.example.edu/pluginfile.php/5/mod_resource/content/1/a.pdf?forcedownload=1", "tok")
	require.NoError(t, err)
	assert.Equal(t, "https://lms.example.edu/webservice/pluginfile.php/5/mod_resource/content/1/a.pdf?forcedownload=1&token=tok", got)

	got, err = c.fileURL("https://lms.example.edu/webservice/pluginfile.php/5/a.pdf", "tok")
	require.NoError(t, err)
	assert.Equal(t, "https://lms.example.edu/webservice/pluginfile.php/5/a.pdf?token=tok", got)
}

func TestAPIError(t *testing.T) {
	assert.Nil(t, decodeException("f", []byte(`[{"id":1}]`)))
	assert.Nil(t, decodeException("f", []byte(`{"userid":1}`)))
	assert.Nil(t, decodeException("f", []byte(``)))

	err := decodeException("f", []byte(`{"exception":"moodle_exception","errorcode":"accessexception","message":"Access control exception"}`))
	require.Error(t, err)
	assert.Equal(t, "Access control exception", err.Error())
	assert.True(t, IsInvalidToken(err))

	assert.False(t, IsInvalidToken(errors.New("invalidtoken")))
	assert.Equal(t, "nomessage", (&APIError{Code: "nomessage"}).Error())
}

func readZip(t *testing.T, path string) map[string]string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	out := make(map[string]string)
	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)
		var b bytes.Buffer
		_, err = b.ReadFrom(rc)
		rc.Close()
		require.NoError(t, err)
		out[f.Name] = b.String()
	}
	return out
}
