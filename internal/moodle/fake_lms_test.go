package moodle

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/bytedance/sonic"
)

const (
	fakePassword = "secret"
	fakeToken    = "tok-123"
	fakeUserID   = 42
)

var pngHeader = "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01"

// fakeLMS serves the subset of the Moodle web service API the client uses
type fakeLMS struct {
	*httptest.Server
	files       map[string]string
	calls       atomic.Int64
	failContent atomic.Bool
}

func newFakeLMS(t *testing.T) *fakeLMS {
	t.Helper()
	lms := &fakeLMS{
		files: map[string]string{
			"/webservice/pluginfile.php/1/mod_resource/content/0/syllabus.pdf":   "%PDF-1.4\n%fake syllabus\n",
			"/webservice/pluginfile.php/1/mod_folder/content/0/slides/notes.txt": "lecture notes\n",
			"/webservice/pluginfile.php/1/mod_folder/content/0/README":           pngHeader,
			"/webservice/pluginfile.php/2/mod_assign/content/0/sheet1.txt":       "solve for x\n",
			"/webservice/pluginfile.php/2/mod_resource/content/0/recording.mp4":  "not really a video",
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/login/token.php", lms.token)
	mux.HandleFunc("/webservice/rest/server.php", lms.rest)
	mux.HandleFunc("/webservice/pluginfile.php/", lms.pluginfile)
	lms.Server = httptest.NewServer(mux)
	t.Cleanup(lms.Close)
	return lms
}

func (l *fakeLMS) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.Form.Get("service") != "moodle_mobile_app" {
		writeJSON(w, map[string]any{"error": "Web service is not available", "errorcode": "servicenotavailable"})
		return
	}
	if r.Form.Get("username") != "alice" || r.Form.Get("password") != fakePassword {
		writeJSON(w, map[string]any{
			"error":     "Invalid login, please try again",
			"errorcode": "invalidlogin",
		})
		return
	}
	writeJSON(w, map[string]any{"token": fakeToken, "privatetoken": nil})
}

func (l *fakeLMS) rest(w http.ResponseWriter, r *http.Request) {
	l.calls.Add(1)
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.Form.Get("moodlewsrestformat") != "json" {
		http.Error(w, "xml not supported here", http.StatusBadRequest)
		return
	}
	if r.Form.Get("wstoken") != fakeToken {
		writeJSON(w, map[string]any{
			"exception": "moodle_exception",
			"errorcode": "invalidtoken",
			"message":   "Invalid token - token not found",
		})
		return
	}

	switch r.Form.Get("wsfunction") {
	case "core_webservice_get_site_info":
		writeJSON(w, map[string]any{"userid": fakeUserID, "username": "alice", "sitename": "Test LMS"})
	case "core_enrol_get_users_courses":
		if r.Form.Get("userid") != "42" {
			writeJSON(w, map[string]any{"exception": "invalid_parameter_exception", "errorcode": "invalidparameter", "message": "Invalid parameter value detected"})
			return
		}
		writeJSON(w, []map[string]any{
			{"id": 1, "shortname": "CS101", "fullname": "Introduction to Computer Science", "displayname": "Intro to CS"},
			{"id": 2, "shortname": "MA201", "fullname": "Linear Algebra"},
		})
	case "core_course_get_contents":
		if l.failContent.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		l.contents(w, r.Form.Get("courseid"))
	default:
		writeJSON(w, map[string]any{"exception": "dml_missing_record_exception", "errorcode": "invalidrecord", "message": "Can't find data record in database table external_functions."})
	}
}

func (l *fakeLMS) contents(w http.ResponseWriter, courseID string) {
	base := l.URL + "/webservice/pluginfile.php/"
	switch courseID {
	case "1":
		writeJSON(w, []map[string]any{
			{"id": 10, "name": "General", "section": 0, "modules": []map[string]any{
				{"id": 100, "name": "Syllabus", "modname": "resource", "contents": []map[string]any{
					{"type": "file", "filename": "syllabus.pdf", "filepath": "/", "filesize": 24,
						"fileurl": l.URL + "/pluginfile.php/1/mod_resource/content/0/syllabus.pdf?forcedownload=1", "timemodified": 1714694400},
				}},
				{"id": 101, "name": "Course site", "modname": "url", "contents": []map[string]any{
					{"type": "url", "filename": "Course site", "fileurl": "https://example.org/"},
				}},
				{"id": 103, "name": "Announcements", "modname": "forum"},
			}},
			{"id": 11, "name": "Week 1: <b>Intro</b>", "section": 1, "modules": []map[string]any{
				{"id": 102, "name": "Lecture notes", "modname": "folder", "contents": []map[string]any{
					{"type": "file", "filename": "notes.txt", "filepath": "/slides/", "fileurl": base + "1/mod_folder/content/0/slides/notes.txt"},
					{"type": "file", "filename": "README", "filepath": "/", "fileurl": base + "1/mod_folder/content/0/README"},
				}},
			}},
		})
	case "2":
		writeJSON(w, []map[string]any{
			{"id": 20, "name": "", "section": 3, "modules": []map[string]any{
				{"id": 200, "name": "Sheet 1", "modname": "assign", "contents": []map[string]any{
					{"type": "file", "filename": "sheet1.txt", "filepath": "/", "fileurl": base + "2/mod_assign/content/0/sheet1.txt"},
				}},
				{"id": 201, "name": "Lecture recording", "modname": "resource", "contents": []map[string]any{
					{"type": "file", "filename": "recording.mp4", "filepath": "/", "fileurl": base + "2/mod_resource/content/0/recording.mp4"},
				}},
			}},
		})
	case "3":
		writeJSON(w, []map[string]any{
			{"id": 30, "name": "Broken", "section": 0, "modules": []map[string]any{
				{"id": 300, "name": "Gone", "modname": "resource", "contents": []map[string]any{
					{"type": "file", "filename": "gone.pdf", "filepath": "/", "fileurl": base + "3/mod_resource/content/0/gone.pdf"},
				}},
			}},
		})
	default:
		writeJSON(w, map[string]any{"exception": "moodle_exception", "errorcode": "invalidcourseid", "message": "You are trying to use an invalid course ID"})
	}
}

func (l *fakeLMS) pluginfile(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("token") != fakeToken {
		writeJSON(w, map[string]any{"error": "Invalid token - token not found", "errorcode": "invalidtoken"})
		return
	}
	body, ok := l.files[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	if strings.HasSuffix(r.URL.Path, ".pdf") {
		w.Header().Set("Content-Type", "application/pdf")
	}
	_, _ = w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}
