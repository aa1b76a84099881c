package download

import (
	"encoding/base64"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/moodlearchiver/internal/backend"
)

// SelectionKey is the storage key of the remembered selection
const SelectionKey = "selectedcoursesids"

// Selection is an ordered set of course identifiers
type Selection []string

// CourseKey normalizes a course id to its selection form
func CourseKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// Contains reports whether id is selected
func (s Selection) Contains(id string) bool {
	return slices.Contains(s, id)
}

// Equal compares two selections as sets
func (s Selection) Equal(other Selection) bool {
	if len(s) != len(other) {
		return false
	}
	for _, id := range s {
		if !other.Contains(id) {
			return false
		}
	}
	return true
}

// Toggle adds id when absent and removes it when present
func Toggle(sel Selection, id string) Selection {
	if i := slices.Index(sel, id); i >= 0 {
		return slices.Delete(slices.Clone(sel), i, i+1)
	}
	return append(slices.Clone(sel), id)
}

// SelectAllFiltered adds every course of the filtered view to sel.
// Ids outside the view are kept.
func SelectAllFiltered(sel Selection, filtered []backend.Course) Selection {
	out := slices.Clone(sel)
	for _, course := range filtered {
		key := CourseKey(course.ID)
		if !out.Contains(key) {
			out = append(out, key)
		}
	}
	if out == nil {
		out = Selection{}
	}
	return out
}

// ClearSelection returns the empty selection
func ClearSelection() Selection {
	return Selection{}
}

// Filter returns the courses whose display, short, or full name contains
// query, ignoring case. An empty query keeps every course.
func Filter(courses []backend.Course, query string) []backend.Course {
	if query == "" {
		return slices.Clone(courses)
	}
	q := strings.ToLower(query)
	out := make([]backend.Course, 0, len(courses))
	for _, course := range courses {
		if strings.Contains(strings.ToLower(course.DisplayName), q) ||
			strings.Contains(strings.ToLower(course.ShortName), q) ||
			strings.Contains(strings.ToLower(course.FullName), q) {
			out = append(out, course)
		}
	}
	return out
}

// SelectedCourses returns the selected courses in course-list order
func SelectedCourses(courses []backend.Course, sel Selection) []backend.Course {
	out := make([]backend.Course, 0, len(sel))
	for _, course := range courses {
		if sel.Contains(CourseKey(course.ID)) {
			out = append(out, course)
		}
	}
	return out
}

// ArchiveName builds "{short1}_{short2}_..._{YYYY-MM-DD}.zip" from the
// UTC calendar date of day.
func ArchiveName(courses []backend.Course, day time.Time) string {
	var b strings.Builder
	for _, course := range courses {
		b.WriteString(course.ShortName)
		b.WriteByte('_')
	}
	b.WriteString(day.UTC().Format(time.DateOnly))
	b.WriteString(".zip")
	return b.String()
}

// EncodeSelection renders sel as base64 of a JSON string array
func EncodeSelection(sel Selection) (string, error) {
	if sel == nil {
		sel = Selection{}
	}
	raw, err := sonic.Marshal([]string(sel))
	if err != nil {
		return "", fmt.Errorf("failed to encode selection: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeSelection parses the output of EncodeSelection
func DecodeSelection(encoded string) (Selection, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode selection: %w", err)
	}
	var ids []string
	if err := sonic.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("failed to decode selection: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return Selection(ids), nil
}
