package moodle

import (
	"fmt"
	"html"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const maxSegmentLen = 120

var stripTags = bluemonday.StrictPolicy()

// segment turns an LMS name into a single archive path element. Section
// and module names may carry HTML markup; it is dropped, along with
// characters that are not portable in file names.
func segment(name, fallback string) string {
	text := html.UnescapeString(stripTags.Sanitize(name))
	text = strings.Map(func(r rune) rune {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r), unicode.IsControl(r):
			return ' '
		}
		return r
	}, text)
	text = strings.Join(strings.Fields(text), " ")
	text = strings.Trim(text, ". ")

	if len(text) > maxSegmentLen {
		cut := maxSegmentLen
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = strings.TrimRight(text[:cut], ". ")
	}
	if text == "" {
		return fallback
	}
	return text
}

// folderSegments splits a Moodle filepath such as "/slides/week 1/" into
// sanitized elements
func folderSegments(filepath string) []string {
	var out []string
	for _, part := range strings.Split(filepath, "/") {
		if part == "" {
			continue
		}
		if s := segment(part, ""); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// uniquePaths hands out archive paths, numbering repeats as "name (2).ext"
type uniquePaths map[string]int

func (u uniquePaths) claim(p string) string {
	n := u[p]
	u[p] = n + 1
	if n == 0 {
		return p
	}
	ext := path.Ext(p)
	stem := strings.TrimSuffix(p, ext)
	for {
		n++
		candidate := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		if u[candidate] == 0 {
			u[candidate] = 1
			return candidate
		}
	}
}
