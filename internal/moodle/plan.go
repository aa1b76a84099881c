package moodle

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/moodlearchiver/internal/backend"
)

// section is one entry of core_course_get_contents
type section struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Number  int      `json:"section"`
	Modules []module `json:"modules"`
}

type module struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	ModName  string    `json:"modname"`
	Contents []content `json:"contents"`
}

type content struct {
	Type         string `json:"type"`
	FileName     string `json:"filename"`
	FilePath     string `json:"filepath"`
	FileSize     int64  `json:"filesize"`
	FileURL      string `json:"fileurl"`
	TimeModified int64  `json:"timemodified"`
	MimeType     string `json:"mimetype"`
}

// entry is one file to place in the archive
type entry struct {
	Path     string
	URL      string
	Size     int64
	Modified time.Time
}

// plan is the result of an enumeration
type plan struct {
	entries []entry
	skipped []string
}

// GetFilesForDownload lists every file of courses and keeps the result as
// the plan for the next DownloadFilesIntoZIP. Courses are fetched
// concurrently; the plan follows the order of courses.
func (c *Client) GetFilesForDownload(ctx context.Context, courses []backend.Course) error {
	contents := make([][]section, len(courses))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(c.opts.Concurrency, 1))
	for i, course := range courses {
		g.Go(func() error {
			params := map[string]string{"courseid": strconv.FormatInt(course.ID, 10)}
			return c.call(gctx, "core_course_get_contents", params, &contents[i])
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	p, err := c.buildPlan(courses, contents)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.plan = p
	c.mu.Unlock()

	c.logger.Info("Files enumerated",
		zap.Int("courses", len(courses)),
		zap.Int("files", len(p.entries)),
		zap.Int("skipped", len(p.skipped)),
	)
	return nil
}

func (c *Client) buildPlan(courses []backend.Course, contents [][]section) (*plan, error) {
	p := &plan{entries: []entry{}}
	paths := make(uniquePaths)

	for i, course := range courses {
		courseDir := segment(course.ShortName, fmt.Sprintf("course-%d", course.ID))
		for _, sec := range contents[i] {
			sectionDir := segment(sec.Name, fmt.Sprintf("section-%d", sec.Number))
			for _, mod := range sec.Modules {
				moduleDir := segment(mod.Name, fmt.Sprintf("%s-%d", mod.ModName, mod.ID))
				for _, file := range mod.Contents {
					if file.Type != "file" || file.FileURL == "" {
						continue
					}
					parts := []string{courseDir, sectionDir, moduleDir}
					parts = append(parts, folderSegments(file.FilePath)...)
					parts = append(parts, segment(file.FileName, "file"))
					archivePath := path.Join(parts...)

					excluded, err := c.excluded(archivePath)
					if err != nil {
						return nil, err
					}
					if excluded {
						p.skipped = append(p.skipped, archivePath)
						continue
					}

					var modified time.Time
					if file.TimeModified > 0 {
						modified = time.Unix(file.TimeModified, 0).UTC()
					}
					p.entries = append(p.entries, entry{
						Path:     paths.claim(archivePath),
						URL:      file.FileURL,
						Size:     file.FileSize,
						Modified: modified,
					})
				}
			}
		}
	}
	return p, nil
}

func (c *Client) excluded(archivePath string) (bool, error) {
	for _, pattern := range c.exclude {
		matched, err := doublestar.Match(pattern, archivePath)
		if err != nil {
			return false, fmt.Errorf("exclude pattern %q: %w", pattern, err)
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}
