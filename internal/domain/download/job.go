package download

import (
	"slices"
	"time"

	"github.com/GriffinCanCode/moodlearchiver/internal/backend"
	"github.com/GriffinCanCode/moodlearchiver/internal/shared/id"
)

// Job is a snapshot of one bulk download
type Job struct {
	ID            id.JobID         `json:"id,omitempty"`
	Courses       []backend.Course `json:"courses,omitempty"`
	Progress      float64          `json:"progress"`
	Status        Status           `json:"status"`
	FailureReason string           `json:"failure_reason,omitempty"`
	Archive       *backend.Archive `json:"archive,omitempty"`
	StartedAt     time.Time        `json:"started_at,omitzero"`
	FinishedAt    time.Time        `json:"finished_at,omitzero"`
}

// clone returns a deep copy safe to hand to other goroutines
func (j Job) clone() Job {
	j.Courses = slices.Clone(j.Courses)
	if j.Archive != nil {
		archive := *j.Archive
		archive.Skipped = slices.Clone(archive.Skipped)
		j.Archive = &archive
	}
	return j
}
