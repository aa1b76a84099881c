package download

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/moodlearchiver/internal/backend"
	"github.com/GriffinCanCode/moodlearchiver/internal/domain/session"
	"github.com/GriffinCanCode/moodlearchiver/internal/infrastructure/logging"
	"github.com/GriffinCanCode/moodlearchiver/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/moodlearchiver/internal/shared/id"
	"github.com/GriffinCanCode/moodlearchiver/internal/storage"
)

var (
	// ErrNothingSelected is returned when a download names no courses
	ErrNothingSelected = errors.New("no courses selected")

	// ErrJobActive is returned when a download is requested while one runs
	ErrJobActive = errors.New("a download is already in progress")
)

const subscriberBuffer = 32

// Orchestrator runs download jobs, one at a time, against a session's client
type Orchestrator struct {
	kv      storage.Store
	logger  *logging.Logger
	metrics *monitoring.Metrics
	ids     *id.Generator
	now     func() time.Time

	mu   sync.Mutex
	job  Job                   // Protected by mu
	subs map[chan Job]struct{} // Protected by mu
}

// NewOrchestrator creates an orchestrator that remembers selections in kv
func NewOrchestrator(kv storage.Store, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		kv:     kv,
		logger: logger,
		ids:    id.Default(),
		now:    time.Now,
		subs:   make(map[chan Job]struct{}),
	}
}

// WithMetrics adds metrics tracking to the orchestrator
func (o *Orchestrator) WithMetrics(metrics *monitoring.Metrics) *Orchestrator {
	o.metrics = metrics
	return o
}

// WithClock replaces the time source used for job timestamps and archive names
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// WithIDGenerator replaces the job id generator
func (o *Orchestrator) WithIDGenerator(ids *id.Generator) *Orchestrator {
	o.ids = ids
	return o
}

// LoadCourses lists the courses of the session's user, resolving the user
// id first when the handle does not carry one.
func (o *Orchestrator) LoadCourses(ctx context.Context, handle *session.Handle) ([]backend.Course, error) {
	if handle == nil {
		return nil, session.ErrNoSession
	}
	if handle.Session.UserID == 0 {
		if _, err := handle.Client.GetUserID(ctx); err != nil {
			return nil, err
		}
	}
	courses, err := handle.Client.GetUserCourses(ctx)
	if err != nil {
		return nil, err
	}
	o.logger.Debug("Courses loaded",
		zap.String("username", handle.Session.Username),
		zap.Int("count", len(courses)),
	)
	return courses, nil
}

// Download enumerates and packages the files of courses. Progress values
// from the client are passed to onProgress unchanged, followed by a final 0
// once the job has reached a terminal state. Client errors are returned as is.
func (o *Orchestrator) Download(ctx context.Context, handle *session.Handle, courses []backend.Course, onProgress backend.ProgressFunc) (archive *backend.Archive, err error) {
	if len(courses) == 0 {
		return nil, ErrNothingSelected
	}
	if handle == nil {
		return nil, session.ErrNoSession
	}

	job, err := o.start(courses)
	if err != nil {
		return nil, err
	}
	name := ArchiveName(courses, job.StartedAt)

	logger := o.logger.With(zap.String("job_id", job.ID.String()))
	logger.Info("Download started",
		zap.Int("courses", len(courses)),
		zap.String("archive", name),
	)

	defer func() {
		o.finish(archive, err)
		if err != nil {
			logger.Warn("Download failed", zap.Error(err))
		} else {
			logger.Info("Download finished",
				zap.String("path", archive.Path),
				zap.Int("files", archive.Files),
				zap.Int64("bytes", archive.Bytes),
			)
		}
		if onProgress != nil {
			onProgress(0)
		}
	}()

	if err = handle.Client.GetFilesForDownload(ctx, courses); err != nil {
		return nil, err
	}

	o.setStatus(StatusDownloading)
	relay := func(percent float64) {
		o.setProgress(percent)
		if onProgress != nil {
			onProgress(percent)
		}
	}

	archive, err = handle.Client.DownloadFilesIntoZIP(ctx, relay, name)
	if err != nil {
		return nil, err
	}
	if archive == nil {
		archive = &backend.Archive{Name: name}
	}
	return archive, nil
}

// Submit downloads the selected courses in course-list order and remembers
// the selection once the archive has been produced.
func (o *Orchestrator) Submit(ctx context.Context, handle *session.Handle, courses []backend.Course, sel Selection, onProgress backend.ProgressFunc) (*backend.Archive, error) {
	archive, err := o.Download(ctx, handle, SelectedCourses(courses, sel), onProgress)
	if err != nil {
		return nil, err
	}
	if err := o.PersistSelection(sel); err != nil {
		// The archive exists; losing the remembered selection is not fatal
		o.logger.Warn("Failed to remember selection", zap.Error(err))
	}
	return archive, nil
}

// PersistSelection stores sel under SelectionKey
func (o *Orchestrator) PersistSelection(sel Selection) error {
	encoded, err := EncodeSelection(sel)
	if err != nil {
		return err
	}
	return o.kv.Set(SelectionKey, encoded)
}

// LoadSelection returns the remembered selection. Missing or undecodable
// data yields an empty selection.
func (o *Orchestrator) LoadSelection() Selection {
	encoded, ok, err := o.kv.Get(SelectionKey)
	if err != nil {
		o.logger.Warn("Failed to read remembered selection", zap.Error(err))
		return ClearSelection()
	}
	if !ok {
		return ClearSelection()
	}
	sel, err := DecodeSelection(encoded)
	if err != nil {
		o.logger.Warn("Remembered selection unreadable", zap.Error(err))
		return ClearSelection()
	}
	return sel
}

// Current returns a snapshot of the latest job
func (o *Orchestrator) Current() Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.job.clone()
}

// Subscribe streams job snapshots until cancel is called. The current
// snapshot is delivered first. Slow readers miss intermediate snapshots.
func (o *Orchestrator) Subscribe() (<-chan Job, func()) {
	ch := make(chan Job, subscriberBuffer)

	o.mu.Lock()
	o.subs[ch] = struct{}{}
	ch <- o.job.clone()
	o.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, ch)
			close(ch)
			o.mu.Unlock()
		})
	}
	return ch, cancel
}

func (o *Orchestrator) start(courses []backend.Course) (Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.job.Status.Active() {
		return Job{}, ErrJobActive
	}
	o.job = Job{
		ID:        o.ids.NewJobID(),
		Courses:   slices.Clone(courses),
		Status:    StatusEnumerating,
		StartedAt: o.now(),
	}
	o.publishLocked()
	o.metrics.SetDownloadProgress(0)
	return o.job.clone(), nil
}

func (o *Orchestrator) setStatus(status Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.job.Status = status
	o.publishLocked()
}

func (o *Orchestrator) setProgress(percent float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.job.Progress = percent
	if percent >= 100 && o.job.Status == StatusDownloading {
		o.job.Status = StatusPackaging
	}
	o.publishLocked()
	o.metrics.SetDownloadProgress(percent)
}

func (o *Orchestrator) finish(archive *backend.Archive, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.job.Progress = 0
	o.job.FinishedAt = o.now()
	if err != nil {
		o.job.Status = StatusFailed
		o.job.FailureReason = err.Error()
	} else {
		o.job.Status = StatusSucceeded
		o.job.Archive = archive
	}
	o.publishLocked()

	var size int64
	if archive != nil {
		size = archive.Bytes
	}
	o.metrics.SetDownloadProgress(0)
	o.metrics.RecordDownload(o.job.Status.String(), o.job.FinishedAt.Sub(o.job.StartedAt), size)
}

// publishLocked fans the current job out to subscribers. Terminal snapshots
// evict the oldest queued snapshot when a subscriber is full.
func (o *Orchestrator) publishLocked() {
	snapshot := o.job.clone()
	for ch := range o.subs {
		select {
		case ch <- snapshot:
			continue
		default:
		}
		if !snapshot.Status.Terminal() {
			continue
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snapshot:
		default:
		}
	}
}
