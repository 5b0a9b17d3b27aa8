package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/centrifugal/centrifuge"
	"github.com/ogero/jutsu-dl/internal/catalog"
	"github.com/ogero/jutsu-dl/internal/common"
	"github.com/ogero/jutsu-dl/internal/download"
	"github.com/ogero/jutsu-dl/internal/selection"
	"github.com/ogero/jutsu-dl/internal/settings"
	"github.com/ogero/jutsu-dl/pkg/jutsu"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrJobNotFound means no download job has the requested id.
var ErrJobNotFound = errors.New("download job not found")

// DownloadRequest describes a download session: which show, which of its
// episodes, in which tier and with how many workers.
type DownloadRequest struct {
	ShowIndex int               `json:"show"`
	Selection selection.Request `json:"selection"`
	Tier      jutsu.Tier        `json:"tier"`
	Workers   int               `json:"workers"`
}

// JobState is the overall state of a download job.
type JobState string

const (
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

// EpisodeStatus is the progress of one episode of a job.
type EpisodeStatus struct {
	Name   string          `json:"name"`
	Status download.Status `json:"status"`
	Bytes  int64           `json:"bytes"`
	Size   int64           `json:"size"`
	Path   string          `json:"path,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// JobStatus is the queryable state of a download job. It is also what gets
// published on the progress channel when a job starts and ends.
type JobStatus struct {
	Type     string          `json:"type"`
	ID       string          `json:"id"`
	Show     string          `json:"show"`
	Tier     jutsu.Tier      `json:"tier"`
	Workers  int             `json:"workers"`
	State    JobState        `json:"state"`
	Error    string          `json:"error,omitempty"`
	Episodes []EpisodeStatus `json:"episodes"`
}

// EpisodeProgress is published on the progress channel every time an episode
// changes status or advances by at least one percent.
type EpisodeProgress struct {
	Type    string          `json:"type"`
	JobID   string          `json:"jobId"`
	Index   int             `json:"index"`
	Name    string          `json:"name"`
	Status  download.Status `json:"status"`
	Bytes   int64           `json:"bytes"`
	Size    int64           `json:"size"`
	Percent int             `json:"percent"`
}

// ListingProgress is published on the progress channel after each listing page
// consumed by a catalog refresh.
type ListingProgress struct {
	Type  string `json:"type"`
	Page  int    `json:"page"`
	Total int    `json:"total"`
}

// JutsuService defines the operations exposed over HTTP: browsing the catalog,
// changing settings and running downloads.
type JutsuService interface {
	// Handler serves the progress channel over websockets.
	http.Handler
	// Refresh rebuilds the catalog from the site listing and persists it.
	Refresh(ctx context.Context) (*catalog.Catalog, error)
	// Search returns the shows whose name fuzzily matches query.
	Search(ctx context.Context, query string) []catalog.Match
	// GetShow returns the show at index with its episodes resolved.
	GetShow(ctx context.Context, index int) (jutsu.Show, error)
	// Settings returns the current settings.
	Settings() settings.Settings
	// ToggleOption flips an option and persists the catalog.
	ToggleOption(ctx context.Context, o settings.Option) (settings.Settings, error)
	// StartDownload resolves the request and runs it in the background.
	StartDownload(ctx context.Context, r DownloadRequest) (*JobStatus, error)
	// GetDownload returns the state of a job started by StartDownload.
	GetDownload(id string) (*JobStatus, error)
}

type jutsuService struct {
	progressChannel string
	store           *catalog.Store
	scheduler       *download.Scheduler

	node             *centrifuge.Node
	websocketHandler *centrifuge.WebsocketHandler

	jobsMutex *sync.Mutex
	jobs      map[string]*job
}

// NewJutsuService creates a new instance of JutsuService publishing progress on progressChannel.
func NewJutsuService(progressChannel string, store *catalog.Store, scheduler *download.Scheduler) (JutsuService, error) {
	svc := &jutsuService{
		progressChannel: progressChannel,
		store:           store,
		scheduler:       scheduler,

		jobsMutex: &sync.Mutex{},
		jobs:      map[string]*job{},
	}

	node, err := centrifuge.New(centrifuge.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to centrifuge.New: %w", err)
	}
	svc.node = node

	node.OnConnecting(func(ctx context.Context, e centrifuge.ConnectEvent) (centrifuge.ConnectReply, error) {
		return centrifuge.ConnectReply{}, nil
	})

	node.OnConnect(func(client *centrifuge.Client) {
		client.OnSubscribe(func(e centrifuge.SubscribeEvent, cb centrifuge.SubscribeCallback) {
			if e.Channel != progressChannel {
				cb(centrifuge.SubscribeReply{}, centrifuge.ErrorPermissionDenied)
				return
			}

			cb(centrifuge.SubscribeReply{
				Options: centrifuge.SubscribeOptions{},
			}, nil)
		})
	})

	if err := node.Run(); err != nil {
		return nil, fmt.Errorf("failed to centrifuge.Node.Run: %w", err)
	}

	svc.websocketHandler = centrifuge.NewWebsocketHandler(node, centrifuge.WebsocketConfig{
		ReadBufferSize:     1024,
		UseWriteBufferPool: true,
	})

	return svc, nil
}

// Refresh rebuilds the catalog from the site listing and persists it.
func (s *jutsuService) Refresh(ctx context.Context) (*catalog.Catalog, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "internal.JutsuService.Refresh")
	defer span.End()

	c, err := s.store.Refresh(ctx, func(page, total int) {
		s.publish(ctx, ListingProgress{Type: "listing", Page: page, Total: total})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to catalog.Store.Refresh: %w", err)
	}

	return c, nil
}

// Search returns the shows whose name fuzzily matches query.
func (s *jutsuService) Search(ctx context.Context, query string) []catalog.Match {
	matches := s.store.Search(query)
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("catalog.search.query", query),
		attribute.Int("catalog.search.matches", len(matches)),
	)
	return matches
}

// GetShow returns the show at index with its episodes resolved.
func (s *jutsuService) GetShow(ctx context.Context, index int) (jutsu.Show, error) {
	show, err := s.store.GetShow(ctx, index)
	if err != nil {
		return jutsu.Show{}, fmt.Errorf("failed to catalog.Store.GetShow: %w", err)
	}
	return show, nil
}

// Settings returns the current settings.
func (s *jutsuService) Settings() settings.Settings {
	return s.store.Settings()
}

// ToggleOption flips an option and persists the catalog.
func (s *jutsuService) ToggleOption(ctx context.Context, o settings.Option) (settings.Settings, error) {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("settings.option", o.Key()))

	next, err := s.store.ToggleOption(o)
	if err != nil {
		return nil, fmt.Errorf("failed to catalog.Store.ToggleOption: %w", err)
	}
	return next, nil
}

// StartDownload resolves the show and the episode selection, clamps the worker
// count and runs the job in the background. The job outlives ctx.
func (s *jutsuService) StartDownload(ctx context.Context, r DownloadRequest) (*JobStatus, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "internal.JutsuService.StartDownload")
	defer span.End()

	if !r.Tier.Valid() {
		return nil, fmt.Errorf("%w: %d", jutsu.ErrUnknownQualityTier, int(r.Tier))
	}

	show, err := s.store.GetShow(ctx, r.ShowIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to catalog.Store.GetShow: %w", err)
	}

	episodes, err := selection.Select(show.Episodes, r.Selection)
	if err != nil {
		return nil, fmt.Errorf("failed to selection.Select: %w", err)
	}

	workers := selection.Workers(r.Selection.Mode, r.Workers, len(episodes))
	dj := download.NewJob(episodes, r.Tier, workers)

	j := newJob(dj, show.Name)
	s.jobsMutex.Lock()
	s.jobs[dj.ID] = j
	s.jobsMutex.Unlock()

	span.SetAttributes(attribute.String("download.job.id", dj.ID))
	span.SetAttributes(attribute.Int("download.job.workers", workers))

	status := j.snapshot()
	s.publish(ctx, status)

	go s.run(context.WithoutCancel(ctx), dj, j)

	return &status, nil
}

func (s *jutsuService) run(ctx context.Context, dj download.Job, j *job) {
	report, err := s.scheduler.Run(ctx, dj, func(index int, _ jutsu.Episode) download.Sink {
		return &episodeSink{svc: s, ctx: ctx, job: j, index: index}
	})
	if err != nil {
		common.Log.WarnContext(ctx, "Download job failed", "id", dj.ID, "err", err)
	}

	status := j.finish(report, err)
	s.publish(ctx, status)
}

// GetDownload returns the state of a job started by StartDownload.
func (s *jutsuService) GetDownload(id string) (*JobStatus, error) {
	s.jobsMutex.Lock()
	j, ok := s.jobs[id]
	s.jobsMutex.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	status := j.snapshot()
	return &status, nil
}

// publish sends v as JSON to the progress channel. Failures are only logged.
func (s *jutsuService) publish(ctx context.Context, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to json.Marshal", "err", err)
		return
	}

	_, err = s.node.Publish(s.progressChannel, b)
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to centrifuge.Node.Publish", "err", err)
	}
}

// ServeHTTP handles incoming HTTP requests via a websocket handler
func (s *jutsuService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	newCtx := centrifuge.SetCredentials(ctx, &centrifuge.Credentials{})
	r = r.WithContext(newCtx)

	s.websocketHandler.ServeHTTP(w, r)
}

type job struct {
	mu       sync.Mutex
	status   JobStatus
	percents []int
}

func newJob(dj download.Job, showName string) *job {
	episodes := make([]EpisodeStatus, len(dj.Episodes))
	for i, e := range dj.Episodes {
		episodes[i] = EpisodeStatus{Name: e.Name, Status: download.StatusPending}
	}
	return &job{
		status: JobStatus{
			Type:     "job",
			ID:       dj.ID,
			Show:     showName,
			Tier:     dj.Tier,
			Workers:  dj.Workers,
			State:    JobRunning,
			Episodes: episodes,
		},
		percents: make([]int, len(dj.Episodes)),
	}
}

func (j *job) snapshot() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked()
}

func (j *job) snapshotLocked() JobStatus {
	s := j.status
	s.Episodes = append([]EpisodeStatus(nil), j.status.Episodes...)
	return s
}

// finish applies the scheduler report, which is authoritative over sink updates.
func (j *job) finish(report *download.Report, err error) JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.status.State = JobDone
	if err != nil {
		j.status.State = JobFailed
		j.status.Error = err.Error()
	}
	if report != nil {
		for i, o := range report.Outcomes {
			e := &j.status.Episodes[i]
			e.Status = o.Status
			e.Path = o.Path
			e.Bytes = o.Bytes
			if o.Err != nil {
				e.Error = o.Err.Error()
			}
		}
	}

	return j.snapshotLocked()
}

// update applies fn to episode index and returns its progress when it should be published.
func (j *job) update(index int, fn func(e *EpisodeStatus)) (EpisodeProgress, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	e := &j.status.Episodes[index]
	before := e.Status
	fn(e)

	percent := 100
	if e.Size > 0 {
		percent = int(e.Bytes * 100 / e.Size)
	}
	if e.Status == before && percent == j.percents[index] {
		return EpisodeProgress{}, false
	}
	j.percents[index] = percent

	return EpisodeProgress{
		Type:    "episode",
		JobID:   j.status.ID,
		Index:   index,
		Name:    e.Name,
		Status:  e.Status,
		Bytes:   e.Bytes,
		Size:    e.Size,
		Percent: percent,
	}, true
}

type episodeSink struct {
	svc   *jutsuService
	ctx   context.Context
	job   *job
	index int
}

func (s *episodeSink) Started(size int64) {
	s.publish(func(e *EpisodeStatus) {
		e.Status = download.StatusRunning
		e.Size = size
	})
}

func (s *episodeSink) Advanced(n int64) {
	s.publish(func(e *EpisodeStatus) {
		e.Bytes += n
	})
}

func (s *episodeSink) Finished(err error) {
	s.publish(func(e *EpisodeStatus) {
		switch {
		case err == nil:
			e.Status = download.StatusDone
		case errors.Is(err, download.ErrSkipped):
			e.Status = download.StatusSkipped
			e.Error = err.Error()
		default:
			e.Status = download.StatusFailed
			e.Error = err.Error()
		}
	})
}

func (s *episodeSink) publish(fn func(e *EpisodeStatus)) {
	if p, ok := s.job.update(s.index, fn); ok {
		s.svc.publish(s.ctx, p)
	}
}
