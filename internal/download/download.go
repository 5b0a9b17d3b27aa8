// Package download transfers the media of selected episodes to local storage.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/ogero/jutsu-dl/internal/common"
	"github.com/ogero/jutsu-dl/pkg/jutsu"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrQualityUnavailable means the episode page offers no variant of the requested tier.
	ErrQualityUnavailable = errors.New("quality unavailable")
	// ErrSkipped is the outcome error of episodes left behind by a failed chunk.
	ErrSkipped = errors.New("skipped after an earlier failure in the same chunk")
)

// FileExtension is the container extension of downloaded files.
const FileExtension = ".mp4"

var fileNameReplacer = strings.NewReplacer("/", "_", `\`, "_")

// FileName returns the file name an episode is stored under.
func FileName(episodeName string) string {
	return fileNameReplacer.Replace(episodeName) + FileExtension
}

// Status is the state of a single episode within a job.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Sink receives the progress of one episode. Each sink is driven by a single goroutine.
type Sink interface {
	// Started is called once the transfer size is known.
	Started(size int64)
	// Advanced is called with the number of bytes just written.
	Advanced(n int64)
	// Finished is called once with the episode outcome error, nil on success.
	Finished(err error)
}

// SinkFactory returns the sink of the episode at position index of Job.Episodes.
type SinkFactory func(index int, episode jutsu.Episode) Sink

type nopSink struct{}

func (nopSink) Started(int64)  {}
func (nopSink) Advanced(int64) {}
func (nopSink) Finished(error) {}

// Job is a batch of episodes to download in one tier.
type Job struct {
	ID       string
	Episodes []jutsu.Episode
	Tier     jutsu.Tier
	Workers  int
}

// NewJob creates a job with a fresh id.
func NewJob(episodes []jutsu.Episode, tier jutsu.Tier, workers int) Job {
	return Job{
		ID:       uuid.NewString(),
		Episodes: episodes,
		Tier:     tier,
		Workers:  workers,
	}
}

// Outcome is the result of one episode. Episode carries the freshly resolved qualities.
type Outcome struct {
	Episode jutsu.Episode
	Path    string
	Bytes   int64
	Status  Status
	Err     error
}

// Report holds the outcome of every episode of a job, in Job.Episodes order.
type Report struct {
	JobID    string
	Outcomes []Outcome
}

// Partition splits episodes into min(workers, len(episodes)) contiguous chunks.
// Chunk sizes differ by at most one, larger chunks first, so no chunk exceeds
// ceil(len(episodes) / chunks).
func Partition(episodes []jutsu.Episode, workers int) [][]jutsu.Episode {
	n := min(workers, len(episodes))
	if n < 1 {
		return nil
	}

	size, rem := len(episodes)/n, len(episodes)%n
	chunks := make([][]jutsu.Episode, 0, n)
	for start := 0; start < len(episodes); {
		end := start + size
		if len(chunks) < rem {
			end++
		}
		chunks = append(chunks, episodes[start:end])
		start = end
	}
	return chunks
}

// Scheduler runs download jobs.
type Scheduler struct {
	site      jutsu.Jutsu
	extractor *jutsu.Extractor
	dir       string
	create    func(path string) (io.WriteCloser, error)
}

// NewScheduler creates a Scheduler writing files under dir.
func NewScheduler(site jutsu.Jutsu, extractor *jutsu.Extractor, dir string) *Scheduler {
	return &Scheduler{
		site:      site,
		extractor: extractor,
		dir:       dir,
		create: func(path string) (io.WriteCloser, error) {
			return os.Create(path)
		},
	}
}

// Run downloads every episode of job, with one goroutine per chunk and the
// episodes of a chunk downloaded in order. An episode failure skips the rest of
// its chunk and leaves the other chunks running. The first failure is returned
// once every chunk is over, along with the full report. A panicking chunk is
// recovered and reported the same way.
func (s *Scheduler) Run(ctx context.Context, job Job, sinks SinkFactory) (*Report, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "download.Scheduler.Run")
	defer span.End()

	if job.Workers < 1 {
		return nil, fmt.Errorf("worker count must be at least 1, got %d", job.Workers)
	}
	if !job.Tier.Valid() {
		return nil, fmt.Errorf("%w: %d", jutsu.ErrUnknownQualityTier, int(job.Tier))
	}
	if sinks == nil {
		sinks = func(int, jutsu.Episode) Sink { return nopSink{} }
	}

	report := &Report{
		JobID:    job.ID,
		Outcomes: make([]Outcome, len(job.Episodes)),
	}
	for i, e := range job.Episodes {
		report.Outcomes[i] = Outcome{Episode: e.Clone(), Status: StatusPending}
	}

	chunks := Partition(job.Episodes, job.Workers)
	span.SetAttributes(attribute.String("download.job.id", job.ID))
	span.SetAttributes(attribute.Int("download.job.episodes", len(job.Episodes)))
	span.SetAttributes(attribute.Int("download.job.chunks", len(chunks)))
	span.SetAttributes(attribute.String("download.job.tier", job.Tier.Code()))
	common.Log.InfoContext(ctx, "Starting download job", "id", job.ID, "episodes", len(job.Episodes), "chunks", len(chunks), "tier", job.Tier.Code())

	var (
		errMu    sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		errMu.Lock()
		defer errMu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

	var wg conc.WaitGroup
	offset := 0
	for _, chunk := range chunks {
		start := offset
		outcomes := report.Outcomes[start : start+len(chunk)]
		offset += len(chunk)

		wg.Go(func() {
			if err := s.runChunk(ctx, job.Tier, start, outcomes, sinks); err != nil {
				fail(err)
			}
		})
	}

	if recovered := wg.WaitAndRecover(); recovered != nil {
		err := fmt.Errorf("download worker crashed: %w", recovered.AsError())
		common.Log.ErrorContext(ctx, "Download worker crashed", "id", job.ID, "err", err)
		span.RecordError(err)
		for i := range report.Outcomes {
			if o := &report.Outcomes[i]; o.Status == StatusPending || o.Status == StatusRunning {
				o.Status = StatusFailed
				o.Err = err
			}
		}
		return report, err
	}

	if firstErr != nil {
		span.RecordError(firstErr)
		return report, firstErr
	}

	return report, nil
}

// runChunk downloads the episodes of outcomes in order, stopping at the first failure.
func (s *Scheduler) runChunk(ctx context.Context, tier jutsu.Tier, start int, outcomes []Outcome, sinks SinkFactory) error {
	for i := range outcomes {
		o := &outcomes[i]
		sink := sinks(start+i, o.Episode)

		o.Status = StatusRunning
		err := s.download(ctx, tier, o, sink)
		sink.Finished(err)

		if err == nil {
			o.Status = StatusDone
			common.EpisodeDownloadsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "done")))
			continue
		}

		o.Status = StatusFailed
		o.Err = err
		common.EpisodeDownloadsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "failed")))
		common.Log.WarnContext(ctx, "Failed to download episode", "name", o.Episode.Name, "err", err)

		for j := i + 1; j < len(outcomes); j++ {
			skipped := &outcomes[j]
			skipped.Status = StatusSkipped
			skipped.Err = ErrSkipped
			sinks(start+j, skipped.Episode).Finished(ErrSkipped)
			common.EpisodeDownloadsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "skipped")))
		}

		return fmt.Errorf("failed to download %q: %w", o.Episode.Name, err)
	}
	return nil
}

// download resolves the qualities of o.Episode again and writes the requested tier to disk.
func (s *Scheduler) download(ctx context.Context, tier jutsu.Tier, o *Outcome, sink Sink) error {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "download.Scheduler.download")
	defer span.End()
	span.SetAttributes(attribute.String("jutsu.episode.name", o.Episode.Name))

	html, err := s.site.FetchPage(ctx, o.Episode.URL)
	if err != nil {
		return fmt.Errorf("failed to jutsu.Jutsu.FetchPage: %w", err)
	}

	variants, err := s.extractor.Variants(html)
	if err != nil {
		return fmt.Errorf("failed to jutsu.Extractor.Variants: %w", err)
	}
	o.Episode.Qualities = variants

	variant, ok := variants.Find(tier)
	if !ok {
		return fmt.Errorf("%w: %sp", ErrQualityUnavailable, tier.Code())
	}

	stream, err := s.site.OpenStream(ctx, variant.URL)
	if err != nil {
		return fmt.Errorf("failed to jutsu.Jutsu.OpenStream: %w", err)
	}
	defer stream.Body.Close()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	path := filepath.Join(s.dir, FileName(o.Episode.Name))
	f, err := s.create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	o.Path = path

	sink.Started(stream.Size)
	n, err := stream.Copy(f, func(n int64) {
		o.Bytes += n
		sink.Advanced(n)
		common.DownloadedBytesTotal.Add(ctx, n)
	})
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	span.SetAttributes(attribute.Int64("download.bytes", n))
	common.Log.InfoContext(ctx, "Downloaded episode", "name", o.Episode.Name, "path", path, "size", humanize.Bytes(uint64(n)))

	return nil
}
