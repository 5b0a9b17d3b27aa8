package internal

import (
	"errors"
	"testing"

	"github.com/ogero/jutsu-dl/internal/download"
	"github.com/ogero/jutsu-dl/pkg/jutsu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobUpdate_PublishesOncePerPercent(t *testing.T) {
	j := newJob(download.NewJob([]jutsu.Episode{{Name: "1 серия"}}, jutsu.Tier480, 1), "Наруто")

	var published []int
	apply := func(fn func(e *EpisodeStatus)) {
		if p, ok := j.update(0, fn); ok {
			published = append(published, p.Percent)
		}
	}

	apply(func(e *EpisodeStatus) { e.Status = download.StatusRunning; e.Size = 1000 })
	for i := 0; i < 100; i++ {
		apply(func(e *EpisodeStatus) { e.Bytes += 5 })
	}
	apply(func(e *EpisodeStatus) { e.Status = download.StatusDone })

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20,
		21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31, 32, 33, 34, 35, 36, 37, 38, 39, 40,
		41, 42, 43, 44, 45, 46, 47, 48, 49, 50, 50}, published)
}

func TestJobFinish(t *testing.T) {
	dj := download.NewJob([]jutsu.Episode{{Name: "1 серия"}, {Name: "2 серия"}}, jutsu.Tier720, 1)
	j := newJob(dj, "Наруто")

	failure := errors.New("boom")
	status := j.finish(&download.Report{
		JobID: dj.ID,
		Outcomes: []download.Outcome{
			{Status: download.StatusFailed, Err: failure, Path: "a.mp4", Bytes: 3},
			{Status: download.StatusSkipped, Err: download.ErrSkipped},
		},
	}, failure)

	require.Len(t, status.Episodes, 2)
	assert.Equal(t, JobFailed, status.State)
	assert.Equal(t, "boom", status.Error)
	assert.Equal(t, download.StatusFailed, status.Episodes[0].Status)
	assert.Equal(t, download.StatusSkipped, status.Episodes[1].Status)
	assert.Equal(t, "Наруто", status.Show)

	snapshot := j.snapshot()
	snapshot.Episodes[0].Name = "changed"
	assert.Equal(t, "1 серия", j.snapshot().Episodes[0].Name)
}
