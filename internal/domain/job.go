package domain

import (
	"context"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

// DefaultPriority is the priority assigned to jobs that don't ask for one.
// Higher values are scheduled sooner.
const DefaultPriority = 100

// Options is the configuration blob handed to the Downloader. The scheduler
// itself only persists it.
type Options struct {
	OutputDir      string `json:"output_dir" toml:"output_dir"`
	Playlist       bool   `json:"playlist" toml:"playlist"`
	Merge          bool   `json:"merge" toml:"merge"`
	ExtractorProxy string `json:"extractor_proxy,omitempty" toml:"extractor_proxy"`
	StreamID       string `json:"stream_id,omitempty" toml:"stream_id"`
}

// Row is the persistable view of a Job, mirroring the jobs table schema.
// Playlist is a sorted slice; nil means the job does not track a playlist.
type Row struct {
	Origin    string
	Options   Options
	Priority  int
	Playlist  []string
	Title     string
	Filepath  string
	Outcome   int
	TotalSize int64
	Received  int64
}

// Store column names, shared with the sqlite adapter.
const (
	ColOptions   = "options"
	ColPriority  = "priority"
	ColPlaylist  = "playlist"
	ColTitle     = "title"
	ColFilepath  = "filepath"
	ColOutcome   = "outcome"
	ColTotalSize = "total_size"
	ColReceived  = "received"
)

// Diff returns the columns whose values differ from old, mapped to their new
// values. The origin key is never included.
func (r Row) Diff(old Row) map[string]any {
	changes := make(map[string]any)
	if r.Options != old.Options {
		changes[ColOptions] = r.Options
	}
	if r.Priority != old.Priority {
		changes[ColPriority] = r.Priority
	}
	if !slices.Equal(r.Playlist, old.Playlist) {
		changes[ColPlaylist] = r.Playlist
	}
	if r.Title != old.Title {
		changes[ColTitle] = r.Title
	}
	if r.Filepath != old.Filepath {
		changes[ColFilepath] = r.Filepath
	}
	if r.Outcome != old.Outcome {
		changes[ColOutcome] = r.Outcome
	}
	if r.TotalSize != old.TotalSize {
		changes[ColTotalSize] = r.TotalSize
	}
	if r.Received != old.Received {
		changes[ColReceived] = r.Received
	}
	return changes
}

// RunHandle identifies one worker activation of a job. The worker closes done
// when it exits; the scheduler only ever inspects it, never blocks on it.
type RunHandle struct {
	ID   string
	done chan struct{}
}

// Finished reports whether the worker has exited.
func (h *RunHandle) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Job is the unit of work: configuration owned by the scheduler, plus progress
// state shared between exactly one worker (writer via ReportProgress) and the
// scheduler's tick (reader/writer via RecomputeProgress and Persist). The
// job's own mutex guards exactly those shared fields.
type Job struct {
	Origin   string
	Options  Options
	Priority int

	mu         sync.Mutex
	title      string
	filepath   string
	realURLs   []string
	playlist   map[string]struct{}
	totalSize  int64
	received   int64
	speed      float64
	outcome    int
	dirty      bool
	lastSample time.Time
	source     ProgressSource
	run        *RunHandle

	now func() time.Time
}

// NewJob creates a Job for the given origin. A non-positive priority selects
// DefaultPriority. Playlist tracking is enabled by opts.Playlist.
func NewJob(origin string, opts Options, priority int) *Job {
	if priority <= 0 {
		priority = DefaultPriority
	}
	j := &Job{
		Origin:   origin,
		Options:  opts,
		Priority: priority,
		now:      time.Now,
	}
	if opts.Playlist {
		j.playlist = make(map[string]struct{})
	}
	return j
}

// jobFromRow rebuilds a Job from its persisted row, mapping each column onto
// its field explicitly.
func jobFromRow(row Row) *Job {
	j := NewJob(row.Origin, row.Options, row.Priority)
	j.title = row.Title
	j.filepath = row.Filepath
	j.totalSize = row.TotalSize
	j.received = row.Received
	j.outcome = row.Outcome
	if row.Playlist != nil {
		if j.playlist == nil {
			j.playlist = make(map[string]struct{})
		}
		for _, name := range row.Playlist {
			j.playlist[name] = struct{}{}
		}
	}
	return j
}

// RecomputeProgress samples the attached progress source, updating received,
// speed and the last-sample timestamp. Speed is the received delta over
// elapsed wall-clock time when progress occurred; it resets to zero when none
// did. Returns the current received count.
func (j *Job) RecomputeProgress() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.recomputeLocked()
}

func (j *Job) recomputeLocked() int64 {
	if j.source == nil {
		return j.received
	}
	now := j.now()
	received := j.source.Received()
	if !j.lastSample.IsZero() {
		elapsed := now.Sub(j.lastSample).Seconds()
		if received > j.received && elapsed > 0 {
			j.speed = float64(received-j.received) / elapsed
		} else if j.speed != 0 {
			j.speed = 0
		}
	}
	j.lastSample = now
	if received != j.received {
		j.received = received
		j.dirty = true
	}
	return j.received
}

// liveTotal prefers the progress source's total, which may be more current
// than the cached field.
func (j *Job) liveTotalLocked() int64 {
	if j.source != nil {
		return j.source.Total()
	}
	return j.totalSize
}

// PercentDone returns completion as 0..100, or 0 while the total is unknown.
func (j *Job) PercentDone() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	total := j.liveTotalLocked()
	if total <= 0 {
		return 0
	}
	return float64(j.received*100) / float64(total)
}

// ReportProgress is called from the worker as the Downloader discovers data.
// The title is set only once, derived from the filepath's base name when no
// explicit title is supplied. The first non-empty filepath is recorded; for
// playlist jobs every reported filepath's base name is added to the entry set.
func (j *Job) ReportProgress(urls []string, title, path string, source ProgressSource) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if urls != nil {
		j.realURLs = urls
	}
	if j.title == "" {
		if title == "" && path != "" {
			title = filepath.Base(path)
		}
		if title != "" {
			j.title = title
		}
	}
	if path != "" {
		if j.filepath == "" {
			j.filepath = path
		}
		if j.playlist != nil {
			j.playlist[filepath.Base(path)] = struct{}{}
		}
	}
	if source != nil {
		j.source = source
	}
	j.recomputeLocked()
	j.dirty = true
}

// SnapshotForPersistence returns the full set of persistable fields, with the
// total resolved from the live progress source when one is attached.
func (j *Job) SnapshotForPersistence() Row {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Row{
		Origin:    j.Origin,
		Options:   j.Options,
		Priority:  j.Priority,
		Playlist:  j.playlistSliceLocked(),
		Title:     j.title,
		Filepath:  j.filepath,
		Outcome:   j.outcome,
		TotalSize: j.liveTotalLocked(),
		Received:  j.received,
	}
}

func (j *Job) playlistSliceLocked() []string {
	if j.playlist == nil {
		return nil
	}
	names := make([]string, 0, len(j.playlist))
	for name := range j.playlist {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Persist writes the job's changed fields to the store as a partial update,
// diffed against the currently stored row. Jobs with no stored row are left
// alone (the row is written at submit time). Clears dirty on success.
func (j *Job) Persist(ctx context.Context, store Store) error {
	j.RecomputeProgress()
	cur := j.SnapshotForPersistence()

	old, err := store.GetRow(ctx, j.Origin)
	if err != nil {
		return err
	}
	if old != nil {
		if changes := cur.Diff(*old); len(changes) > 0 {
			if err := store.UpdateRow(ctx, j.Origin, changes); err != nil {
				return err
			}
		}
	}

	j.mu.Lock()
	j.dirty = false
	j.mu.Unlock()
	return nil
}

// finish records the worker's result: success is the positive marker 1,
// failure decrements the cumulative failure count.
func (j *Job) finish(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err != nil {
		j.outcome--
	} else {
		j.outcome = 1
	}
	j.dirty = true
}

// Dirty reports whether unsaved changes exist.
func (j *Job) Dirty() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.dirty
}

// Outcome returns the signed outcome counter: 0 pending, >0 success,
// <0 cumulative consecutive failures.
func (j *Job) Outcome() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.outcome
}

func (j *Job) setOutcome(v int) {
	j.mu.Lock()
	j.outcome = v
	j.dirty = true
	j.mu.Unlock()
}

// Title returns the discovered title, empty until the Downloader reports one.
func (j *Job) Title() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.title
}

// Filepath returns the first reported output path.
func (j *Job) Filepath() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.filepath
}

// RealURLs returns the resolved media URLs reported by the Downloader.
func (j *Job) RealURLs() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.realURLs)
}

// PlaylistEntries returns the sorted playlist entry names, nil for
// non-playlist jobs.
func (j *Job) PlaylistEntries() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.playlistSliceLocked()
}

// Received returns the current received byte count.
func (j *Job) Received() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.received
}

// TotalSize returns the total byte count, live when a transfer is attached.
func (j *Job) TotalSize() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.liveTotalLocked()
}

// Speed returns the last computed transfer speed in bytes per second.
func (j *Job) Speed() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.speed
}

// Running reports whether a worker is currently executing this job.
func (j *Job) Running() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.run != nil && !j.run.Finished()
}

func (j *Job) setRun(h *RunHandle) {
	j.mu.Lock()
	j.run = h
	j.mu.Unlock()
}

func (j *Job) runHandle() *RunHandle {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.run
}

func (j *Job) clearRun() {
	j.mu.Lock()
	j.run = nil
	j.mu.Unlock()
}
