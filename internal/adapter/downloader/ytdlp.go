package downloader

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/cwygoda/fetchd/internal/domain"
	"github.com/dustin/go-humanize"
)

// DefaultBin is the yt-dlp binary looked up on PATH when none is configured.
const DefaultBin = "yt-dlp"

// progressSource tracks live byte counters parsed from yt-dlp output.
type progressSource struct {
	received atomic.Int64
	total    atomic.Int64
}

func (p *progressSource) Received() int64 { return p.received.Load() }
func (p *progressSource) Total() int64    { return p.total.Load() }

// Downloader runs yt-dlp as a subprocess, implementing the domain Downloader
// port. Progress is parsed from the --newline output stream; the process is
// never interrupted except through context cancellation at daemon shutdown.
type Downloader struct {
	bin       string
	outputDir string
}

// New creates a Downloader. An empty bin selects DefaultBin; outputDir is the
// fallback when job options carry none.
func New(bin, outputDir string) *Downloader {
	if bin == "" {
		bin = DefaultBin
	}
	return &Downloader{bin: bin, outputDir: outputDir}
}

// Progress line shapes emitted by yt-dlp with --newline:
//
//	[download]  42.5% of 10.55MiB at 2.05MiB/s ETA 00:03
//	[download] 100% of ~123.45KiB in 00:01
//	[download] Destination: /videos/title.mp4
//	[Merger] Merging formats into "/videos/title.mp4"
var (
	progressRe    = regexp.MustCompile(`^\[download\]\s+([\d.]+)% of ~?\s*([\d.]+[KMGT]?i?B)`)
	destinationRe = regexp.MustCompile(`^\[download\] Destination:\s+(.+)$`)
	mergerRe      = regexp.MustCompile(`^\[Merger\] Merging formats into "(.+)"$`)
)

// Download runs one transfer to completion or failure. The progress sink is
// invoked as destinations and byte counts become known.
func (d *Downloader) Download(ctx context.Context, origin string, opts domain.Options, report domain.ProgressFunc) error {
	args := d.buildArgs(opts)
	args = append(args, origin)

	cmd := exec.CommandContext(ctx, d.bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("yt-dlp stdout: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start yt-dlp: %w", err)
	}

	src := &progressSource{}
	report(nil, "", "", src)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		parseLine(scanner.Text(), src, report)
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("yt-dlp: %w: %s", err, lastLine(&stderr))
	}
	return nil
}

func (d *Downloader) buildArgs(opts domain.Options) []string {
	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = d.outputDir
	}
	args := []string{
		"--newline",
		"--no-colors",
		"-P", outputDir,
		"-o", "%(title)s.%(ext)s",
	}
	if opts.Playlist {
		args = append(args, "--yes-playlist")
	} else {
		args = append(args, "--no-playlist")
	}
	if opts.StreamID != "" {
		args = append(args, "-f", opts.StreamID)
	} else if !opts.Merge {
		// A single pre-merged format keeps yt-dlp from running a merge step.
		args = append(args, "-f", "b")
	}
	if opts.ExtractorProxy != "" {
		args = append(args, "--proxy", opts.ExtractorProxy)
	}
	return args
}

// parseLine feeds one output line into the progress source, reporting
// discovered paths through the sink. Lines that don't parse are ignored; a
// garbled progress stream never fails a job.
func parseLine(line string, src *progressSource, report domain.ProgressFunc) {
	if m := destinationRe.FindStringSubmatch(line); m != nil {
		report(nil, "", strings.TrimSpace(m[1]), src)
		return
	}
	if m := mergerRe.FindStringSubmatch(line); m != nil {
		report(nil, "", m[1], src)
		return
	}
	if m := progressRe.FindStringSubmatch(line); m != nil {
		percent, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return
		}
		total, err := humanize.ParseBytes(m[2])
		if err != nil {
			return
		}
		src.total.Store(int64(total))
		src.received.Store(int64(float64(total) * percent / 100))
	}
}

func lastLine(buf *bytes.Buffer) string {
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
