package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/riftdl/riftdl/internal/config"
	"github.com/riftdl/riftdl/internal/ratelimit"
	"github.com/riftdl/riftdl/internal/resume"
	"github.com/riftdl/riftdl/internal/retry"
	"github.com/riftdl/riftdl/internal/taxonomy"
	"github.com/riftdl/riftdl/internal/types"
	"github.com/riftdl/riftdl/internal/utils"
)

// ExtractorConfig names the external tool a YouTubeDownloader shells out to
// for URL resolution. The tool's own codec/format selection logic is
// opaque to the engine -- all it contracts to return is one concrete
// media URL and which protocol drives it.
type ExtractorConfig struct {
	Command string   // e.g. "riftdl-extract", a thin yt-dlp wrapper
	Args    []string // extra flags prepended before the source URL
}

// extractResult is the JSON object the extractor tool prints to stdout.
type extractResult struct {
	URL      string `json:"url"`
	Protocol string `json:"protocol"` // "http" or "hls"
	Title    string `json:"title"`
	Ext      string `json:"ext"`
}

// YouTubeDownloader resolves a task's source URL through an external
// extractor process, then drives the resolved URL through HTTPDownloader
// or HLSDownloader as the extractor reports.
type YouTubeDownloader struct {
	Extractor ExtractorConfig

	ID           string
	ProgressChan chan<- any
	State        *types.ProgressState
	Runtime      *config.RuntimeConfig

	Resume    *resume.Store
	Bandwidth *ratelimit.Limiter
	Backoffs  *ratelimit.Registry
	Retry     *retry.Executor
}

func (d *YouTubeDownloader) resolve(ctx context.Context, rawurl string) (*extractResult, error) {
	args := append(append([]string{}, d.Extractor.Args...), rawurl)
	cmd := exec.CommandContext(ctx, d.Extractor.Command, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, &taxonomy.TypedError{
			Category: taxonomy.ExternalService,
			Err:      fmt.Errorf("extractor %s failed: %w (stderr: %s)", d.Extractor.Command, err, stderr.String()),
		}
	}

	var result extractResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, &taxonomy.TypedError{Category: taxonomy.Parsing, Err: fmt.Errorf("parse extractor output: %w", err)}
	}
	if result.URL == "" {
		return nil, &taxonomy.TypedError{Category: taxonomy.ExternalService, Err: fmt.Errorf("extractor returned no url")}
	}

	utils.Debug("YouTube-like: resolved %s -> %s (%s)", rawurl, result.URL, result.Protocol)
	return &result, nil
}

func (d *YouTubeDownloader) delegate(result *extractResult) Downloader {
	if result.Protocol == string(KindHLS) {
		return &HLSDownloader{Runtime: d.Runtime, Bandwidth: d.Bandwidth, Backoffs: d.Backoffs}
	}
	return &HTTPDownloader{
		ID:           d.ID,
		ProgressChan: d.ProgressChan,
		State:        d.State,
		Runtime:      d.Runtime,
		Resume:       d.Resume,
		Bandwidth:    d.Bandwidth,
		Backoffs:     d.Backoffs,
		Retry:        d.Retry,
	}
}

func (d *YouTubeDownloader) Probe(ctx context.Context, rawurl string, filenameHint string) (*Info, error) {
	result, err := d.resolve(ctx, rawurl)
	if err != nil {
		return nil, err
	}

	hint := filenameHint
	if hint == "" && result.Title != "" {
		hint = result.Title
		if result.Ext != "" {
			hint += "." + result.Ext
		}
	}

	info, err := d.delegate(result).Probe(ctx, result.URL, hint)
	if err != nil {
		return nil, err
	}
	info.Kind = KindYouTube
	return info, nil
}

func (d *YouTubeDownloader) Download(ctx context.Context, rawurl, destPath string, info *Info, verbose bool) error {
	result, err := d.resolve(ctx, rawurl)
	if err != nil {
		return err
	}
	return d.delegate(result).Download(ctx, result.URL, destPath, info, verbose)
}

// SupportsResume is false: the extractor's resolved URL can expire between
// runs (most signed media URLs do), so a paused YouTube-like task restarts
// extraction from scratch rather than trusting a stale resolved URL.
func (d *YouTubeDownloader) SupportsResume() bool { return false }
