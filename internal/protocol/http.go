package protocol

import (
	"context"
	"fmt"

	"github.com/riftdl/riftdl/internal/chunked"
	"github.com/riftdl/riftdl/internal/config"
	"github.com/riftdl/riftdl/internal/ratelimit"
	"github.com/riftdl/riftdl/internal/resume"
	"github.com/riftdl/riftdl/internal/retry"
	"github.com/riftdl/riftdl/internal/types"
)

// HTTPDownloader drives a plain ranged-HTTP task directly through the
// chunked resume engine. It is the only variant that supports resuming a
// paused task from its sidecar; HLS and YouTube-like restart from scratch.
type HTTPDownloader struct {
	ID           string
	ProgressChan chan<- any
	State        *types.ProgressState
	Runtime      *config.RuntimeConfig

	Resume    *resume.Store
	Bandwidth *ratelimit.Limiter
	Backoffs  *ratelimit.Registry
	Retry     *retry.Executor
}

func (d *HTTPDownloader) Probe(ctx context.Context, rawurl string, filenameHint string) (*Info, error) {
	result, err := chunked.ProbeServer(ctx, rawurl, filenameHint, d.Runtime.GetUserAgent())
	if err != nil {
		return nil, fmt.Errorf("probe http source: %w", err)
	}

	kind := RefineFromContentType(KindHTTP, result.ContentType)
	return &Info{
		Kind:          kind,
		Size:          result.FileSize,
		SupportsRange: result.SupportsRange,
		Filename:      result.Filename,
		ContentType:   result.ContentType,
	}, nil
}

func (d *HTTPDownloader) Download(ctx context.Context, rawurl, destPath string, info *Info, verbose bool) error {
	engine := chunked.NewConcurrentDownloader(d.ID, d.ProgressChan, d.State, d.Runtime, d.Resume, d.Bandwidth, d.Backoffs, d.Retry)
	return engine.Download(ctx, rawurl, destPath, info.Size, verbose)
}

func (d *HTTPDownloader) SupportsResume() bool { return true }
