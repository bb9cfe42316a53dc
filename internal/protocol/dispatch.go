package protocol

import (
	"context"
	"net/http"

	"github.com/riftdl/riftdl/internal/taxonomy"
)

// Select runs the full classification rule, including the content-type and
// magic-byte refinement SPEC_FULL.md adds on top of the plain URL-suffix
// check: a bare Classify call only has the URL to go on, so a source with
// no .m3u8 suffix and no registered extractor host still needs one cheap
// network round trip to rule HLS in or out before the engine commits to
// treating it as plain HTTP.
func Select(ctx context.Context, rawurl string, extractors []ExtractorPattern, userAgent string) (Kind, error) {
	kind := Classify(rawurl, extractors)
	if kind != KindHTTP {
		return kind, nil
	}

	refined, err := sniffKind(ctx, rawurl, userAgent)
	if err != nil {
		// A failed sniff doesn't fail classification -- the caller's real
		// probe step will surface the same error with better context.
		return kind, nil
	}
	return refined, nil
}

// sniffKind issues a small ranged GET and inspects the response's
// Content-Type header (and, when that's absent or generic, the leading
// response bytes) to catch HLS sources that don't end in .m3u8.
func sniffKind(ctx context.Context, rawurl, userAgent string) (Kind, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return KindHTTP, err
	}
	req.Header.Set("Range", "bytes=0-511")
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return KindHTTP, &taxonomy.TypedError{Category: taxonomy.Network, Err: err}
	}
	defer resp.Body.Close()

	if refined := RefineFromContentType(KindHTTP, resp.Header.Get("Content-Type")); refined != KindHTTP {
		return refined, nil
	}

	if looksGeneric(resp.Header.Get("Content-Type")) {
		sniffed, _ := sniffBody(resp)
		if sniffed.prefetchErr == nil && isM3U8(sniffed.prefetched) {
			return KindHLS, nil
		}
	}

	return KindHTTP, nil
}
