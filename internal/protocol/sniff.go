package protocol

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/h2non/filetype"
)

// sniffResult is what peeking at a probe response's first bytes tells us
// beyond the Content-Type header, using the same magic-byte matcher the
// chunked engine's filename heuristics already depend on.
type sniffResult struct {
	ext         string
	mime        string
	prefetched  []byte
	prefetchErr error
}

const sniffWindow = 512

// sniffBody peeks at up to sniffWindow bytes of resp.Body without consuming
// the stream for callers who still need to read it: the returned reader
// replays the peeked bytes ahead of whatever remains unread.
func sniffBody(resp *http.Response) (sniffResult, io.Reader) {
	header := make([]byte, sniffWindow)
	n, err := io.ReadFull(resp.Body, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return sniffResult{prefetchErr: err}, resp.Body
	}
	header = header[:n]

	result := sniffResult{prefetched: header}
	if kind, _ := filetype.Match(header); kind != filetype.Unknown {
		result.ext = kind.Extension
		result.mime = kind.MIME
	}

	return result, io.MultiReader(bytes.NewReader(header), resp.Body)
}

// isM3U8 recognizes an HLS playlist by its leading tag even when the
// server sent no useful Content-Type at all.
func isM3U8(header []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(header), []byte("#EXTM3U"))
}

// looksGeneric reports whether a Content-Type header is missing or too
// vague (application/octet-stream and friends) to trust on its own.
func looksGeneric(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if ct == "" {
		return true
	}
	mediaType := ct
	if idx := strings.IndexByte(ct, ';'); idx != -1 {
		mediaType = ct[:idx]
	}
	switch strings.TrimSpace(mediaType) {
	case "application/octet-stream", "binary/octet-stream", "":
		return true
	default:
		return false
	}
}
