package protocol

import (
	"bufio"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/riftdl/riftdl/internal/config"
	"github.com/riftdl/riftdl/internal/ratelimit"
	"github.com/riftdl/riftdl/internal/taxonomy"
	"github.com/riftdl/riftdl/internal/types"
	"github.com/riftdl/riftdl/internal/utils"
)

// hlsSegment is one media segment enumerated from a playlist, plus
// whatever AES-128 key material applies to it (carried forward from the
// most recent #EXT-X-KEY tag, the way the format defines key scope).
type hlsSegment struct {
	sequence int
	url      string
	key      []byte
	iv       [16]byte
	hasKey   bool
}

// HLSDownloader fetches an HLS playlist, enumerates its segments, downloads
// each one (optionally AES-128-CBC decrypting it) through the same HTTP
// client conventions the chunked engine uses, and concatenates the result
// into a single container file. It never demuxes or transcodes -- the
// container produced is whatever concatenated transport-stream segments
// naturally form, left to a downstream player or transcoder.
type HLSDownloader struct {
	Runtime   *config.RuntimeConfig
	Bandwidth *ratelimit.Limiter
	Backoffs  *ratelimit.Registry

	// MaxConcurrentSegments bounds how many segment fetches run at once for
	// a single task, so one HLS download doesn't monopolize every
	// connection the global ceiling allows. Defaults to the runtime's
	// per-host connection cap when zero.
	MaxConcurrentSegments int

	client *http.Client
	once   sync.Once
}

func (d *HLSDownloader) httpClient() *http.Client {
	d.once.Do(func() {
		d.client = &http.Client{Timeout: 0}
	})
	return d.client
}

// Probe fetches the playlist (following a master playlist to its
// highest-BANDWIDTH variant) and fails if it lists no media segments. HLS
// segments rarely advertise byte sizes up front, so Size is always 0; the
// segment count is not reported, and #EXT-X-ENDLIST is not inspected.
func (d *HLSDownloader) Probe(ctx context.Context, rawurl string, filenameHint string) (*Info, error) {
	_, segments, err := d.fetchPlaylist(ctx, rawurl)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, &taxonomy.TypedError{Category: taxonomy.Parsing, Err: fmt.Errorf("playlist %s has no media segments", rawurl)}
	}

	name := filenameHint
	if name == "" {
		name = "stream.ts"
	}

	return &Info{
		Kind:          KindHLS,
		Size:          0,
		SupportsRange: false,
		Filename:      name,
		ContentType:   "application/vnd.apple.mpegurl",
		Ext:           "ts",
	}, nil
}

func (d *HLSDownloader) Download(ctx context.Context, rawurl, destPath string, info *Info, verbose bool) error {
	manifestURL, segments, err := d.fetchPlaylist(ctx, rawurl)
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return &taxonomy.TypedError{Category: taxonomy.Parsing, Err: fmt.Errorf("playlist %s has no media segments", manifestURL)}
	}

	workingPath := destPath + types.IncompleteSuffix
	out, err := os.OpenFile(workingPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return &taxonomy.TypedError{Category: taxonomy.FileSystem, Err: err}
	}
	defer out.Close()

	limit := d.MaxConcurrentSegments
	if limit <= 0 {
		limit = d.Runtime.GetMaxConnectionsPerHost()
	}
	if limit <= 0 {
		limit = 4
	}

	fetched := make([][]byte, len(segments))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	errs := make(chan error, len(segments))

	for i, seg := range segments {
		i, seg := i, seg
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			data, err := d.fetchSegment(ctx, seg, verbose)
			if err != nil {
				errs <- fmt.Errorf("segment %d: %w", seg.sequence, err)
				return
			}
			fetched[i] = data
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			return &taxonomy.TypedError{Category: taxonomy.Protocol, Err: err}
		}
	}

	for _, data := range fetched {
		if _, err := out.Write(data); err != nil {
			return &taxonomy.TypedError{Category: taxonomy.FileSystem, Err: err}
		}
	}

	if err := out.Sync(); err != nil {
		return &taxonomy.TypedError{Category: taxonomy.FileSystem, Err: err}
	}
	out.Close()

	return os.Rename(workingPath, destPath)
}

// SupportsResume is false: a partially-fetched set of segments is cheap
// enough to refetch from the start rather than track per-segment
// completion in the sidecar format the chunked engine owns.
func (d *HLSDownloader) SupportsResume() bool { return false }

func (d *HLSDownloader) fetchSegment(ctx context.Context, seg hlsSegment, verbose bool) ([]byte, error) {
	if d.Backoffs != nil {
		if host := hostOfURL(seg.url); host != "" {
			d.Backoffs.For(host).Wait()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, seg.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", d.Runtime.GetUserAgent())

	resp, err := d.httpClient().Do(req)
	if err != nil {
		return nil, &taxonomy.TypedError{Category: taxonomy.Network, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		if d.Backoffs != nil {
			if host := hostOfURL(seg.url); host != "" {
				d.Backoffs.For(host).Handle429(resp)
			}
		}
		return nil, &taxonomy.HTTPStatusError{StatusCode: resp.StatusCode, Err: fmt.Errorf("rate limited (429)")}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &taxonomy.HTTPStatusError{StatusCode: resp.StatusCode}
	}
	if d.Backoffs != nil {
		if host := hostOfURL(seg.url); host != "" {
			d.Backoffs.For(host).ReportSuccess()
		}
	}

	var body io.Reader = resp.Body
	if d.Bandwidth != nil {
		body = ratelimit.NewReader(ctx, body, d.Bandwidth)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &taxonomy.TypedError{Category: taxonomy.Network, Err: err}
	}

	if seg.hasKey {
		data, err = decryptAES128CBC(data, seg.key, seg.iv)
		if err != nil {
			return nil, &taxonomy.TypedError{Category: taxonomy.DataIntegrity, Err: err}
		}
	}

	if verbose {
		utils.Debug("HLS segment %d fetched: %d bytes", seg.sequence, len(data))
	}
	return data, nil
}

// fetchPlaylist resolves a master playlist down to the first media variant
// (highest BANDWIDTH, a reasonable default absent any explicit selection
// policy) and enumerates its segments with key material attached.
func (d *HLSDownloader) fetchPlaylist(ctx context.Context, rawurl string) (string, []hlsSegment, error) {
	body, err := d.getText(ctx, rawurl)
	if err != nil {
		return "", nil, err
	}

	if variant := bestVariant(rawurl, body); variant != "" {
		return d.fetchPlaylist(ctx, variant)
	}

	segments, err := parseMediaPlaylist(ctx, rawurl, body, d)
	return rawurl, segments, err
}

func (d *HLSDownloader) getText(ctx context.Context, rawurl string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", d.Runtime.GetUserAgent())

	resp, err := d.httpClient().Do(req)
	if err != nil {
		return "", &taxonomy.TypedError{Category: taxonomy.Network, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &taxonomy.HTTPStatusError{StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &taxonomy.TypedError{Category: taxonomy.Network, Err: err}
	}
	return string(data), nil
}

// bestVariant returns the resolved URL of the highest-BANDWIDTH stream
// listed in a master playlist, or "" if body is already a media playlist.
func bestVariant(baseURL, body string) string {
	if !strings.Contains(body, "#EXT-X-STREAM-INF") {
		return ""
	}

	lines := strings.Split(body, "\n")
	var bestBandwidth int
	var bestURI string

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "#EXT-X-STREAM-INF") {
			continue
		}
		bw := attrInt(line, "BANDWIDTH")
		if i+1 >= len(lines) {
			continue
		}
		uri := strings.TrimSpace(lines[i+1])
		if uri == "" || strings.HasPrefix(uri, "#") {
			continue
		}
		if bestURI == "" || bw > bestBandwidth {
			bestBandwidth = bw
			bestURI = resolveURL(baseURL, uri)
		}
	}
	return bestURI
}

func parseMediaPlaylist(ctx context.Context, baseURL, body string, d *HLSDownloader) ([]hlsSegment, error) {
	var segments []hlsSegment
	var currentKey []byte
	var currentIV [16]byte
	var hasKey bool
	sequence := 0

	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE"):
			if v, err := strconv.Atoi(attrValue(line, "")); err == nil {
				sequence = v
			}
		case strings.HasPrefix(line, "#EXT-X-KEY"):
			method := attrString(line, "METHOD")
			if method == "" || method == "NONE" {
				hasKey = false
				currentKey = nil
				continue
			}
			keyURI := resolveURL(baseURL, attrString(line, "URI"))
			key, err := d.getText(ctx, keyURI)
			if err != nil {
				return nil, fmt.Errorf("fetch key %s: %w", keyURI, err)
			}
			currentKey = []byte(key)
			if ivHex := attrString(line, "IV"); ivHex != "" {
				currentIV = ivFromHex(ivHex)
			}
			hasKey = true
		case strings.HasPrefix(line, "#"):
			continue
		default:
			iv := currentIV
			if hasKey && isZeroIV(iv) {
				binary.BigEndian.PutUint32(iv[12:], uint32(sequence))
			}
			segments = append(segments, hlsSegment{
				sequence: sequence,
				url:      resolveURL(baseURL, line),
				key:      currentKey,
				iv:       iv,
				hasKey:   hasKey,
			})
			sequence++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan playlist: %w", err)
	}

	return segments, nil
}

func isZeroIV(iv [16]byte) bool {
	return iv == [16]byte{}
}

func ivFromHex(s string) [16]byte {
	var iv [16]byte
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return iv
	}
	copy(iv[16-len(raw):], raw)
	return iv
}

func decryptAES128CBC(data, key []byte, iv [16]byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("build AES cipher: %w", err)
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("segment length %d is not a multiple of the AES block size", len(data))
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv[:]).CryptBlocks(out, data)

	return unpadPKCS7(out)
}

func unpadPKCS7(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	pad := int(data[len(data)-1])
	if pad <= 0 || pad > aes.BlockSize || pad > len(data) {
		return nil, fmt.Errorf("invalid PKCS7 padding")
	}
	return data[:len(data)-pad], nil
}

func resolveURL(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

func hostOfURL(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return ""
	}
	return u.Host
}

// attrValue, attrString, attrInt pull a QUOTED-OR-BARE attribute out of an
// HLS tag line, e.g. attrString(`#EXT-X-KEY:METHOD=AES-128,URI="key.bin"`, "URI") == "key.bin".
func attrString(line, name string) string {
	idx := strings.Index(line, name+"=")
	if idx == -1 {
		return ""
	}
	rest := line[idx+len(name)+1:]
	if strings.HasPrefix(rest, `"`) {
		rest = rest[1:]
		if end := strings.IndexByte(rest, '"'); end != -1 {
			return rest[:end]
		}
		return rest
	}
	if end := strings.IndexByte(rest, ','); end != -1 {
		return rest[:end]
	}
	return rest
}

func attrInt(line, name string) int {
	v, _ := strconv.Atoi(attrString(line, name))
	return v
}

func attrValue(line, name string) string {
	idx := strings.IndexByte(line, ':')
	if idx == -1 {
		return ""
	}
	return strings.TrimSpace(line[idx+1:])
}
