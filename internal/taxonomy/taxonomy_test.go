package taxonomy

import (
	"context"
	"errors"
	"net"
	"net/url"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyTypedErrorTakesPrecedence(t *testing.T) {
	err := &TypedError{Category: DataIntegrity, Err: errors.New("checksum mismatch")}
	assert.Equal(t, DataIntegrity, Classify(err))
}

func TestClassifyHTTPStatusError(t *testing.T) {
	cases := []struct {
		status int
		want   Category
	}{
		{429, ExternalService},
		{401, Authentication},
		{403, Authentication},
		{408, Network},
		{404, Protocol},
		{418, Protocol},
		{500, ExternalService},
		{503, ExternalService},
		{999, System},
	}
	for _, c := range cases {
		got := Classify(&HTTPStatusError{StatusCode: c.status, Err: errors.New("boom")})
		assert.Equalf(t, c.want, got, "status %d", c.status)
	}
}

func TestClassifyContextErrors(t *testing.T) {
	assert.Equal(t, Network, Classify(context.DeadlineExceeded))
	assert.Equal(t, Network, Classify(context.Canceled))
}

func TestClassifyNetErrors(t *testing.T) {
	var dnsErr *net.DNSError = &net.DNSError{Err: "no such host", Name: "example.invalid"}
	assert.Equal(t, Network, Classify(dnsErr))

	netErr := &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	assert.Equal(t, Network, Classify(netErr))

	var urlErr = &url.Error{Op: "Get", URL: "https://example.com", Err: errors.New("boom")}
	assert.Equal(t, Network, Classify(urlErr))
}

func TestClassifyFilesystemErrors(t *testing.T) {
	assert.Equal(t, FileSystem, Classify(os.ErrPermission))
	assert.Equal(t, FileSystem, Classify(os.ErrNotExist))

	_, statErr := os.Stat("/no/such/path/riftdl-taxonomy-test")
	assert.Equal(t, FileSystem, Classify(statErr))
}

func TestClassifyMessageFallback(t *testing.T) {
	cases := []struct {
		msg  string
		want Category
	}{
		{"disk is full: no space left on device", ResourceExhaustion},
		{"permission denied writing output", FileSystem},
		{"no such file or directory", FileSystem},
		{"request failed: unauthorized", Authentication},
		{"server returned 403", Authentication},
		{"checksum mismatch on segment 4", DataIntegrity},
		{"hash mismatch detected", DataIntegrity},
		{"failed to parse playlist", Parsing},
		{"malformed response", Parsing},
		{"invalid m3u8 tag", Parsing},
		{"bad config value", Configuration},
		{"i/o timeout", Network},
		{"dns lookup failed", Network},
		{"connection reset by peer", Network},
		{"connection refused", Network},
		{"got 429 from server", ExternalService},
		{"too many requests", ExternalService},
		{"rate limit exceeded", ExternalService},
		{"completely unrecognized failure", System},
	}
	for _, c := range cases {
		assert.Equalf(t, c.want, Classify(errors.New(c.msg)), "message %q", c.msg)
	}
}

func TestClassifyNilIsSystem(t *testing.T) {
	assert.Equal(t, System, Classify(nil))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Network.Retryable())
	assert.True(t, ExternalService.Retryable())
	assert.False(t, Configuration.Retryable())
	assert.False(t, DataIntegrity.Retryable())
	assert.False(t, FileSystem.Retryable())
	assert.False(t, Parsing.Retryable())
}

func TestPolicyForKnownCategories(t *testing.T) {
	assert.Equal(t, 5, PolicyFor(Network).MaxAttempts)
	assert.Equal(t, 1, PolicyFor(Configuration).MaxAttempts)
	assert.True(t, PolicyFor(Network).BreakerEnabled)
	assert.False(t, PolicyFor(Configuration).BreakerEnabled)
}

func TestTypedErrorUnwrapAndError(t *testing.T) {
	inner := errors.New("boom")
	err := &TypedError{Category: Network, Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "network: boom", err.Error())
}

func TestHTTPStatusErrorUnwrapAndError(t *testing.T) {
	inner := errors.New("boom")
	err := &HTTPStatusError{StatusCode: 500, Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "boom", err.Error())

	bare := &HTTPStatusError{StatusCode: 500}
	assert.Equal(t, "http status 500", bare.Error())
}
