package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRejectsZeroConcurrentDownloads(t *testing.T) {
	s := DefaultSettings()
	s.Connections.MaxConcurrentDownloads = 0
	assert.Error(t, s.Validate())

	s.Connections.MaxConcurrentDownloads = -1
	assert.Error(t, s.Validate())
}

func TestValidateAcceptsDefaults(t *testing.T) {
	assert.NoError(t, DefaultSettings().Validate())
}

func TestDefaultSettingsValidateRoundTrip(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())
	assert.Greater(t, s.Connections.MaxConcurrentDownloads, 0)
	assert.Greater(t, s.Connections.MaxConnectionsPerHost, 0)
}

func TestSettingsJSONRoundTrip(t *testing.T) {
	s := DefaultSettings()
	s.Connections.MaxConcurrentDownloads = 7

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded Settings
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 7, decoded.Connections.MaxConcurrentDownloads)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	t.Setenv("RIFTDL_HOME", t.TempDir())

	s := DefaultSettings()
	s.Connections.MaxConcurrentDownloads = 9
	require.NoError(t, Save(s))

	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9, loaded.Connections.MaxConcurrentDownloads)
}

func TestLoadRejectsInvalidPersistedSettings(t *testing.T) {
	t.Setenv("RIFTDL_HOME", t.TempDir())

	s := DefaultSettings()
	s.Connections.MaxConcurrentDownloads = 0
	require.NoError(t, Save(s))

	_, err := Load()
	assert.Error(t, err, "a settings.json that fails Validate must surface as a Load error, not be silently defaulted away")
}

func TestLoadReturnsDefaultsWhenFileAbsent(t *testing.T) {
	t.Setenv("RIFTDL_HOME", t.TempDir())

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings().Connections.MaxConcurrentDownloads, s.Connections.MaxConcurrentDownloads)
}

func TestRuntimeConfigGettersFallBackOnZeroValues(t *testing.T) {
	var r *RuntimeConfig
	assert.Equal(t, defaultUserAgent, r.GetUserAgent())
	assert.Equal(t, 32, r.GetMaxConnectionsPerHost())
	assert.Equal(t, int64(256*1024), r.GetMinChunkSize())

	r = &RuntimeConfig{}
	assert.Equal(t, defaultUserAgent, r.GetUserAgent())
	assert.Equal(t, 3, r.GetMaxTaskRetries())
}
