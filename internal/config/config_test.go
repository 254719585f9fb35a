package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // No .env to pick up.
	for _, k := range []string{"AUDIO_CHUNK_LIMIT_BYTES", "AUDIO_CHUNK_DURATION", "CAPTION_LANGUAGES", "VERIFY_THRESHOLD_KM", "VERIFY_RADIUS_M"} {
		t.Setenv(k, "")
	}

	c := Load()
	assert.Equal(t, int64(25*1024*1024), c.ChunkLimitBytes)
	assert.Equal(t, 10*time.Minute, c.ChunkDuration)
	assert.Equal(t, []string{"ko", "en"}, c.CaptionLanguages)
	assert.Equal(t, 2.0, c.VerifyThresholdKm)
	assert.Equal(t, uint(20000), c.VerifyRadius)
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("AUDIO_CHUNK_DURATION", "5m")
	t.Setenv("CAPTION_LANGUAGES", "ja, en ,")
	t.Setenv("JOB_WORKERS", "not a number")

	c := Load()
	assert.Equal(t, 5*time.Minute, c.ChunkDuration)
	assert.Equal(t, []string{"ja", "en"}, c.CaptionLanguages)
	assert.Equal(t, 4, c.JobWorkers)
}

func TestRequireServing(t *testing.T) {
	c := &Config{LLMAPIKey: "k"}
	err := c.RequireServing()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissing))
	assert.Contains(t, err.Error(), "POSTGRES_DSN")
	assert.Contains(t, err.Error(), "GOOGLE_MAPS_API_KEY")
	assert.NotContains(t, err.Error(), "LLM_API_KEY")
}
