package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindows(t *testing.T) {
	tests := []struct {
		name   string
		total  time.Duration
		window time.Duration
		want   []time.Duration
	}{
		{"exact", 20 * time.Minute, 10 * time.Minute, []time.Duration{0, 10 * time.Minute}},
		{"remainder", 25 * time.Minute, 10 * time.Minute, []time.Duration{0, 10 * time.Minute, 20 * time.Minute}},
		{"shorter than window", 3 * time.Minute, 10 * time.Minute, []time.Duration{0}},
		{"empty", 0, 10 * time.Minute, nil},
		{"no window", time.Minute, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Windows(tt.total, tt.window))
		})
	}
}

func TestParseProbe(t *testing.T) {
	d, err := parseProbe([]byte(`{"format":{"filename":"a.m4a","duration":"1834.512000"}}`))
	require.NoError(t, err)
	assert.Equal(t, 1834512*time.Millisecond, d)

	_, err = parseProbe([]byte(`{"format":{}}`))
	assert.Error(t, err)

	_, err = parseProbe([]byte(`garbage`))
	assert.Error(t, err)
}

func TestChunkPath(t *testing.T) {
	assert.Equal(t, "/tmp/vid-uuid.chunk002.m4a", ChunkPath("/tmp/vid-uuid.m4a", 2))
}
