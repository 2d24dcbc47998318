package pipeline

import (
	"testing"
	"time"

	"github.com/echoguard/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobName_RoundTrip(t *testing.T) {
	id := models.NewRecordingID()
	name := JobName(id, time.Unix(1700000000, 0))

	assert.Equal(t, "echoguard-"+id+"-1700000000", name)
	got, err := RecordingIDFromJobName(name)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestRecordingIDFromJobName_Rejects(t *testing.T) {
	for _, name := range []string{
		"",
		"echoguard",
		"echoguard-abc",
		"echoguard-ab-cd-1700000000",
		"echoguard--1700000000",
		"echoguard-abc-notanumber",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := RecordingIDFromJobName(name)
			assert.Error(t, err)
		})
	}
}

func TestMediaFormat(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"u/r/clip.M4A", "mp4"},
		{"u/r/call.ogg", "ogg"},
		{"u/r/recording.xyz", "mp3"},
		{"u/r/a.mp3", "mp3"},
		{"u/r/a.MP4", "mp4"},
		{"u/r/a.wav", "wav"},
		{"u/r/a.flac", "flac"},
		{"u/r/noext", "mp3"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, MediaFormat(tt.key))
		})
	}
}
