package pipeline

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
)

// JobNamePrefix is the first token of every transcription job name.
const JobNamePrefix = "echoguard"

// DefaultMediaFormat is used for unknown file extensions.
const DefaultMediaFormat = "mp3"

var mediaFormats = map[string]string{
	"mp3":  "mp3",
	"mp4":  "mp4",
	"wav":  "wav",
	"flac": "flac",
	"m4a":  "mp4",
	"ogg":  "ogg",
}

// JobName returns <prefix>-<recordingId>-<unix seconds>.
func JobName(recordingID string, at time.Time) string {
	return fmt.Sprintf("%s-%s-%d", JobNamePrefix, recordingID, at.Unix())
}

// RecordingIDFromJobName extracts the recording id from a job name built by JobName.
// Names that are not exactly three hyphen-separated tokens are rejected.
func RecordingIDFromJobName(jobName string) (string, error) {
	parts := strings.Split(jobName, "-")
	if len(parts) != 3 {
		return "", fmt.Errorf("job name %q: want 3 tokens, got %d", jobName, len(parts))
	}
	if parts[1] == "" {
		return "", fmt.Errorf("job name %q: empty recording id", jobName)
	}
	if _, err := strconv.ParseInt(parts[2], 10, 64); err != nil {
		return "", fmt.Errorf("job name %q: bad timestamp", jobName)
	}
	return parts[1], nil
}

// MediaFormat maps a storage key's extension (case-insensitive) to a transcription media format.
func MediaFormat(key string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(key), "."))
	if f, ok := mediaFormats[ext]; ok {
		return f
	}
	return DefaultMediaFormat
}
