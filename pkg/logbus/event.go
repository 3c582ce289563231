package logbus

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/splax/minivercel/pkg/build"
)

const (
	// ChannelPrefix prefixes every project log channel.
	ChannelPrefix = "logs:"
	// AllChannels matches every project log channel.
	AllChannels = ChannelPrefix + "*"
)

// Status classifies an event for machine consumers.
type Status string

const (
	StatusProgress Status = "progress"
	StatusSuccess  Status = "success"
	StatusFailure  Status = "failure"
)

// Event is the envelope published for every build transition. Text is the
// human-readable line; plain-text consumers only need that field.
type Event struct {
	ProjectID string      `json:"projectId"`
	Phase     build.Phase `json:"phase,omitempty"`
	Status    Status      `json:"status"`
	Level     string      `json:"level"`
	Text      string      `json:"text"`
	Detail    string      `json:"detail,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Terminal reports whether the event closes a build.
func (e Event) Terminal() bool {
	return e.Status == StatusSuccess || e.Status == StatusFailure
}

// Channel returns the log channel key of a project.
func Channel(projectID string) string {
	return ChannelPrefix + projectID
}

// ProjectFromChannel extracts the project identifier from a channel key.
func ProjectFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, ChannelPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(channel, ChannelPrefix)
	if id == "" {
		return "", false
	}
	return id, true
}

// Encode serialises the envelope.
func Encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a channel payload. Payloads that are not an envelope, such
// as plain strings from older publishers, become informational text events.
func Decode(projectID string, payload []byte) Event {
	var e Event
	if err := json.Unmarshal(payload, &e); err == nil && e.Text != "" {
		if e.ProjectID == "" {
			e.ProjectID = projectID
		}
		if e.Status == "" {
			e.Status = StatusProgress
		}
		return e
	}
	return Event{
		ProjectID: projectID,
		Status:    StatusProgress,
		Level:     "info",
		Text:      string(payload),
	}
}
