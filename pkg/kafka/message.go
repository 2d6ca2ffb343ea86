package kafka

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrMissingSourceID = errors.New("list job has no source_id")

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	// Parsed content
	Job *ListJob
}

// ListJob asks for every geocoded item of a source to be matched.
type ListJob struct {
	SourceID    string    `json:"source_id"`
	RequestedAt time.Time `json:"requested_at,omitempty"`
}

// ParseListJob parses the message value as a list job. The source_id header
// is used when the body does not carry one.
func (m *IncomingMessage) ParseListJob() error {
	var job ListJob
	if len(m.Value) > 0 {
		if err := json.Unmarshal(m.Value, &job); err != nil {
			return err
		}
	}
	if job.SourceID == "" {
		job.SourceID = m.Headers["source_id"]
	}
	if job.SourceID == "" {
		return ErrMissingSourceID
	}
	if job.RequestedAt.IsZero() {
		job.RequestedAt = m.Timestamp
	}
	m.Job = &job
	return nil
}
