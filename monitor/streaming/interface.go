package streaming

import (
	"context"
	"time"
)

// Topics published by the monitor service.
const (
	TopicProjectCreated   = "project.created"
	TopicProjectDeleted   = "project.deleted"
	TopicCheckCompleted   = "check.completed"
	TopicRescrapeTriggered = "rescrape.triggered"
	TopicArtifactWritten  = "artifact.written"
)

type Event struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Payload   []byte    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Publisher emits lifecycle events for external consumers. Publishing is
// best-effort: callers must not fail a check or crawl because an event
// could not be delivered.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
	Close() error
}
