package streaming

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"sitewatch/monitor/observability"
)

// LogPublisher writes events to the process log. It stands in for a real
// broker in single-node deployments.
type LogPublisher struct {
	logger *log.Logger
}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{
		logger: log.Default(),
	}
}

func (p *LogPublisher) Publish(ctx context.Context, topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		observability.EventPublishFailures.WithLabelValues(topic).Inc()
		return err
	}

	event := Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   data,
		Timestamp: time.Now(),
		Source:    "sitewatch",
	}

	eventBytes, _ := json.Marshal(event)
	p.logger.Printf("[STREAMING] PUBLISH %s: %s", topic, string(eventBytes))
	return nil
}

func (p *LogPublisher) Close() error {
	p.logger.Println("[STREAMING] Closed LogPublisher")
	return nil
}
