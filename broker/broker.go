// Package broker realizes the worker protocol's "queue named by agent type"
// as JetStream subjects under a single TASKS stream: dispatch subjects
// (tasks.dispatch.<agent_type>), a claim subject workers use to signal
// pickup, a result subject workers post completions to, and a DLQ subject
// for terminally-undeliverable tasks. JetStream has no native DLQ
// primitive, so exhausted redelivery (tracked via consumer MaxDeliver) is
// realized as an explicit republish onto the DLQ subject plus an
// orchestrator.FailFromDLQ call.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/bluebox123/agentic-orchestrator/orchestrator"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	streamName = "TASKS"

	dispatchPrefix = "tasks.dispatch."
	claimSubject   = "tasks.claimed"
	resultSubject  = "tasks.results"
	dlqSubject     = "tasks.dlq"
)

// resultMaxDeliver bounds redelivery of a worker's result report before it's
// treated as terminally lost and routed to the DLQ.
const resultMaxDeliver = 5

func dispatchSubject(agentType string) string {
	return dispatchPrefix + agentType
}

// ClaimMessage is published by a worker the instant it pulls a dispatched
// task, before it starts executing — the broker's substitute for the
// orchestrator learning "a worker picked this up" without a direct RPC.
type ClaimMessage struct {
	JobID  string `json:"job_id"`
	TaskID string `json:"task_id"`
}

// ResultMessage is published by a worker once it finishes (or gives up on)
// a task.
type ResultMessage struct {
	JobID  string                    `json:"job_id"`
	TaskID string                    `json:"task_id"`
	Result orchestrator.WorkerResult `json:"result"`
}

// Broker wraps a JetStream context with the task-dispatch subject layout.
// It implements orchestrator.Enqueuer.
type Broker struct {
	js     jetstream.JetStream
	stream jetstream.Stream
	logger *slog.Logger
}

// New ensures the TASKS stream exists (covering every tasks.* subject used
// above) and returns a Broker ready to publish and consume.
func New(ctx context.Context, js jetstream.JetStream, logger *slog.Logger) (*Broker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"tasks.>"},
	})
	if err != nil {
		return nil, fmt.Errorf("create/update %s stream: %w", streamName, err)
	}
	return &Broker{js: js, stream: stream, logger: logger}, nil
}

// Enqueue implements orchestrator.Enqueuer: publish a resolved task onto its
// agent type's dispatch subject.
func (b *Broker) Enqueue(ctx context.Context, msg orchestrator.TaskMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal task message: %w", err)
	}
	if _, err := b.js.Publish(ctx, dispatchSubject(msg.AgentType), data); err != nil {
		return fmt.Errorf("publish task %s: %w", msg.TaskID, err)
	}
	return nil
}

// PublishClaim is called by a worker the moment it pulls a dispatched task.
func (b *Broker) PublishClaim(ctx context.Context, jobID, taskID string) error {
	data, err := json.Marshal(ClaimMessage{JobID: jobID, TaskID: taskID})
	if err != nil {
		return fmt.Errorf("marshal claim: %w", err)
	}
	if _, err := b.js.Publish(ctx, claimSubject, data); err != nil {
		return fmt.Errorf("publish claim %s: %w", taskID, err)
	}
	return nil
}

// PublishResult is called by a worker once it finishes a task.
func (b *Broker) PublishResult(ctx context.Context, jobID, taskID string, result orchestrator.WorkerResult) error {
	data, err := json.Marshal(ResultMessage{JobID: jobID, TaskID: taskID, Result: result})
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if _, err := b.js.Publish(ctx, resultSubject, data); err != nil {
		return fmt.Errorf("publish result %s: %w", taskID, err)
	}
	return nil
}

// DLQEntry is one terminally-undeliverable task, as fetched by the DLQ API
// endpoint.
type DLQEntry struct {
	TaskMessage orchestrator.TaskMessage `json:"task_message"`
	Reason      string                   `json:"reason"`
	FailedAt    time.Time                `json:"failed_at"`
}

func (b *Broker) publishDLQ(ctx context.Context, entry DLQEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal DLQ entry: %w", err)
	}
	if _, err := b.js.Publish(ctx, dlqSubject, data); err != nil {
		return fmt.Errorf("publish DLQ entry %s: %w", entry.TaskMessage.TaskID, err)
	}
	return nil
}

// PullDispatched fetches up to batch dispatched tasks for agentType, waiting
// up to maxWait for at least one message. Intended for use by a worker
// process's own pull loop; it does not ack on the caller's behalf.
func (b *Broker) PullDispatched(ctx context.Context, agentType string, batch int, maxWait time.Duration) (jetstream.MessageBatch, error) {
	consumer, err := b.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       "dispatch-" + agentType,
		FilterSubject: dispatchSubject(agentType),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Minute,
		MaxDeliver:    3,
	})
	if err != nil {
		return nil, fmt.Errorf("create dispatch consumer for %s: %w", agentType, err)
	}
	return consumer.Fetch(batch, jetstream.FetchMaxWait(maxWait))
}

// DecodeTaskMessage unmarshals a dispatched message's payload.
func DecodeTaskMessage(msg jetstream.Msg) (orchestrator.TaskMessage, error) {
	var tm orchestrator.TaskMessage
	if err := json.Unmarshal(msg.Data(), &tm); err != nil {
		return orchestrator.TaskMessage{}, fmt.Errorf("decode task message: %w", err)
	}
	return tm, nil
}
