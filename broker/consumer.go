package broker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bluebox123/agentic-orchestrator/orchestrator"
	"github.com/nats-io/nats.go/jetstream"
)

// RunClaimLoop consumes claim messages and marks the corresponding task
// RUNNING. It blocks until ctx is cancelled; run it in its own goroutine.
func (b *Broker) RunClaimLoop(ctx context.Context, orch *orchestrator.Orchestrator) error {
	consumer, err := b.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       "claims",
		FilterSubject: claimSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    3,
	})
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		for msg := range msgs.Messages() {
			b.handleClaim(ctx, orch, msg)
		}
	}
}

func (b *Broker) handleClaim(ctx context.Context, orch *orchestrator.Orchestrator, msg jetstream.Msg) {
	var claim ClaimMessage
	if err := json.Unmarshal(msg.Data(), &claim); err != nil {
		b.logger.Error("decode claim message failed", "error", err)
		_ = msg.Term()
		return
	}

	if err := orch.MarkRunning(ctx, claim.JobID, claim.TaskID); err != nil {
		b.logger.Warn("mark running failed", "job_id", claim.JobID, "task_id", claim.TaskID, "error", err)
	}
	_ = msg.Ack()
}

// RunResultLoop consumes worker result reports and applies them through the
// orchestrator. A result that fails to apply is redelivered up to
// resultMaxDeliver times before being republished to the DLQ and the task
// force-failed.
func (b *Broker) RunResultLoop(ctx context.Context, orch *orchestrator.Orchestrator) error {
	consumer, err := b.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       "results",
		FilterSubject: resultSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       time.Minute,
		MaxDeliver:    resultMaxDeliver,
	})
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		for msg := range msgs.Messages() {
			b.handleResult(ctx, orch, msg)
		}
	}
}

func (b *Broker) handleResult(ctx context.Context, orch *orchestrator.Orchestrator, msg jetstream.Msg) {
	var rm ResultMessage
	if err := json.Unmarshal(msg.Data(), &rm); err != nil {
		b.logger.Error("decode result message failed", "error", err)
		_ = msg.Term()
		return
	}

	err := orch.HandleWorkerResult(ctx, rm.JobID, rm.TaskID, rm.Result)
	if err == nil {
		_ = msg.Ack()
		return
	}
	if errors.Is(err, orchestrator.ErrTaskAlreadyTerminal) {
		b.logger.Debug("discarding duplicate worker result for terminal task", "job_id", rm.JobID, "task_id", rm.TaskID)
		_ = msg.Ack()
		return
	}

	meta, metaErr := msg.Metadata()
	exhausted := metaErr == nil && meta.NumDelivered >= resultMaxDeliver

	if !exhausted {
		b.logger.Warn("apply worker result failed, will redeliver", "job_id", rm.JobID, "task_id", rm.TaskID, "error", err)
		_ = msg.Nak()
		return
	}

	b.logger.Error("worker result redelivery exhausted, routing to DLQ", "job_id", rm.JobID, "task_id", rm.TaskID, "error", err)
	dlqErr := b.publishDLQ(ctx, DLQEntry{
		TaskMessage: orchestrator.TaskMessage{TaskID: rm.TaskID, JobID: rm.JobID},
		Reason:      err.Error(),
		FailedAt:    time.Now(),
	})
	if dlqErr != nil {
		b.logger.Error("publish DLQ entry failed", "task_id", rm.TaskID, "error", dlqErr)
	}
	if failErr := orch.FailFromDLQ(ctx, rm.JobID, rm.TaskID, err.Error()); failErr != nil && !errors.Is(failErr, orchestrator.ErrTaskAlreadyTerminal) {
		b.logger.Error("fail from DLQ failed", "task_id", rm.TaskID, "error", failErr)
	}
	_ = msg.Term()
}

// FetchDLQ returns up to limit not-yet-seen DLQ entries for the API's DLQ
// listing endpoint, oldest first. It uses a durable cursor (AckNonePolicy),
// so repeated calls page forward through the DLQ subject rather than
// re-returning the same snapshot — callers that need the full backlog
// should page until an empty result comes back.
func (b *Broker) FetchDLQ(ctx context.Context, limit int) ([]DLQEntry, error) {
	consumer, err := b.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       "dlq-reader",
		FilterSubject: dlqSubject,
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, err
	}

	msgs, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, err
	}

	var entries []DLQEntry
	for msg := range msgs.Messages() {
		var entry DLQEntry
		if err := json.Unmarshal(msg.Data(), &entry); err != nil {
			b.logger.Warn("decode DLQ entry failed", "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
