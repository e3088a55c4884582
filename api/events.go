package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bluebox123/agentic-orchestrator/orchestrator"
	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
)

// EventBus re-emits orchestrator transitions onto plain NATS core subjects
// (not JetStream — these are ephemeral push notifications, not a durable
// log) so the SSE handler below can subscribe per job without replaying
// history. It implements orchestrator.EventPublisher.
type EventBus struct {
	nc *nats.Conn
}

// NewEventBus wraps an existing NATS connection.
func NewEventBus(nc *nats.Conn) *EventBus {
	return &EventBus{nc: nc}
}

func taskEventSubject(jobID string) string { return "events." + jobID + ".task" }
func jobEventSubject(jobID string) string  { return "events." + jobID + ".job" }

// PublishTaskEvent implements orchestrator.EventPublisher.
func (b *EventBus) PublishTaskEvent(ctx context.Context, evt orchestrator.TaskEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal task event: %w", err)
	}
	return b.nc.Publish(taskEventSubject(evt.JobID), data)
}

// PublishJobEvent implements orchestrator.EventPublisher.
func (b *EventBus) PublishJobEvent(ctx context.Context, evt orchestrator.JobEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal job event: %w", err)
	}
	return b.nc.Publish(jobEventSubject(evt.JobID), data)
}

// subscribeJob subscribes to both the task and job event subjects for one
// job, fanning both into a single channel.
func (b *EventBus) subscribeJob(jobID string) (chan *nats.Msg, func(), error) {
	ch := make(chan *nats.Msg, 64)
	taskSub, err := b.nc.ChanSubscribe(taskEventSubject(jobID), ch)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe task events: %w", err)
	}
	jobSub, err := b.nc.ChanSubscribe(jobEventSubject(jobID), ch)
	if err != nil {
		_ = taskSub.Unsubscribe()
		return nil, nil, fmt.Errorf("subscribe job events: %w", err)
	}
	cancel := func() {
		_ = taskSub.Unsubscribe()
		_ = jobSub.Unsubscribe()
	}
	return ch, cancel, nil
}

// handleJobEvents streams task/job transitions for one job as SSE, framed
// the way the donor's question-stream handler does: event/id/data lines, a
// heartbeat ticker, and an initial "connected" event. Unlike the donor
// (which replays a KV bucket's full history on connect), this stream is
// push-only — it carries only transitions emitted after the client
// connects, since job events have no durable log to replay from.
func (h *handlers) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if _, _, err := h.store.GetJob(r.Context(), jobID); err != nil {
		writeStoreErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch, cancel, err := h.events.subscribeJob(jobID)
	if err != nil {
		h.logger.Error("subscribe job events failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to subscribe to job events")
		return
	}
	defer cancel()

	var eventID uint64
	if err := sendSSEEvent(w, flusher, 0, "connected", map[string]string{"status": "connected"}); err != nil {
		return
	}

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			eventID++
			if err := sendSSEEvent(w, flusher, eventID, "heartbeat", map[string]any{}); err != nil {
				return
			}
		case msg, ok := <-ch:
			if !ok {
				return
			}
			eventID++
			eventType := "job_event"
			if msg.Subject == taskEventSubject(jobID) {
				eventType = "task_event"
			}
			if err := sendSSERaw(w, flusher, eventID, eventType, msg.Data); err != nil {
				return
			}
		}
	}
}

// sendSSEEvent marshals data and writes one SSE frame.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, id uint64, eventType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	return sendSSERaw(w, flusher, id, eventType, raw)
}

// sendSSERaw writes one SSE frame from an already-encoded JSON payload.
func sendSSERaw(w http.ResponseWriter, flusher http.Flusher, id uint64, eventType string, data []byte) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if id > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
