package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/zjrosen/ralph/internal/log"
	"github.com/zjrosen/ralph/internal/pubsub"
)

// Events streams one session as server-sent events: "snapshot" first, then
// "updated" snapshots interleaved with "activity" entries from the agent.
// The stream ends when the client goes away or the session is evicted.
// GET /api/sessions/{id}/events
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := r.Context()

	// Subscribe before reading the snapshot so no update falls between them.
	events := h.svc.Subscribe(ctx)
	activity := h.svc.SubscribeActivity(ctx)
	s, err := h.svc.GetSession(ctx, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, rc, "snapshot", viewOf(s)); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Payload.ID != id {
				continue
			}
			if err := writeEvent(w, rc, string(ev.Type), viewOf(ev.Payload)); err != nil {
				return
			}
			if ev.Type == pubsub.DeletedEvent {
				return
			}
		case ev, ok := <-activity:
			if !ok {
				activity = nil
				continue
			}
			if ev.Payload.SessionID != id {
				continue
			}
			if err := writeEvent(w, rc, "activity", ev.Payload); err != nil {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error(log.CatAPI, "encoding event failed", "event", name, "error", err)
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	return rc.Flush()
}
