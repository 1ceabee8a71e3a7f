package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lensfeed/focus-collector/internal/events"
	"github.com/lensfeed/focus-collector/internal/focus"
)

const heartbeatInterval = 15 * time.Second

// streamEvents handles GET /v1/runs/{run_id}/events as Server-Sent Events.
// The stream carries only events published while the observer is connected;
// there is no replay. The first frame is a snapshot built from the run store
// so a reconnecting client sees current progress, and a run that is already
// terminal gets the snapshot and an immediate end of stream.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	run, err := s.runs.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, focus.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found", s.logger)
			return
		}
		s.logger.Error("run lookup failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run", s.logger)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", s.logger)
		return
	}

	// Subscribe before reading the snapshot. A terminal event published before
	// the subscription has already torn the run's channel down, so the only
	// way to observe it is a store read taken while the subscription is live:
	// either the event arrives on the channel, or the snapshot shows the
	// terminal status and the stream closes right after the first frame.
	var (
		stream <-chan events.Event
		cancel func()
	)
	if s.bus != nil && !run.Status.Terminal() {
		stream, cancel = s.bus.Subscribe(runID)
		defer cancel()
		if current, refreshErr := s.runs.GetRun(r.Context(), runID); refreshErr == nil {
			run = current
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	s.writeFrame(w, snapshotEvent(run))
	flusher.Flush()
	if run.Status.Terminal() || stream == nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case evt, open := <-stream:
			if !open {
				// Terminal event delivered; the bus tore the channel down.
				return
			}
			s.writeFrame(w, evt)
			flusher.Flush()
			if evt.Type.Terminal() {
				return
			}
		}
	}
}

func (s *Server) writeFrame(w http.ResponseWriter, evt events.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		s.logger.Error("encode event failed", zap.Error(err))
		return
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, payload); err != nil {
		s.logger.Debug("event write failed, client likely gone", zap.Error(err))
	}
}

// snapshotEvent turns the stored run state into the stream's opening frame.
func snapshotEvent(run focus.QueryRun) events.Event {
	evt := events.Event{
		RunID:    run.ID,
		Type:     events.TypeProgress,
		Message:  fmt.Sprintf("run %s", run.Status),
		Progress: run.Progress,
		TS:       time.Now().UTC(),
	}
	switch run.Status {
	case focus.RunStatusCompleted:
		evt.Type = events.TypeDone
	case focus.RunStatusFailed:
		evt.Type = events.TypeError
		evt.Message = run.Error
	}
	return evt
}
