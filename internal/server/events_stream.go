package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dfpersonal/cash-management/internal/events"
)

// EventsStreamHandler streams engine events to clients over SSE.
// GET /api/events/stream?types=RUN_COMPLETED,BREACH_DETECTED
type EventsStreamHandler struct {
	bus *events.Bus
	log zerolog.Logger
}

// NewEventsStreamHandler creates the SSE handler.
func NewEventsStreamHandler(bus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		bus: bus,
		log: log.With().Str("handler", "events_stream").Logger(),
	}
}

func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var types []events.EventType
	if filter := r.URL.Query().Get("types"); filter != "" {
		for _, t := range strings.Split(filter, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, events.EventType(t))
			}
		}
	}

	ch, cancel := h.bus.Subscribe(types...)
	defer cancel()

	// The server's write timeout would sever long-lived streams;
	// lift it for this response only. Recorders used in tests do not
	// support deadlines, which is fine to ignore.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	h.writeEvent(w, map[string]interface{}{
		"type":      "connected",
		"timestamp": time.Now().Format(time.RFC3339),
	})
	flusher.Flush()

	h.log.Debug().Int("type_filter", len(types)).Msg("SSE client connected")

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.log.Debug().Msg("SSE client disconnected")
			return

		case event, open := <-ch:
			if !open {
				return
			}
			h.writeEvent(w, event)
			flusher.Flush()

		case <-heartbeat.C:
			h.writeEvent(w, map[string]interface{}{
				"type":      "heartbeat",
				"timestamp": time.Now().Format(time.RFC3339),
			})
			flusher.Flush()
		}
	}
}

func (h *EventsStreamHandler) writeEvent(w http.ResponseWriter, event interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to encode SSE event")
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
