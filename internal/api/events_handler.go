package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/events"
)

const (
	sseKeepAlive = 15 * time.Second
	sseRetryMS   = 3000
)

// handleEvents handles GET /events as a server-sent event stream.
//
// ?types=op.,plugin. limits the stream to those type prefixes. A
// Last-Event-ID header first replays retained events after that id.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	filter := events.ParseFilter(r.URL.Query().Get("types"))

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// The live feed opens before the replay is read; ids already replayed are skipped.
	live, cancel := s.events.Subscribe(filter)
	defer cancel()

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", sseRetryMS); err != nil {
		return
	}
	sent := lastEventID(r)
	for _, ev := range s.events.SnapshotSince(sent, filter) {
		if err := writeSSE(w, ev); err != nil {
			return
		}
		sent = ev.ID
	}
	flusher.Flush()

	ping := time.NewTicker(sseKeepAlive)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-live:
			if !open {
				return
			}
			if ev.ID <= sent {
				continue
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			sent = ev.ID
		case <-ping.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
		}
		flusher.Flush()
	}
}

func lastEventID(r *http.Request) int64 {
	v := r.Header.Get("Last-Event-ID")
	if v == "" {
		return 0
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

// writeSSE frames one event. Data is compact JSON, so it fits one data line.
func writeSSE(w io.Writer, ev events.Event) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Data)
	return err
}
