package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/vkore/internal/events"
)

// keepAliveInterval spaces SSE comment frames on idle streams.
var keepAliveInterval = 15 * time.Second

// sseStream writes server-sent event frames and flushes after each one.
type sseStream struct {
	w      io.Writer
	flush  func()
	lastID int64
}

func (s *sseStream) send(ev events.Event) error {
	if ev.ID <= s.lastID {
		return nil
	}
	if _, err := fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Data); err != nil {
		return err
	}
	s.lastID = ev.ID
	s.flush()
	return nil
}

func (s *sseStream) ping() error {
	if _, err := io.WriteString(s.w, ": keep-alive\n\n"); err != nil {
		return err
	}
	s.flush()
	return nil
}

// handleEvents handles GET /events. Retained events newer than Last-Event-ID
// are replayed, then the live stream follows.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Subscribe first: anything published during replay is queued on live and
	// deduplicated by ID.
	live, unsubscribe := s.deps.Events.Subscribe()
	defer unsubscribe()

	stream := &sseStream{w: w, flush: flusher.Flush, lastID: parseLastEventID(r.Header.Get("Last-Event-ID"))}
	for _, ev := range s.deps.Events.SnapshotSince(stream.lastID) {
		if err := stream.send(ev); err != nil {
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-live:
			if !open {
				return
			}
			err = stream.send(ev)
		case <-ticker.C:
			err = stream.ping()
		}
		if err != nil {
			s.logger.Debug("event stream closed", "error", err)
			return
		}
	}
}

func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
