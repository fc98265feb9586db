package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sdejongh/fetchferry/pkg/broadcast"
	"github.com/sdejongh/fetchferry/pkg/logging"
	"github.com/sdejongh/fetchferry/pkg/metrics"
)

// handleEvents streams every task update as a server-sent event:
//
//	event: taskUpdate
//	data: {"type":"taskUpdate","taskId":...,"task":{...},"seq":N}
//
// A comment line is sent as heartbeat. The stream ends when the client goes
// away or the hub is closed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)
	sub := s.hub.Subscribe()
	defer sub.Close()

	fmt.Fprint(w, ": connected\n\n")
	if err := rc.Flush(); err != nil {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	s.logger.Debug(ctx, "event listener connected", logging.Fields{"remote_addr": r.RemoteAddr})

	ticker := time.NewTicker(s.opts.Heartbeat)
	defer ticker.Stop()

	var reported uint64
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug(ctx, "event listener disconnected", logging.Fields{"remote_addr": r.RemoteAddr})
			return

		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				s.logger.Warn(ctx, "failed to encode task update", logging.Fields{"error": err.Error()})
				continue
			}
			if err := rc.Flush(); err != nil {
				return
			}
			if dropped := sub.Dropped(); dropped > reported {
				metrics.BroadcastDropped.Add(float64(dropped - reported))
				reported = dropped
			}

		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, ev broadcast.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
