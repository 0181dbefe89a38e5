package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// WriteSSE writes events as server-sent events until the channel closes or
// ctx ends. Each event is one "data:" frame holding the event JSON.
func WriteSSE(ctx context.Context, w http.ResponseWriter, events <-chan Event) error {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("marshal %s event: %w", ev.Type, err)
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return fmt.Errorf("write %s event: %w", ev.Type, err)
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}
