package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// NDJSONWriter writes one JSON object per line and flushes after each.
type NDJSONWriter struct {
	w         http.ResponseWriter
	enc       *json.Encoder
	rc        *http.ResponseController
	eventWait time.Duration
}

// NewNDJSON sets streaming headers and writes the status line.
//
// A positive eventWait replaces the server's WriteTimeout, which covers the
// whole response, with a rolling deadline: the connection may sit idle for
// at most eventWait before the next event is written.
func NewNDJSON(w http.ResponseWriter, eventWait time.Duration) *NDJSONWriter {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	n := &NDJSONWriter{w: w, enc: json.NewEncoder(w), rc: http.NewResponseController(w), eventWait: eventWait}
	_ = n.extend()
	w.WriteHeader(http.StatusOK)
	return n
}

// Write encodes v as one line. Flush errors are ignored when the writer cannot flush.
func (n *NDJSONWriter) Write(v any) error {
	if err := n.enc.Encode(v); err != nil {
		return err
	}
	if err := n.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return n.extend()
}

func (n *NDJSONWriter) extend() error {
	if n.eventWait <= 0 {
		return nil
	}
	err := n.rc.SetWriteDeadline(time.Now().Add(n.eventWait))
	if errors.Is(err, http.ErrNotSupported) {
		return nil
	}
	return err
}
