package middleware

import "net/http"

// trackingWriter remembers what has already gone out on the wire. Once the
// header is sent the status can no longer change, which matters for NDJSON
// streams that fail halfway through.
type trackingWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func track(w http.ResponseWriter) *trackingWriter {
	if tw, ok := w.(*trackingWriter); ok {
		return tw
	}
	return &trackingWriter{ResponseWriter: w}
}

func (t *trackingWriter) WriteHeader(code int) {
	if t.status == 0 {
		t.status = code
	}
	t.ResponseWriter.WriteHeader(code)
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	if t.status == 0 {
		t.status = http.StatusOK
	}
	n, err := t.ResponseWriter.Write(p)
	t.bytes += int64(n)
	return n, err
}

func (t *trackingWriter) Flush() {
	if t.status == 0 {
		t.status = http.StatusOK
	}
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (t *trackingWriter) Unwrap() http.ResponseWriter { return t.ResponseWriter }

func (t *trackingWriter) started() bool { return t.status != 0 }

// Status is 200 for handlers that never called WriteHeader.
func (t *trackingWriter) Status() int {
	if t.status == 0 {
		return http.StatusOK
	}
	return t.status
}
