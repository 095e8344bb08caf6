package logging

import (
	"net/http"
)

// ResponseWriter wraps http.ResponseWriter to capture the status code and
// the number of body bytes written
type ResponseWriter struct {
	http.ResponseWriter
	status      int
	size        int
	wroteHeader bool
	before      []func(http.Header)
}

// NewResponseWriter creates a new ResponseWriter
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		status:         http.StatusOK, // Default to 200 OK
	}
}

// BeforeHeader registers fn to run once, just before the status line is sent.
// Headers set by fn reach the client.
func (w *ResponseWriter) BeforeHeader(fn func(h http.Header)) {
	w.before = append(w.before, fn)
}

// WriteHeader captures the status code and passes it to the underlying ResponseWriter.
// Only the first call has any effect.
func (w *ResponseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = status
	for _, fn := range w.before {
		fn(w.Header())
	}
	w.ResponseWriter.WriteHeader(status)
}

// Write sends an implicit 200 if no status has been written yet
func (w *ResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

// Flush implements http.Flusher when the underlying writer does
func (w *ResponseWriter) Flush() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer
func (w *ResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Status returns the captured status code
func (w *ResponseWriter) Status() int {
	return w.status
}

// Size returns the number of body bytes written
func (w *ResponseWriter) Size() int {
	return w.size
}

// Written reports whether the status line has been sent
func (w *ResponseWriter) Written() bool {
	return w.wroteHeader
}
