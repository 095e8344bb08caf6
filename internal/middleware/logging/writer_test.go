package logging

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResponseWriter(t *testing.T) {
	tests := []struct {
		name        string
		writeStatus int
		wantStatus  int
	}{
		{
			name:        "captures OK status",
			writeStatus: http.StatusOK,
			wantStatus:  http.StatusOK,
		},
		{
			name:        "captures error status",
			writeStatus: http.StatusBadRequest,
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "defaults to 200",
			writeStatus: 0,
			wantStatus:  http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rw := NewResponseWriter(httptest.NewRecorder())

			if tt.writeStatus != 0 {
				rw.WriteHeader(tt.writeStatus)
			}

			if rw.Status() != tt.wantStatus {
				t.Errorf("got status %d, want %d", rw.Status(), tt.wantStatus)
			}
		})
	}
}

func TestResponseWriterFirstStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	rw.WriteHeader(http.StatusTeapot)
	rw.WriteHeader(http.StatusInternalServerError)

	if rw.Status() != http.StatusTeapot {
		t.Errorf("got status %d, want %d", rw.Status(), http.StatusTeapot)
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("recorder got status %d, want %d", rec.Code, http.StatusTeapot)
	}
}

func TestResponseWriterBeforeHeader(t *testing.T) {
	tests := []struct {
		name  string
		write func(w http.ResponseWriter)
	}{
		{
			name:  "explicit WriteHeader",
			write: func(w http.ResponseWriter) { w.WriteHeader(http.StatusCreated) },
		},
		{
			name:  "implicit via Write",
			write: func(w http.ResponseWriter) { _, _ = w.Write([]byte("body")) },
		},
		{
			name:  "flush",
			write: func(w http.ResponseWriter) { w.(http.Flusher).Flush() },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			rw := NewResponseWriter(rec)

			calls := 0
			rw.BeforeHeader(func(h http.Header) {
				calls++
				h.Set("X-Test", "set")
			})

			tt.write(rw)
			tt.write(rw)

			if calls != 1 {
				t.Errorf("hook ran %d times, want 1", calls)
			}
			if got := rec.Result().Header.Get("X-Test"); got != "set" {
				t.Errorf("header = %q, want %q", got, "set")
			}
			if !rw.Written() {
				t.Error("Written() = false after write")
			}
		})
	}
}

func TestResponseWriterSize(t *testing.T) {
	rw := NewResponseWriter(httptest.NewRecorder())
	_, _ = rw.Write([]byte("hello"))
	_, _ = rw.Write([]byte(" world"))

	if rw.Size() != 11 {
		t.Errorf("got size %d, want 11", rw.Size())
	}
}

func TestResponseWriterImplementsInterface(t *testing.T) {
	var _ http.ResponseWriter = &ResponseWriter{}
	var _ http.Flusher = &ResponseWriter{}
}
