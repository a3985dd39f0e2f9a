package youtube

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// resumableServer is a minimal in-memory implementation of the resumable
// upload protocol.
type resumableServer struct {
	t *testing.T

	mu       sync.Mutex
	srv      *httptest.Server
	sessions int
	received []byte
	total    int64
	puts     int
	queries  int
	metadata videoResource

	// failPut returns a status for the nth chunk PUT (1-based), or 0.
	failPut func(n int) int
}

func newResumableServer(t *testing.T) *resumableServer {
	t.Helper()
	rs := &resumableServer{t: t}
	rs.srv = httptest.NewServer(http.HandlerFunc(rs.handle))
	t.Cleanup(rs.srv.Close)
	return rs
}

func (rs *resumableServer) URL() string {
	return rs.srv.URL
}

func (rs *resumableServer) handle(w http.ResponseWriter, r *http.Request) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == uploadPath:
		if r.URL.Query().Get("uploadType") != "resumable" {
			http.Error(w, "bad upload type", http.StatusBadRequest)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&rs.metadata); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		total, err := strconv.ParseInt(r.Header.Get("X-Upload-Content-Length"), 10, 64)
		if err != nil {
			http.Error(w, "missing length", http.StatusBadRequest)
			return
		}
		rs.sessions++
		rs.total = total
		rs.received = nil
		w.Header().Set("Location", fmt.Sprintf("%s/session/%d", rs.srv.URL, rs.sessions))
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/session/"):
		if r.URL.Path != fmt.Sprintf("/session/%d", rs.sessions) {
			http.NotFound(w, r)
			return
		}
		contentRange := r.Header.Get("Content-Range")
		if strings.HasPrefix(contentRange, "bytes */") {
			rs.queries++
			rs.writeIncomplete(w)
			return
		}
		rs.puts++
		body, _ := io.ReadAll(r.Body)
		if rs.failPut != nil {
			if code := rs.failPut(rs.puts); code != 0 {
				w.WriteHeader(code)
				return
			}
		}
		var start, end, total int64
		if _, err := fmt.Sscanf(contentRange, "bytes %d-%d/%d", &start, &end, &total); err != nil {
			http.Error(w, "bad range", http.StatusBadRequest)
			return
		}
		if start != int64(len(rs.received)) || end-start+1 != int64(len(body)) {
			http.Error(w, "range mismatch", http.StatusBadRequest)
			return
		}
		rs.received = append(rs.received, body...)
		if int64(len(rs.received)) == rs.total {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"vid-123","kind":"youtube#video"}`))
			return
		}
		rs.writeIncomplete(w)
	default:
		http.NotFound(w, r)
	}
}

func (rs *resumableServer) writeIncomplete(w http.ResponseWriter) {
	if int64(len(rs.received)) == rs.total && rs.total > 0 {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"vid-123"}`))
		return
	}
	if len(rs.received) > 0 {
		w.Header().Set("Range", fmt.Sprintf("bytes=0-%d", len(rs.received)-1))
	}
	w.WriteHeader(statusResumeNeeded)
}

func (rs *resumableServer) snapshot() (sessions, puts, queries int, received []byte) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.sessions, rs.puts, rs.queries, append([]byte(nil), rs.received...)
}
