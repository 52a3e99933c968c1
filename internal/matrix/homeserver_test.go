// ABOUTME: Minimal fake homeserver recording the client-server API calls made by the package
// ABOUTME: Serves whoami, presence, send, state, redact, messages, filter and a long-polling sync

package matrix

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type recordedCall struct {
	Method string
	Path   string
	Query  string
	Body   map[string]any
}

type fakeHomeserver struct {
	t      *testing.T
	server *httptest.Server
	userID string

	mu        sync.Mutex
	calls     []recordedCall
	pages     map[string]string // messages "from" token -> JSON response
	filterErr bool
	// rateLimited answers this many redactions with 429 before accepting them.
	rateLimited int
}

func newFakeHomeserver(t *testing.T, userID string) *fakeHomeserver {
	t.Helper()
	hs := &fakeHomeserver{t: t, userID: userID, pages: make(map[string]string)}
	hs.server = httptest.NewServer(http.HandlerFunc(hs.serve))
	t.Cleanup(hs.server.Close)
	return hs
}

func (hs *fakeHomeserver) URL() string {
	return hs.server.URL
}

func (hs *fakeHomeserver) serve(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	call := recordedCall{Method: r.Method, Path: path, Query: r.URL.RawQuery}
	if b, _ := io.ReadAll(r.Body); len(b) > 0 {
		_ = json.Unmarshal(b, &call.Body)
	}

	w.Header().Set("Content-Type", "application/json")

	switch {
	case strings.HasSuffix(path, "/account/whoami"):
		if r.Header.Get("Authorization") == "Bearer bad" {
			w.WriteHeader(http.StatusUnauthorized)
			writeJSON(w, map[string]string{"errcode": "M_UNKNOWN_TOKEN", "error": "Invalid access token"})
			return
		}
		writeJSON(w, map[string]string{"user_id": hs.userID, "device_id": "DEVICE"})
		return
	case strings.HasSuffix(path, "/sync"):
		// Long poll until the client gives up.
		<-r.Context().Done()
		return
	}

	hs.mu.Lock()
	if hs.rateLimited > 0 && strings.Contains(path, "/redact/") {
		hs.rateLimited--
		hs.mu.Unlock()
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
		writeJSON(w, map[string]string{"errcode": "M_LIMIT_EXCEEDED", "error": "Too many requests"})
		return
	}
	hs.calls = append(hs.calls, call)
	filterErr := hs.filterErr
	page, hasPage := hs.pages[r.URL.Query().Get("from")]
	hs.mu.Unlock()

	switch {
	case strings.Contains(path, "/filter"):
		if filterErr {
			w.WriteHeader(http.StatusBadRequest)
			writeJSON(w, map[string]string{"errcode": "M_UNKNOWN", "error": "filter rejected"})
			return
		}
		writeJSON(w, map[string]string{"filter_id": "1"})
	case strings.Contains(path, "/presence/"):
		writeJSON(w, map[string]any{})
	case strings.Contains(path, "/send/"), strings.Contains(path, "/redact/"), strings.Contains(path, "/state/"):
		writeJSON(w, map[string]string{"event_id": "$sent"})
	case strings.HasSuffix(path, "/messages"):
		if !hasPage {
			page = `{"chunk":[],"start":"x"}`
		}
		_, _ = io.WriteString(w, page)
	default:
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]string{"errcode": "M_UNRECOGNIZED", "error": "unrecognized"})
	}
}

func (hs *fakeHomeserver) callsMatching(method, fragment string) []recordedCall {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	var out []recordedCall
	for _, c := range hs.calls {
		if c.Method == method && strings.Contains(c.Path, fragment) {
			out = append(out, c)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}
