package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"reel/internal/faults"
	"reel/internal/logging"
	"reel/internal/testsupport"
)

func newClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithRemoteBaseURL(baseURL))
	return NewClient(cfg, logging.NewNop())
}

func TestCreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/sessions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding request body failed: %v", err)
		}
		if body["title"] != "standup" || body["user_id"] != "local" {
			t.Errorf("unexpected request body: %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": "abc-123", "status": "recording"})
	}))
	defer srv.Close()

	id, err := newClient(t, srv.URL).CreateSession(context.Background(), "standup", "local")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if id != "abc-123" {
		t.Fatalf("unexpected session id %q", id)
	}
}

func TestCreateSessionMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "recording"})
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL).CreateSession(context.Background(), "standup", "local")
	if err == nil {
		t.Fatal("expected error for response without id")
	}
	if faults.Kind(err) != faults.KindPermanentDelivery {
		t.Fatalf("unexpected kind %q for %v", faults.Kind(err), err)
	}
}

func TestUploadChunkSendsMultipart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chunk_000.wav")
	if err := os.WriteFile(path, []byte("RIFFdata"), 0o644); err != nil {
		t.Fatalf("writing chunk file failed: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parsing multipart form failed: %v", err)
		}
		if got := r.FormValue("session_id"); got != "abc-123" {
			t.Errorf("unexpected session_id %q", got)
		}
		if got := r.FormValue("chunk_index"); got != "3" {
			t.Errorf("unexpected chunk_index %q", got)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file part: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"session_id": "abc-123", "chunk_index": 3})
	}))
	defer srv.Close()

	if err := newClient(t, srv.URL).UploadChunk(context.Background(), "abc-123", 3, path); err != nil {
		t.Fatalf("UploadChunk failed: %v", err)
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"server error", 500, true},
		{"throttled", 429, true},
		{"bad request", 400, false},
		{"not found", 404, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			defer srv.Close()

			_, err := newClient(t, srv.URL).GetSession(context.Background(), "abc-123")
			if err == nil {
				t.Fatal("expected error")
			}
			if faults.Retryable(err) != tc.retryable {
				t.Fatalf("status %d: retryable=%v, want %v (%v)", tc.status, faults.Retryable(err), tc.retryable, err)
			}
		})
	}
}

func TestConnectionErrorIsTransient(t *testing.T) {
	// Nothing listens here.
	err := newClient(t, "http://127.0.0.1:1").UploadChunk(context.Background(), "abc-123", 0, "missing.wav")
	if err == nil {
		t.Fatal("expected error")
	}
	if !faults.Retryable(err) {
		t.Fatalf("connection errors must stay retryable: %v", err)
	}
}

func TestGetSessionResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sessions/abc-123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":           "abc-123",
			"status":       "completed",
			"transcript":   "hello world",
			"summary":      "greeting",
			"key_points":   []string{"hello"},
			"action_items": []string{"reply"},
		})
	}))
	defer srv.Close()

	session, err := newClient(t, srv.URL).GetSession(context.Background(), "abc-123")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if !session.Terminal() {
		t.Fatalf("completed status not terminal: %+v", session)
	}
	if session.Transcript != "hello world" || len(session.KeyPoints) != 1 {
		t.Fatalf("result not parsed: %+v", session)
	}
}

func TestDeleteSessionTolerates404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	if err := newClient(t, srv.URL).DeleteSession(context.Background(), "gone"); err != nil {
		t.Fatalf("DeleteSession failed on 404: %v", err)
	}
}
