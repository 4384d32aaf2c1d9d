package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestClient_FetchHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feed":
			_, _ = w.Write([]byte("payload"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(time.Second)

	body, err := c.Fetch(context.Background(), srv.URL+"/feed")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(body) != "payload" {
		t.Errorf("body = %q, want payload", body)
	}

	_, err = c.Fetch(context.Background(), srv.URL+"/missing")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Errorf("expected 404 StatusError, got %v", err)
	}
	t.Log("✓ HTTP fetch works")
}

func TestClient_FetchFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.pb")
	if err := os.WriteFile(path, []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatal(err)
	}

	body, err := New(0).Fetch(context.Background(), path)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(body) != 3 {
		t.Errorf("expected 3 bytes, got %d", len(body))
	}

	if _, err := New(0).Fetch(context.Background(), filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestClient_FetchEmpty(t *testing.T) {
	body, err := New(0).Fetch(context.Background(), "")
	if err != nil || body != nil {
		t.Errorf("empty location should yield nil, nil; got %v, %v", body, err)
	}
}

func TestClient_FetchCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(0).Fetch(ctx, srv.URL); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestClient_MaxBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	c := New(time.Second)
	c.maxBytes = 16
	if _, err := c.Fetch(context.Background(), srv.URL); err == nil {
		t.Error("expected size limit error")
	}
}
