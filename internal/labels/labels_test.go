package labels_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/jmerrifield20/herbledger/internal/labels"
)

var png = []byte("\x89PNG\r\n\x1a\nfake")

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := labels.NewMemoryStore()

	if _, err := s.Get(ctx, "PKG1"); !errors.Is(err, labels.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.Put(ctx, "PKG1", png); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "PKG1")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, png) {
		t.Errorf("got %q", got)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	s, err := labels.Open(ctx, labels.Config{})
	if err != nil || s != nil {
		t.Errorf("default driver: got (%v, %v), want disabled", s, err)
	}
	if s, err := labels.Open(ctx, labels.Config{Driver: "memory"}); err != nil || s == nil {
		t.Errorf("memory driver: got (%v, %v)", s, err)
	}
	if _, err := labels.Open(ctx, labels.Config{Driver: "floppy"}); err == nil {
		t.Error("expected error for unknown driver")
	}
	if _, err := labels.Open(ctx, labels.Config{Driver: "s3"}); err == nil {
		t.Error("expected error for s3 driver without a bucket")
	}
}

// fakeS3 serves a path-style bucket from memory.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := r.URL.Path
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		f.types[key] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		w.Header().Set("Content-Type", f.types[key])
		_, _ = w.Write(body)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func TestS3Store(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ctx := context.Background()
	s, err := labels.NewS3Store(ctx, labels.S3Config{
		Bucket:          "labels",
		Prefix:          "qr",
		Endpoint:        srv.URL,
		PathStyle:       true,
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Put(ctx, "PKG1", png); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	fake.mu.Lock()
	stored, ok := fake.objects["/labels/qr/PKG1.png"]
	ct := fake.types["/labels/qr/PKG1.png"]
	fake.mu.Unlock()
	if !ok || !bytes.Equal(stored, png) {
		t.Fatalf("object not stored at expected key: %v", fake.objects)
	}
	if !strings.HasPrefix(ct, "image/png") {
		t.Errorf("content type: got %q", ct)
	}

	got, err := s.Get(ctx, "PKG1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !bytes.Equal(got, png) {
		t.Errorf("Get: got %q", got)
	}

	if _, err := s.Get(ctx, "PKG404"); !errors.Is(err, labels.ErrNotFound) {
		t.Errorf("missing label: expected ErrNotFound, got %v", err)
	}
}
