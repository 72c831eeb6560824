package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalSaveOpenDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal returned error: %v", err)
	}

	payload := []byte("%PDF-1.7 test")
	if err := store.Save(ctx, "jobs/job-1/out/merged.pdf", bytes.NewReader(payload), "application/pdf"); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	rc, err := store.Open(ctx, "jobs/job-1/out/merged.pdf")
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	got, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("ReadAll returned error: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("content = %q, want %q", got, payload)
	}

	if err := store.Delete(ctx, "jobs/job-1/out/merged.pdf"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, err := store.Open(ctx, "jobs/job-1/out/merged.pdf"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Open after delete error = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "jobs/job-1/out/merged.pdf"); err != nil {
		t.Fatalf("second Delete returned error: %v", err)
	}
}

func TestLocalKeysStayInsideRoot(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocal(filepath.Join(root, "store"))
	if err != nil {
		t.Fatalf("NewLocal returned error: %v", err)
	}
	if err := store.Save(context.Background(), "../../escape.pdf", bytes.NewReader([]byte("x")), ""); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "store", "escape.pdf")); err != nil {
		t.Fatalf("expected file inside root: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "escape.pdf")); !os.IsNotExist(err) {
		t.Fatalf("file escaped root, stat err=%v", err)
	}
}

func TestCleanKey(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "a/b.pdf", want: "a/b.pdf"},
		{in: "/a//b.pdf", want: "a/b.pdf"},
		{in: "..\\a.pdf", want: "a.pdf"},
		{in: "", wantErr: true},
		{in: "/", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CleanKey(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("CleanKey(%q) expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("CleanKey(%q) returned error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("CleanKey(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLocalSignedURLIsEmpty(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal returned error: %v", err)
	}
	url, err := store.SignedURL(context.Background(), "x.pdf", 0)
	if err != nil || url != "" {
		t.Fatalf("SignedURL = %q, %v", url, err)
	}
}

func TestLocalCanceledContext(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal returned error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.Save(ctx, "a.pdf", bytes.NewReader(nil), ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("Save error = %v, want context.Canceled", err)
	}
}
