package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nainya/catalogops/internal/metrics"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

// fakeFile serves in-memory content and counts Open calls
type fakeFile struct {
	name     string
	declared string
	size     int64
	data     []byte
	openErr  error
	opened   atomic.Int32
}

func (f *fakeFile) Name() string { return f.name }
func (f *fakeFile) Size() int64  { return f.size }
func (f *fakeFile) Type() string { return f.declared }

func (f *fakeFile) Open() (io.ReadCloser, error) {
	f.opened.Add(1)
	if f.openErr != nil {
		return nil, f.openErr
	}
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

func pngFile(data []byte) *fakeFile {
	return &fakeFile{name: "photo.png", declared: "image/png", size: int64(len(data)), data: data}
}

func setupTestPipeline(t *testing.T) (*Pipeline, *metrics.Metrics) {
	t.Helper()
	m := metrics.Discard()
	return New(DefaultConfig(), WithMetrics(m)), m
}

func TestOversizedFileRejectedBeforeRead(t *testing.T) {
	p, m := setupTestPipeline(t)
	f := &fakeFile{name: "huge.png", declared: "image/png", size: 10 << 20}

	var succeeded atomic.Bool
	var got error
	done := p.Ingest(context.Background(), f,
		func(Encoded) { succeeded.Store(true) },
		func(err error) { got = err },
	)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for ingestion")
	}

	if !errors.Is(got, ErrTooLarge) {
		t.Fatalf("Expected ErrTooLarge, got %v", got)
	}
	if succeeded.Load() {
		t.Error("Expected onSuccess not to be called")
	}
	if f.opened.Load() != 0 {
		t.Error("Expected oversized file not to be opened")
	}
	if c := testutil.ToFloat64(m.ImageIngestsTotal.WithLabelValues("too_large")); c != 1 {
		t.Errorf("Expected 1 too_large ingest, got %v", c)
	}
}

func TestDeclaredTypeCheckedFirst(t *testing.T) {
	p, _ := setupTestPipeline(t)
	// Both wrong type and too large: type wins
	f := &fakeFile{name: "doc.pdf", declared: "application/pdf", size: 10 << 20}

	_, err := p.Process(context.Background(), f)
	if !errors.Is(err, ErrInvalidType) {
		t.Fatalf("Expected ErrInvalidType, got %v", err)
	}
	if !strings.Contains(err.Error(), "doc.pdf") {
		t.Errorf("Expected file name in message, got %q", err.Error())
	}
}

func TestUnderstatedSizeStillTooLarge(t *testing.T) {
	p := New(Config{MaxBytes: 64})
	data := append(append([]byte(nil), pngHeader...), make([]byte, 100)...)
	f := &fakeFile{name: "liar.png", declared: "image/png", size: 10, data: data}

	_, err := p.Process(context.Background(), f)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Expected ErrTooLarge, got %v", err)
	}
}

func TestContentSniffingRejectsNonImage(t *testing.T) {
	p, _ := setupTestPipeline(t)
	f := pngFile([]byte("#!/bin/sh\necho not an image\n"))

	_, err := p.Process(context.Background(), f)
	if !errors.Is(err, ErrInvalidType) {
		t.Fatalf("Expected ErrInvalidType, got %v", err)
	}
}

func TestOpenFailureIsReadFailed(t *testing.T) {
	p, _ := setupTestPipeline(t)
	cause := errors.New("permission denied")
	f := &fakeFile{name: "locked.png", declared: "image/png", size: 10, openErr: cause}

	_, err := p.Process(context.Background(), f)
	if !errors.Is(err, ErrReadFailed) {
		t.Fatalf("Expected ErrReadFailed, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("Expected underlying cause to be wrapped, got %v", err)
	}
}

func TestAcceptedImageEncoded(t *testing.T) {
	p, _ := setupTestPipeline(t)

	enc, err := p.Process(context.Background(), pngFile(pngHeader))
	if err != nil {
		t.Fatalf("Failed to process image: %v", err)
	}
	if enc.MIMEType != "image/png" {
		t.Errorf("Expected image/png, got %s", enc.MIMEType)
	}
	if !strings.HasPrefix(enc.DataURI, "data:image/png;base64,") {
		t.Errorf("Unexpected data URI prefix: %.40s", enc.DataURI)
	}
	if enc.Size != int64(len(pngHeader)) {
		t.Errorf("Expected size %d, got %d", len(pngHeader), enc.Size)
	}
}

func TestDeclaredTypeParametersIgnored(t *testing.T) {
	p, _ := setupTestPipeline(t)
	f := pngFile(pngHeader)
	f.declared = "IMAGE/PNG; name=photo"

	if _, err := p.Process(context.Background(), f); err != nil {
		t.Fatalf("Expected parameters to be ignored, got %v", err)
	}
}

func TestOpenFileFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pixel.png")
	if err := os.WriteFile(path, pngHeader, 0o600); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	f, err := OpenFile(path)
	if err != nil {
		t.Fatalf("Failed to open file: %v", err)
	}
	if f.Type() != "image/png" || f.Name() != "pixel.png" {
		t.Errorf("Unexpected file description: %s %s", f.Name(), f.Type())
	}

	p, _ := setupTestPipeline(t)
	if _, err := p.Process(context.Background(), f); err != nil {
		t.Fatalf("Failed to process file: %v", err)
	}
}
