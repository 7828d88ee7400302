package sidecar

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hyphonical/scout/internal/embedding"
	"github.com/hyphonical/scout/internal/media"
)

func TestSaveLoadImageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	hash := media.FileHash("abcdef0123456789")
	emb := embedding.New([]float32{1, 2, 3, 4})
	s := NewImage(CurrentVersion, "photo.jpg", hash, emb)

	if err := SaveImage(s, dir, hash); err != nil {
		t.Fatalf("SaveImage: %v", err)
	}

	path := BuildPath(dir, hash)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected sidecar at %s: %v", path, err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.IsVideo() {
		t.Fatal("loaded sidecar should be the image variant")
	}
	if got.Filename != "photo.jpg" || got.Hash != hash {
		t.Errorf("unexpected metadata: %+v", got)
	}
	wantVec := emb.Vec()
	gotVec := got.Embedding.Vec()
	if len(gotVec) != len(wantVec) {
		t.Fatalf("vector length mismatch: got %d want %d", len(gotVec), len(wantVec))
	}
	for i := range wantVec {
		if gotVec[i] != wantVec[i] {
			t.Errorf("vec[%d] = %f, want %f", i, gotVec[i], wantVec[i])
		}
	}
}

func TestSaveLoadVideoRoundTrip(t *testing.T) {
	dir := t.TempDir()
	hash := media.FileHash("feedfacecafebeef")
	frames := []Frame{
		{Timestamp: 1.0, Embedding: embedding.New([]float32{1, 0})},
		{Timestamp: 5.0, Embedding: embedding.New([]float32{0, 1})},
	}
	s := NewVideo(CurrentVersion, "clip.mp4", hash, frames)

	if err := SaveVideo(s, dir, hash); err != nil {
		t.Fatalf("SaveVideo: %v", err)
	}

	got, err := Load(BuildPath(dir, hash))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.IsVideo() {
		t.Fatal("loaded sidecar should be the video variant")
	}
	if len(got.Frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(got.Frames))
	}
	if got.Frames[1].Timestamp != 5.0 {
		t.Errorf("frame[1].Timestamp = %f, want 5.0", got.Frames[1].Timestamp)
	}
}

func TestScanFindsSidecarsRecursive(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "albums", "2024")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	hash := media.FileHash("0011223344556677")
	emb := embedding.New([]float32{1, 1})
	s := NewImage(CurrentVersion, "a.jpg", hash, emb)
	if err := SaveImage(s, sub, hash); err != nil {
		t.Fatal(err)
	}

	located, err := Scan(root, true)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(located) != 1 {
		t.Fatalf("expected 1 sidecar, got %d", len(located))
	}
	if located[0].MediaDir != sub {
		t.Errorf("MediaDir = %s, want %s", located[0].MediaDir, sub)
	}
}

func TestScanNonRecursiveOnlyRoot(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "nested")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	hash := media.FileHash("aaaaaaaaaaaaaaaa")
	s := NewImage(CurrentVersion, "b.jpg", hash, embedding.New([]float32{1}))
	if err := SaveImage(s, sub, hash); err != nil {
		t.Fatal(err)
	}

	located, err := Scan(root, false)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(located) != 0 {
		t.Fatalf("expected 0 sidecars in non-recursive scan of root, got %d", len(located))
	}
}

func TestFindFileByHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pic.jpg")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}
	hash, err := media.Compute(path)
	if err != nil {
		t.Fatal(err)
	}

	found, ok := FindFileByHash(dir, hash)
	if !ok {
		t.Fatal("expected to find file by hash")
	}
	if found != path {
		t.Errorf("found = %s, want %s", found, path)
	}

	_, ok = FindFileByHash(dir, media.FileHash("ffffffffffffffff"))
	if ok {
		t.Error("expected no match for unrelated hash")
	}
}

func TestValidateRejectsNonBasename(t *testing.T) {
	s := Sidecar{Version: CurrentVersion, Filename: "../escape.jpg", Hash: "x"}
	if err := s.Validate(); err == nil {
		t.Error("expected Validate to reject parent-traversing filename")
	}
}
