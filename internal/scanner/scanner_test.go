package scanner

import (
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyphonical/scout/internal/embedding"
	"github.com/hyphonical/scout/internal/media"
	"github.com/hyphonical/scout/internal/sidecar"
)

func writeJPEG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, nil); err != nil {
		t.Fatal(err)
	}
}

func TestScanClassifiesUnindexedAsToProcess(t *testing.T) {
	dir := t.TempDir()
	writeJPEG(t, filepath.Join(dir, "a.jpg"), 100, 100)
	writeJPEG(t, filepath.Join(dir, "b.jpg"), 100, 100)

	res, err := Scan(Options{Root: dir, Recursive: true})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.ToProcess) != 2 {
		t.Fatalf("expected 2 files to process, got %d: %v", len(res.ToProcess), res.ToProcess)
	}
}

func TestScanSkipsAlreadyIndexed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jpg")
	writeJPEG(t, path, 100, 100)

	hash, err := media.Compute(path)
	if err != nil {
		t.Fatal(err)
	}
	s := sidecar.NewImage(sidecar.CurrentVersion, "a.jpg", hash, embedding.New([]float32{1, 2}))
	if err := sidecar.SaveImage(s, dir, hash); err != nil {
		t.Fatal(err)
	}

	res, err := Scan(Options{Root: dir, Recursive: true})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.ToProcess) != 0 {
		t.Fatalf("expected 0 to process, got %d", len(res.ToProcess))
	}
	if len(res.AlreadyIndexed) != 1 {
		t.Fatalf("expected 1 already indexed, got %d", len(res.AlreadyIndexed))
	}
}

func TestScanForceReprocessesIndexed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jpg")
	writeJPEG(t, path, 100, 100)
	hash, _ := media.Compute(path)
	s := sidecar.NewImage(sidecar.CurrentVersion, "a.jpg", hash, embedding.New([]float32{1}))
	sidecar.SaveImage(s, dir, hash)

	res, err := Scan(Options{Root: dir, Recursive: true, Force: true})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.ToProcess) != 1 {
		t.Fatalf("expected 1 to process under force, got %d", len(res.ToProcess))
	}
}

func TestScanOutdatedVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jpg")
	writeJPEG(t, path, 100, 100)
	hash, _ := media.Compute(path)
	s := sidecar.NewImage("scout-0-old", "a.jpg", hash, embedding.New([]float32{1}))
	sidecar.SaveImage(s, dir, hash)

	res, err := Scan(Options{Root: dir, Recursive: true})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.Outdated) != 1 {
		t.Fatalf("expected 1 outdated, got %d", len(res.Outdated))
	}
}

func TestScanHonorsMaxSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.jpg")
	writeJPEG(t, path, 200, 200)

	res, err := Scan(Options{Root: dir, Recursive: true, MaxSizeMB: 0.0001})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.Filtered) != 1 {
		t.Fatalf("expected file filtered by size, got %d", len(res.Filtered))
	}
}

func TestScanIgnoreFile(t *testing.T) {
	dir := t.TempDir()
	writeJPEG(t, filepath.Join(dir, "keep.jpg"), 50, 50)
	writeJPEG(t, filepath.Join(dir, "skip_me.jpg"), 50, 50)
	if err := os.WriteFile(filepath.Join(dir, ".scoutignore"), []byte("# comment\nskip_me\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := Scan(Options{Root: dir, Recursive: true})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.ToProcess) != 1 {
		t.Fatalf("expected 1 file after ignore, got %d: %v", len(res.ToProcess), res.ToProcess)
	}
}

func TestScanPrunesScoutDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jpg")
	writeJPEG(t, path, 50, 50)
	hash, _ := media.Compute(path)
	s := sidecar.NewImage(sidecar.CurrentVersion, "a.jpg", hash, embedding.New([]float32{1}))
	sidecar.SaveImage(s, dir, hash)

	res, err := Scan(Options{Root: dir, Recursive: true})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	for _, p := range append(append(res.ToProcess, res.AlreadyIndexed...), res.Filtered...) {
		if filepath.Base(filepath.Dir(p)) == sidecar.DirName {
			t.Fatalf("scout directory entry leaked into scan results: %s", p)
		}
	}
}
