package media

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDetectClassifiesByExtension(t *testing.T) {
	cases := map[string]Type{
		"photo.JPG":  Image,
		"photo.png":  Image,
		"clip.mp4":   Video,
		"clip.MKV":   Video,
		"notes.txt":  None,
		"archive":    None,
	}
	for name, want := range cases {
		if got := Detect(name); got != want {
			t.Errorf("Detect(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestComputeIsDeterministicAndContentAddressed(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.jpg")
	b := filepath.Join(dir, "b.jpg")
	c := filepath.Join(dir, "c.jpg")

	if err := os.WriteFile(a, []byte("identical content"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("identical content"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(c, []byte("different content"), 0o644); err != nil {
		t.Fatal(err)
	}

	ha, err := Compute(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := Compute(b)
	if err != nil {
		t.Fatal(err)
	}
	hc, err := Compute(c)
	if err != nil {
		t.Fatal(err)
	}

	if ha != hb {
		t.Errorf("expected identical content to hash equally: %s != %s", ha, hb)
	}
	if ha == hc {
		t.Errorf("expected different content to hash differently")
	}
	if len(ha) != 16 {
		t.Errorf("expected a 16-character hex digest, got %d chars: %s", len(ha), ha)
	}
}

func TestComputeHashesOnlyLeadingPrefix(t *testing.T) {
	dir := t.TempDir()
	short := filepath.Join(dir, "short.jpg")
	long := filepath.Join(dir, "long.jpg")

	prefix := make([]byte, hashBufferSize)
	for i := range prefix {
		prefix[i] = byte(i)
	}
	if err := os.WriteFile(short, prefix, 0o644); err != nil {
		t.Fatal(err)
	}
	tail := append(append([]byte{}, prefix...), []byte("trailing bytes that differ")...)
	if err := os.WriteFile(long, tail, 0o644); err != nil {
		t.Fatal(err)
	}

	hs, err := Compute(short)
	if err != nil {
		t.Fatal(err)
	}
	hl, err := Compute(long)
	if err != nil {
		t.Fatal(err)
	}
	if hs != hl {
		t.Errorf("expected files sharing a %d-byte prefix to hash equally, got %s and %s", hashBufferSize, hs, hl)
	}
}

func TestComputeMissingFile(t *testing.T) {
	if _, err := Compute(filepath.Join(t.TempDir(), "missing.jpg")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
