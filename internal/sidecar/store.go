package sidecar

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/hyphonical/scout/internal/media"
)

// DirName is the per-media-directory sidecar folder, never itself scanned
// as media (base spec §3).
const DirName = ".scout"

// BuildPath returns the deterministic sidecar path for hash within
// mediaDir: <mediaDir>/.scout/<hash>.msgpack.
func BuildPath(mediaDir string, hash media.FileHash) string {
	return filepath.Join(mediaDir, DirName, string(hash)+".msgpack")
}

// Save writes s to its deterministic path under mediaDir, creating the
// .scout directory if needed. Single-writer use is assumed; callers
// tolerate a missing sidecar on crash by re-encoding (base spec §4.3).
func Save(s Sidecar, mediaDir string, hash media.FileHash) error {
	if err := s.Validate(); err != nil {
		return err
	}
	dir := filepath.Join(mediaDir, DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	data, err := msgpack.Marshal(&s)
	if err != nil {
		return fmt.Errorf("marshal sidecar: %w", err)
	}

	path := BuildPath(mediaDir, hash)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// SaveImage is a convenience wrapper naming the image-variant constructor
// used at call sites, matching base spec §4.3's save_image/save_video
// naming.
func SaveImage(s Sidecar, mediaDir string, hash media.FileHash) error {
	return Save(s, mediaDir, hash)
}

// SaveVideo is the video-variant counterpart of SaveImage.
func SaveVideo(s Sidecar, mediaDir string, hash media.FileHash) error {
	return Save(s, mediaDir, hash)
}

// Load deserializes the sidecar at path. Deserialization failures are the
// caller's to treat as skip-with-warning (SidecarCorrupt, base spec §7),
// never fatal — Load itself just reports the error.
func Load(path string) (Sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Sidecar{}, fmt.Errorf("read %s: %w", path, err)
	}
	var s Sidecar
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return Sidecar{}, fmt.Errorf("corrupt sidecar %s: %w", path, err)
	}
	s.rehydrate()
	return s, nil
}

// Located pairs a discovered sidecar path with the media directory that
// owns it.
type Located struct {
	SidecarPath string
	MediaDir    string
}

// Scan walks root looking for .scout directories and yields every
// *.msgpack entry inside, paired with the parent (media) directory. In
// non-recursive mode only root and root/.scout are inspected, per base
// spec §4.3.
func Scan(root string, recursive bool) ([]Located, error) {
	var out []Located

	visit := func(dir string) error {
		scoutDir := filepath.Join(dir, DirName)
		entries, err := os.ReadDir(scoutDir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("read %s: %w", scoutDir, err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".msgpack") {
				continue
			}
			out = append(out, Located{
				SidecarPath: filepath.Join(scoutDir, e.Name()),
				MediaDir:    dir,
			})
		}
		return nil
	}

	if !recursive {
		if err := visit(root); err != nil {
			return nil, err
		}
		return out, nil
	}

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == DirName {
				if visitErr := visit(filepath.Dir(path)); visitErr != nil {
					return visitErr
				}
				return filepath.SkipDir
			}
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	return out, nil
}

// FindFileByHash iterates media files directly inside mediaDir, recomputes
// their hash, and returns the first path matching hash. Used to restore the
// file a sidecar refers to after a rename: the sidecar's stored filename is
// advisory, the filesystem is truth (base spec §4.3).
func FindFileByHash(mediaDir string, hash media.FileHash) (string, bool) {
	entries, err := os.ReadDir(mediaDir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(mediaDir, e.Name())
		if media.Detect(path) == media.None {
			continue
		}
		h, err := media.Compute(path)
		if err != nil {
			continue
		}
		if h == hash {
			return path, true
		}
	}
	return "", false
}
