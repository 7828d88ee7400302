// Package scanner walks a media directory, filters candidates, and
// classifies them against the existing sidecar cache, all data-parallel
// over independent files (base spec §4.7).
package scanner

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"github.com/hyphonical/scout/internal/media"
	"github.com/hyphonical/scout/internal/sidecar"
)

// Options configures a scan, mirroring base spec §4.7's input tuple.
type Options struct {
	Root          string
	Recursive     bool
	Force         bool
	MinResolution int // shortest side in pixels, 0 disables the filter
	MaxSizeMB     float64
	ExcludeVideos bool
}

// Result partitions scanned candidates per base spec §4.7 step 4.
type Result struct {
	ToProcess     []string
	AlreadyIndexed []string
	Outdated      []string
	Filtered      []string
}

// Scan walks opts.Root, filters candidates, and classifies each one against
// its sidecar (if any). Returned ToProcess order is not guaranteed; counts
// are exact.
func Scan(opts Options) (Result, error) {
	candidates, err := walk(opts.Root, opts.Recursive)
	if err != nil {
		return Result{}, err
	}

	var (
		mu  sync.Mutex
		res Result
	)

	g := new(errgroup.Group)
	g.SetLimit(32)
	for _, path := range candidates {
		path := path
		g.Go(func() error {
			class, err := classify(path, opts)
			if err != nil {
				return err
			}
			mu.Lock()
			switch class {
			case classFiltered:
				res.Filtered = append(res.Filtered, path)
			case classAlreadyIndexed:
				res.AlreadyIndexed = append(res.AlreadyIndexed, path)
			case classOutdated:
				res.Outdated = append(res.Outdated, path)
			case classToProcess:
				res.ToProcess = append(res.ToProcess, path)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	return res, nil
}

type classification int

const (
	classFiltered classification = iota
	classAlreadyIndexed
	classOutdated
	classToProcess
)

func classify(path string, opts Options) (classification, error) {
	mt := media.Detect(path)
	if mt == media.None {
		return classFiltered, nil
	}
	if opts.ExcludeVideos && mt == media.Video {
		return classFiltered, nil
	}

	if opts.MaxSizeMB > 0 {
		info, err := os.Stat(path)
		if err != nil {
			return classFiltered, nil
		}
		if float64(info.Size())/(1024*1024) > opts.MaxSizeMB {
			return classFiltered, nil
		}
	}

	if opts.MinResolution > 0 && mt == media.Image {
		ok, err := MeetsMinResolution(path, opts.MinResolution)
		if err != nil || !ok {
			return classFiltered, nil
		}
	}

	hash, err := media.Compute(path)
	if err != nil {
		return classFiltered, nil
	}

	if !opts.Force {
		mediaDir := filepath.Dir(path)
		sidecarPath := sidecar.BuildPath(mediaDir, hash)
		if _, err := os.Stat(sidecarPath); err == nil {
			s, err := sidecar.Load(sidecarPath)
			if err == nil {
				if s.IsCurrentVersion() {
					return classAlreadyIndexed, nil
				}
				return classOutdated, nil
			}
		}
	}

	return classToProcess, nil
}

// MeetsMinResolution reports whether the image at path has a shortest side
// of at least minResolution pixels. Shared with the watcher, which applies
// the same filter to freshly created files.
func MeetsMinResolution(path string, minResolution int) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return false, err
	}
	shortSide := cfg.Width
	if cfg.Height < shortSide {
		shortSide = cfg.Height
	}
	return shortSide >= minResolution, nil
}

// walk collects candidate file paths under root, honoring .scoutignore
// files and pruning the .scout directory, deduplicating by canonical path.
func walk(root string, recursive bool) ([]string, error) {
	seen := make(map[string]bool)
	var out []string

	var visitDir func(dir string, rules []ignoreRule) error
	visitDir = func(dir string, inherited []ignoreRule) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		rules := append(append([]ignoreRule{}, inherited...), loadIgnoreFile(filepath.Join(dir, ".scoutignore"))...)

		for _, e := range entries {
			name := e.Name()
			full := filepath.Join(dir, name)
			if e.IsDir() {
				if name == sidecar.DirName {
					continue
				}
				if recursive {
					if err := visitDir(full, rules); err != nil {
						return err
					}
				}
				continue
			}
			if matchesIgnore(full, rules) {
				continue
			}
			canonical, err := filepath.Abs(full)
			if err != nil {
				canonical = full
			}
			if seen[canonical] {
				continue
			}
			seen[canonical] = true
			out = append(out, full)
		}
		return nil
	}

	if err := visitDir(root, nil); err != nil {
		return nil, err
	}
	return out, nil
}

type ignoreRule string

// loadIgnoreFile parses a .scoutignore file: one case-insensitive substring
// pattern per line, "#" starts a comment, blank lines ignored.
func loadIgnoreFile(path string) []ignoreRule {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var rules []ignoreRule
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rules = append(rules, ignoreRule(strings.ToLower(line)))
	}
	return rules
}

func matchesIgnore(path string, rules []ignoreRule) bool {
	lower := strings.ToLower(path)
	for _, r := range rules {
		if strings.Contains(lower, string(r)) {
			return true
		}
	}
	return false
}
