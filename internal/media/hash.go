// Package media implements content hashing and media-type detection — the
// two pure, leaf-level building blocks every other Scout component keys
// off of.
package media

import (
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// hashBufferSize is the number of leading bytes hashed to compute a
// FileHash. Two files sharing this prefix are treated as identical content
// for indexing purposes; collisions beyond that are out of scope.
const hashBufferSize = 65536

// FileHash is a 16-character lowercase hex digest of a file's first 64 KiB.
type FileHash string

// String returns the hash's hex text.
func (h FileHash) String() string { return string(h) }

// Short returns the first 8 hex characters, useful in compact log lines.
func (h FileHash) Short() string {
	if len(h) < 8 {
		return string(h)
	}
	return string(h[:8])
}

// Compute hashes the first 64 KiB of the file at path. A file shorter than
// that is hashed in full — a short read is not an error.
func Compute(path string) (FileHash, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, hashBufferSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	sum := xxhash.Sum64(buf[:n])
	return FileHash(fmt.Sprintf("%016x", sum)), nil
}
