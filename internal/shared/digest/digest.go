// Package digest computes content digests for produced archives.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// Algorithm names a supported digest
type Algorithm string

const (
	SHA256  Algorithm = "sha256"
	BLAKE2b Algorithm = "blake2b-256"
)

// Hasher is an io.Writer that accumulates a digest
type Hasher struct {
	algorithm Algorithm
	h         hash.Hash
}

// New creates a hasher for the algorithm, defaulting to BLAKE2b-256
func New(algorithm Algorithm) *Hasher {
	switch algorithm {
	case SHA256:
		return &Hasher{algorithm: SHA256, h: sha256.New()}
	default:
		// blake2b.New256 only fails for oversized keys
		h, _ := blake2b.New256(nil)
		return &Hasher{algorithm: BLAKE2b, h: h}
	}
}

// Write adds p to the digest
func (d *Hasher) Write(p []byte) (int, error) {
	return d.h.Write(p)
}

// Sum returns the digest as "<algorithm>:<hex>"
func (d *Hasher) Sum() string {
	return fmt.Sprintf("%s:%s", d.algorithm, hex.EncodeToString(d.h.Sum(nil)))
}

// File digests the file at path
func File(path string, algorithm Algorithm) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	d := New(algorithm)
	if _, err := io.Copy(d, f); err != nil {
		return "", fmt.Errorf("failed to digest %s: %w", path, err)
	}
	return d.Sum(), nil
}
