// Package hasher computes content identifiers for uploaded images.
//
// A content identifier is the lowercase hex MD5 digest of the full byte
// stream, so it does not depend on how the stream is chunked.
package hasher

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// New returns the digest used for content identifiers.
func New() hash.Hash {
	return md5.New()
}

// Sum digests everything readable from r.
func Sum(r io.Reader) (string, error) {
	h := New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash: failed to read source: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// SumFile digests a persisted file.
func SumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hash: failed to open %s: %w", path, err)
	}
	defer f.Close()

	return Sum(f)
}

// Writer is an io.Writer that digests whatever is written to it. It is meant
// to be the second target of an io.MultiWriter while a source is persisted.
type Writer struct {
	h hash.Hash
	n int64
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{h: New()}
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	n, _ := w.h.Write(p)
	w.n += int64(n)
	return n, nil
}

// Hex returns the digest of all bytes written so far.
func (w *Writer) Hex() string {
	return hex.EncodeToString(w.h.Sum(nil))
}

// Size returns the number of bytes written so far.
func (w *Writer) Size() int64 {
	return w.n
}
