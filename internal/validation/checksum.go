// checksum.go - SHA-256 integrity verification for reassembled uploads.
package validation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// NormalizeChecksum lower-cases a client digest and checks it is 64 hex
// characters.
func NormalizeChecksum(sum string) (string, error) {
	sum = strings.ToLower(strings.TrimSpace(sum))
	if len(sum) != sha256.Size*2 {
		return "", fmt.Errorf("%w: unexpected length %d", ErrInvalidChecksum, len(sum))
	}
	if _, err := hex.DecodeString(sum); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidChecksum, err)
	}
	return sum, nil
}

// VerifyChecksum compares the digest the client announced with the one
// computed over the reassembled bytes. The match must be exact.
func VerifyChecksum(expected, actual string) error {
	want, err := NormalizeChecksum(expected)
	if err != nil {
		return err
	}
	if want != strings.ToLower(actual) {
		return fmt.Errorf("%w: expected %s, computed %s", ErrChecksumMismatch, want, actual)
	}
	return nil
}

// FileSHA256 streams the file at path through SHA-256 and returns the hex
// digest with the number of bytes read.
func FileSHA256(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
