package types

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// BlobID is the git object name of a blob. It converts directly to and from
// go-git's plumbing.Hash.
type BlobID [20]byte

// ComputeBlobID returns the object name git assigns to content:
// SHA-1 over "blob <len>\x00" followed by the content.
func ComputeBlobID(content []byte) BlobID {
	h := sha1.New()
	h.Write([]byte("blob " + strconv.Itoa(len(content)) + "\x00"))
	h.Write(content)

	var id BlobID
	h.Sum(id[:0])
	return id
}

// Hex returns the 40-character lowercase object name.
func (id BlobID) Hex() string {
	return hex.EncodeToString(id[:])
}

func (id BlobID) String() string {
	return id.Hex()
}

// Short returns the abbreviated name used in log lines.
func (id BlobID) Short() string {
	return id.Hex()[:12]
}

// IsZero reports whether id is the zero object name.
func (id BlobID) IsZero() bool {
	return id == BlobID{}
}

// ParseBlobID parses a full object name. Case and surrounding whitespace are
// ignored; abbreviated names are rejected.
func ParseBlobID(s string) (BlobID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 2*len(BlobID{}) {
		return BlobID{}, fmt.Errorf("invalid object name %q: want 40 hex digits, got %d", s, len(s))
	}

	var id BlobID
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return BlobID{}, fmt.Errorf("invalid object name %q: %w", s, err)
	}
	return id, nil
}

// MarshalText encodes the object name as hex, which also covers JSON.
func (id BlobID) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

// UnmarshalText parses a full hex object name.
func (id *BlobID) UnmarshalText(text []byte) error {
	parsed, err := ParseBlobID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
