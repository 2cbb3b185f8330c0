// Package enum discovers content to scan: trees and diffs of a git
// repository, files below a directory, and the text inside rich documents.
package enum

import (
	"context"
)

// Enumerator discovers content to scan from a source.
type Enumerator interface {
	// Enumerate yields each item's slash-separated path relative to the
	// source root together with its content. The callback may be invoked
	// from several goroutines at once.
	Enumerate(ctx context.Context, callback func(path string, content []byte) error) error
}

// Config for filesystem enumeration.
type Config struct {
	// Root is the starting path for enumeration.
	Root string

	// IncludeHidden includes hidden files/directories (starting with .).
	IncludeHidden bool

	// MaxFileSize is the maximum file size to process (0 = no limit).
	MaxFileSize int64

	// FollowSymlinks follows symbolic links.
	FollowSymlinks bool

	// Workers is the number of parallel readers (0 = one per CPU).
	Workers int
}
