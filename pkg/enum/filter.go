package enum

import (
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	gitignore "github.com/sabhiram/go-gitignore"
)

// DefaultIgnoreExtensions lists file types that never carry scannable text:
// fonts, images, build outputs and IDE state.
var DefaultIgnoreExtensions = []string{
	"eot", "otf", "ttf", "woff2",
	"bmp", "gif", "jpg", "jpeg", "png", "svg", "tif", "tiff", "gltf",
	"bin", "socket", "dll", "pdb", "exe",
	"vsidx", "v2", "suo", "wsuo",
}

// RichDocumentExtensions lists file types whose text must be extracted
// before matching.
var RichDocumentExtensions = []string{"doc", "docx", "xls", "xlsx", "pdf"}

// Skip reasons reported by PathFilter.
const (
	SkipExtension = "ignored extension"
	SkipPattern   = "ignored path"
)

// PathFilter decides from a path alone whether a candidate is scanned.
type PathFilter struct {
	extensions map[string]bool
	rich       map[string]bool
	ignore     *gitignore.GitIgnore
}

// NewPathFilter builds a filter from an extension list (without dots, case
// insensitive) and gitignore-style path patterns. A nil extension list means
// DefaultIgnoreExtensions.
func NewPathFilter(extensions, patterns []string) *PathFilter {
	if extensions == nil {
		extensions = DefaultIgnoreExtensions
	}
	f := &PathFilter{
		extensions: extensionSet(extensions),
		rich:       extensionSet(RichDocumentExtensions),
	}
	if len(patterns) > 0 {
		f.ignore = gitignore.CompileIgnoreLines(patterns...)
	}
	return f
}

func extensionSet(exts []string) map[string]bool {
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			set[e] = true
		}
	}
	return set
}

// Skip reports whether p should not be scanned, and why.
func (f *PathFilter) Skip(p string) (bool, string) {
	if f.extensions[extension(p)] {
		return true, SkipExtension
	}
	if f.ignore != nil && f.ignore.MatchesPath(p) {
		return true, SkipPattern
	}
	return false, ""
}

// IsRichDocument reports whether p needs text extraction.
func (f *PathFilter) IsRichDocument(p string) bool {
	return f.rich[extension(p)]
}

// extension returns the lower-cased extension of the last path element.
func extension(p string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
}

// IsText sniffs content and reports whether it is some form of text.
// Empty content counts as text.
func IsText(content []byte) bool {
	for m := mimetype.Detect(content); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}
