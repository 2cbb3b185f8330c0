package rule

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/suche/seccheck/pkg/types"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Format is the syntax of a ruleset document.
type Format int

const (
	FormatTOML Format = iota
	FormatYAML
)

func (f Format) String() string {
	if f == FormatYAML {
		return "yaml"
	}
	return "toml"
}

// FormatForPath picks the document format from a file extension.
// Anything that is not .yaml or .yml is read as TOML.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// Document is the result of loading one ruleset document.
type Document struct {
	Source  string
	Title   string
	Rules   []*types.Rule  // in document order
	Skipped []*ConfigError // records that could not be coerced
}

// Loader parses ruleset documents. Each rule record is decoded on its own so
// a malformed record only removes that rule.
type Loader struct {
	logger *zap.Logger
}

// NewLoader creates a loader. A nil logger discards diagnostics.
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger}
}

// LoadFile reads and parses the document at path.
func (l *Loader) LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Source: path, Index: -1, Err: err}
	}
	return l.Load(data, FormatForPath(path), path)
}

// Load parses data. The returned error is a *ConfigError when the document as
// a whole is unusable; per-rule problems are reported in Document.Skipped.
func (l *Loader) Load(data []byte, format Format, source string) (*Document, error) {
	doc := &Document{Source: source}
	unknown := make(map[string]bool)

	var err error
	switch format {
	case FormatYAML:
		err = l.loadYAML(data, doc, unknown)
	default:
		err = l.loadTOML(data, doc, unknown)
	}
	if err != nil {
		return nil, &ConfigError{Source: source, Index: -1, Err: err}
	}

	if len(doc.Rules) == 0 {
		return doc, &ConfigError{Source: source, Index: -1, Err: ErrNoRules}
	}

	l.logger.Debug("loaded ruleset document",
		zap.String("source", source),
		zap.Stringer("format", format),
		zap.Int("rules", len(doc.Rules)),
		zap.Int("skipped", len(doc.Skipped)))

	return doc, nil
}

func (l *Loader) loadTOML(data []byte, doc *Document, unknown map[string]bool) error {
	var file struct {
		Title string           `toml:"title"`
		Rules []toml.Primitive `toml:"rules"`
	}
	md, err := toml.Decode(string(data), &file)
	if err != nil {
		return fmt.Errorf("parsing TOML: %w", err)
	}
	doc.Title = file.Title

	for i, prim := range file.Rules {
		var raw rawRule
		if err := md.PrimitiveDecode(prim, &raw); err != nil {
			l.skip(doc, i, "", err)
			continue
		}
		l.add(doc, i, &raw)
	}

	for _, key := range md.Undecoded() {
		if len(key) == 0 {
			continue
		}
		if key[0] == "rules" {
			l.unknownField(unknown, key.String())
		} else if !knownDocumentKeys[key[0]] {
			l.unknownField(unknown, key[0])
		}
	}
	return nil
}

func (l *Loader) loadYAML(data []byte, doc *Document, unknown map[string]bool) error {
	var top map[string]yaml.Node
	if err := yaml.Unmarshal(data, &top); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	for key := range top {
		if !knownDocumentKeys[key] {
			l.unknownField(unknown, key)
		}
	}

	if title, ok := top["title"]; ok {
		if err := title.Decode(&doc.Title); err != nil {
			return fmt.Errorf("title: %w", err)
		}
	}

	rules, ok := top["rules"]
	if !ok {
		return nil
	}
	if rules.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: rules must be a list", rules.Line)
	}

	for i, node := range rules.Content {
		if node.Kind != yaml.MappingNode {
			l.skip(doc, i, "", fmt.Errorf("line %d: rule record must be a mapping", node.Line))
			continue
		}
		for k := 0; k+1 < len(node.Content); k += 2 {
			if key := node.Content[k].Value; !knownRuleKeys[key] {
				l.unknownField(unknown, "rules."+key)
			}
		}

		var raw rawRule
		if err := node.Decode(&raw); err != nil {
			l.skip(doc, i, "", err)
			continue
		}
		l.add(doc, i, &raw)
	}
	return nil
}

func (l *Loader) add(doc *Document, index int, raw *rawRule) {
	r, err := raw.toRule()
	if err != nil {
		l.skip(doc, index, raw.ID, err)
		return
	}
	doc.Rules = append(doc.Rules, r)
}

func (l *Loader) skip(doc *Document, index int, id string, err error) {
	ce := &ConfigError{Source: doc.Source, Index: index, RuleID: id, Err: err}
	doc.Skipped = append(doc.Skipped, ce)
	l.logger.Warn("skipping malformed rule",
		zap.String("source", doc.Source),
		zap.Int("index", index),
		zap.String("rule", id),
		zap.Error(err))
}

// unknownField logs each unknown key once per document.
func (l *Loader) unknownField(seen map[string]bool, key string) {
	if seen[key] {
		return
	}
	seen[key] = true
	l.logger.Warn("ignoring unknown ruleset field", zap.String("field", key))
}
