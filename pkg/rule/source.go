package rule

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
	"go.uber.org/zap"
)

const (
	// DefaultURL is the upstream gitleaks default configuration.
	DefaultURL = "https://raw.githubusercontent.com/gitleaks/gitleaks/refs/heads/master/config/gitleaks.toml"

	// DefaultPath is where the fetched document is cached.
	DefaultPath = "etc/gitleaks.toml"

	// DefaultFetchTimeout bounds one download attempt.
	DefaultFetchTimeout = 30 * time.Second

	// maxDocumentSize caps a downloaded document.
	maxDocumentSize = 16 << 20

	originEmbedded = "embedded:gitleaks"
)

// Source locates a ruleset document: the local file if it exists, otherwise
// a download from URL that is then cached at Path, otherwise (when enabled)
// the default configuration compiled into the gitleaks module.
type Source struct {
	Path             string
	URL              string
	Timeout          time.Duration
	Retries          int
	EmbeddedFallback bool

	Client *http.Client // optional; used as the transport for retries
	Logger *zap.Logger
}

// Raw is an undecoded document and where it came from.
type Raw struct {
	Data   []byte
	Format Format
	Origin string
}

// Fetch returns the document bytes.
func (s *Source) Fetch(ctx context.Context) (*Raw, error) {
	logger := s.logger()

	if s.Path != "" {
		data, err := os.ReadFile(s.Path)
		switch {
		case err == nil:
			return &Raw{Data: data, Format: FormatForPath(s.Path), Origin: s.Path}, nil
		case !errors.Is(err, fs.ErrNotExist):
			return nil, &ConfigError{Source: s.Path, Index: -1, Err: err}
		}
		logger.Debug("no local ruleset document", zap.String("path", s.Path))
	}

	var fetchErr error
	if s.URL != "" {
		data, err := s.download(ctx)
		if err == nil {
			s.cache(data)
			return &Raw{Data: data, Format: FormatForPath(s.URL), Origin: s.URL}, nil
		}
		fetchErr = &ConfigError{Source: s.URL, Index: -1, Err: err}
		logger.Warn("fetching ruleset document failed", zap.String("url", s.URL), zap.Error(err))
	}

	if s.EmbeddedFallback && gitleaksconfig.DefaultConfig != "" {
		logger.Info("using embedded gitleaks default ruleset")
		return &Raw{Data: []byte(gitleaksconfig.DefaultConfig), Format: FormatTOML, Origin: originEmbedded}, nil
	}

	if fetchErr != nil {
		return nil, fetchErr
	}
	return nil, &ConfigError{Source: s.Path, Index: -1, Err: ErrNotFound}
}

// Load fetches and parses the document with loader.
func (s *Source) Load(ctx context.Context, loader *Loader) (*Document, error) {
	raw, err := s.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return loader.Load(raw.Data, raw.Format, raw.Origin)
}

func (s *Source) download(ctx context.Context) ([]byte, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}

	client := retryablehttp.NewClient()
	client.RetryMax = s.Retries
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = retryLogger{s.logger().Sugar()}
	if s.Client != nil {
		c := *s.Client
		client.HTTPClient = &c
	}
	client.HTTPClient.Timeout = timeout

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if len(data) > maxDocumentSize {
		return nil, fmt.Errorf("document exceeds %d bytes", maxDocumentSize)
	}
	return data, nil
}

// cache writes data to Path via a temporary file and rename so readers never
// see a partial document. Failures are logged only.
func (s *Source) cache(data []byte) {
	if s.Path == "" {
		return
	}
	logger := s.logger()

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("cannot create ruleset cache directory", zap.String("dir", dir), zap.Error(err))
		return
	}

	tmp, err := os.CreateTemp(dir, ".ruleset-*")
	if err != nil {
		logger.Warn("cannot cache ruleset document", zap.String("path", s.Path), zap.Error(err))
		return
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		logger.Warn("cannot cache ruleset document", zap.String("path", s.Path), zap.Error(err))
		return
	}
	if err := tmp.Close(); err != nil {
		logger.Warn("cannot cache ruleset document", zap.String("path", s.Path), zap.Error(err))
		return
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		logger.Warn("cannot cache ruleset document", zap.String("path", s.Path), zap.Error(err))
		return
	}
	logger.Info("cached ruleset document", zap.String("path", s.Path), zap.Int("bytes", len(data)))
}

func (s *Source) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// retryLogger adapts zap to retryablehttp.LeveledLogger.
type retryLogger struct {
	s *zap.SugaredLogger
}

func (l retryLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l retryLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l retryLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l retryLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
