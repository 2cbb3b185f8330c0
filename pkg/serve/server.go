// Package serve exposes the scanner over newline-delimited JSON, so a git
// server can keep one warm process with a loaded ruleset instead of starting
// a hook binary per push.
package serve

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/suche/seccheck/pkg/enum"
	"github.com/suche/seccheck/pkg/scanner"
)

// Version is the server protocol version
const Version = "1.0.0"

// RepositoryOpener opens the repository named by an evaluate request.
type RepositoryOpener func(path, quarantine string) (scanner.Repository, io.Closer, error)

// OpenGit opens repositories with go-git.
func OpenGit(path, quarantine string) (scanner.Repository, io.Closer, error) {
	repo, err := enum.OpenQuarantined(path, quarantine)
	if err != nil {
		return nil, nil, err
	}
	return repo, repo, nil
}

// Server manages the streaming scanner
type Server struct {
	core    *scanner.Core
	rules   scanner.RulesetSource
	open    RepositoryOpener
	logger  *zap.Logger
	encoder *json.Encoder
	decoder *json.Decoder
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithOpener replaces OpenGit.
func WithOpener(open RepositoryOpener) Option {
	return func(s *Server) { s.open = open }
}

// NewServer creates a new streaming server
func NewServer(core *scanner.Core, rules scanner.RulesetSource, in io.Reader, out io.Writer, opts ...Option) *Server {
	s := &Server{
		core:    core,
		rules:   rules,
		open:    OpenGit,
		logger:  zap.NewNop(),
		encoder: json.NewEncoder(out),
		decoder: json.NewDecoder(bufio.NewReader(in)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run answers requests until the input ends, a close request arrives, or
// ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.reply(Request{}, "ready", s.status())

	reqChan := make(chan Request, 1)
	errChan := make(chan error, 1)

	go func() {
		for {
			var req Request
			if err := s.decoder.Decode(&req); err != nil {
				errChan <- err
				return
			}
			select {
			case reqChan <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-reqChan:
			if s.handle(ctx, req) {
				return nil
			}
		case err := <-errChan:
			// A request decoded just before EOF may still be queued.
			select {
			case req := <-reqChan:
				if s.handle(ctx, req) {
					return nil
				}
			default:
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			s.fail(Request{Type: "decode"}, err)
			return nil
		}
	}
}

// handle processes one request and reports whether the server should exit.
func (s *Server) handle(ctx context.Context, req Request) bool {
	switch req.Type {
	case "evaluate":
		s.handleEvaluate(ctx, req)
	case "scan":
		s.handleScan(req)
	case "status":
		s.reply(req, req.Type, s.status())
	case "close":
		return true
	default:
		s.fail(req, fmt.Errorf("unknown request type: %s", req.Type))
	}
	return false
}

func (s *Server) handleEvaluate(ctx context.Context, req Request) {
	var p EvaluatePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		s.fail(req, err)
		return
	}
	if p.Repository == "" {
		s.fail(req, errors.New("repository is required"))
		return
	}

	repo, closer, err := s.open(p.Repository, p.Quarantine)
	if err != nil {
		// Fail open: the push proceeds, the operator sees the error.
		s.logger.Error("opening repository failed", zap.String("repository", p.Repository), zap.Error(err))
		s.fail(req, err)
		return
	}
	defer closer.Close()

	decisions := s.core.Evaluate(ctx, repo, p.Updates)
	rejections := scanner.Rejections(decisions)
	if rejections == nil {
		rejections = []string{}
	}
	s.reply(req, req.Type, EvaluateData{Decisions: decisions, Rejections: rejections})
}

func (s *Server) handleScan(req Request) {
	var p ScanPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		s.fail(req, err)
		return
	}

	finding, err := s.core.ScanContent(p.Path, []byte(p.Content))
	if err != nil && !errors.As(err, new(*scanner.ExtractionError)) {
		s.fail(req, err)
		return
	}
	data := ScanData{Path: p.Path}
	if finding != nil {
		data.Rule = finding.RuleID()
		data.Line = finding.Line
		data.Rejection = finding.RejectionLine(p.Path)
	}
	s.reply(req, req.Type, data)
}

func (s *Server) status() StatusData {
	st := StatusData{Version: Version}
	if rs := s.rules.Current(); rs != nil {
		st.Ready = true
		st.Rules = rs.Len()
		st.Fingerprint = rs.Fingerprint()
	}
	return st
}

func (s *Server) reply(req Request, typ string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.fail(req, err)
		return
	}
	s.send(Response{Success: true, Type: typ, ID: req.ID, Data: data})
}

func (s *Server) fail(req Request, err error) {
	s.send(Response{Success: false, Type: req.Type, ID: req.ID, Error: err.Error()})
}

func (s *Server) send(resp Response) {
	if err := s.encoder.Encode(resp); err != nil {
		s.logger.Error("writing response failed", zap.String("type", resp.Type), zap.Error(err))
	}
}
