package header

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/marmos91/headerprop/internal/logger"
)

// ErrNoPatterns is returned when a Scanner is built from an empty pattern set.
var ErrNoPatterns = errors.New("no header patterns configured")

// Pattern is one named entry of the configured pattern set.
type Pattern struct {
	Name    string
	Pattern string
}

type compiledPattern struct {
	name string
	re   *regexp.Regexp
}

// Scanner classifies the header of an object against an ordered pattern set.
//
// A Scanner is safe for concurrent use: it holds only compiled expressions and
// keeps all per-scan state on the stack of Scan.
type Scanner struct {
	patterns []compiledPattern
}

// ObjectOpener is the slice of the object store the scanner needs.
type ObjectOpener interface {
	OpenRead(ctx context.Context, container, path string) (io.ReadCloser, error)
}

// NewScanner compiles the given patterns in order.
//
// Returns ErrNoPatterns for an empty set, or the compilation error of the
// first invalid expression.
func NewScanner(patterns []Pattern) (*Scanner, error) {
	if len(patterns) == 0 {
		return nil, ErrNoPatterns
	}

	compiled := make([]compiledPattern, 0, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("header pattern %d (%s): %w", i, p.Name, err)
		}
		name := p.Name
		if name == "" {
			name = p.Pattern
		}
		compiled = append(compiled, compiledPattern{name: name, re: re})
	}

	return &Scanner{patterns: compiled}, nil
}

// PatternCount returns the size of the pattern set.
func (s *Scanner) PatternCount() int {
	return len(s.patterns)
}

// Scan reads r line by line and returns the header it contains.
//
// Each line is tested, without its terminator, against the patterns that have
// not matched yet, in configured order. The first pattern that matches claims
// the line: the line is appended to the header and no other pattern is tested
// against it. Scanning stops as soon as every pattern has matched, which marks
// the header complete. Reaching the end of r first leaves Complete false.
//
// The name is used for logging only.
func (s *Scanner) Scan(ctx context.Context, r io.Reader, name string) (*Header, error) {
	h := &Header{}
	matched := make([]bool, len(s.patterns))
	remaining := len(s.patterns)

	br := bufio.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		line, err := br.ReadString('\n')
		if len(line) > 0 {
			text := strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")

			for i, p := range s.patterns {
				if matched[i] || !p.re.MatchString(text) {
					continue
				}

				logger.Info("Found header matching pattern %s in %s", p.name, name)
				if !strings.HasSuffix(line, "\n") {
					line += "\n"
				}
				h.Lines = append(h.Lines, line)
				matched[i] = true
				remaining--
				break
			}

			if remaining == 0 {
				h.Complete = true
				logger.Info("Found complete header in %s (%d lines)", name, len(h.Lines))
				return h, nil
			}
		}

		if err == io.EOF {
			return h, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
	}
}

// ScanObject opens container/path through store and scans it.
func (s *Scanner) ScanObject(ctx context.Context, store ObjectOpener, container, path string) (*Header, error) {
	rc, err := store.OpenRead(ctx, container, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s/%s for scanning: %w", container, path, err)
	}
	defer rc.Close()

	return s.Scan(ctx, rc, container+"/"+path)
}
