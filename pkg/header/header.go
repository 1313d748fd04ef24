// Package header models the preamble lines that headerprop detects in source
// objects and propagates onto their siblings.
//
// A Header is produced by a Scanner, which reads an object line by line and
// matches every line against an ordered set of regular expressions. A header
// is only worth propagating once every pattern has matched during a single
// scan; anything less is a partial header and is used solely to avoid writing
// duplicate lines into a destination object.
package header

import (
	"strings"
)

// Header is the result of scanning one object.
//
// Lines holds each matched line verbatim, including its line terminator, in
// the order encountered. Complete is true only if every configured pattern
// matched at least one line during the scan.
//
// A Header is treated as immutable once returned by a Scanner. Use Clone to
// obtain a copy that may be modified.
type Header struct {
	Lines    []string `json:"lines"`
	Complete bool     `json:"complete"`
}

// HasHeader reports whether at least one header line was found.
func (h *Header) HasHeader() bool {
	return h != nil && len(h.Lines) > 0
}

// IsPartial reports whether some, but not all, patterns matched.
func (h *Header) IsPartial() bool {
	return h.HasHeader() && !h.Complete
}

// Propagatable reports whether the header may be cached and fanned out.
func (h *Header) Propagatable() bool {
	return h.HasHeader() && h.Complete
}

// Clone returns a deep copy of the header. Cloning nil returns nil.
func (h *Header) Clone() *Header {
	if h == nil {
		return nil
	}
	lines := make([]string, len(h.Lines))
	copy(lines, h.Lines)
	return &Header{Lines: lines, Complete: h.Complete}
}

// Missing returns the lines of h that are not already present in existing,
// preserving the order of h. Lines are compared without their terminator so a
// CRLF source line still counts as present.
func (h *Header) Missing(existing *Header) []string {
	if h == nil {
		return nil
	}

	present := make(map[string]struct{})
	if existing != nil {
		for _, line := range existing.Lines {
			present[trimTerminator(line)] = struct{}{}
		}
	}

	missing := make([]string, 0, len(h.Lines))
	for _, line := range h.Lines {
		if _, ok := present[trimTerminator(line)]; ok {
			continue
		}
		missing = append(missing, line)
	}
	return missing
}

// FolderPrefix returns the portion of an object path before its last "/".
// Paths without a separator belong to the empty prefix.
func FolderPrefix(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return ""
	}
	return path[:i]
}

func trimTerminator(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}
