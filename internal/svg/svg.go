// Package svg finds SVG markup inside model replies and writes it to disk.
package svg

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

const (
	openTag  = "<svg"
	closeTag = "</svg>"
)

// Parts is a reply split around its SVG fragment.
type Parts struct {
	Before   string
	Fragment string
	After    string
}

// openIndex returns the index of the first "<svg" that starts a tag, or -1.
func openIndex(s string) int {
	offset := 0
	for {
		i := strings.Index(s[offset:], openTag)
		if i < 0 {
			return -1
		}
		i += offset
		rest := s[i+len(openTag):]
		if rest == "" {
			return i
		}
		r := rune(rest[0])
		if r == '>' || r == '/' || unicode.IsSpace(r) {
			return i
		}
		offset = i + len(openTag)
	}
}

// Contains reports whether s carries an SVG open tag.
func Contains(s string) bool {
	return openIndex(s) >= 0
}

// Split cuts reply into the text before the first SVG open tag, the span up
// to and including the last close tag, and the text after it. Before and
// After are trimmed. It reports false when no complete fragment exists.
//
// The span is greedy: several fragments or a stray close tag are taken as one.
func Split(reply string) (Parts, bool) {
	start := openIndex(reply)
	if start < 0 {
		return Parts{}, false
	}
	end := strings.LastIndex(reply, closeTag)
	if end < start {
		return Parts{}, false
	}
	end += len(closeTag)
	return Parts{
		Before:   strings.TrimSpace(reply[:start]),
		Fragment: reply[start:end],
		After:    strings.TrimSpace(reply[end:]),
	}, true
}

// FileWriter persists SVG content under a directory.
type FileWriter struct{}

func NewFileWriter() *FileWriter {
	return &FileWriter{}
}

// Write stores content in dir/filename, adding the .svg extension when
// missing. Content that is not SVG is written to <stem>.txt instead. The
// path actually written is returned.
func (w *FileWriter) Write(content, dir, filename string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir %s: %w", dir, err)
	}
	if !strings.HasSuffix(filename, ".svg") {
		filename += ".svg"
	}
	path := filepath.Join(dir, filename)

	if Contains(content) {
		if parts, ok := Split(content); ok {
			content = parts.Fragment
		}
	} else {
		path = filepath.Join(dir, strings.TrimSuffix(filename, ".svg")+".txt")
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
