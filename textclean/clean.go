// Package textclean turns Wikipedia page HTML into one sentence per line.
//
// Information Hiding:
// - HTML parsing and paragraph extraction hidden behind Clean
// - Citation and editorial-marker removal rules kept in one place
// - Output files written atomically, so a crash never leaves half a corpus

package textclean

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/natefinch/atomic"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Rules applied to each paragraph, in order.
var (
	// "[3]: Some reference text " footnote bodies run to the last space.
	footnoteBody = regexp.MustCompile(`\[\d*\]: .+ `)
	// Citation markers such as "[12]" or "[]".
	citation = regexp.MustCompile(`\[\d*\]`)
	// Editorial markers.
	editorial = regexp.MustCompile(`\[update\]|\[citation needed\]|\[user-generated source\?\]`)
)

// CleanParagraph applies the cleanup rules to one paragraph's text and
// breaks it into sentences, one per line. Returns "" if nothing remains.
func CleanParagraph(text string) string {
	text = footnoteBody.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = citation.ReplaceAllString(text, "")
	text = editorial.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, ". ", ".\n")

	if strings.TrimSpace(text) == "" {
		return ""
	}
	return text
}

// Paragraphs returns the text content of every <p> element in document order.
func Paragraphs(r io.Reader) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	// Start with empty slice, not nil
	paragraphs := []string{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.P {
			var sb strings.Builder
			collectText(n, &sb)
			paragraphs = append(paragraphs, sb.String())
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return paragraphs, nil
}

func collectText(n *html.Node, sb *strings.Builder) {
	switch {
	case n.Type == html.TextNode:
		sb.WriteString(n.Data)
		return
	case n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style):
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}

// Clean reads an HTML page from r and writes its cleaned paragraphs to w,
// each followed by a newline. Returns the number of paragraphs written.
func Clean(r io.Reader, w io.Writer) (int, error) {
	paragraphs, err := Paragraphs(r)
	if err != nil {
		return 0, err
	}

	bw := bufio.NewWriter(w)
	written := 0
	for _, p := range paragraphs {
		text := CleanParagraph(p)
		if text == "" {
			continue
		}
		if _, err := bw.WriteString(text + "\n"); err != nil {
			return written, fmt.Errorf("failed to write paragraph: %w", err)
		}
		written++
	}
	if err := bw.Flush(); err != nil {
		return written, fmt.Errorf("failed to write paragraph: %w", err)
	}
	return written, nil
}

// FileResult reports what CleanFile did.
type FileResult struct {
	Skipped    bool // Destination existed and force was false
	Paragraphs int
}

// CleanFile cleans the HTML page at src into dst. An existing dst is left
// untouched unless force is set. The destination is replaced atomically.
func CleanFile(src, dst string, force bool) (FileResult, error) {
	if !force {
		if _, err := os.Stat(dst); err == nil {
			return FileResult{Skipped: true}, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return FileResult{}, fmt.Errorf("failed to stat %s: %w", dst, err)
		}
	}

	in, err := os.Open(src)
	if err != nil {
		return FileResult{}, fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	var buf bytes.Buffer
	n, err := Clean(in, &buf)
	if err != nil {
		return FileResult{}, err
	}

	if err := atomic.WriteFile(dst, &buf); err != nil {
		return FileResult{}, fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return FileResult{Paragraphs: n}, nil
}
