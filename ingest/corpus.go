package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/richinex/markov/storage"
)

// Corpus is one raw body of cleaned text, one sentence per line.
// Its identity is the exact byte content, not the source label.
type Corpus struct {
	Source string // Label for logs and the ingestion log
	Raw    []byte
}

// NewCorpus wraps raw bytes.
func NewCorpus(source string, raw []byte) Corpus {
	return Corpus{Source: source, Raw: raw}
}

// CorpusFromLines joins lines with "\n".
func CorpusFromLines(source string, lines []string) Corpus {
	return Corpus{Source: source, Raw: []byte(strings.Join(lines, "\n"))}
}

// ReadCorpus reads a whole corpus from r.
func ReadCorpus(source string, r io.Reader) (Corpus, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Corpus{}, fmt.Errorf("failed to read corpus %s: %w", source, err)
	}
	return NewCorpus(source, raw), nil
}

// ReadCorpusFile reads a corpus from a file, labelled with its path.
func ReadCorpusFile(path string) (Corpus, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Corpus{}, fmt.Errorf("failed to read corpus %s: %w", path, err)
	}
	return NewCorpus(path, raw), nil
}

// Fingerprint returns the hex SHA-256 of the raw bytes.
func (c Corpus) Fingerprint() storage.Fingerprint {
	sum := sha256.Sum256(c.Raw)
	return storage.Fingerprint(hex.EncodeToString(sum[:]))
}

// Lines splits the corpus on "\n". A trailing newline yields a final empty
// line; "\r" is left in place.
func (c Corpus) Lines() []string {
	return strings.Split(string(c.Raw), "\n")
}
