package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

// Strategy describes how a workspace file was folded into the model context.
type Strategy string

const (
	// StrategyText means the file content is included verbatim after cleanup.
	StrategyText Strategy = "text"
	// StrategyAttachment marks files forwarded as-is without text extraction.
	StrategyAttachment Strategy = "attachment"
	// StrategySummary means only a pre-computed summary of the file is included.
	StrategySummary Strategy = "summary"
	// StrategySkipped marks files that contribute nothing to the context.
	StrategySkipped Strategy = "skipped"
)

// Document is one ingested workspace file.
type Document struct {
	Filename  string   `json:"filename"`
	Content   string   `json:"content,omitempty"`
	MediaType string   `json:"media_type"`
	Strategy  Strategy `json:"strategy"`
	SizeBytes int64    `json:"size_bytes"`
	SHA256    string   `json:"sha256"`
}

// textExtensions are treated as plain text and included verbatim.
var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".rst": true,
	".csv": true, ".tsv": true, ".json": true, ".yaml": true,
	".yml": true, ".toml": true, ".xml": true, ".html": true,
	".htm": true, ".log": true,
}

// summarySuffix marks sidecar files written by the workspace sync for
// oversized objects. Their content stands in for the original file.
const summarySuffix = ".summary.txt"

// IngestDirectory reads every regular file directly under dir and classifies
// it into a Document. Subdirectories are ignored. Results are ordered by
// filename so the combined context is stable across runs.
func IngestDirectory(dir string) ([]Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read workspace directory: %w", err)
	}

	docs := make([]Document, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		doc, err := ingestFile(dir, entry.Name())
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Filename < docs[j].Filename })
	return docs, nil
}

func ingestFile(dir, name string) (Document, error) {
	path := filepath.Join(dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("failed to read %s: %w", name, err)
	}

	sum := sha256.Sum256(data)
	doc := Document{
		Filename:  name,
		MediaType: mediaTypeFor(name),
		SizeBytes: int64(len(data)),
		SHA256:    hex.EncodeToString(sum[:]),
	}

	switch {
	case strings.HasSuffix(name, summarySuffix):
		doc.Strategy = StrategySummary
		doc.Content = CleanText(string(data))
	case isTextFile(name, data):
		doc.Strategy = StrategyText
		doc.Content = CleanText(string(data))
	case isAttachment(name):
		doc.Strategy = StrategyAttachment
	default:
		doc.Strategy = StrategySkipped
	}

	return doc, nil
}

// attachmentExtensions are binary document formats we cannot parse natively
// but still surface to the model as named attachments.
var attachmentExtensions = map[string]bool{
	".pdf": true, ".docx": true, ".doc": true, ".pptx": true, ".xlsx": true,
}

func isAttachment(name string) bool {
	return attachmentExtensions[strings.ToLower(filepath.Ext(name))]
}

func isTextFile(name string, data []byte) bool {
	if textExtensions[strings.ToLower(filepath.Ext(name))] {
		return utf8.Valid(data)
	}
	return false
}

func mediaTypeFor(name string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return t
	}
	return "application/octet-stream"
}

// CombineDocuments renders ingested documents into a single prompt block.
// Text and summary documents contribute their content; attachments and
// skipped files are listed by name only so the model knows they exist.
func CombineDocuments(docs []Document) string {
	var b strings.Builder
	for _, doc := range docs {
		switch doc.Strategy {
		case StrategyText:
			fmt.Fprintf(&b, "=== File: %s ===\n%s\n\n", doc.Filename, doc.Content)
		case StrategySummary:
			orig := strings.TrimSuffix(doc.Filename, summarySuffix)
			fmt.Fprintf(&b, "=== File: %s (summary) ===\n%s\n\n", orig, doc.Content)
		case StrategyAttachment:
			fmt.Fprintf(&b, "=== Attachment: %s (%s, %d bytes) ===\n\n", doc.Filename, doc.MediaType, doc.SizeBytes)
		}
	}
	return strings.TrimSpace(b.String())
}
