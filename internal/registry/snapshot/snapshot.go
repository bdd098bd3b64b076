// Package snapshot exports the frozen mapping as a deterministic, digest-stamped
// JSON document.
package snapshot

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"objectmap/internal/registry/models"
	dErrors "objectmap/pkg/domain-errors"
)

// FormatVersion is bumped whenever the document layout changes.
const FormatVersion = 1

// Entry is one binding in the document.
type Entry struct {
	Number   uint32 `json:"number"`
	ObjectID string `json:"object_id"`
}

// Document is the exported mapping. Digest is the SHA-256 of the canonical
// encoding of Entries, so two exports of the same registry are byte-identical.
type Document struct {
	Version  int       `json:"version"`
	Size     int       `json:"size"`
	FrozenAt time.Time `json:"frozen_at"`
	Digest   string    `json:"digest"`
	Entries  []Entry   `json:"entries"`
}

// Build assembles the document. entries must be the complete frozen table in
// number order.
func Build(reg *models.Registry, entries []models.Entry) (*Document, error) {
	if err := reg.CanRead(); err != nil {
		return nil, err
	}
	if len(entries) != reg.Size {
		return nil, dErrors.New(dErrors.CodeInvariantViolation,
			fmt.Sprintf("snapshot has %d entries, registry size is %d", len(entries), reg.Size))
	}
	doc := &Document{
		Version: FormatVersion,
		Size:    reg.Size,
		Entries: make([]Entry, 0, len(entries)),
	}
	if reg.FrozenAt != nil {
		doc.FrozenAt = reg.FrozenAt.UTC()
	}
	for i, e := range entries {
		if int(e.Number) != i+1 {
			return nil, dErrors.New(dErrors.CodeInvariantViolation,
				fmt.Sprintf("snapshot entry %d has number %d", i+1, e.Number))
		}
		doc.Entries = append(doc.Entries, Entry{Number: uint32(e.Number), ObjectID: e.ObjectID.String()})
	}
	digest, err := Digest(doc.Entries)
	if err != nil {
		return nil, err
	}
	doc.Digest = digest
	return doc, nil
}

// Digest hashes the canonical JSON of entries.
func Digest(entries []Entry) (string, error) {
	raw, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("encode entries: %w", err)
	}
	sum := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Encode renders doc as indented JSON with a trailing newline.
func Encode(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses and verifies a document.
func Decode(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	digest, err := Digest(doc.Entries)
	if err != nil {
		return nil, err
	}
	if digest != doc.Digest {
		return nil, fmt.Errorf("snapshot digest mismatch: document says %s, entries hash to %s", doc.Digest, digest)
	}
	return &doc, nil
}

// Name is the content-addressed object name for doc.
func Name(doc *Document) string {
	digest := doc.Digest
	if len(digest) > len("sha256:")+16 {
		digest = digest[len("sha256:") : len("sha256:")+16]
	}
	return fmt.Sprintf("objectmap-%d-%s.json", doc.Size, digest)
}
