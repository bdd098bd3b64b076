package loader

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"objectmap/internal/registry/models"
)

// Format is a manifest encoding.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
)

// FormatFromPath picks the format from a file extension. Anything that is not
// .jsonl or .ndjson is read as CSV.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		return FormatJSONL
	default:
		return FormatCSV
	}
}

// Item is one manifest line.
type Item struct {
	Number   models.Number
	ObjectID models.ObjectID
	Line     int
}

type jsonItem struct {
	Number   uint32 `json:"number"`
	ObjectID string `json:"object_id"`
}

// ReadManifest parses every item in r. A number listed twice is rejected here so
// the registry never sees a self-conflicting manifest.
func ReadManifest(r io.Reader, format Format) ([]Item, error) {
	var (
		items []Item
		err   error
	)
	switch format {
	case FormatJSONL:
		items, err = readJSONL(r)
	case FormatCSV, "":
		items, err = readCSV(r)
	default:
		return nil, fmt.Errorf("unknown manifest format %q", format)
	}
	if err != nil {
		return nil, err
	}
	seen := make(map[models.Number]int, len(items))
	for _, it := range items {
		if prev, ok := seen[it.Number]; ok {
			return nil, fmt.Errorf("line %d: number %d already listed on line %d", it.Line, it.Number, prev)
		}
		seen[it.Number] = it.Line
	}
	return items, nil
}

func readCSV(r io.Reader) ([]Item, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var items []Item
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return items, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		line, _ := cr.FieldPos(0)
		if len(items) == 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "number") {
			continue
		}
		item, err := parseItem(strings.TrimSpace(rec[0]), strings.TrimSpace(rec[1]), line)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
}

func readJSONL(r io.Reader) ([]Item, error) {
	sc := bufio.NewScanner(r)
	var items []Item
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var ji jsonItem
		if err := json.Unmarshal([]byte(text), &ji); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		id, err := models.ParseObjectID(ji.ObjectID)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		items = append(items, Item{Number: models.Number(ji.Number), ObjectID: id, Line: line})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read jsonl: %w", err)
	}
	return items, nil
}

func parseItem(number, objectID string, line int) (Item, error) {
	n, err := models.ParseNumber(number)
	if err != nil {
		return Item{}, fmt.Errorf("line %d: %w", line, err)
	}
	id, err := models.ParseObjectID(objectID)
	if err != nil {
		return Item{}, fmt.Errorf("line %d: %w", line, err)
	}
	return Item{Number: n, ObjectID: id, Line: line}, nil
}
