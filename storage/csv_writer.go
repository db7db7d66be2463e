package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

var csvHeader = []string{
	"id", "source_line", "ship_or_item_name", "itinerary", "departure_point",
	"date", "duration_days", "price", "link", "source", "run_id",
}

// CSVWriter writes each committed batch as a flat spreadsheet export.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &CSVWriter{file: f, writer: w}, nil
}

func (c *CSVWriter) Name() string { return "csv" }

// WriteBatch appends one row per listing. Itinerary ports are joined with " | ".
func (c *CSVWriter) WriteBatch(ctx context.Context, b Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, l := range b.Listings {
		if err := ctx.Err(); err != nil {
			return err
		}
		duration := ""
		if l.DurationDays != nil {
			duration = strconv.Itoa(*l.DurationDays)
		}
		row := []string{
			l.ID,
			l.SourceLine,
			l.ShipOrItemName,
			strings.Join(l.Itinerary, " | "),
			l.DeparturePoint,
			l.Date,
			duration,
			l.Price,
			l.Link,
			l.Source,
			b.RunID,
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}
