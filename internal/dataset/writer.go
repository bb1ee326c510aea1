package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"catalog-scraper/internal/components/assert"
	"catalog-scraper/internal/components/telemetry"
	"catalog-scraper/internal/scrapers/catalog"
)

const (
	report_writer_write_dataset = "writer.write-dataset"
)

// Columns returns the column schema of records: exactly the union of their
// keys. Keys listed in `preferred` come first in that order, any other key
// follows in first-seen order. Preferred keys no record uses are dropped.
func Columns(records []catalog.ProductRecord, preferred []string) []string {
	union := catalog.NewFieldRegistry()
	union.Merge(records...)

	columns := catalog.NewFieldRegistry()
	for _, key := range preferred {
		if union.Contains(key) {
			columns.Add(key)
		}
	}
	columns.Add(union.Columns()...)
	return columns.Columns()
}

// CSVWriter writes datasets as CSV files to Path.
type CSVWriter struct {
	Path string
	tel  telemetry.API
}

func NewCSVWriter(path string, tel telemetry.API) CSVWriter {
	assert.NotEmptyStr(path)
	assert.NotNil(tel)
	return CSVWriter{
		Path: path,
		tel:  telemetry.NewScopedAPI("dataset", tel),
	}
}

// WriteDataset writes one row per record under the union of their keys,
// fields a record does not have are written as empty cells. The file is
// replaced atomically.
func (w CSVWriter) WriteDataset(ctx context.Context, records []catalog.ProductRecord, columns []string) error {
	columns = Columns(records, columns)

	err := writeCSV(w.Path, records, columns)
	if err != nil {
		w.tel.ReportBroken(report_writer_write_dataset, err, slog.String("destination", w.Path))
		return err
	}

	w.tel.ReportInfo(
		"dataset was saved",
		slog.String("destination", w.Path),
		slog.Int("rows", len(records)),
		slog.Int("columns", len(columns)),
	)
	return nil
}

// WriteDataset writes records to destination with the column order they
// first use each key in.
func WriteDataset(records []catalog.ProductRecord, destination string) error {
	return NewCSVWriter(destination, telemetry.SlogAPI{}).
		WriteDataset(context.Background(), records, nil)
}

func writeCSV(destination string, records []catalog.ProductRecord, columns []string) (err error) {
	dir := filepath.Dir(destination)
	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(destination)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, os.Remove(tmp.Name()))
		}
	}()

	out := csv.NewWriter(tmp)
	if len(columns) > 0 {
		err = out.Write(columns)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("write header: %w", err)
		}
	}

	row := make([]string, len(columns))
	for _, rec := range records {
		for i, col := range columns {
			row[i], _ = rec.Get(col)
		}
		err = out.Write(row)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("write row: %w", err)
		}
	}

	out.Flush()
	err = out.Error()
	if err != nil {
		tmp.Close()
		return fmt.Errorf("flush: %w", err)
	}
	// CreateTemp opens with 0600
	err = tmp.Chmod(0644)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("chmod: %w", err)
	}
	err = tmp.Close()
	if err != nil {
		return fmt.Errorf("close: %w", err)
	}

	err = os.Rename(tmp.Name(), destination)
	if err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
