package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"catalog-scraper/internal/scrapers/catalog"
)

// Table is a dataset read back from disk. Empty cells are not part of the
// rows' records.
type Table struct {
	Columns []string
	Rows    []catalog.ProductRecord
}

func ReadDataset(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, err
	}
	defer f.Close()
	return Read(f)
}

func Read(r io.Reader) (Table, error) {
	in := csv.NewReader(r)

	header, err := in.Read()
	if errors.Is(err, io.EOF) {
		return Table{}, nil
	}
	if err != nil {
		return Table{}, fmt.Errorf("read header: %w", err)
	}

	table := Table{Columns: header}
	pairs := make([]string, 0, len(header)*2)
	for {
		row, err := in.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("read row %d: %w", len(table.Rows)+1, err)
		}

		pairs = pairs[:0]
		for i, cell := range row {
			if cell == "" {
				continue
			}
			pairs = append(pairs, header[i], cell)
		}
		table.Rows = append(table.Rows, catalog.NewProductRecord(pairs...))
	}
	return table, nil
}

type ColumnStat struct {
	Name   string
	Filled int
	Empty  int
}

// ColumnStats counts how many rows have a value for each column.
func (t Table) ColumnStats() []ColumnStat {
	stats := make([]ColumnStat, len(t.Columns))
	for i, col := range t.Columns {
		stats[i].Name = col
		for _, row := range t.Rows {
			if _, ok := row.Get(col); ok {
				stats[i].Filled++
			} else {
				stats[i].Empty++
			}
		}
	}
	return stats
}
