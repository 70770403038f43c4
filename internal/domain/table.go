package domain

import "fmt"

// ScanTable holds the materialized data of one scan. Scalar values are
// stored row-major; each row has exactly len(Columns) values. When the
// scan declares a spectral payload, Spectra holds one fixed-length channel
// array per row under SpectralColumn.
type ScanTable struct {
	Columns        []string
	Scalars        [][]float64
	SpectralColumn string
	Spectra        [][]int64
}

// Rows returns the number of data rows.
func (t *ScanTable) Rows() int {
	return len(t.Scalars)
}

// Column returns the values of a named scalar column in row order.
func (t *ScanTable) Column(name string) ([]float64, error) {
	for i, c := range t.Columns {
		if c == name {
			out := make([]float64, len(t.Scalars))
			for r, row := range t.Scalars {
				out[r] = row[i]
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("no column %q in scan table", name)
}

// AddColumn appends a derived scalar column. Counter hooks use this to
// attach computed counters; values must cover every row.
func (t *ScanTable) AddColumn(name string, values []float64) error {
	if len(values) != len(t.Scalars) {
		return fmt.Errorf("column %q has %d values, table has %d rows", name, len(values), len(t.Scalars))
	}
	for _, c := range t.Columns {
		if c == name {
			return fmt.Errorf("column %q already exists", name)
		}
	}
	t.Columns = append(t.Columns, name)
	for r := range t.Scalars {
		t.Scalars[r] = append(t.Scalars[r], values[r])
	}
	return nil
}

// ReplaceColumn overwrites an existing scalar column in place.
func (t *ScanTable) ReplaceColumn(name string, values []float64) error {
	if len(values) != len(t.Scalars) {
		return fmt.Errorf("column %q has %d values, table has %d rows", name, len(values), len(t.Scalars))
	}
	for i, c := range t.Columns {
		if c == name {
			for r := range t.Scalars {
				t.Scalars[r][i] = values[r]
			}
			return nil
		}
	}
	return fmt.Errorf("no column %q in scan table", name)
}
