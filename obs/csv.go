package obs

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ReadCSV loads a dataset from rows "x_1,...,x_dim,u,f". A leading header row
// is skipped when its first field is not a number.
func ReadCSV(r io.Reader, dim int, noise float64) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = dim + 2
	reader.TrimLeadingSpace = true
	reader.Comment = '#'
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("obs: read csv: %w", err)
	}
	if len(records) > 0 {
		if _, err := strconv.ParseFloat(strings.TrimSpace(records[0][0]), 64); err != nil {
			records = records[1:]
		}
	}
	coords := make([][]float64, dim)
	for d := range coords {
		coords[d] = make([]float64, 0, len(records))
	}
	us := make([]float64, 0, len(records))
	fs := make([]float64, 0, len(records))
	for line, rec := range records {
		vals := make([]float64, len(rec))
		for k, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("obs: csv row %d column %d: %w", line+1, k+1, err)
			}
			vals[k] = v
		}
		for d := 0; d < dim; d++ {
			coords[d] = append(coords[d], vals[d])
		}
		us = append(us, vals[dim])
		fs = append(fs, vals[dim+1])
	}
	return NewDataset(coords, us, fs, noise)
}
