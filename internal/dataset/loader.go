package dataset

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"anime-identifier-go/internal/imagesource"
	"anime-identifier-go/internal/types"
)

// Load reads the first sheet of an .xlsx manifest. The image column is found by
// header heuristics; relative paths are resolved against the manifest's directory.
func Load(path string) ([]types.Sample, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, fmt.Errorf("no data rows")
	}

	cols := detectColumns(rows[0])
	if cols.image == -1 {
		return nil, fmt.Errorf("no image column in header %v", rows[0])
	}
	base := filepath.Dir(path)

	var out []types.Sample
	for i, r := range rows {
		if i == 0 {
			continue
		}
		source := cell(r, cols.image)
		// rows without an image reference are skipped quietly
		if source == "" {
			continue
		}
		if !imagesource.IsURL(source) && !filepath.IsAbs(source) {
			source = filepath.Join(base, source)
		}
		sample := types.Sample{
			ID:        cell(r, cols.id),
			Source:    source,
			Expected:  cell(r, cols.expected),
			RowNumber: i + 1,
		}
		if sample.ID == "" {
			sample.ID = strconv.Itoa(i)
		}
		out = append(out, sample)
	}
	return out, nil
}

type columns struct {
	image    int
	id       int
	expected int
}

func detectColumns(header []string) columns {
	cols := columns{image: -1, id: -1, expected: -1}
	for i, h := range header {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(l, "image") || strings.Contains(l, "photo") || strings.Contains(l, "path") ||
			strings.Contains(l, "url") || strings.Contains(l, "file"):
			if cols.image == -1 {
				cols.image = i
			}
		case strings.Contains(l, "expected") || strings.Contains(l, "character") || l == "name":
			if cols.expected == -1 {
				cols.expected = i
			}
		case l == "id" || strings.Contains(l, "sample") || strings.HasSuffix(l, " id"):
			if cols.id == -1 {
				cols.id = i
			}
		}
	}
	return cols
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
