package fetcher

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions selects the worksheet to read.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
	TrimSpace  bool
	// PadToFirst pads later rows with empty cells up to the width of the
	// first row. Worksheets drop trailing blank cells.
	PadToFirst bool
}

// StreamXLSX reads one worksheet and sends its rows to a channel in sheet
// order. Both channels are closed when processing completes.
func StreamXLSX(ctx context.Context, path string, opts XLSXOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		f, err := xlsx.OpenFile(path)
		if err != nil {
			errCh <- eris.Wrap(err, "xlsx: open file")
			return
		}

		sheet, err := getSheet(f, opts)
		if err != nil {
			errCh <- err
			return
		}

		if err := sendRows(ctx, sheet.Rows, opts, rowCh); err != nil {
			errCh <- err
		}
	}()

	return rowCh, errCh
}

// sendRows converts rows to strings and sends them in order. Nil rows are
// skipped. With PadToFirst the width comes from the first non-nil row.
func sendRows(ctx context.Context, rows []*xlsx.Row, opts XLSXOptions, rowCh chan<- []string) error {
	width := -1
	for _, row := range rows {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "xlsx: context cancelled")
		}
		if row == nil {
			continue
		}

		cells := rowToStrings(row, opts.TrimSpace)
		if opts.PadToFirst {
			if width < 0 {
				width = len(cells)
			}
			for len(cells) < width {
				cells = append(cells, "")
			}
		}

		select {
		case rowCh <- cells:
		case <-ctx.Done():
			return eris.Wrap(ctx.Err(), "xlsx: context cancelled")
		}
	}
	return nil
}

func getSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}

	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row, trim bool) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		s := cell.String()
		if trim {
			s = strings.TrimSpace(s)
		}
		cells[j] = s
	}
	return cells
}
