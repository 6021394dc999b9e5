package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune // default ','
	LazyQuotes bool

	// HasHeader treats the first row as a header: it is not emitted as
	// a data row but is sent to HeaderCh when set.
	HasHeader bool
	HeaderCh  chan<- []string

	// TrimSpace trims whitespace from every field.
	TrimSpace bool

	// SkipBlank drops rows whose fields are all empty. Season sheets
	// often carry trailing blank lines.
	SkipBlank bool
}

// StreamCSV reads CSV rows into a channel so large season files never
// sit in memory whole. The caller must drain the row channel; exactly
// one value arrives on the error channel (nil on success) and both
// channels are closed when parsing ends.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)
		errCh <- streamRows(ctx, r, opts, rowCh)
	}()

	return rowCh, errCh
}

func streamRows(ctx context.Context, r io.Reader, opts CSVOptions, rowCh chan<- []string) error {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1 // feed sheets vary in width

	if opts.HasHeader {
		header, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "csv: read header")
		}
		if opts.TrimSpace {
			trimFields(header)
		}
		if opts.HeaderCh != nil {
			select {
			case opts.HeaderCh <- header:
			case <-ctx.Done():
				return eris.Wrap(ctx.Err(), "csv: cancelled sending header")
			}
		}
	}

	for {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "csv: cancelled")
		}

		row, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "csv: read row")
		}

		if opts.TrimSpace {
			trimFields(row)
		}
		if opts.SkipBlank && blankRow(row) {
			continue
		}

		select {
		case rowCh <- row:
		case <-ctx.Done():
			return eris.Wrap(ctx.Err(), "csv: cancelled")
		}
	}
}

func trimFields(row []string) {
	for i, field := range row {
		row[i] = strings.TrimSpace(field)
	}
}

func blankRow(row []string) bool {
	for _, field := range row {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
