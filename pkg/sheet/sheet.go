// Package sheet is the spreadsheet I/O boundary. The spreadsheet itself
// is an external collaborator reached through the RangeReader and
// RangeWriter capabilities; this package only knows how to pull input
// identifiers out of a rectangular range and lay batch results back
// down as rows. Which columns mean what is caller-supplied
// configuration, not a fixed schema.
package sheet

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/seolo/mallsync/pkg/batch"
)

// ErrInvalidColumnSpec rejects a malformed range description before any
// spreadsheet or upstream call is made.
var ErrInvalidColumnSpec = errors.New("invalid column spec")

// RangeReader reads a rectangular cell range. Rows are returned
// top-to-bottom, cells left-to-right, missing trailing cells omitted.
type RangeReader interface {
	ReadRange(ctx context.Context, sheetName string, startCol string, startRow int, endCol string, endRow int) ([][]string, error)
}

// RangeWriter writes a rectangular block of rows starting at the given
// cell.
type RangeWriter interface {
	WriteRange(ctx context.Context, sheetName string, startCol string, startRow int, rows [][]string) error
}

var columnPattern = regexp.MustCompile(`^[A-Z]{1,2}$`)

// ColumnSpec describes where identifiers live and where results go.
type ColumnSpec struct {
	SheetName        string `json:"sheetName"`
	IdentifierColumn string `json:"identifierColumn"`
	OutputColumn     string `json:"outputColumn"`
	StartRow         int    `json:"startRow"`
	EndRow           int    `json:"endRow"`
}

// Validate checks the spec structurally. Row 1 is the topmost row, as
// in spreadsheet UIs.
func (s ColumnSpec) Validate() error {
	if s.SheetName == "" {
		return fmt.Errorf("%w: sheet name is empty", ErrInvalidColumnSpec)
	}
	if !columnPattern.MatchString(s.IdentifierColumn) {
		return fmt.Errorf("%w: identifier column %q", ErrInvalidColumnSpec, s.IdentifierColumn)
	}
	if !columnPattern.MatchString(s.OutputColumn) {
		return fmt.Errorf("%w: output column %q", ErrInvalidColumnSpec, s.OutputColumn)
	}
	if s.StartRow < 1 {
		return fmt.Errorf("%w: start row %d", ErrInvalidColumnSpec, s.StartRow)
	}
	if s.EndRow < s.StartRow {
		return fmt.Errorf("%w: end row %d before start row %d", ErrInvalidColumnSpec, s.EndRow, s.StartRow)
	}
	return nil
}

// RowCount returns the number of rows the spec covers.
func (s ColumnSpec) RowCount() int {
	return s.EndRow - s.StartRow + 1
}

// ExtractIdentifiers flattens a read range into one identifier per row.
// Blank rows stay in the slice as empty strings so result rows keep
// their 1:1 alignment with sheet rows.
func ExtractIdentifiers(rows [][]string) []string {
	identifiers := make([]string, len(rows))
	for i, row := range rows {
		if len(row) > 0 {
			identifiers[i] = strings.TrimSpace(row[0])
		}
	}
	return identifiers
}

// Output row layout written next to each identifier.
var ResultHeader = []string{"status", "member_id", "name", "orders", "purchase_amount", "note"}

// FormatResults renders batch results as sheet rows, one per input, in
// input order.
func FormatResults(results []batch.Result) [][]string {
	rows := make([][]string, len(results))
	for i, res := range results {
		if res.OK {
			rows[i] = []string{
				"OK",
				res.Data.MemberID,
				res.Data.Name,
				strconv.Itoa(res.Data.TotalOrders),
				strconv.FormatFloat(res.Data.TotalPurchaseAmount, 'f', -1, 64),
				string(res.Data.Strategy),
			}
			continue
		}
		rows[i] = []string{res.ErrorCode, "", "", "", "", res.Message}
	}
	return rows
}

// Syncer runs a batch over a sheet range and writes the results back.
type Syncer struct {
	reader RangeReader
	writer RangeWriter
	runner *batch.Runner
	logger zerolog.Logger
}

// NewSyncer creates a sheet syncer.
func NewSyncer(reader RangeReader, writer RangeWriter, runner *batch.Runner, logger zerolog.Logger) (*Syncer, error) {
	if reader == nil || writer == nil {
		return nil, fmt.Errorf("reader and writer are required")
	}
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	return &Syncer{
		reader: reader,
		writer: writer,
		runner: runner,
		logger: logger.With().Str("component", "sheet").Logger(),
	}, nil
}

// Sync reads identifiers from the spec's identifier column, processes
// them as one batch and writes one result row per input row starting at
// the output column. The summary is returned for callers that also want
// the structured results.
func (s *Syncer) Sync(ctx context.Context, spec ColumnSpec, cfg batch.Config) (*batch.Summary, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	rows, err := s.reader.ReadRange(ctx, spec.SheetName,
		spec.IdentifierColumn, spec.StartRow, spec.IdentifierColumn, spec.EndRow)
	if err != nil {
		return nil, fmt.Errorf("failed to read identifier range: %w", err)
	}
	identifiers := ExtractIdentifiers(rows)
	if len(identifiers) == 0 {
		return nil, batch.ErrNoIdentifiers
	}

	s.logger.Info().
		Str("sheet", spec.SheetName).
		Int("rows", len(identifiers)).
		Msg("Starting sheet sync")

	summary, err := s.runner.Run(ctx, identifiers, cfg)
	if err != nil {
		return nil, err
	}

	out := FormatResults(summary.Results)
	if err := s.writer.WriteRange(ctx, spec.SheetName, spec.OutputColumn, spec.StartRow, out); err != nil {
		return nil, fmt.Errorf("failed to write result range: %w", err)
	}

	s.logger.Info().
		Str("sheet", spec.SheetName).
		Int("ok", summary.OK).
		Int("fail", summary.Fail).
		Msg("Sheet sync finished")

	return summary, nil
}
