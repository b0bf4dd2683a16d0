package distmatrix

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Format names the encoding of a matrix file.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Options controls how a matrix is decoded.
type Options struct {
	// Comma is the CSV delimiter; zero means ','.
	Comma rune
	// Sheet is the XLSX sheet to read; empty means the first sheet.
	Sheet string
}

// FormatOf guesses the format from a file name.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	}
	return FormatCSV
}

// Load reads the matrix stored at path.
func Load(path string, opts Options) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f, FormatOf(path), opts)
}

// Decode reads a matrix in the given format from r.
func Decode(r io.Reader, format Format, opts Options) (*Table, error) {
	switch format {
	case FormatXLSX:
		return ReadXLSX(r, opts.Sheet)
	case FormatCSV, "":
		return ReadCSV(r, opts.Comma)
	}
	return nil, fmt.Errorf("distmatrix: unsupported format %q", format)
}

// ReadCSV decodes a CSV matrix. Whitespace following a delimiter is skipped
// and rows may be shorter or longer than the header.
func ReadCSV(r io.Reader, comma rune) (*Table, error) {
	cr := csv.NewReader(r)
	if comma != 0 {
		cr.Comma = comma
	}
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("distmatrix: reading header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	t := newTable(header)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("distmatrix: %w", err)
		}
		t.add(row)
	}
	return t, nil
}

// ReadXLSX decodes the first row of a sheet as the header and every following
// non-empty row as a record.
func ReadXLSX(r io.Reader, sheet string) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("distmatrix: opening workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, ErrNoHeader
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("distmatrix: reading sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, ErrNoHeader
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(h)
	}
	t := newTable(header)
	for _, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		t.add(row)
	}
	return t, nil
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Source yields a distance matrix.
type Source interface {
	Name() string
	Load(ctx context.Context) (*Table, error)
}

// FileSource loads a matrix from a path inside a workspace folder.
type FileSource struct {
	Workspace string
	File      string
	Options   Options
}

func (s FileSource) Path() string {
	if s.Workspace == "" || filepath.IsAbs(s.File) {
		return s.File
	}
	return filepath.Join(s.Workspace, s.File)
}

func (s FileSource) Name() string { return s.Path() }

func (s FileSource) Load(ctx context.Context) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Load(s.Path(), s.Options)
}

// ReaderSource decodes a matrix from an in-memory stream such as an upload.
type ReaderSource struct {
	Label   string
	Format  Format
	Reader  io.Reader
	Options Options
}

func (s ReaderSource) Name() string { return s.Label }

func (s ReaderSource) Load(ctx context.Context) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Decode(s.Reader, s.Format, s.Options)
}

// TableSource serves an already decoded table.
type TableSource struct {
	Label string
	Table *Table
}

func (s TableSource) Name() string { return s.Label }

func (s TableSource) Load(ctx context.Context) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Table == nil {
		return nil, ErrNoHeader
	}
	return s.Table, nil
}

// FromRecords builds a table from loose records. With no header given, the
// header is the union of the record keys, each record contributing its new
// keys in sorted order.
func FromRecords(header []string, recs []Record) *Table {
	t := newTable(header)
	if len(header) == 0 {
		seen := map[string]struct{}{}
		for _, r := range recs {
			for _, k := range sortedKeys(r) {
				if _, ok := seen[k]; !ok {
					seen[k] = struct{}{}
					t.Header = append(t.Header, k)
				}
			}
		}
	}
	t.Records = append(t.Records, recs...)
	return t
}

func sortedKeys(r Record) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
