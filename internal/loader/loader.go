// Package loader turns registry extracts (CSV files or CNMV Excel workbooks) into
// normalized, dated events.
package loader

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rewired-gh/survivorship/internal/logger"
	"github.com/rewired-gh/survivorship/internal/models"
)

// Format of a tabular source.
type Format string

const (
	FormatAuto Format = ""
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Sheet describes how rows of one sheet become events. A fixed Event types every
// row; otherwise rows are classified from the type column and, when Only is set,
// rows of other types are filtered out.
type Sheet struct {
	Name  string
	Event models.EventType
	Only  []models.EventType
}

// DefaultWorkbookSheets is the layout of the CNMV fund workbook: births and deaths
// have their own sheets and mergers are picked out of the all-funds sheet.
var DefaultWorkbookSheets = []Sheet{
	{Name: "NUEVAS INSCRIPCIONES", Event: models.Registration},
	{Name: "BAJAS", Event: models.Deregistration},
	{Name: "Todos_Fondos", Only: []models.EventType{models.Merger}},
}

// Options controls how sources are read.
type Options struct {
	Format Format
	// Sheets applies to workbooks. A CSV uses Sheets[0] when it is the only entry
	// and has no name; otherwise every CSV row is classified.
	Sheets []Sheet
	// Aliases are tried before DefaultAliases.
	Aliases map[Field][]string
	// Comma is the CSV separator; zero means ','.
	Comma rune
	// MaxSamples bounds the dropped-row samples kept in the report.
	MaxSamples int
}

// DefaultOptions reads the CNMV workbook layout.
func DefaultOptions() Options {
	return Options{
		Sheets:     append([]Sheet(nil), DefaultWorkbookSheets...),
		MaxSamples: 20,
	}
}

// Fingerprint is a stable description of the options, used in cache keys.
func (o Options) Fingerprint() string {
	var b strings.Builder
	fmt.Fprintf(&b, "format=%s;comma=%q;", o.Format, o.Comma)
	for _, s := range o.Sheets {
		only := make([]string, len(s.Only))
		for i, t := range s.Only {
			only[i] = string(t)
		}
		sort.Strings(only)
		fmt.Fprintf(&b, "sheet=%s|%s|%s;", s.Name, s.Event, strings.Join(only, ","))
	}
	fields := make([]string, 0, len(o.Aliases))
	for f := range o.Aliases {
		fields = append(fields, string(f))
	}
	sort.Strings(fields)
	for _, f := range fields {
		fmt.Fprintf(&b, "alias=%s|%s;", f, strings.Join(o.Aliases[Field(f)], ","))
	}
	return b.String()
}

// ContentHash is the hex SHA-256 of a source's bytes.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Load reads one source file.
func Load(path string, opts Options) (*models.Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source: %w", err)
	}
	return LoadBytes(path, data, opts)
}

// LoadBytes parses source content already in memory. name is used for format
// detection and reporting only.
func LoadBytes(name string, data []byte, opts Options) (*models.Dataset, error) {
	format, err := detectFormat(name, opts.Format)
	if err != nil {
		return nil, err
	}

	var ds *models.Dataset
	switch format {
	case FormatXLSX:
		f, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to open workbook: %w", err)
		}
		defer func() { _ = f.Close() }()
		ds, err = loadWorkbook(name, f, opts)
		if err != nil {
			return nil, err
		}
	default:
		ds, err = loadCSV(name, bytes.NewReader(data), opts)
		if err != nil {
			return nil, err
		}
	}
	ds.Report.ContentHash = ContentHash(data)
	warnDropped(&ds.Report)
	return ds, nil
}

// LoadReader parses a CSV stream.
func LoadReader(name string, r io.Reader, opts Options) (*models.Dataset, error) {
	ds, err := loadCSV(name, r, opts)
	if err != nil {
		return nil, err
	}
	warnDropped(&ds.Report)
	return ds, nil
}

// LoadWorkbook parses an open workbook.
func LoadWorkbook(name string, f *excelize.File, opts Options) (*models.Dataset, error) {
	ds, err := loadWorkbook(name, f, opts)
	if err != nil {
		return nil, err
	}
	warnDropped(&ds.Report)
	return ds, nil
}

// Merge concatenates datasets from several sources, summing their reports.
func Merge(datasets ...*models.Dataset) *models.Dataset {
	out := &models.Dataset{Report: models.LoadReport{Dropped: map[models.DropReason]int{}}}
	sources := make([]string, 0, len(datasets))
	for _, ds := range datasets {
		if ds == nil {
			continue
		}
		out.Events = append(out.Events, ds.Events...)
		r := ds.Report
		sources = append(sources, r.Source)
		out.Report.RowsRead += r.RowsRead
		out.Report.Loaded += r.Loaded
		out.Report.Filtered += r.Filtered
		out.Report.MissingEntityID += r.MissingEntityID
		for k, v := range r.Dropped {
			out.Report.Dropped[k] += v
		}
		out.Report.Samples = append(out.Report.Samples, r.Samples...)
		if ds.LoadedAt.After(out.LoadedAt) {
			out.LoadedAt = ds.LoadedAt
		}
	}
	out.Report.Source = strings.Join(sources, ",")
	if len(datasets) == 1 && datasets[0] != nil {
		out.RunID = datasets[0].RunID
		out.Report.ContentHash = datasets[0].Report.ContentHash
	}
	return out
}

func detectFormat(name string, f Format) (Format, error) {
	if f != FormatAuto {
		if f != FormatCSV && f != FormatXLSX {
			return "", fmt.Errorf("unsupported source format %q", f)
		}
		return f, nil
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".csv", ".txt", "":
		return FormatCSV, nil
	}
	return "", fmt.Errorf("cannot detect format of %s", name)
}

func loadCSV(name string, r io.Reader, opts Options) (*models.Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	if opts.Comma != 0 {
		reader.Comma = opts.Comma
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, &SchemaError{Source: name, Detail: "empty source, no header row"}
	}
	// Spreadsheet exports often start with a UTF-8 BOM.
	records[0][0] = strings.TrimPrefix(records[0][0], "\ufeff")

	sheet := Sheet{}
	if len(opts.Sheets) == 1 && opts.Sheets[0].Name == "" {
		sheet = opts.Sheets[0]
	}

	c := newCollector(name, opts)
	if err := c.consume(sheet, records); err != nil {
		return nil, err
	}
	return c.dataset(), nil
}

func loadWorkbook(name string, f *excelize.File, opts Options) (*models.Dataset, error) {
	sheets := opts.Sheets
	if len(sheets) == 0 {
		sheets = DefaultWorkbookSheets
	}
	available := f.GetSheetList()

	c := newCollector(name, opts)
	c.serials = true
	for _, s := range sheets {
		sheetName := s.Name
		if sheetName == "" {
			if len(available) == 0 {
				return nil, &SchemaError{Source: name, Detail: "workbook has no sheets"}
			}
			sheetName = available[0]
		} else if !slices.Contains(available, sheetName) {
			return nil, &SchemaError{Source: name, Sheet: sheetName, Detail: "sheet not found"}
		}

		rows, err := f.GetRows(sheetName, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", sheetName, err)
		}
		if len(rows) == 0 {
			return nil, &SchemaError{Source: name, Sheet: sheetName, Detail: "sheet has no header row"}
		}
		s.Name = sheetName
		if err := c.consume(s, rows); err != nil {
			return nil, err
		}
	}
	return c.dataset(), nil
}

// collector accumulates events and row accounting across the sheets of one source.
type collector struct {
	source  string
	aliases map[Field][]string
	max     int
	serials bool
	events  []models.Event
	report  models.LoadReport
}

func newCollector(source string, opts Options) *collector {
	return &collector{
		source:  source,
		aliases: mergeAliases(opts.Aliases),
		max:     opts.MaxSamples,
		report: models.LoadReport{
			Source:  source,
			Dropped: make(map[models.DropReason]int),
		},
	}
}

// consume validates the header of one sheet, then converts its data rows.
// The header is row 1; data rows are numbered from 2 as a spreadsheet shows them.
func (c *collector) consume(s Sheet, rows [][]string) error {
	cols := resolveColumns(rows[0], c.aliases)

	if !cols.has(FieldEntityID) {
		return &SchemaError{Source: c.source, Sheet: s.Name, Field: FieldEntityID}
	}
	if s.Event == "" && !cols.has(FieldType) {
		return &SchemaError{Source: c.source, Sheet: s.Name, Field: FieldType}
	}
	if !cols.has(FieldDate) && !cols.has(FieldFilename) {
		return &SchemaError{Source: c.source, Sheet: s.Name, Field: FieldDate,
			Detail: "neither an event date nor a bulletin filename column"}
	}

	for i, record := range rows[1:] {
		if blank(record) {
			continue
		}
		c.report.RowsRead++
		rowNum := i + 2

		typ := s.Event
		if typ == "" {
			label := cols.cell(record, FieldType)
			t, ok := Classify(label)
			if len(s.Only) > 0 && (!ok || !slices.Contains(s.Only, t)) {
				c.report.Filtered++
				continue
			}
			if !ok {
				c.drop(s.Name, rowNum, models.DropUnclassified, label)
				continue
			}
			typ = t
		}

		date, err := c.rowDate(cols, record)
		if err != nil {
			var dpe *DateParseError
			if errors.As(err, &dpe) {
				dpe.Sheet, dpe.Row = s.Name, rowNum
				c.dropDate(dpe)
				continue
			}
			return err
		}

		ev := models.NewEvent(normalizeID(cols.cell(record, FieldEntityID)), cols.cell(record, FieldName), typ, date)
		ev.Manager = cols.cell(record, FieldManager)
		ev.Depositary = cols.cell(record, FieldDepositary)
		if ev.EntityID == "" {
			c.report.MissingEntityID++
		}
		c.events = append(c.events, ev)
		c.report.Loaded++
	}
	return nil
}

// rowDate prefers the explicit date column; the bulletin filename is used only
// when the source has no such column. Serial day numbers are accepted from
// workbook cells only.
func (c *collector) rowDate(cols columnMap, record []string) (time.Time, error) {
	if cols.has(FieldDate) {
		if c.serials {
			return ParseCellDate(cols.cell(record, FieldDate))
		}
		return ParseEventDate(cols.cell(record, FieldDate))
	}
	return BulletinEndDate(cols.cell(record, FieldFilename))
}

func (c *collector) drop(sheet string, row int, reason models.DropReason, value string) {
	c.report.Dropped[reason]++
	if len(c.report.Samples) < c.max {
		c.report.Samples = append(c.report.Samples, models.RowIssue{
			Sheet:  sheet,
			Row:    row,
			Reason: reason,
			Value:  value,
		})
	}
}

func (c *collector) dropDate(e *DateParseError) {
	logger.WithField("source", c.source).Debug(e.Error())
	c.drop(e.Sheet, e.Row, e.Reason, e.Value)
}

func (c *collector) dataset() *models.Dataset {
	return &models.Dataset{
		Events: c.events,
		Report: c.report,
	}
}

func warnDropped(r *models.LoadReport) {
	if n := r.DroppedTotal(); n > 0 {
		logger.Warn("Dropped %d of %d rows from %s (%v)", n, r.RowsRead, r.Source, r.Dropped)
	}
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// normalizeID strips the ".0" suffix spreadsheets add to numeric registry numbers.
func normalizeID(id string) string {
	if head, ok := strings.CutSuffix(id, ".0"); ok && head != "" && strings.Trim(head, "0123456789") == "" {
		return head
	}
	return id
}
