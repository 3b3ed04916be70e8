// Package universe provides the fund reference table: display names,
// net assets and the set of instruments the fetch job downloads.
package universe

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/aristath/fundfolio/internal/modules/optimization"
	"github.com/xuri/excelize/v2"
)

// DefaultExcluded lists funds that are never downloaded regardless of the
// workbook contents.
var DefaultExcluded = []string{"RU000A1013V9", "RU000A0JTVY1", "RU000A104172", "RU000A0JPGC6"}

// ErrInvalidReference is returned for a workbook that cannot be used.
var ErrInvalidReference = errors.New("invalid reference table")

var isinPattern = regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{9}[0-9]$`)

// IsISIN reports whether identifier is shaped like an ISIN.
func IsISIN(identifier string) bool {
	return isinPattern.MatchString(strings.ToUpper(strings.TrimSpace(identifier)))
}

// Instrument is one row of the reference table.
type Instrument struct {
	ISIN         string  `json:"isin"`
	Name         string  `json:"name"`
	NetAssets    float64 `json:"net_assets"`
	MarketWeight float64 `json:"market_weight"` // NetAssets over the table total
	Excluded     bool    `json:"excluded"`
}

// ReferenceTable is immutable after construction and safe for concurrent use.
type ReferenceTable struct {
	instruments []Instrument
	byISIN      map[string]int
}

// NewReferenceTable validates rows and computes market weights. ISINs in
// excluded are marked as excluded in addition to rows already flagged.
func NewReferenceTable(rows []Instrument, excluded []string) (*ReferenceTable, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no instruments", ErrInvalidReference)
	}
	skip := make(map[string]bool, len(excluded))
	for _, id := range excluded {
		skip[id] = true
	}

	t := &ReferenceTable{
		instruments: make([]Instrument, len(rows)),
		byISIN:      make(map[string]int, len(rows)),
	}
	total := 0.0
	for i, row := range rows {
		row.ISIN = strings.TrimSpace(row.ISIN)
		if row.ISIN == "" {
			return nil, fmt.Errorf("%w: row %d has no ISIN", ErrInvalidReference, i+1)
		}
		if _, dup := t.byISIN[row.ISIN]; dup {
			return nil, fmt.Errorf("%w: duplicate ISIN %s", ErrInvalidReference, row.ISIN)
		}
		if !(row.NetAssets >= 0) {
			return nil, fmt.Errorf("%w: %s has net assets %v", ErrInvalidReference, row.ISIN, row.NetAssets)
		}
		if strings.TrimSpace(row.Name) == "" {
			row.Name = row.ISIN
		}
		row.Excluded = row.Excluded || skip[row.ISIN]
		total += row.NetAssets
		t.byISIN[row.ISIN] = i
		t.instruments[i] = row
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: total net assets is zero", ErrInvalidReference)
	}
	for i := range t.instruments {
		t.instruments[i].MarketWeight = t.instruments[i].NetAssets / total
	}
	return t, nil
}

// Lookup returns the display name and market weight of id.
func (t *ReferenceTable) Lookup(id string) (string, float64, error) {
	inst, err := t.Instrument(id)
	if err != nil {
		return "", 0, err
	}
	return inst.Name, inst.MarketWeight, nil
}

// Instrument returns the full row of id.
func (t *ReferenceTable) Instrument(id string) (Instrument, error) {
	i, ok := t.byISIN[id]
	if !ok {
		return Instrument{}, fmt.Errorf("%w: %s not in reference table", optimization.ErrReferenceLookup, id)
	}
	return t.instruments[i], nil
}

// Instruments returns every row in workbook order.
func (t *ReferenceTable) Instruments() []Instrument {
	return append([]Instrument(nil), t.instruments...)
}

// Len returns the number of instruments.
func (t *ReferenceTable) Len() int { return len(t.instruments) }

// FetchUniverse returns the ISINs the fetch job downloads, sorted.
func (t *ReferenceTable) FetchUniverse() []string {
	ids := make([]string, 0, len(t.instruments))
	for _, inst := range t.instruments {
		if !inst.Excluded {
			ids = append(ids, inst.ISIN)
		}
	}
	sort.Strings(ids)
	return ids
}

// MarketWeights returns the market weights of ids renormalized to sum to 1.
func (t *ReferenceTable) MarketWeights(ids []string) ([]float64, error) {
	out := make([]float64, len(ids))
	total := 0.0
	for i, id := range ids {
		inst, err := t.Instrument(id)
		if err != nil {
			return nil, err
		}
		out[i] = inst.NetAssets
		total += inst.NetAssets
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: net assets of selected instruments sum to zero", optimization.ErrInsufficientData)
	}
	for i := range out {
		out[i] /= total
	}
	return out, nil
}

var (
	isinHeaders    = []string{"isin", "тикер", "ticker"}
	nameHeaders    = []string{"название", "name"}
	assetsHeaders  = []string{"сча, руб", "сча", "netassets", "net assets"}
	excludeHeaders = []string{"exclude", "исключить"}
)

// LoadReferenceTable reads the first sheet of an xlsx workbook.
func LoadReferenceTable(path string) (*ReferenceTable, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open reference workbook %s: %w", path, err)
	}
	defer f.Close()
	return readWorkbook(f)
}

// ReadReferenceTable reads the first sheet of an xlsx workbook stream.
func ReadReferenceTable(r io.Reader) (*ReferenceTable, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read reference workbook: %w", err)
	}
	defer f.Close()
	return readWorkbook(f)
}

func readWorkbook(f *excelize.File) (*ReferenceTable, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrInvalidReference)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: sheet %s has no data rows", ErrInvalidReference, sheets[0])
	}

	header := rows[0]
	isinCol := findColumn(header, isinHeaders)
	nameCol := findColumn(header, nameHeaders)
	assetsCol := findColumn(header, assetsHeaders)
	excludeCol := findColumn(header, excludeHeaders)
	if isinCol < 0 || assetsCol < 0 {
		return nil, fmt.Errorf("%w: header needs ISIN and net assets columns, got %q", ErrInvalidReference, header)
	}

	var instruments []Instrument
	for n, row := range rows[1:] {
		isin := cell(row, isinCol)
		if isin == "" {
			continue
		}
		assets, err := parseAmount(cell(row, assetsCol))
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: net assets: %v", ErrInvalidReference, n+2, err)
		}
		instruments = append(instruments, Instrument{
			ISIN:      isin,
			Name:      cell(row, nameCol),
			NetAssets: assets,
			Excluded:  truthy(cell(row, excludeCol)),
		})
	}
	return NewReferenceTable(instruments, DefaultExcluded)
}

func findColumn(header []string, names []string) int {
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for _, name := range names {
			if h == name {
				return i
			}
		}
	}
	return -1
}

func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

// parseAmount accepts "1234567.8", "1 234 567,8" and thousands separated by
// non-breaking spaces. An empty cell is zero.
func parseAmount(s string) (float64, error) {
	s = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "").Replace(s)
	if s == "" {
		return 0, nil
	}
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	} else {
		s = strings.ReplaceAll(s, ",", "")
	}
	return strconv.ParseFloat(s, 64)
}

func truthy(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "y", "x", "да":
		return true
	}
	return false
}
