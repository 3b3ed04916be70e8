package universe

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/aristath/fundfolio/internal/modules/optimization"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeWorkbook(t *testing.T, rows [][]interface{}) *excelize.File {
	t.Helper()
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cellRef, &row))
	}
	return f
}

func TestReadReferenceTable(t *testing.T) {
	f := writeWorkbook(t, [][]interface{}{
		{"Тикер", "Название", "СЧА, руб", "Exclude"},
		{"RU000A0JR282", "ПИФ Альфа", "3 000 000,50", ""},
		{"RU000A1022Z1", "ПИФ Бета", 1000000, "да"},
		{"RU000A1013V9", "ПИФ Гамма", "999999.5", ""},
		{"", "blank row", "", ""},
	})
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	table, err := ReadReferenceTable(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 3, table.Len())

	name, weight, err := table.Lookup("RU000A0JR282")
	require.NoError(t, err)
	assert.Equal(t, "ПИФ Альфа", name)
	assert.InDelta(t, 3000000.5/5000000.0, weight, 1e-12)

	beta, err := table.Instrument("RU000A1022Z1")
	require.NoError(t, err)
	assert.True(t, beta.Excluded, "flagged in the workbook")
	gamma, err := table.Instrument("RU000A1013V9")
	require.NoError(t, err)
	assert.True(t, gamma.Excluded, "in the default exclusion set")

	assert.Equal(t, []string{"RU000A0JR282"}, table.FetchUniverse())

	total := 0.0
	for _, inst := range table.Instruments() {
		total += inst.MarketWeight
	}
	assert.InDelta(t, 1.0, total, 1e-12)
}

func TestLoadReferenceTable_File(t *testing.T) {
	f := writeWorkbook(t, [][]interface{}{
		{"ISIN", "Name", "NetAssets"},
		{"RU000A0JR282", "Alpha", "100"},
		{"RU000A0JWAW3", "", "300"},
	})
	path := filepath.Join(t.TempDir(), "reference.xlsx")
	require.NoError(t, f.SaveAs(path))

	table, err := LoadReferenceTable(path)
	require.NoError(t, err)

	inst, err := table.Instrument("RU000A0JWAW3")
	require.NoError(t, err)
	assert.Equal(t, "RU000A0JWAW3", inst.Name, "missing name falls back to ISIN")
	assert.InDelta(t, 0.75, inst.MarketWeight, 1e-12)
}

func TestReadReferenceTable_Invalid(t *testing.T) {
	tests := []struct {
		name string
		rows [][]interface{}
	}{
		{"header only", [][]interface{}{{"ISIN", "Name", "NetAssets"}}},
		{"missing assets column", [][]interface{}{{"ISIN", "Name"}, {"RU000A0JR282", "Alpha"}}},
		{"unparseable assets", [][]interface{}{{"ISIN", "NetAssets"}, {"RU000A0JR282", "lots"}}},
		{"duplicate isin", [][]interface{}{{"ISIN", "NetAssets"}, {"RU000A0JR282", "1"}, {"RU000A0JR282", "2"}}},
		{"zero total", [][]interface{}{{"ISIN", "NetAssets"}, {"RU000A0JR282", "0"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := writeWorkbook(t, tt.rows).WriteToBuffer()
			require.NoError(t, err)
			_, err = ReadReferenceTable(bytes.NewReader(buf.Bytes()))
			assert.ErrorIs(t, err, ErrInvalidReference)
		})
	}
}

func TestReferenceTable_LookupUnknown(t *testing.T) {
	table, err := NewReferenceTable([]Instrument{{ISIN: "RU000A0JR282", NetAssets: 1}}, nil)
	require.NoError(t, err)

	_, _, err = table.Lookup("RU000A0ZZZZ0")
	assert.ErrorIs(t, err, optimization.ErrReferenceLookup)
}

func TestReferenceTable_MarketWeights(t *testing.T) {
	table, err := NewReferenceTable([]Instrument{
		{ISIN: "A", NetAssets: 100},
		{ISIN: "B", NetAssets: 300},
		{ISIN: "C", NetAssets: 600},
	}, nil)
	require.NoError(t, err)

	weights, err := table.MarketWeights([]string{"C", "A"})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{600.0 / 700, 100.0 / 700}, weights, 1e-12)

	_, err = table.MarketWeights([]string{"A", "Z"})
	assert.ErrorIs(t, err, optimization.ErrReferenceLookup)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"", 0},
		{"1234.5", 1234.5},
		{"1 234,5", 1234.5},
		{"1 234 567", 1234567},
		{"1,234,567.25", 1234567.25},
	}
	for _, tt := range tests {
		got, err := parseAmount(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestIsISIN(t *testing.T) {
	assert.True(t, IsISIN("RU000A0JR282"))
	assert.True(t, IsISIN(" ru000a0jr282 "))
	assert.False(t, IsISIN("SBMX"))
	assert.False(t, IsISIN("RU000A0JR28X"))
}
