package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/planillas/models"
)

const twoRowTable = `<table id="tablaPlanillaAsistida">
  <tr><th>Planilla</th><th>Tipo</th><th>Valor</th><th>Estado</th><th>Periodo</th></tr>
  <tr><td>001</td><td>TypeA</td><td>$1.234</td><td>PAID</td><td>2024-01</td></tr>
  <tr><td> 002 </td><td>TypeB</td><td>$500</td><td>PAID</td><td>2024-02 </td></tr>
</table>`

func TestParseTable_TwoRows(t *testing.T) {
	records, err := ParseTable(twoRowTable)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, models.Record{
		FormID: "001", FormType: "TypeA", AmountOriginal: "$1.234", Amount: 123400, Status: "PAID", Period: "2024-01",
	}, records[0])
	assert.Equal(t, "002", records[1].FormID)
	assert.Equal(t, int64(50000), records[1].Amount)
	assert.Equal(t, "2024-02", records[1].Period)

	out := models.NewOutcome(records)
	assert.Equal(t, models.ResultDataFound, out.Result)
	assert.Equal(t, models.RemarksMultipleRecords, out.Remarks)
}

func TestParseTable_HeaderOnly(t *testing.T) {
	records, err := ParseTable(`<table><tr><th>Planilla</th></tr></table>`)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NotNil(t, records)
}

func TestParseTable_ShortRowIsPadded(t *testing.T) {
	records, err := ParseTable(`<table><tr><th>h</th></tr><tr><td>9</td><td>E</td><td>n/a</td></tr></table>`)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "9", records[0].FormID)
	assert.Equal(t, "n/a", records[0].AmountOriginal)
	assert.Zero(t, records[0].Amount)
	assert.Empty(t, records[0].Status)
	assert.Empty(t, records[0].Period)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"$1.234", 123400, false},
		{"$500", 50000, false},
		{"$ 1.234.567", 123456700, false},
		{"$1.234,5", 123450, false},
		{"$1.234,56", 123456, false},
		{"0", 0, false},
		{"", 0, true},
		{"$", 0, true},
		{"N/A", 0, true},
		{"$1,234,56", 0, true},
		{"$1,", 0, true},
		{"-0,50", -50, false},
		{"-$1.234,5", -123450, false},
		{"-12", -1200, false},
		{"$1,-5", 0, true},
		{"$92.233.720.368.547.757", 9223372036854775700, false},
		{"$99.999.999.999.999.999", 0, true},
		{"-$99.999.999.999.999.999", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
