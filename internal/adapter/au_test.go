package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lobbyharvest/internal/model"
	"github.com/sells-group/lobbyharvest/internal/source"
)

const auRegister = `<html><body>
<table>
<tr><th>Business name</th><th>Trading name</th></tr>
<tr><td><a href="/register/detail/17">Globex Advocacy Pty Ltd</a></td><td>Globex</td></tr>
<tr><td><a href="/register/detail/42">Acme Strategies Pty Ltd</a></td><td>Acme</td></tr>
</table>
</body></html>`

const auDetail = `<html><body>
<h1>Acme Strategies Pty Ltd</h1>
<p>ABN: 12 345 678 901</p>
<h3>Current clients</h3>
<ul>
  <li>Globex Australia Pty Ltd (ABN 11 222 333 444)</li>
  <li>Initech</li>
</ul>
<h3>Client history</h3>
<table>
<tr><th>Client name</th><th>ABN</th><th>Start date</th><th>End date</th></tr>
<tr><td>Umbrella Corp</td><td>55 666 777 888</td><td>01/07/2018</td><td>30/06/2020</td></tr>
</table>
<h3>Owners</h3>
<ul><li>Jane Citizen</li></ul>
</body></html>`

func TestAU_Fetch(t *testing.T) {
	a := NewAU(htmlServer(t, map[string]string{
		"/register":           auRegister,
		"/register/detail/42": auDetail,
	}))

	raw, err := a.Fetch(context.Background(), "Acme Strategies", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Acme Strategies Pty Ltd", raw.EntityName)
	assert.Equal(t, "12345678901", raw.EntityID)

	records := a.Normalize(raw)
	assert.Equal(t, []string{"Globex Australia Pty Ltd", "Initech", "Umbrella Corp"}, clientNames(records))
	assert.Equal(t, "11222333444", records[0].ClientRegistrationNumber)
	assert.Equal(t, "", records[1].ClientRegistrationNumber)
	assert.Equal(t, "55666777888", records[2].ClientRegistrationNumber)
	for _, r := range records {
		assert.Equal(t, "12345678901", r.FirmRegistrationNumber)
		assert.Equal(t, model.FuzzyMatch, r.Confidence)
	}
	require.NotNil(t, records[2].ClientStartDate)
	assert.Equal(t, model.FullDate(2018, time.July, 1), *records[2].ClientStartDate)
	require.NotNil(t, records[2].ClientEndDate)
	assert.Equal(t, model.FullDate(2020, time.June, 30), *records[2].ClientEndDate)
}

func TestAU_Errors(t *testing.T) {
	tests := []struct {
		name  string
		firm  string
		pages map[string]string
		kind  model.ErrorKind
	}{
		{"no match", "Initech", map[string]string{"/register": auRegister}, model.ErrNotFound},
		{"layout changed", "Acme", map[string]string{"/register": `<html><body><p>Under maintenance</p></body></html>`}, model.ErrParse},
		{"detail missing", "Acme Strategies", map[string]string{"/register": auRegister}, model.ErrParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAU(htmlServer(t, tt.pages))
			_, err := a.Fetch(context.Background(), tt.firm, 5*time.Second)
			require.Error(t, err)
			assert.Equal(t, tt.kind, source.KindOf(err))
		})
	}
}
