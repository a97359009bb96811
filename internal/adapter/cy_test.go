package adapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/sells-group/lobbyharvest/internal/model"
	"github.com/sells-group/lobbyharvest/internal/source"
)

const cyRegister = `<html><head>
<meta http-equiv="Content-Type" content="text/html; charset=windows-1253">
</head><body><table>
<tr><th>Α/Α</th><th>Επωνυμία</th><th>Διεύθυνση</th><th>Ημερομηνία εγγραφής</th><th>Αριθμός μητρώου</th><th>Τομέας</th><th>Πελάτες</th></tr>
<tr><td>1</td><td>ACME STRATEGIES LTD</td><td>Λευκωσία</td><td>14/03/19</td><td>ΜΕ-042</td><td>Ενέργεια</td><td>1. Globex Ltd<br>2. Ινιτεκ Λτδ</td></tr>
<tr><td>2</td><td>Globex Advisory</td><td>Λεμεσός</td><td>02/05/20</td><td>ΜΕ-057</td><td>Τουρισμός</td><td>1. Umbrella Corp</td></tr>
<tr><td>3</td><td>Acme Strategies Limited</td><td>Λευκωσία</td><td>01/02/2021</td><td>ΜΕ-099</td><td></td><td>3) Hooli</td></tr>
</table></body></html>`

func cyServer(t *testing.T) *CY {
	t.Helper()
	page, err := charmap.Windows1253.NewEncoder().String(cyRegister)
	require.NoError(t, err)
	// No charset in the header, so the <meta> declaration decides.
	_, c := fixtureServer(t, "text/html", map[string]string{"/iaac/iaac.nsf/table3_el/table3_el": page})
	return NewCY(c)
}

func TestCY_Fetch(t *testing.T) {
	a := cyServer(t)
	records := fetchRecords(t, a, "Acme Strategies")

	assert.Equal(t, []string{"Globex Ltd", "Ινιτεκ Λτδ", "Hooli"}, clientNames(records))
	assert.Equal(t, "ΜΕ-042", records[0].FirmRegistrationNumber)
	assert.Equal(t, "ΜΕ-099", records[2].FirmRegistrationNumber)
	for _, r := range records {
		assert.Equal(t, model.FuzzyMatch, r.Confidence)
	}
	require.NotNil(t, records[0].ClientStartDate)
	assert.Equal(t, model.FullDate(2019, time.March, 14), *records[0].ClientStartDate)
	require.NotNil(t, records[2].ClientStartDate)
	assert.Equal(t, model.FullDate(2021, time.February, 1), *records[2].ClientStartDate)
}

func TestCY_Errors(t *testing.T) {
	_, err := cyServer(t).Fetch(t.Context(), "Initech", 5*time.Second)
	assert.Equal(t, model.ErrNotFound, source.KindOf(err))

	a := NewCY(htmlServer(t, map[string]string{"/iaac/iaac.nsf/table3_el/table3_el": `<html><body><table><tr><td>-</td></tr></table></body></html>`}))
	_, err = a.Fetch(t.Context(), "Acme", 5*time.Second)
	assert.Equal(t, model.ErrParse, source.KindOf(err))
}
