package adapter

import (
	"context"
	"net/url"
	"regexp"
	"time"

	"github.com/sells-group/lobbyharvest/internal/fetcher"
	"github.com/sells-group/lobbyharvest/internal/normalize"
	"github.com/sells-group/lobbyharvest/internal/source"
)

// FRBaseURL is the HATVP, the French high authority that publishes the
// directory of interest representatives.
const FRBaseURL = "https://www.hatvp.fr"

var hatvpState = regexp.MustCompile(`(?s)window\.__INITIAL_STATE__\s*=\s*(\{.*\})\s*;?\s*$`)

type hatvpMandant struct {
	Denomination        string `json:"denomination"`
	IdentifiantNational string `json:"identifiantNational"`
	DateDebut           string `json:"dateDebut"`
	DateFin             string `json:"dateFin"`
}

type hatvpRepresentant struct {
	Denomination        string         `json:"denomination"`
	IdentifiantNational string         `json:"identifiantNational"`
	Mandants            []hatvpMandant `json:"mandants"`
}

// The directory has shipped its results both at the top level and under a
// search slice of the store.
type hatvpStore struct {
	Results []hatvpRepresentant `json:"results"`
	Search  struct {
		Results []hatvpRepresentant `json:"results"`
	} `json:"search"`
}

// FR reads the HATVP directory. The directory is a single-page app; the
// search page embeds the store's initial state as a JavaScript literal, so
// no second request is needed for the mandants (clients).
type FR struct {
	base
}

// NewFR creates the fr_hatvp adapter.
func NewFR(c *fetcher.Client) *FR {
	return &FR{base{
		id:      "fr_hatvp",
		client:  c,
		layouts: normalize.Layouts(normalize.ISO, normalize.DayFirst, normalize.Year),
	}}
}

// Fetch implements source.Adapter.
func (f *FR) Fetch(ctx context.Context, firm string, _ time.Duration) (*source.RawResult, error) {
	doc, err := f.client.GetHTML(ctx, "/le-repertoire/", url.Values{"q": {firm}})
	if err != nil {
		return nil, err
	}

	var store hatvpStore
	if err := fetcher.ScriptData(doc, hatvpState, &store); err != nil {
		return nil, err
	}
	reps := store.Results
	if len(reps) == 0 {
		reps = store.Search.Results
	}

	names := make([]string, len(reps))
	for i, r := range reps {
		names[i] = r.Denomination
	}
	i, _ := Best(firm, names)
	if i < 0 {
		return nil, source.NotFound("fr_hatvp: no representative matching %q", firm)
	}

	rep := reps[i]
	raw := newResult(firm)
	raw.EntityName = rep.Denomination
	raw.EntityID = rep.IdentifiantNational
	for _, m := range rep.Mandants {
		raw.Records = append(raw.Records, source.RawRecord{
			KeyClient:    m.Denomination,
			KeyClientReg: m.IdentifiantNational,
			KeyStart:     m.DateDebut,
			KeyEnd:       m.DateFin,
		})
	}
	return raw, nil
}
