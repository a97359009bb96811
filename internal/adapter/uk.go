package adapter

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sells-group/lobbyharvest/internal/fetcher"
	"github.com/sells-group/lobbyharvest/internal/normalize"
	"github.com/sells-group/lobbyharvest/internal/source"
)

// UKBaseURL is the UK Register of Consultant Lobbyists.
const UKBaseURL = "https://lobbying-register.uk"

// The UK search endpoint has changed shape several times; each field is
// read from the first key present.
var (
	ukListKeys      = []string{"results", "data", "items", "clients"}
	ukClientKeys    = []string{"client", "clientName", "client_name", "name", "organisation"}
	ukFirmKeys      = []string{"firm", "firmName", "firm_name", "registrant", "lobbyist"}
	ukFirmRegKeys   = []string{"registrationNumber", "registration_number"}
	ukClientRegKeys = []string{"clientRegistrationNumber", "client_registration_number", "companyNumber"}
	ukStartKeys     = []string{"startDate", "start_date", "from"}
	ukEndKeys       = []string{"endDate", "end_date", "to"}
)

// UK queries the UK lobbying register's JSON search.
type UK struct {
	base
}

// NewUK creates the uk_lobbying adapter.
func NewUK(c *fetcher.Client) *UK {
	return &UK{base{
		id:      "uk_lobbying",
		client:  c,
		layouts: normalize.Layouts(normalize.ISO, normalize.DayFirst, normalize.LongMonth, normalize.MonthYear, normalize.Year),
	}}
}

// Fetch implements source.Adapter.
func (u *UK) Fetch(ctx context.Context, firm string, _ time.Duration) (*source.RawResult, error) {
	var body any
	if err := u.client.GetJSON(ctx, "/search", url.Values{"q": {firm}}, &body); err != nil {
		return nil, err
	}

	items, err := ukItems(body)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, source.NotFound("uk_lobbying: no register entries for %q", firm)
	}

	raw := newResult(firm)
	for _, item := range items {
		row := source.RawRecord(item)
		entity := row.First(ukFirmKeys...)
		if entity != "" && raw.EntityName == "" {
			raw.EntityName = entity
		}
		raw.Records = append(raw.Records, source.RawRecord{
			KeyClient:    row.First(ukClientKeys...),
			KeyClientReg: row.First(ukClientRegKeys...),
			KeyFirmReg:   row.First(ukFirmRegKeys...),
			KeyStart:     row.First(ukStartKeys...),
			KeyEnd:       row.First(ukEndKeys...),
			KeyEntity:    entity,
		})
	}
	return raw, nil
}

// ukItems finds the list of entries in a search response: either a bare
// array or the first array under one of ukListKeys.
func ukItems(body any) ([]map[string]any, error) {
	var list []any
	switch v := body.(type) {
	case []any:
		list = v
	case map[string]any:
		for _, k := range ukListKeys {
			if l, ok := v[k].([]any); ok {
				list = l
				break
			}
		}
		if list == nil {
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			return nil, source.Parsef("uk_lobbying: no result list in response (keys: %s)", strings.Join(keys, ","))
		}
	default:
		return nil, source.Parsef("uk_lobbying: unexpected response type %T", body)
	}

	out := make([]map[string]any, 0, len(list))
	for i, e := range list {
		m, ok := e.(map[string]any)
		if !ok {
			return nil, source.Parse(nil, fmt.Sprintf("uk_lobbying: result %d is %T, not an object", i, e))
		}
		out = append(out, m)
	}
	return out, nil
}
