package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lobbyharvest/internal/fetcher"
	"github.com/sells-group/lobbyharvest/internal/model"
	"github.com/sells-group/lobbyharvest/internal/normalize"
	"github.com/sells-group/lobbyharvest/internal/source"
)

// FARABaseURL is the US FARA eFile public API.
const FARABaseURL = "https://efile.fara.gov/api/v1"

// faraMaxRegistrations caps how many matching registrations are expanded.
const faraMaxRegistrations = 5

// FARA queries the US Foreign Agents Registration Act eFile API: active
// registrants, then the foreign principals of each matching registration.
type FARA struct {
	base
}

// NewFARA creates the fara adapter.
func NewFARA(c *fetcher.Client) *FARA {
	return &FARA{base{
		id:      "fara",
		client:  c,
		layouts: normalize.Layouts(normalize.MonthFirst, normalize.ISO, normalize.LongMonth, normalize.Year),
	}}
}

// oneOrMany decodes the API's ROW member, which is an object when there is
// exactly one row and an array otherwise.
type oneOrMany[T any] []T

func (r *oneOrMany[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var one T
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*r = oneOrMany[T]{one}
		return nil
	}
	var many []T
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*r = many
	return nil
}

type faraRegistrant struct {
	RegistrationNumber json.Number `json:"Registration_Number"`
	RegistrationDate   string      `json:"Registration_Date"`
	Name               string      `json:"Name"`
}

type faraPrincipal struct {
	Name          string `json:"FP_NAME"`
	RegDate       string `json:"FP_REG_DATE"`
	TerminateDate string `json:"FP_TERM_DATE"`
	Country       string `json:"COUNTRY_NAME"`
}

// Fetch implements source.Adapter.
func (f *FARA) Fetch(ctx context.Context, firm string, _ time.Duration) (*source.RawResult, error) {
	var active struct {
		Registrants struct {
			Row oneOrMany[faraRegistrant] `json:"ROW"`
		} `json:"REGISTRANTS_ACTIVE"`
	}
	if err := f.client.GetJSON(ctx, "/Registrants/json/Active", nil, &active); err != nil {
		return nil, err
	}

	var matched []faraRegistrant
	for _, r := range active.Registrants.Row {
		if Match(firm, r.Name) > model.Unverified {
			matched = append(matched, r)
		}
	}
	if len(matched) == 0 {
		return nil, source.NotFound("fara: no active registrant matching %q", firm)
	}
	if len(matched) > faraMaxRegistrations {
		zap.L().Debug("fara: truncating matched registrations",
			zap.String("firm", firm),
			zap.Int("matched", len(matched)),
		)
		matched = matched[:faraMaxRegistrations]
	}

	raw := newResult(firm)
	raw.EntityName = matched[0].Name
	for i, reg := range matched {
		var principals struct {
			RowSet struct {
				Row oneOrMany[faraPrincipal] `json:"ROW"`
			} `json:"ROWSET"`
		}
		path := "/ForeignPrincipals/json/Active/" + url.PathEscape(reg.RegistrationNumber.String())
		if err := f.client.GetJSON(ctx, path, nil, &principals); err != nil {
			if i == 0 {
				return nil, err
			}
			return raw, source.Incomplete(err, fmt.Sprintf("fara: principals of registration %s", reg.RegistrationNumber))
		}
		for _, p := range principals.RowSet.Row {
			raw.Records = append(raw.Records, source.RawRecord{
				KeyClient:  p.Name,
				KeyFirmReg: reg.RegistrationNumber.String(),
				KeyStart:   p.RegDate,
				KeyEnd:     p.TerminateDate,
				KeyEntity:  reg.Name,
				"country":  p.Country,
			})
		}
	}
	return raw, nil
}
