package adapter

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/sells-group/lobbyharvest/internal/fetcher"
	"github.com/sells-group/lobbyharvest/internal/model"
	"github.com/sells-group/lobbyharvest/internal/normalize"
	"github.com/sells-group/lobbyharvest/internal/source"
)

// AUFITSBaseURL is the Australian Foreign Influence Transparency Scheme
// public register.
const AUFITSBaseURL = "https://transparency.ag.gov.au"

// fitsMaxRegistrants caps the detail pages fetched for one query.
const fitsMaxRegistrants = 3

var fitsRegNumber = regexp.MustCompile(`(?i)registration\s+(?:number|no\.)\s*[:：]?\s*([A-Z0-9][A-Z0-9-]+)`)

// AUFITS queries the Foreign Influence Transparency Scheme register. The
// registrant search links to one page per registrant; each page lists its
// foreign principals under headed sections, or in a table on older pages.
// Up to fitsMaxRegistrants matching registrants are read, best match first.
type AUFITS struct {
	base
}

// NewAUFITS creates the au_foreign_influence adapter.
func NewAUFITS(c *fetcher.Client) *AUFITS {
	return &AUFITS{base{
		id:      "au_foreign_influence",
		client:  c,
		layouts: normalize.Layouts(normalize.DayFirst, normalize.ISO, normalize.LongMonth, normalize.MonthYear, normalize.Year),
	}}
}

// Fetch implements source.Adapter.
func (a *AUFITS) Fetch(ctx context.Context, firm string, _ time.Duration) (*source.RawResult, error) {
	doc, err := a.client.GetHTML(ctx, "/Registrants", url.Values{"search": {firm}})
	if err != nil {
		return nil, err
	}

	type registrant struct {
		name, href string
		conf       model.Confidence
	}
	var (
		found []registrant
		seen  = map[string]bool{}
	)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		lower := strings.ToLower(href)
		if !strings.Contains(lower, "/registrant/") && !strings.Contains(lower, "/registration/") &&
			!strings.Contains(lower, "id=") {
			return
		}
		name := fetcher.Text(s)
		conf := Match(firm, name)
		if seen[href] || conf == model.Unverified {
			return
		}
		seen[href] = true
		found = append(found, registrant{name, href, conf})
	})
	if len(found) == 0 {
		return nil, source.NotFound("au_foreign_influence: no registrant matching %q", firm)
	}
	slices.SortStableFunc(found, func(x, y registrant) int { return int(y.conf) - int(x.conf) })
	if len(found) > fitsMaxRegistrants {
		zap.L().Debug("au_foreign_influence: truncating matched registrants",
			zap.String("firm", firm),
			zap.Int("matched", len(found)),
		)
		found = found[:fitsMaxRegistrants]
	}

	raw := newResult(firm)
	raw.EntityName = found[0].name
	for i, r := range found {
		detail, err := a.client.GetHTML(ctx, a.client.Resolve(r.href), nil)
		if err != nil {
			if i == 0 {
				return nil, err
			}
			return raw, source.Incomplete(err, fmt.Sprintf("au_foreign_influence: registrant %q", r.name))
		}
		reg := fitsRegistration(detail)
		if i == 0 {
			raw.EntityID = reg
		}
		for _, rec := range fitsPrincipals(detail) {
			rec[KeyFirmReg] = reg
			rec[KeyEntity] = r.name
			raw.Records = append(raw.Records, rec)
		}
	}
	return raw, nil
}

// fitsRegistration returns the registrant's registration number from a
// "Registration number" label, either a dt/dd pair or inline text.
func fitsRegistration(doc *goquery.Document) string {
	if v := labelledValue(doc, "registration number", "registration no"); v != "" {
		return v
	}
	if m := fitsRegNumber.FindStringSubmatch(fetcher.Text(doc.Find("body"))); m != nil {
		return m[1]
	}
	return ""
}

// fitsPrincipals reads the foreign principal sections of a registrant page,
// falling back to principal tables when the page has no such headings.
func fitsPrincipals(doc *goquery.Document) []source.RawRecord {
	var out []source.RawRecord
	doc.Find("h2, h3, h4").Each(func(_ int, h *goquery.Selection) {
		if isFITSPrincipalHeading(fetcher.Text(h)) {
			out = append(out, fitsSection(h)...)
		}
	})
	if len(out) > 0 {
		return out
	}

	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		header, rows := fetcher.TableRows(table)
		name := fetcher.Column(header, "principal", "client", "name")
		if name < 0 {
			return
		}
		begin := fetcher.Column(header, "start", "commence")
		end := fetcher.Column(header, "end", "cessation", "ceased")
		for _, row := range rows {
			n := fetcher.Cell(row, name)
			if !fitsUsableName(n) {
				continue
			}
			out = append(out, source.RawRecord{
				KeyClient: n,
				KeyStart:  fetcher.Cell(row, begin),
				KeyEnd:    fetcher.Cell(row, end),
			})
		}
	})
	return out
}

// fitsSection reads the labelled lines between a principal heading and the
// next heading. "Name:" starts a principal; an unlabelled first line names
// the principal when the section carries no Name label.
func fitsSection(h *goquery.Selection) []source.RawRecord {
	var (
		out   []source.RawRecord
		cur   source.RawRecord
		first string
	)
	flush := func() {
		if cur != nil && fitsUsableName(cur.String(KeyClient)) {
			out = append(out, cur)
		}
		cur = nil
	}
	for s := h.Next(); s.Length() > 0 && !isHeading(s); s = s.Next() {
		for _, line := range fetcher.Lines(s) {
			label, value, ok := strings.Cut(line, ":")
			if !ok {
				if first == "" {
					first = line
				}
				continue
			}
			label = strings.ToLower(strings.TrimSpace(label))
			value = strings.TrimSpace(value)
			switch {
			case strings.Contains(label, "name"):
				flush()
				cur = source.RawRecord{KeyClient: value}
			case strings.Contains(label, "start") || strings.Contains(label, "commence"):
				if cur == nil {
					cur = source.RawRecord{}
				}
				cur[KeyStart] = value
			case strings.Contains(label, "end") || strings.Contains(label, "cessation"):
				if cur == nil {
					cur = source.RawRecord{}
				}
				cur[KeyEnd] = value
			}
		}
	}
	if cur != nil && cur.String(KeyClient) == "" && len(out) == 0 {
		cur[KeyClient] = first
	}
	flush()
	return out
}

func isFITSPrincipalHeading(text string) bool {
	t := strings.ToLower(text)
	return strings.Contains(t, "foreign principal") || strings.Contains(t, "client")
}

func isHeading(s *goquery.Selection) bool {
	switch goquery.NodeName(s) {
	case "h1", "h2", "h3", "h4":
		return true
	}
	return false
}

// fitsUsableName drops table chrome such as sort and filter links.
func fitsUsableName(name string) bool {
	if len(name) <= 2 {
		return false
	}
	lower := strings.ToLower(name)
	for _, chrome := range []string{"sort by", "read more", "filter"} {
		if strings.Contains(lower, chrome) {
			return false
		}
	}
	return true
}
