package adapter

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/sells-group/lobbyharvest/internal/fetcher"
	"github.com/sells-group/lobbyharvest/internal/normalize"
	"github.com/sells-group/lobbyharvest/internal/source"
)

// ATBaseURL is the Austrian Lobbying and Interest Representation Register.
const ATBaseURL = "https://lobbyreg.justiz.gv.at"

// AT queries the Austrian register. Its search form is bound to a server
// session, so every fetch opens a fresh cookie jar, loads the form to pick
// up the session's hidden fields and posts the search from it.
type AT struct {
	base
}

// NewAT creates the at_lobbying adapter.
func NewAT(c *fetcher.Client) *AT {
	return &AT{base{
		id:      "at_lobbying",
		client:  c,
		layouts: normalize.Layouts(normalize.German, normalize.ISO, normalize.DayFirst, normalize.TwoDigitYear, normalize.Year),
	}}
}

// Fetch implements source.Adapter.
func (a *AT) Fetch(ctx context.Context, firm string, _ time.Duration) (*source.RawResult, error) {
	sess, err := a.client.Session()
	if err != nil {
		return nil, err
	}

	start, err := sess.GetHTML(ctx, "/", nil)
	if err != nil {
		return nil, err
	}
	form := start.Find("form").FilterFunction(func(_ int, f *goquery.Selection) bool {
		return f.Find(`input[name="FT"]`).Length() > 0
	}).First()
	if form.Length() == 0 {
		return nil, source.Parsef("at_lobbying: search form missing")
	}

	values := url.Values{}
	form.Find("input[name]").Each(func(_ int, in *goquery.Selection) {
		name, _ := in.Attr("name")
		typ, _ := in.Attr("type")
		if strings.EqualFold(typ, "hidden") {
			v, _ := in.Attr("value")
			values.Set(name, v)
		}
	})
	values.Set("FT", firm)
	action, ok := form.Attr("action")
	if !ok || action == "" {
		action = "/"
	}

	results, err := sess.PostFormHTML(ctx, sess.Resolve(action), values)
	if err != nil {
		return nil, err
	}

	var names, hrefs []string
	results.Find("table a[href], .results a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		names = append(names, fetcher.Text(s))
		hrefs = append(hrefs, href)
	})
	i, _ := Best(firm, names)
	if i < 0 {
		return nil, source.NotFound("at_lobbying: no register entry matching %q", firm)
	}

	detail, err := sess.GetHTML(ctx, sess.Resolve(hrefs[i]), nil)
	if err != nil {
		return nil, err
	}

	raw := newResult(firm)
	raw.EntityName = names[i]
	raw.EntityID = labelledValue(detail, "registerzahl", "registernummer")

	detail.Find("table").Each(func(_ int, table *goquery.Selection) {
		header, rows := fetcher.TableRows(table)
		name := fetcher.Column(header, "auftraggeber", "klient", "client", "kunde")
		if name < 0 {
			return
		}
		reg := clientRegColumn(header)
		begin := fetcher.Column(header, "beginn", "start", "von")
		end := fetcher.Column(header, "ende", "bis")
		for _, row := range rows {
			raw.Records = append(raw.Records, source.RawRecord{
				KeyClient:    fetcher.Cell(row, name),
				KeyClientReg: fetcher.Cell(row, reg),
				KeyStart:     fetcher.Cell(row, begin),
				KeyEnd:       fetcher.Cell(row, end),
			})
		}
	})
	return raw, nil
}

// clientRegColumn finds a column holding the client's own register or
// company number, e.g. "Firmenbuchnummer Auftraggeber".
func clientRegColumn(header []string) int {
	for i, h := range header {
		if (strings.Contains(h, "nummer") || strings.Contains(h, "registr")) &&
			!strings.Contains(h, "lobby") {
			return i
		}
	}
	return -1
}

// labelledValue returns the <dd> following the first <dt> whose text
// contains any label.
func labelledValue(doc *goquery.Document, labels ...string) string {
	var out string
	doc.Find("dt").EachWithBreak(func(_ int, dt *goquery.Selection) bool {
		text := strings.ToLower(dt.Text())
		for _, l := range labels {
			if strings.Contains(text, l) {
				out = fetcher.Text(dt.NextFiltered("dd"))
				return false
			}
		}
		return true
	})
	return out
}
