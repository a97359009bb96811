package adapter

import (
	"context"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/sells-group/lobbyharvest/internal/fetcher"
	"github.com/sells-group/lobbyharvest/internal/normalize"
	"github.com/sells-group/lobbyharvest/internal/source"
)

// UKORCLBaseURL is the Office of the Registrar of Consultant Lobbyists
// public register.
const UKORCLBaseURL = "https://orcl.my.site.com"

var orclMonthDate = regexp.MustCompile(`(?i)\b(?:\d{1,2}\s+)?(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{4}\b`)

// UKORCL queries the Registrar of Consultant Lobbyists. The search page is a
// server-side form carrying view state, so like AT it loads the form in a
// fresh session and posts the search from it.
type UKORCL struct {
	base
}

// NewUKORCL creates the uk_orcl adapter.
func NewUKORCL(c *fetcher.Client) *UKORCL {
	return &UKORCL{base{
		id:      "uk_orcl",
		client:  c,
		layouts: normalize.Layouts(normalize.LongMonth, normalize.DayFirst, normalize.ISO, normalize.MonthYear, normalize.Year),
	}}
}

// Fetch implements source.Adapter.
func (u *UKORCL) Fetch(ctx context.Context, firm string, _ time.Duration) (*source.RawResult, error) {
	sess, err := u.client.Session()
	if err != nil {
		return nil, err
	}

	page, err := sess.GetHTML(ctx, "/CLR_Search", nil)
	if err != nil {
		return nil, err
	}
	form := page.Find("form").FilterFunction(func(_ int, f *goquery.Selection) bool {
		return f.Find(`input[type="text"], input[type="search"]`).Length() > 0
	}).First()
	if form.Length() == 0 {
		return nil, source.Parsef("uk_orcl: search form missing")
	}

	values := url.Values{}
	form.Find("input[name]").Each(func(_ int, in *goquery.Selection) {
		name, _ := in.Attr("name")
		typ, _ := in.Attr("type")
		switch strings.ToLower(typ) {
		case "hidden":
			v, _ := in.Attr("value")
			values.Set(name, v)
		case "text", "search":
			values.Set(name, firm)
		}
	})
	action, ok := form.Attr("action")
	if !ok || action == "" {
		action = "/CLR_Search"
	}

	results, err := sess.PostFormHTML(ctx, sess.Resolve(action), values)
	if err != nil {
		return nil, err
	}

	var names, hrefs []string
	results.Find(`table a[href], [class*="result"] a[href]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if href == "" || strings.HasPrefix(href, "#") || slices.Contains(hrefs, href) {
			return
		}
		names = append(names, fetcher.Text(s))
		hrefs = append(hrefs, href)
	})
	i, _ := Best(firm, names)
	if i < 0 {
		return nil, source.NotFound("uk_orcl: no consultant lobbyist matching %q", firm)
	}

	detail, err := sess.GetHTML(ctx, sess.Resolve(hrefs[i]), nil)
	if err != nil {
		return nil, err
	}

	raw := newResult(firm)
	raw.EntityName = names[i]
	raw.EntityID = labelledValue(detail, "registration number", "company number")
	raw.Records = append(raw.Records, orclTableClients(detail)...)
	if len(raw.Records) == 0 {
		raw.Records = append(raw.Records, orclBlockClients(detail)...)
	}
	return raw, nil
}

// orclTableClients reads tables whose header names a client column.
func orclTableClients(doc *goquery.Document) []source.RawRecord {
	var out []source.RawRecord
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		header, rows := fetcher.TableRows(table)
		name := fetcher.Column(header, "client")
		if name < 0 {
			return
		}
		begin := fetcher.Column(header, "start", "from")
		end := fetcher.Column(header, "end", "until")
		if end < 0 {
			end = slices.Index(header, "to")
		}
		for _, row := range rows {
			if n := fetcher.Cell(row, name); n != "" {
				out = append(out, source.RawRecord{
					KeyClient: n,
					KeyStart:  fetcher.Cell(row, begin),
					KeyEnd:    fetcher.Cell(row, end),
				})
			}
		}
	})
	return out
}

// orclBlockClients reads detail pages that list clients as text blocks: a
// "Client:" line names one, and the month dates after it are its start
// then end.
func orclBlockClients(doc *goquery.Document) []source.RawRecord {
	const blocks = `div[class*="content"], div[class*="detail"]`

	var (
		out []source.RawRecord
		cur source.RawRecord
	)
	flush := func() {
		if cur != nil && cur.String(KeyClient) != "" {
			out = append(out, cur)
		}
		cur = nil
	}
	doc.Find(blocks).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Find(blocks).Length() == 0
	}).Each(func(_ int, s *goquery.Selection) {
		for _, line := range fetcher.Lines(s) {
			if label, name, ok := strings.Cut(line, ":"); ok && strings.Contains(strings.ToLower(label), "client") {
				flush()
				cur = source.RawRecord{KeyClient: strings.TrimSpace(name)}
				continue
			}
			if cur == nil {
				continue
			}
			for _, d := range orclMonthDate.FindAllString(line, 2) {
				if cur.String(KeyStart) == "" {
					cur[KeyStart] = d
				} else if cur.String(KeyEnd) == "" {
					cur[KeyEnd] = d
				}
			}
		}
	})
	flush()
	return out
}
