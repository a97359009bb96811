package adapter

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/sells-group/lobbyharvest/internal/fetcher"
	"github.com/sells-group/lobbyharvest/internal/normalize"
	"github.com/sells-group/lobbyharvest/internal/source"
)

// AUBaseURL is the Australian Government Register of Lobbyists.
const AUBaseURL = "https://lobbyists.ag.gov.au"

var (
	abnPattern = regexp.MustCompile(`\b\d{2}\s?\d{3}\s?\d{3}\s?\d{3}\b`)
	// abnInline matches an ABN appended to a client name with its label and
	// punctuation: "Globex Pty Ltd (ABN 11 222 333 444)".
	abnInline = regexp.MustCompile(`(?i)[\s,(-]*(?:ABN[:\s]*)?\b\d{2}\s?\d{3}\s?\d{3}\s?\d{3}\b\)?`)
)

// AU queries the Australian Lobbyists Register: the register table lists
// every lobbying business with a link to a detail page carrying its ABN and
// client list.
type AU struct {
	base
}

// NewAU creates the au_lobbying adapter.
func NewAU(c *fetcher.Client) *AU {
	return &AU{base{
		id:      "au_lobbying",
		client:  c,
		layouts: normalize.Layouts(normalize.DayFirst, normalize.ISO, normalize.LongMonth, normalize.MonthYear, normalize.Year),
	}}
}

// Fetch implements source.Adapter.
func (a *AU) Fetch(ctx context.Context, firm string, _ time.Duration) (*source.RawResult, error) {
	doc, err := a.client.GetHTML(ctx, "/register", nil)
	if err != nil {
		return nil, err
	}
	links := doc.Find("table tr a[href]")
	if doc.Find("table").Length() == 0 {
		return nil, source.Parsef("au_lobbying: register table missing")
	}

	var names, hrefs []string
	links.Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		names = append(names, fetcher.Text(s))
		hrefs = append(hrefs, href)
	})
	i, _ := Best(firm, names)
	if i < 0 {
		return nil, source.NotFound("au_lobbying: no lobbying business matching %q", firm)
	}

	detail, err := a.client.GetHTML(ctx, a.client.Resolve(hrefs[i]), nil)
	if err != nil {
		return nil, err
	}

	raw := newResult(firm)
	raw.EntityName = names[i]
	if abn := firmABN(detail); abn != "" {
		raw.EntityID = abn
	}
	raw.Records = append(raw.Records, auClients(detail)...)
	return raw, nil
}

// firmABN returns the first ABN on the page outside the client section.
func firmABN(doc *goquery.Document) string {
	var abn string
	doc.Find("body *").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if isClientHeading(s) {
			return false
		}
		if s.Children().Length() > 0 {
			return true
		}
		if m := abnPattern.FindString(s.Text()); m != "" {
			abn = strings.ReplaceAll(m, " ", "")
			return false
		}
		return true
	})
	return abn
}

func isClientHeading(s *goquery.Selection) bool {
	switch goquery.NodeName(s) {
	case "h2", "h3", "h4", "strong":
		return strings.Contains(strings.ToLower(s.Text()), "client")
	}
	return false
}

func isSectionHeading(s *goquery.Selection) bool {
	switch goquery.NodeName(s) {
	case "h2", "h3", "h4":
		return true
	}
	return false
}

// auClients reads every client section: a table (name, ABN, start, end) or
// a list whose items may carry the client's ABN inline.
func auClients(doc *goquery.Document) []source.RawRecord {
	var out []source.RawRecord
	doc.Find("h2, h3, h4, strong").Each(func(_ int, h *goquery.Selection) {
		if !isClientHeading(h) {
			return
		}
		for s := h.Next(); s.Length() > 0 && !isSectionHeading(s); s = s.Next() {
			switch goquery.NodeName(s) {
			case "table":
				out = append(out, auTableClients(s)...)
			case "ul", "ol":
				s.Find("li").Each(func(_ int, li *goquery.Selection) {
					name := fetcher.Text(li)
					abn := abnPattern.FindString(name)
					if abn != "" {
						name = normalize.CollapseSpace(abnInline.ReplaceAllString(name, ""))
					}
					out = append(out, source.RawRecord{
						KeyClient:    name,
						KeyClientReg: strings.ReplaceAll(abn, " ", ""),
					})
				})
			}
		}
	})
	return out
}

func auTableClients(table *goquery.Selection) []source.RawRecord {
	header, rows := fetcher.TableRows(table)
	name := max(fetcher.Column(header, "client", "name"), 0)
	abn := fetcher.Column(header, "abn")
	start := fetcher.Column(header, "start", "from", "since")
	end := fetcher.Column(header, "end", "until", "ceased")
	if abn < 0 && len(header) > 1 {
		abn = 1
	}

	out := make([]source.RawRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, source.RawRecord{
			KeyClient:    fetcher.Cell(row, name),
			KeyClientReg: strings.ReplaceAll(fetcher.Cell(row, abn), " ", ""),
			KeyStart:     fetcher.Cell(row, start),
			KeyEnd:       fetcher.Cell(row, end),
		})
	}
	return out
}
