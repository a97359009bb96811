package adapter

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/sells-group/lobbyharvest/internal/fetcher"
	"github.com/sells-group/lobbyharvest/internal/normalize"
	"github.com/sells-group/lobbyharvest/internal/source"
)

// ITBaseURL is the Italian Chamber of Deputies register of interest representatives.
const ITBaseURL = "https://rappresentantidiinteressi.camera.it"

// IT queries the Italian Chamber register. The register page links every
// representative's detail page, whose "soggetti rappresentati" table lists
// clients with the year the representation began.
type IT struct {
	base
}

// NewIT creates the it_lobbying adapter.
func NewIT(c *fetcher.Client) *IT {
	return &IT{base{
		id:      "it_lobbying",
		client:  c,
		layouts: normalize.Layouts(normalize.Year, normalize.DayFirst, normalize.ISO),
	}}
}

// Fetch implements source.Adapter.
func (it *IT) Fetch(ctx context.Context, firm string, _ time.Duration) (*source.RawResult, error) {
	doc, err := it.client.GetHTML(ctx, "/sito/registro.html", nil)
	if err != nil {
		return nil, err
	}
	links := doc.Find(`a[href*="legal_"]`)
	if links.Length() == 0 {
		return nil, source.Parsef("it_lobbying: register lists no representatives")
	}

	var names, hrefs []string
	links.Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		names = append(names, fetcher.Text(s))
		hrefs = append(hrefs, href)
	})
	i, _ := Best(firm, names)
	if i < 0 {
		return nil, source.NotFound("it_lobbying: no representative matching %q", firm)
	}

	detail, err := it.client.GetHTML(ctx, it.client.Resolve(hrefs[i]), nil)
	if err != nil {
		return nil, err
	}

	raw := newResult(firm)
	raw.EntityName = names[i]
	raw.EntityID = strings.TrimSpace(detail.Find(".numero-iscrizione").First().Text())

	detail.Find("table").Each(func(_ int, table *goquery.Selection) {
		header, rows := fetcher.TableRows(table)
		if fetcher.Column(header, "rappresentat", "cliente", "committente") < 0 {
			return
		}
		name := max(fetcher.Column(header, "denominazione", "rappresentat", "cliente", "committente"), 0)
		taxID := fetcher.Column(header, "codice fiscale", "partita iva")
		start := fetcher.Column(header, "anno", "inizio")
		end := fetcher.Column(header, "fino", "fine", "cessazione")
		for _, row := range rows {
			raw.Records = append(raw.Records, source.RawRecord{
				KeyClient:    fetcher.Cell(row, name),
				KeyClientReg: fetcher.Cell(row, taxID),
				KeyStart:     fetcher.Cell(row, start),
				KeyEnd:       fetcher.Cell(row, end),
			})
		}
	})
	return raw, nil
}
