package adapter

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/sells-group/lobbyharvest/internal/fetcher"
	"github.com/sells-group/lobbyharvest/internal/normalize"
	"github.com/sells-group/lobbyharvest/internal/source"
)

// LobbyFactsBaseURL is LobbyFacts.eu, a mirror of the EU Transparency Register.
const LobbyFactsBaseURL = "https://www.lobbyfacts.eu"

var (
	lobbyFactsClientsHeading = regexp.MustCompile(`(?i)clients.*financial year`)
	trailingParenthetical    = regexp.MustCompile(`\s*\([^)]*\)\s*$`)
	// Navigation and section labels that appear in datacard lists.
	lobbyFactsNoise = []string{
		"search", "about", "disclaimer", "cabinet", "member", "how to",
		"latest stories", "people", "employment", "register", "login",
		"contact", "privacy", "terms", "cookies", "home", "menu",
		"financial data", "eu structures", "meetings", "platforms",
	}
)

// LobbyFacts searches LobbyFacts.eu and reads the client list of the best
// matching datacard.
type LobbyFacts struct {
	base
}

// NewLobbyFacts creates the lobbyfacts adapter.
func NewLobbyFacts(c *fetcher.Client) *LobbyFacts {
	return &LobbyFacts{base{id: "lobbyfacts", client: c, layouts: normalize.Layouts(normalize.ISO, normalize.DayFirst, normalize.Year)}}
}

// Fetch implements source.Adapter.
func (l *LobbyFacts) Fetch(ctx context.Context, firm string, _ time.Duration) (*source.RawResult, error) {
	results, err := l.client.GetHTML(ctx, "/search-all", url.Values{"text": {firm}})
	if err != nil {
		return nil, err
	}

	var names, hrefs []string
	results.Find(`a[href*="datacard"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		names = append(names, fetcher.Text(s))
		hrefs = append(hrefs, href)
	})
	i, _ := Best(firm, names)
	if i < 0 {
		return nil, source.NotFound("lobbyfacts: no datacard matching %q", firm)
	}

	card, err := l.client.GetHTML(ctx, l.client.Resolve(hrefs[i]), nil)
	if err != nil {
		return nil, err
	}

	raw := newResult(firm)
	raw.EntityName = names[i]
	if u, err := url.Parse(hrefs[i]); err == nil {
		raw.EntityID = u.Query().Get("rid")
	}

	seen := map[string]bool{}
	card.Find("h2, h3, h4").Each(func(_ int, h *goquery.Selection) {
		if !lobbyFactsClientsHeading.MatchString(h.Text()) {
			return
		}
		for s := h.Next(); s.Length() > 0 && !isSectionHeading(s); s = s.Next() {
			if n := goquery.NodeName(s); n != "ul" && n != "ol" {
				continue
			}
			s.Find("li").Each(func(_ int, li *goquery.Selection) {
				name := cleanLobbyFactsClient(fetcher.Text(li))
				if !isLobbyFactsClient(name) || seen[name] {
					return
				}
				seen[name] = true
				raw.Records = append(raw.Records, source.RawRecord{KeyClient: name})
			})
		}
	})
	return raw, nil
}

// cleanLobbyFactsClient drops a trailing parenthetical such as an amount
// band: "Globex SA (€10,000 - €24,999)" becomes "Globex SA".
func cleanLobbyFactsClient(s string) string {
	return strings.TrimSpace(trailingParenthetical.ReplaceAllString(s, ""))
}

func isLobbyFactsClient(name string) bool {
	if len(name) < 3 || len(name) > 200 {
		return false
	}
	lower := strings.ToLower(name)
	for _, n := range lobbyFactsNoise {
		if strings.Contains(lower, n) {
			return false
		}
	}
	return strings.IndexFunc(name, unicode.IsLetter) >= 0
}
