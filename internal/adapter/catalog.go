package adapter

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lobbyharvest/internal/fetcher"
	"github.com/sells-group/lobbyharvest/internal/source"
)

// Entry describes one built-in source.
type Entry struct {
	ID      string
	BaseURL string
	New     func(*fetcher.Client) source.Adapter
}

// Catalog lists the built-in sources in their default dispatch order.
func Catalog() []Entry {
	return []Entry{
		{"fara", FARABaseURL, func(c *fetcher.Client) source.Adapter { return NewFARA(c) }},
		{"uk_lobbying", UKBaseURL, func(c *fetcher.Client) source.Adapter { return NewUK(c) }},
		{"au_lobbying", AUBaseURL, func(c *fetcher.Client) source.Adapter { return NewAU(c) }},
		{"lobbyfacts", LobbyFactsBaseURL, func(c *fetcher.Client) source.Adapter { return NewLobbyFacts(c) }},
		{"it_lobbying", ITBaseURL, func(c *fetcher.Client) source.Adapter { return NewIT(c) }},
		{"at_lobbying", ATBaseURL, func(c *fetcher.Client) source.Adapter { return NewAT(c) }},
		{"cy_lobbying", CYBaseURL, func(c *fetcher.Client) source.Adapter { return NewCY(c) }},
		{"fr_hatvp", FRBaseURL, func(c *fetcher.Client) source.Adapter { return NewFR(c) }},
		{"au_foreign_influence", AUFITSBaseURL, func(c *fetcher.Client) source.Adapter { return NewAUFITS(c) }},
		{"uk_orcl", UKORCLBaseURL, func(c *fetcher.Client) source.Adapter { return NewUKORCL(c) }},
	}
}

// IDs returns the built-in source ids in catalog order.
func IDs() []string {
	cat := Catalog()
	ids := make([]string, len(cat))
	for i, e := range cat {
		ids[i] = e.ID
	}
	return ids
}

// Options configures the HTTP clients handed to the adapters.
type Options struct {
	UserAgent string
	Timeout   time.Duration
	// BaseURLs overrides a source's default base URL by id.
	BaseURLs map[string]string
}

// Register builds every catalog adapter and adds it to reg with the policy
// returned for its id.
func Register(reg *source.Registry, opts Options, policy func(id string) source.Policy) error {
	for _, e := range Catalog() {
		baseURL := e.BaseURL
		if u := opts.BaseURLs[e.ID]; u != "" {
			baseURL = u
		}
		client := fetcher.New(fetcher.Options{
			BaseURL:   baseURL,
			UserAgent: opts.UserAgent,
			Timeout:   opts.Timeout,
		})
		if err := reg.Register(e.New(client), policy(e.ID)); err != nil {
			return eris.Wrapf(err, "adapter: register %s", e.ID)
		}
	}
	return nil
}
