package fetcher

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/titanous/json5"

	"github.com/sells-group/lobbyharvest/internal/normalize"
	"github.com/sells-group/lobbyharvest/internal/source"
)

// ScriptData finds the first <script> whose text matches pattern and decodes
// the pattern's first capture group as a JSON5 value into out. SPA pages
// commonly embed their initial state as a JavaScript object literal, with
// unquoted keys and trailing commas JSON would reject.
func ScriptData(doc *goquery.Document, pattern *regexp.Regexp, out any) error {
	var blob string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		m := pattern.FindStringSubmatch(s.Text())
		if len(m) < 2 {
			return true
		}
		blob = m[1]
		return false
	})
	if blob == "" {
		return source.Parsef("no embedded script data matching %s", pattern)
	}
	if err := json5.Unmarshal([]byte(blob), out); err != nil {
		return source.Parse(err, "decode embedded script data")
	}
	return nil
}

// Text returns the whitespace-collapsed text of a selection.
func Text(s *goquery.Selection) string {
	return normalize.CollapseSpace(s.Text())
}

// TableRows returns each data row of a table as cell texts. Header cells
// (th) in the first row are returned separately, lowercased; a table without
// a th header uses its first row.
func TableRows(table *goquery.Selection) (header []string, rows [][]string) {
	trs := table.Find("tr")
	trs.Each(func(i int, tr *goquery.Selection) {
		ths := tr.Find("th")
		if i == 0 && ths.Length() > 0 {
			ths.Each(func(_ int, th *goquery.Selection) {
				header = append(header, strings.ToLower(Text(th)))
			})
			return
		}
		var cells []string
		tr.Find("td").Each(func(_ int, td *goquery.Selection) {
			cells = append(cells, Text(td))
		})
		if len(cells) == 0 {
			return
		}
		rows = append(rows, cells)
	})
	if header == nil && len(rows) > 0 {
		for _, c := range rows[0] {
			header = append(header, strings.ToLower(c))
		}
		rows = rows[1:]
	}
	return header, rows
}

// Column returns the index of the first header containing any of the
// given lowercase keywords, or -1.
func Column(header []string, keywords ...string) int {
	for i, h := range header {
		for _, k := range keywords {
			if strings.Contains(h, k) {
				return i
			}
		}
	}
	return -1
}

// Cell returns row[i], or "" when i is out of range.
func Cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// Lines splits the text of s at <br> elements, block elements and
// newlines. Each line is whitespace-collapsed; empty lines are dropped.
func Lines(s *goquery.Selection) []string {
	var (
		lines []string
		cur   strings.Builder
	)
	flush := func() {
		if l := normalize.CollapseSpace(cur.String()); l != "" {
			lines = append(lines, l)
		}
		cur.Reset()
	}
	var walk func(*goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, c *goquery.Selection) {
			switch goquery.NodeName(c) {
			case "br":
				flush()
			case "#text":
				for i, part := range strings.Split(c.Text(), "\n") {
					if i > 0 {
						flush()
					}
					cur.WriteString(part)
				}
			case "p", "div", "li", "tr":
				flush()
				walk(c)
				flush()
			default:
				walk(c)
			}
		})
	}
	walk(s)
	flush()
	return lines
}
