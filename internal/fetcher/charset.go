package fetcher

import (
	"mime"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/lobbyharvest/internal/source"
)

var metaCharset = regexp.MustCompile(`(?i)<meta[^>]+charset\s*=\s*["']?\s*([a-z0-9_:.-]+)`)

// sniffLen bounds how far into the document a <meta charset> is looked for.
const sniffLen = 2048

// charsetOf returns the declared charset of a body: the Content-Type
// parameter first, then a <meta> tag near the top of the document.
func charsetOf(body []byte, contentType string) string {
	if contentType != "" {
		if _, params, err := mime.ParseMediaType(contentType); err == nil && params["charset"] != "" {
			return strings.ToLower(params["charset"])
		}
	}
	head := body
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	if m := metaCharset.FindSubmatch(head); m != nil {
		return strings.ToLower(string(m[1]))
	}
	return ""
}

// decodeBody converts body to UTF-8. Unknown charsets are passed through
// unchanged and logged; a body that fails to decode is a parse error.
func decodeBody(body []byte, contentType string) ([]byte, error) {
	cs := charsetOf(body, contentType)
	if cs == "" || cs == "utf-8" || cs == "utf8" {
		return body, nil
	}
	enc, err := htmlindex.Get(cs)
	if err != nil {
		zap.L().Debug("fetcher: unknown charset, assuming utf-8", zap.String("charset", cs))
		return body, nil
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return nil, source.Parse(err, "decode "+cs+" body")
	}
	return out, nil
}
