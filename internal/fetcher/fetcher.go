// Package fetcher is the HTTP session registry adapters fetch through. It
// makes exactly one request per call: retries, backoff and rate limiting
// belong to the dispatcher. Failures come back already classified with the
// source error taxonomy.
package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sells-group/lobbyharvest/internal/resilience"
	"github.com/sells-group/lobbyharvest/internal/source"
)

const tracerName = "github.com/sells-group/lobbyharvest/internal/fetcher"

// DefaultUserAgent is sent when Options.UserAgent is empty.
const DefaultUserAgent = "Mozilla/5.0 (compatible; lobbyharvest/1.0)"

// Options configures a Client.
type Options struct {
	// BaseURL is prepended to relative paths.
	BaseURL   string
	UserAgent string
	// Timeout is the transport-level ceiling for one request. The dispatcher's
	// per-attempt context deadline normally fires first.
	Timeout time.Duration
	// Header is sent with every request.
	Header map[string]string
}

// Client is a single-shot HTTP session. A Client keeps cookies between
// calls; use Session for a fresh cookie jar per fetch.
type Client struct {
	http *resty.Client
	opts Options
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d from %s", e.Code, e.URL)
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return resilience.StatusCode(err)
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	c, err := newClient(opts, nil)
	if err != nil {
		// cookiejar.New only fails on a bad public suffix list, and we pass none.
		panic(err)
	}
	return c
}

func newClient(opts Options, transport http.RoundTripper) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: cookie jar")
	}
	rc := resty.New()
	if transport != nil {
		rc.SetTransport(transport)
	}
	rc.SetCookieJar(jar)
	rc.SetTimeout(opts.Timeout)
	rc.SetRetryCount(0)
	rc.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	rc.SetHeader("User-Agent", opts.UserAgent)
	for k, v := range opts.Header {
		rc.SetHeader(k, v)
	}
	if opts.BaseURL != "" {
		rc.SetBaseURL(opts.BaseURL)
	}
	instrument(rc)
	return &Client{http: rc, opts: opts}, nil
}

// Session returns a Client sharing this one's transport and options but
// with an empty cookie jar, for registries whose search form is bound to a
// server session.
func (c *Client) Session() (*Client, error) {
	return newClient(c.opts, c.http.GetClient().Transport)
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string { return c.opts.BaseURL }

// Resolve turns an href found on a page into an absolute URL against the
// base URL. Absolute hrefs are returned unchanged.
func (c *Client) Resolve(href string) string {
	ref, err := url.Parse(href)
	if err != nil || ref.IsAbs() || c.opts.BaseURL == "" {
		return href
	}
	base, err := url.Parse(c.opts.BaseURL)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// GetBody issues a GET and returns the raw body decoded to UTF-8.
func (c *Client) GetBody(ctx context.Context, path string, query url.Values) ([]byte, error) {
	resp, err := c.do(ctx, c.http.R().SetQueryParamsFromValues(query), http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	return decodeBody(resp.Body(), resp.Header().Get("Content-Type"))
}

// GetHTML issues a GET and parses the response as HTML.
func (c *Client) GetHTML(ctx context.Context, path string, query url.Values) (*goquery.Document, error) {
	resp, err := c.do(ctx, c.http.R().SetQueryParamsFromValues(query), http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	return parseHTML(resp)
}

// PostFormHTML submits form as application/x-www-form-urlencoded and parses
// the response as HTML.
func (c *Client) PostFormHTML(ctx context.Context, path string, form url.Values) (*goquery.Document, error) {
	resp, err := c.do(ctx, c.http.R().SetFormDataFromValues(form), http.MethodPost, path)
	if err != nil {
		return nil, err
	}
	return parseHTML(resp)
}

// GetJSON issues a GET and decodes a JSON body into out. A body that is not
// valid JSON is a parse error.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	req := c.http.R().
		SetQueryParamsFromValues(query).
		SetHeader("Accept", "application/json")
	resp, err := c.do(ctx, req, http.MethodGet, path)
	if err != nil {
		return err
	}
	if err := json.NewDecoder(bytes.NewReader(resp.Body())).Decode(out); err != nil {
		return source.Parse(err, fmt.Sprintf("decode json from %s", resp.Request.URL))
	}
	return nil
}

func (c *Client) do(ctx context.Context, req *resty.Request, method, path string) (*resty.Response, error) {
	resp, err := req.SetContext(ctx).Execute(method, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, eris.Wrapf(ctxErr, "fetcher: %s %s", method, path)
		}
		return nil, source.Transient(eris.Wrapf(err, "fetcher: %s %s", method, path), 0)
	}

	code := resp.StatusCode()
	if code >= 200 && code < 300 {
		return resp, nil
	}
	se := &StatusError{Code: code, URL: resp.Request.URL}
	if resilience.IsTransientHTTPStatus(code) {
		return nil, source.Transient(se, code)
	}
	zap.L().Debug("fetcher: unexpected status",
		zap.String("url", resp.Request.URL),
		zap.Int("status", code),
	)
	return nil, source.Parse(se, "unexpected status")
}

func parseHTML(resp *resty.Response) (*goquery.Document, error) {
	body, err := decodeBody(resp.Body(), resp.Header().Get("Content-Type"))
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, source.Parse(err, fmt.Sprintf("parse html from %s", resp.Request.URL))
	}
	return doc, nil
}

// instrument opens one span per request, ended when the response or error
// arrives.
func instrument(rc *resty.Client) {
	tracer := otel.Tracer(tracerName)
	rc.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		ctx, _ := tracer.Start(req.Context(), "http "+req.Method,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(attribute.String("http.url", req.URL)),
		)
		req.SetContext(ctx)
		return nil
	})
	rc.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		span := trace.SpanFromContext(resp.Request.Context())
		defer span.End()
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode()))
		if resp.StatusCode() >= 400 {
			span.SetStatus(codes.Error, resp.Status())
		}
		return nil
	})
	rc.OnError(func(req *resty.Request, err error) {
		span := trace.SpanFromContext(req.Context())
		defer span.End()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	})
}
