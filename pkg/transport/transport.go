package transport

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
	"github.com/shishobooks/libby/pkg/errcodes"
	"golang.org/x/net/publicsuffix"
)

const (
	UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 11_1) AppleWebKit/605.1.15 (KHTML, like Gecko) " +
		"Version/14.0.2 Safari/605.1.15"

	ContentTypeForm = "application/x-www-form-urlencoded"
	ContentTypeJSON = "application/json; charset=UTF-8"
)

type Options struct {
	BaseURL        string
	DefaultHeaders http.Header
	Token          string
	MaxRetries     int
	Timeout        time.Duration
	RetryBaseDelay time.Duration
}

// Client sends requests to a single API. It holds the cookie jar and bearer
// token of one account and must not be shared between accounts.
type Client struct {
	base           *url.URL
	defaultHeaders http.Header
	maxRetries     int
	timeout        time.Duration
	retryBaseDelay time.Duration

	http       *http.Client
	noRedirect *http.Client

	mu    sync.RWMutex
	token string
}

// Request describes a single call. A nil Headers uses the client defaults; a
// non-nil Headers replaces them entirely.
type Request struct {
	Endpoint string
	Method   string
	Query    url.Values
	Headers  http.Header

	// At most one of Form, JSON and EmptyBody should be set. EmptyBody sends
	// a zero-length payload with a JSON content type.
	Form      url.Values
	JSON      interface{}
	EmptyBody bool

	Unauthenticated bool
	NoRedirect      bool
}

func New(opts Options) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 50 * time.Millisecond
	}

	return &Client{
		base:           base,
		defaultHeaders: opts.DefaultHeaders,
		maxRetries:     opts.MaxRetries,
		timeout:        opts.Timeout,
		retryBaseDelay: opts.RetryBaseDelay,
		http: &http.Client{
			Jar:     jar,
			Timeout: opts.Timeout,
		},
		noRedirect: &http.Client{
			Jar:     jar,
			Timeout: opts.Timeout,
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		token: opts.Token,
	}, nil
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// DefaultHeaders returns a copy of the headers sent when a request does not
// supply its own.
func (c *Client) DefaultHeaders() http.Header {
	return c.defaultHeaders.Clone()
}

// Resolve joins endpoint onto the base URL. Absolute endpoints are returned
// unchanged.
func (c *Client) Resolve(endpoint string) (string, error) {
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return c.base.ResolveReference(ref).String(), nil
}

func (r *Request) hasBody() bool {
	return r.Form != nil || r.JSON != nil || r.EmptyBody
}

func (c *Client) build(ctx context.Context, r *Request) (*http.Request, []byte, error) {
	endpoint, err := c.Resolve(r.Endpoint)
	if err != nil {
		return nil, nil, err
	}
	if len(r.Query) > 0 {
		sep := "?"
		if strings.Contains(r.Endpoint, "?") {
			sep = "&"
		}
		endpoint += sep + r.Query.Encode()
	}

	method := r.Method
	if method == "" {
		method = http.MethodGet
		if r.hasBody() {
			method = http.MethodPost
		}
	}

	headers := r.Headers
	if headers == nil {
		headers = c.defaultHeaders
	}
	headers = headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}

	var data []byte
	switch {
	case r.EmptyBody:
		headers.Set("Content-Type", ContentTypeJSON)
		data = []byte{}
	case r.Form != nil:
		headers.Set("Content-Type", ContentTypeForm)
		data = []byte(r.Form.Encode())
	case r.JSON != nil:
		headers.Set("Content-Type", ContentTypeJSON)
		data, err = encodeJSON(r.JSON)
		if err != nil {
			return nil, nil, err
		}
	}

	if !r.Unauthenticated {
		if token := c.Token(); token != "" {
			headers.Set("Authorization", "Bearer "+token)
		}
	}

	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	req.Header = headers
	if data != nil {
		// A zero-length body still needs an explicit length so the request is
		// not sent chunked.
		req.ContentLength = int64(len(data))
	}
	return req, data, nil
}

func encodeJSON(v interface{}) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, errors.WithStack(err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Send performs the request, retrying server errors and connection failures
// up to MaxRetries times. Any other failed status is classified and returned
// as an *errcodes.Error without retrying.
func (c *Client) Send(ctx context.Context, r *Request) (*Response, error) {
	log := logger.FromContext(ctx)

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := Sleep(ctx, Backoff(c.retryBaseDelay, attempt-1)); err != nil {
				return nil, errors.WithStack(err)
			}
		}

		req, data, err := c.build(ctx, r)
		if err != nil {
			return nil, err
		}
		log.Debug("request", logger.Data{
			"method":  req.Method,
			"url":     req.URL.String(),
			"headers": maskHeaders(req.Header),
			"attempt": attempt + 1,
		})
		if len(data) > 0 {
			log.Debug("request body", logger.Data{"body": string(data)})
		}

		client := c.http
		if r.NoRedirect {
			client = c.noRedirect
		}
		res, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.WithStack(ctx.Err())
			}
			if attempt < c.maxRetries {
				log.Warn("retrying after connection error", logger.Data{"error": err.Error(), "attempt": attempt + 1})
				continue
			}
			return nil, errcodes.ConnectionError(err)
		}

		resp, err := readResponse(res)
		if err != nil {
			if attempt < c.maxRetries {
				log.Warn("retrying after read error", logger.Data{"error": err.Error(), "attempt": attempt + 1})
				continue
			}
			return nil, errcodes.ConnectionError(err)
		}
		log.Debug("response", logger.Data{"status": resp.StatusCode, "url": resp.URL})
		if resp.IsJSON() {
			log.Debug("response body", logger.Data{"body": maskBody(resp.Body)})
		}

		if r.NoRedirect && (resp.StatusCode == http.StatusMovedPermanently || resp.StatusCode == http.StatusFound) {
			return resp, nil
		}
		if resp.StatusCode < http.StatusMultipleChoices {
			return resp, nil
		}
		if resp.StatusCode >= http.StatusInternalServerError && attempt < c.maxRetries {
			log.Warn("retrying after server error", logger.Data{"status": resp.StatusCode, "attempt": attempt + 1})
			continue
		}
		return nil, errcodes.Classify(resp.StatusCode, resp.Header.Get("Content-Type"), resp.Body)
	}

	// unreachable: the final attempt always returns
	return nil, errors.New("retries exhausted")
}

// SendJSON sends the request and decodes a JSON body into v.
func (c *Client) SendJSON(ctx context.Context, r *Request, v interface{}) error {
	resp, err := c.Send(ctx, r)
	if err != nil {
		return err
	}
	return resp.Decode(v)
}

// Fetch performs a plain GET of rawURL with no cookie jar, no retries and no
// default headers.
func (c *Client) Fetch(ctx context.Context, rawURL string, headers http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if headers != nil {
		req.Header = headers.Clone()
	}
	client := &http.Client{Timeout: c.timeout}
	res, err := client.Do(req)
	if err != nil {
		return nil, errcodes.ConnectionError(err)
	}
	resp, err := readResponse(res)
	if err != nil {
		return nil, errcodes.ConnectionError(err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, errcodes.Classify(resp.StatusCode, resp.Header.Get("Content-Type"), resp.Body)
	}
	return resp.Body, nil
}

func readResponse(res *http.Response) (*Response, error) {
	defer res.Body.Close()

	var reader io.Reader = res.Body
	if res.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(res.Body)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		defer gz.Close()
		reader = gz
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Response{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       body,
		URL:        res.Request.URL.String(),
	}, nil
}
