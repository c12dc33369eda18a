package source

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/roessland/wattwich/calendar"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://myaccount.example-power.com"

	loginPath  = "/login"
	exportPath = "/usage/export"

	// maxPagePreview bounds the page body kept for diagnostics.
	maxPagePreview = 512
)

var (
	commonHeaders = map[string]string{
		"accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"accept-language": "en-US,en;q=0.9",
		"user-agent":      "wattwich/1.0 (+https://github.com/roessland/wattwich)",
	}

	ErrRedirectedToLogin = errors.New("redirected to login page")
)

// LoginError describes a failed login along with what the portal last showed us.
type LoginError struct {
	Stage      string // "get_form", "parse_form", "post_form"
	LastURL    string
	LastStatus int
	PageTitle  string
	LastPage   string
	Err        error
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("login failed at %s (%s, status %d): %v", e.Stage, e.LastURL, e.LastStatus, e.Err)
}

func (e *LoginError) Unwrap() error {
	return e.Err
}

// LogAttrs returns the diagnostics as slog key-value pairs.
func (e *LoginError) LogAttrs() []any {
	return []any{
		"stage", e.Stage,
		"last_url", e.LastURL,
		"last_status", e.LastStatus,
		"page_title", e.PageTitle,
		"last_page", e.LastPage,
		"error", e.Err,
	}
}

// Client talks to the utility portal.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its jar and redirect
// policy are overwritten.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit spaces requests at least interval apart.
func WithRateLimit(interval time.Duration) Option {
	return func(c *Client) {
		if interval <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a portal client for baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid portal url %q: %w", baseURL, err)
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
			},
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		limiter: rate.NewLimiter(rate.Every(300*time.Millisecond), 1),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.resetSession(); err != nil {
		return nil, err
	}
	c.httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse // Redirects tell us whether we are logged in
	}
	return c, nil
}

func (c *Client) resetSession() error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("failed to create cookie jar: %w", err)
	}
	c.httpClient.Jar = jar
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range commonHeaders {
		req.Header.Set(k, v)
	}
	return req, nil
}

// doRequest waits for the rate limiter, performs req and reads the whole body.
func (c *Client) doRequest(req *http.Request) (*http.Response, []byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, nil, err
	}

	c.logger.Debug("request", "method", req.Method, "url", req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.Debug("response", "status", resp.StatusCode, "url", req.URL.String(), "bytes", len(body))
	return resp, body, nil
}

// Login starts a fresh session with the given credentials.
func (c *Client) Login(ctx context.Context, username, password string) error {
	if err := c.resetSession(); err != nil {
		return &LoginError{Stage: "get_form", Err: err}
	}

	form, err := c.getLoginForm(ctx)
	if err != nil {
		return err
	}

	form.Set("username", username)
	form.Set("password", password)
	return c.postLoginForm(ctx, form)
}

// getLoginForm fetches the login page and returns its hidden fields,
// including the CSRF token.
func (c *Client) getLoginForm(ctx context.Context) (url.Values, error) {
	req, err := c.newRequest(ctx, http.MethodGet, loginPath, nil)
	if err != nil {
		return nil, &LoginError{Stage: "get_form", LastURL: c.baseURL + loginPath, Err: err}
	}

	resp, body, err := c.doRequest(req)
	if err != nil {
		return nil, &LoginError{Stage: "get_form", LastURL: req.URL.String(), Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newLoginError("get_form", req, resp, body, fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, newLoginError("parse_form", req, resp, body, err)
	}

	form := url.Values{}
	doc.Find("form input[type='hidden']").Each(func(i int, s *goquery.Selection) {
		name, ok := s.Attr("name")
		if !ok || name == "" {
			return
		}
		value, _ := s.Attr("value")
		form.Set(name, value)
	})

	if !hasCSRFToken(form) {
		return nil, newLoginError("parse_form", req, resp, body, errors.New("csrf token not found in login form"))
	}
	return form, nil
}

func hasCSRFToken(form url.Values) bool {
	for name := range form {
		if strings.Contains(strings.ToLower(name), "csrf") {
			return true
		}
	}
	return false
}

func (c *Client) postLoginForm(ctx context.Context, form url.Values) error {
	req, err := c.newRequest(ctx, http.MethodPost, loginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return &LoginError{Stage: "post_form", LastURL: c.baseURL + loginPath, Err: err}
	}
	req.Header.Set("content-type", "application/x-www-form-urlencoded")

	resp, body, err := c.doRequest(req)
	if err != nil {
		return &LoginError{Stage: "post_form", LastURL: req.URL.String(), Err: err}
	}

	// A successful login redirects away from the login page; a rejected one
	// renders the form again or redirects back to it.
	if resp.StatusCode != http.StatusFound && resp.StatusCode != http.StatusSeeOther {
		return newLoginError("post_form", req, resp, body, fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}
	if isLoginRedirect(resp) {
		return newLoginError("post_form", req, resp, body, errors.New("credentials rejected"))
	}
	return nil
}

func isLoginRedirect(resp *http.Response) bool {
	location := resp.Header.Get("Location")
	if location == "" {
		return false
	}
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	return strings.HasSuffix(u.Path, loginPath)
}

func newLoginError(stage string, req *http.Request, resp *http.Response, body []byte, err error) *LoginError {
	le := &LoginError{
		Stage:      stage,
		LastURL:    req.URL.String(),
		LastStatus: resp.StatusCode,
		LastPage:   truncate(string(body), maxPagePreview),
		Err:        err,
	}
	if doc, perr := goquery.NewDocumentFromReader(bytes.NewReader(body)); perr == nil {
		le.PageTitle = strings.TrimSpace(doc.Find("title").First().Text())
	}
	return le
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// FetchRaw downloads the usage export for day. A day the portal has no data
// for yet yields an empty payload and no error.
func (c *Client) FetchRaw(ctx context.Context, day calendar.Date) ([]byte, error) {
	query := url.Values{}
	query.Set("date", day.String())
	query.Set("format", "csv")

	req, err := c.newRequest(ctx, http.MethodGet, exportPath+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("accept", "text/csv, */*; q=0.01")

	resp, body, err := c.doRequest(req)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusFound || resp.StatusCode == http.StatusSeeOther:
		if isLoginRedirect(resp) {
			return nil, ErrRedirectedToLogin
		}
		return nil, fmt.Errorf("unexpected redirect to %s", resp.Header.Get("Location"))
	case resp.StatusCode == http.StatusNoContent, resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	return body, nil
}
