package moodle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/moodlearchiver/internal/backend"
	"github.com/GriffinCanCode/moodlearchiver/internal/infrastructure/logging"
)

const (
	tokenPath      = "login/token.php"
	restPath       = "webservice/rest/server.php"
	pluginfilePath = "/pluginfile.php/"
	wsPluginfile   = "/webservice/pluginfile.php/"
)

var _ backend.Client = (*Client)(nil)

// Client talks to one LMS on behalf of one user
type Client struct {
	username string
	base     *url.URL
	err      error // set when the backend URL is unusable
	opts     Options
	exclude  []string
	logger   *logging.Logger

	resty   *resty.Client
	fetcher *retryablehttp.Client
	limiter *rate.Limiter

	mu     sync.RWMutex
	token  string // Protected by mu
	userID int64  // Protected by mu
	plan   *plan  // Protected by mu
}

// NewClient creates an unauthenticated client. An invalid backend URL is
// reported by the first call made on the client.
func NewClient(username, backendURL string, opts Options, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	c := &Client{
		username: username,
		opts:     opts,
		logger:   logger.Named("moodle"),
	}
	c.base, c.err = parseBackend(backendURL)

	// Retrying transport for idempotent file fetches
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = max(opts.Retries, 0)
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = nil
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if transport, ok := retryClient.HTTPClient.Transport.(*http.Transport); ok {
		transport.ResponseHeaderTimeout = opts.Timeout
	}
	c.fetcher = retryClient

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultOptions().UserAgent
	}
	c.resty = resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(max(opts.Retries, 0)).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(10*time.Second).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json").
		SetLogger(c.logger.Sugar())
	c.resty.SetTransport(retryClient.HTTPClient.Transport)

	if opts.RequestsPerSecond <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
	} else {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), max(int(opts.RequestsPerSecond), 1))
	}

	for _, pattern := range opts.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			c.logger.Warn("Ignoring invalid exclude pattern", zap.String("pattern", pattern))
			continue
		}
		c.exclude = append(c.exclude, pattern)
	}
	return c
}

// Username returns the user this client acts for
func (c *Client) Username() string {
	return c.username
}

// Authorize installs a previously issued token
func (c *Client) Authorize(token string, userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.userID = userID
}

// GetToken exchanges the password for a web service token
func (c *Client) GetToken(ctx context.Context, password string) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	req, err := c.request(ctx)
	if err != nil {
		return "", err
	}
	resp, err := req.
		SetFormData(map[string]string{
			"username": c.username,
			"password": password,
			"service":  c.opts.Service,
		}).
		Post(c.endpoint(tokenPath))
	if err != nil {
		return "", fmt.Errorf("login request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("login request failed: %s", resp.Status())
	}

	var result struct {
		Token string `json:"token"`
		tokenError
	}
	if err := sonic.Unmarshal(resp.Body(), &result); err != nil {
		return "", fmt.Errorf("unexpected login response: %w", err)
	}
	if result.Token == "" {
		apiErr := &APIError{Function: "login", Code: result.ErrorCode, Message: result.Error}
		if apiErr.Message == "" && apiErr.Code == "" {
			apiErr.Message = "login failed"
		}
		return "", apiErr
	}

	c.mu.Lock()
	c.token = result.Token
	c.userID = 0
	c.plan = nil
	c.mu.Unlock()

	c.logger.Debug("Token issued", zap.String("username", c.username))
	return result.Token, nil
}

// GetUserID resolves the token owner's id. Because it needs a valid token
// it doubles as a liveness check.
func (c *Client) GetUserID(ctx context.Context) (int64, error) {
	var info struct {
		UserID   int64  `json:"userid"`
		Username string `json:"username"`
		SiteName string `json:"sitename"`
	}
	if err := c.call(ctx, "core_webservice_get_site_info", nil, &info); err != nil {
		return 0, err
	}
	if info.UserID <= 0 {
		return 0, fmt.Errorf("site info returned no user id")
	}

	c.mu.Lock()
	c.userID = info.UserID
	c.mu.Unlock()
	return info.UserID, nil
}

// GetUserCourses lists the courses the user is enrolled in
func (c *Client) GetUserCourses(ctx context.Context) ([]backend.Course, error) {
	userID := c.currentUserID()
	if userID == 0 {
		var err error
		if userID, err = c.GetUserID(ctx); err != nil {
			return nil, err
		}
	}

	var courses []backend.Course
	params := map[string]string{"userid": strconv.FormatInt(userID, 10)}
	if err := c.call(ctx, "core_enrol_get_users_courses", params, &courses); err != nil {
		return nil, err
	}
	for i := range courses {
		if courses[i].DisplayName == "" {
			courses[i].DisplayName = courses[i].FullName
		}
	}
	return courses, nil
}

// call runs a web service function and decodes its JSON result into out
func (c *Client) call(ctx context.Context, function string, params map[string]string, out any) error {
	if c.err != nil {
		return c.err
	}
	token := c.currentToken()
	if token == "" {
		return ErrNotAuthenticated
	}
	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	resp, err := req.
		SetQueryParams(map[string]string{
			"wstoken":            token,
			"wsfunction":         function,
			"moodlewsrestformat": "json",
		}).
		SetFormData(params).
		Post(c.endpoint(restPath))
	if err != nil {
		return fmt.Errorf("%s: %w", function, scrub(err))
	}
	if resp.IsError() {
		return fmt.Errorf("%s: %s", function, resp.Status())
	}
	if err := decodeException(function, resp.Body()); err != nil {
		return err
	}
	if err := sonic.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%s: unexpected response: %w", function, err)
	}
	return nil
}

// request creates a rate limited request bound to ctx
func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.resty.R().SetContext(ctx), nil
}

func (c *Client) endpoint(path string) string {
	return c.base.ResolveReference(&url.URL{Path: path}).String()
}

// fileURL rewrites a content URL so the token authorizes the download
func (c *Client) fileURL(raw, token string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if strings.Contains(u.Path, pluginfilePath) && !strings.Contains(u.Path, wsPluginfile) {
		u.Path = strings.Replace(u.Path, pluginfilePath, wsPluginfile, 1)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) currentUserID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// parseBackend normalizes a backend URL to an absolute base ending in "/"
func parseBackend(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid backend URL %q: must be an absolute http(s) URL", raw)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// scrub drops the request URL from transport errors; it carries the token
func scrub(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
