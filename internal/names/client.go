package names

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/quailyquaily/peerchat/peerchat"
)

const (
	DefaultRatePerSecond = 5
	DefaultBurst         = 5
	DefaultTimeout       = 5 * time.Second
	maxResponseBytes     = 64 * 1024
)

type ClientOptions struct {
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Client resolves names against a remote name directory. Lookups are
// throttled because a search field issues one per keystroke.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

type nameResponse struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Symbol string `json:"symbol"`
}

func NewClient(baseURL string, opts ClientOptions) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid name directory url %q", baseURL)
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = DefaultRatePerSecond
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		http:    opts.HTTPClient,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		logger:  opts.Logger,
	}, nil
}

func (c *Client) ResolveName(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if err := c.limiter.Wait(ctx); err != nil {
		return "", peerchat.WrapCause(peerchat.ErrResolution, err, "rate limit wait")
	}
	endpoint := c.baseURL + "/v1/names/" + url.PathEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", peerchat.WrapCause(peerchat.ErrResolution, err, "build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", peerchat.WrapCause(peerchat.ErrResolution, err, "query name directory")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", peerchat.WrapCause(peerchat.ErrResolution, err, "read name directory response")
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", peerchat.WrapError(peerchat.ErrNameNotFound, "%s", name)
	default:
		var e errorResponse
		_ = json.Unmarshal(body, &e)
		c.logger.Warn("name directory error", "name", name, "status", resp.StatusCode, "error", e.Error)
		return "", peerchat.WrapError(peerchat.ErrResolution, "name directory returned %d", resp.StatusCode)
	}

	var out nameResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", peerchat.WrapCause(peerchat.ErrResolution, err, "decode name directory response")
	}
	return strings.TrimSpace(out.Address), nil
}
