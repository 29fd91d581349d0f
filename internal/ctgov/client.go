// Package ctgov fetches study records from the ClinicalTrials.gov Data API v2.
package ctgov

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"trialwhisperer/internal/domain"
	"trialwhisperer/internal/retry"
)

const (
	DefaultBaseURL   = "https://clinicaltrials.gov/api/v2"
	DefaultUserAgent = "trial-whisperer/ingest (+https://clinicaltrials.gov)"
)

// ErrMalformedResponse is returned when a page is not the expected JSON shape.
var ErrMalformedResponse = errors.New("ctgov: malformed response")

// Config configures the registry client.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// RatePerSecond paces page requests; zero disables pacing.
	RatePerSecond float64
	Retry         retry.Policy
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
	}
}

type page struct {
	Studies       []json.RawMessage `json:"studies"`
	NextPageToken string            `json:"nextPageToken"`
}

// FetchStudies pages through /studies until the registry stops returning a
// page token or maxStudies records have been collected. maxStudies <= 0 means
// no limit. Caller supplied pageSize and format parameters win over the
// arguments.
func (c *Client) FetchStudies(ctx context.Context, params map[string]any, pageSize, maxStudies int) ([]json.RawMessage, error) {
	base := FlattenParams(params)
	if pageSize > 0 && base.Get("pageSize") == "" {
		base.Set("pageSize", strconv.Itoa(pageSize))
	}
	if base.Get("format") == "" {
		base.Set("format", "json")
	}

	var collected []json.RawMessage
	token := ""
	for {
		q := url.Values{}
		for k, v := range base {
			q[k] = append([]string(nil), v...)
		}
		if token != "" {
			q.Set("pageToken", token)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return collected, err
		}
		var p page
		err := c.cfg.Retry.Do(ctx, func(ctx context.Context) error {
			var err error
			p, err = c.fetchPage(ctx, q)
			return err
		})
		if err != nil {
			return collected, err
		}
		collected = append(collected, p.Studies...)
		c.log.Debug("fetched studies page", zap.Int("page_size", len(p.Studies)), zap.Int("total", len(collected)))

		if maxStudies > 0 && len(collected) >= maxStudies {
			return collected[:maxStudies], nil
		}
		if p.NextPageToken == "" {
			return collected, nil
		}
		token = p.NextPageToken
	}
}

func (c *Client) fetchPage(ctx context.Context, q url.Values) (page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/studies?"+q.Encode(), nil)
	if err != nil {
		return page{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return page{}, &domain.ProviderError{Provider: "ctgov", Op: "fetch", Temporary: true, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return page{}, &domain.ProviderError{Provider: "ctgov", Op: "fetch", Temporary: true, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return page{}, domain.NewHTTPProviderError("ctgov", "fetch", resp.StatusCode,
			retry.ParseRetryAfter(resp.Header.Get("Retry-After")), errors.New(msg))
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return page{}, fmt.Errorf("%w: invalid JSON: %v", ErrMalformedResponse, err)
	}
	studies, ok := raw["studies"]
	if !ok || len(studies) == 0 || studies[0] != '[' {
		return page{}, fmt.Errorf("%w: missing 'studies' list", ErrMalformedResponse)
	}
	var p page
	if err := json.Unmarshal(body, &p); err != nil {
		return page{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return p, nil
}

// FlattenParams turns config values into query parameters. Lists are joined
// with commas and nil entries are dropped.
func FlattenParams(params map[string]any) url.Values {
	out := url.Values{}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vals := Values(params[k])
		if len(vals) == 0 {
			continue
		}
		out.Set(k, strings.Join(vals, ","))
	}
	return out
}

// Values renders one parameter value as a list of strings.
func Values(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
		return nil
	case []string:
		var out []string
		for _, s := range t {
			out = append(out, Values(s)...)
		}
		return out
	case []any:
		var out []string
		for _, item := range t {
			out = append(out, Values(item)...)
		}
		return out
	default:
		return []string{fmt.Sprint(t)}
	}
}
