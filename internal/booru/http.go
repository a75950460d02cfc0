package booru

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	pageSize        = 100
	maxResponseSize = 8 << 20
)

// Credentials are optional provider API credentials.
type Credentials struct {
	Login  string
	APIKey string
}

// Options configures the provider clients built by NewClient.
type Options struct {
	HTTP       *http.Client
	UserAgent  string
	RatePerSec float64 // per provider; <= 0 disables limiting
	Burst      int

	// BaseURL overrides the provider API root (tests, mirrors).
	BaseURL     string
	Credentials Credentials
}

// sharedTransport is tuned for many concurrent provider requests.
var sharedTransport = func() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 100
	t.MaxIdleConnsPerHost = 16
	t.IdleConnTimeout = 30 * time.Second
	t.ResponseHeaderTimeout = 20 * time.Second
	return t
}()

// DefaultHTTPClient has no overall timeout; callers bound requests with ctx.
func DefaultHTTPClient() *http.Client {
	return &http.Client{Transport: sharedTransport}
}

// fetcher holds what every provider client shares.
type fetcher struct {
	id        ID
	base      string
	http      *http.Client
	userAgent string
	limiter   *rate.Limiter
	creds     Credentials
}

func newFetcher(id ID, defaultBase string, opt Options) fetcher {
	base := strings.TrimRight(strings.TrimSpace(opt.BaseURL), "/")
	if base == "" {
		base = defaultBase
	}
	hc := opt.HTTP
	if hc == nil {
		hc = DefaultHTTPClient()
	}
	ua := strings.TrimSpace(opt.UserAgent)
	if ua == "" {
		ua = "boorubot/1.0"
	}
	var lim *rate.Limiter
	if opt.RatePerSec > 0 {
		burst := opt.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(opt.RatePerSec), burst)
	}
	return fetcher{id: id, base: base, http: hc, userAgent: ua, limiter: lim, creds: opt.Credentials}
}

// getJSON performs a rate-limited GET and decodes the JSON body into out.
// An empty body decodes to nothing and is not an error; several boorus answer
// an empty page that way.
func (f fetcher) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: rate limit: %w", f.id, err)
		}
	}
	u := f.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", f.id, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", f.id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: %w: %d", f.id, ErrStatus, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%s: read body: %w", f.id, err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode: %w", f.id, err)
	}
	return nil
}

// tagQuery joins tags with spaces, adding the explicit rating tag when asked.
func tagQuery(tags []string, explicit bool, ratingTag string) string {
	parts := make([]string, 0, len(tags)+1)
	parts = append(parts, tags...)
	if explicit && ratingTag != "" {
		parts = append(parts, ratingTag)
	}
	return strings.Join(parts, " ")
}

// absoluteURL fixes protocol-relative and host-relative URLs some boorus return.
func absoluteURL(base, raw string) string {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return ""
	case strings.HasPrefix(raw, "//"):
		return "https:" + raw
	case strings.HasPrefix(raw, "/"):
		return strings.TrimRight(base, "/") + raw
	default:
		return raw
	}
}
