package resolver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/C0NZZ/better-teletask/crawler/config"
	"github.com/C0NZZ/better-teletask/crawler/observability"
)

// Status classifies a portal response for one lecture ID.
type Status int

const (
	StatusOK           Status = iota // lecture page reachable
	StatusUnauthorized               // 401, session cookie missing or stale
	StatusForbidden                  // 403, happens sporadically
	StatusNotFound                   // 404, not published yet
	StatusUnavailable                // transport error, timeout or open breaker
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUnauthorized:
		return "unauthorized"
	case StatusForbidden:
		return "forbidden"
	case StatusNotFound:
		return "not_found"
	case StatusUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Client talks to the lecture portal. Probes are rate limited so refresh
// cycles do not hammer the portal, and all requests go through a circuit
// breaker that opens after consecutive transport failures.
type Client struct {
	base    string
	http    *http.Client
	cred    *config.Credential
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

// NewClient creates a portal client. base is the lecture video page prefix
// the lecture ID is appended to.
func NewClient(base string, cred *config.Credential, log *zap.SugaredLogger) *Client {
	return &Client{
		base: base,
		http: &http.Client{Timeout: 15 * time.Second},
		cred: cred,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "teletask-portal",
			Timeout: time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warnw("portal circuit breaker state change", "from", from.String(), "to", to.String())
			},
		}),
		// One probe per second with a little burst headroom; the refresh
		// windows are small, so this just keeps cycles polite.
		limiter: rate.NewLimiter(rate.Limit(1), 3),
		log:     log,
	}
}

func (c *Client) pageURL(id int64) string {
	return fmt.Sprintf("%s%d/", c.base, id)
}

// get performs one portal request through the circuit breaker. Only
// transport errors count as breaker failures; HTTP error statuses are
// meaningful results.
func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		if cookie := c.cred.Get(); cookie != "" {
			req.AddCookie(&http.Cookie{Name: "username", Value: cookie})
		}
		return c.http.Do(req)
	})
	if err != nil {
		return nil, err
	}
	return res.(*http.Response), nil
}

// Probe checks whether the portal currently serves the lecture page for
// id. On a 401 the session credential is refreshed from its source so the
// next probe uses the rotated cookie.
func (c *Client) Probe(ctx context.Context, id int64) Status {
	st := c.probe(ctx, id)
	observability.ProbeResults.WithLabelValues(st.String()).Inc()
	return st
}

func (c *Client) probe(ctx context.Context, id int64) Status {
	if err := c.limiter.Wait(ctx); err != nil {
		return StatusUnavailable
	}
	resp, err := c.get(ctx, c.pageURL(id))
	if err != nil {
		c.log.Debugw("probe failed", "id", id, "error", err)
		return StatusUnavailable
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return StatusOK
	case http.StatusUnauthorized:
		c.cred.Refresh()
		return StatusUnauthorized
	case http.StatusForbidden:
		return StatusForbidden
	case http.StatusNotFound:
		return StatusNotFound
	default:
		c.log.Debugw("probe: unexpected status", "id", id, "status", resp.StatusCode)
		return StatusUnavailable
	}
}
