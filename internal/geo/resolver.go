package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mbd888/riskgate/internal/circuitbreaker"
)

// ErrResolution means the location could not be resolved. Callers treat the
// location as unknown rather than failing the payment.
var ErrResolution = errors.New("geo: resolution failed")

// Resolver maps an IP address to a location.
type Resolver interface {
	ResolveIP(ctx context.Context, ip string) (Location, error)
}

// StaticResolver resolves from a fixed table. Unknown IPs fail.
type StaticResolver map[string]Location

func (r StaticResolver) ResolveIP(_ context.Context, ip string) (Location, error) {
	loc, ok := r[ip]
	if !ok {
		return Location{}, fmt.Errorf("%w: no entry for %s", ErrResolution, ip)
	}
	return loc, nil
}

// HTTPResolver queries an ip-api style JSON endpoint. The base URL must
// contain a "{ip}" placeholder, e.g. "http://ip-api.com/json/{ip}".
type HTTPResolver struct {
	urlTemplate string
	client      *http.Client
}

// NewHTTPResolver creates a resolver for urlTemplate.
func NewHTTPResolver(urlTemplate string, client *http.Client) *HTTPResolver {
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}
	return &HTTPResolver{urlTemplate: urlTemplate, client: client}
}

type ipAPIResponse struct {
	Status      string   `json:"status"`
	Message     string   `json:"message"`
	CountryCode string   `json:"countryCode"`
	Region      string   `json:"region"`
	City        string   `json:"city"`
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
}

func (r *HTTPResolver) ResolveIP(ctx context.Context, ip string) (Location, error) {
	if net.ParseIP(ip) == nil {
		return Location{}, backoff.Permanent(fmt.Errorf("%w: invalid ip %q", ErrResolution, ip))
	}

	endpoint := strings.ReplaceAll(r.urlTemplate, "{ip}", url.PathEscape(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Location{}, backoff.Permanent(fmt.Errorf("%w: %v", ErrResolution, err))
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %v", ErrResolution, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return Location{}, fmt.Errorf("%w: status %d", ErrResolution, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return Location{}, backoff.Permanent(fmt.Errorf("%w: status %d", ErrResolution, resp.StatusCode))
	}

	var body ipAPIResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("%w: decode: %v", ErrResolution, err)
	}
	if body.Status != "" && body.Status != "success" {
		return Location{}, backoff.Permanent(fmt.Errorf("%w: %s", ErrResolution, body.Message))
	}

	return Location{
		Country:   body.CountryCode,
		Region:    body.Region,
		City:      body.City,
		Latitude:  body.Lat,
		Longitude: body.Lon,
	}, nil
}

// ResilientResolver retries a resolver at most once and trips a circuit
// breaker on repeated failures. Every failure it returns wraps ErrResolution.
type ResilientResolver struct {
	inner    Resolver
	name     string
	breaker  *circuitbreaker.Breaker
	retryGap time.Duration
	logger   *slog.Logger
}

// NewResilientResolver wraps inner. name keys the circuit breaker.
func NewResilientResolver(inner Resolver, name string, breaker *circuitbreaker.Breaker, logger *slog.Logger) *ResilientResolver {
	if breaker == nil {
		breaker = circuitbreaker.New(5, 30*time.Second)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResilientResolver{
		inner:    inner,
		name:     name,
		breaker:  breaker,
		retryGap: 200 * time.Millisecond,
		logger:   logger,
	}
}

// WithRetryGap overrides the pause before the single retry.
func (r *ResilientResolver) WithRetryGap(d time.Duration) *ResilientResolver {
	r.retryGap = d
	return r
}

func (r *ResilientResolver) ResolveIP(ctx context.Context, ip string) (Location, error) {
	var loc Location
	err := r.breaker.Execute("geo:"+r.name, func() error {
		policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(r.retryGap), 1), ctx)
		return backoff.Retry(func() error {
			var err error
			loc, err = r.inner.ResolveIP(ctx, ip)
			return err
		}, policy)
	})
	if err == nil {
		return loc, nil
	}

	r.logger.Debug("geolocation failed", "resolver", r.name, "ip", ip, "error", err)
	if errors.Is(err, ErrResolution) {
		return Location{}, err
	}
	return Location{}, fmt.Errorf("%w: %w", ErrResolution, err)
}
