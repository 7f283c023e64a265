package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"photorelay/internal/config"
)

// ErrUnresolvable marks postcodes the provider could not geocode. Callers
// treat it as bad input rather than an internal fault.
var ErrUnresolvable = errors.New("postcode could not be resolved")

// Location is a resolved coordinate pair.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Cache is the subset of the redis wrapper the geocoder needs. A nil cache
// disables caching entirely.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Client resolves postal codes through an external geocoding API, consulting
// the cache first so repeated submissions for the same postcode do not burn
// provider quota.
type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	cache    Cache
	cacheTTL time.Duration
}

// New constructs a geocoder client. httpClient must have a bounded timeout.
func New(cfg config.GeocoderConfig, httpClient *http.Client, cache Cache) *Client {
	ttl := time.Duration(cfg.CacheTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		http:     httpClient,
		cache:    cache,
		cacheTTL: ttl,
	}
}

type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Resolve returns the coordinates for a postal code. A single provider call,
// no retries; any non-OK provider status is reported as ErrUnresolvable.
func (c *Client) Resolve(ctx context.Context, postcode string) (Location, error) {
	postcode = strings.TrimSpace(postcode)
	if postcode == "" {
		return Location{}, fmt.Errorf("empty postcode: %w", ErrUnresolvable)
	}

	key := cacheKey(postcode)
	if c.cache != nil {
		if raw, err := c.cache.Get(ctx, key); err == nil {
			var loc Location
			if err := json.Unmarshal([]byte(raw), &loc); err == nil {
				return loc, nil
			}
		}
	}

	endpoint := fmt.Sprintf("%s?address=%s&key=%s", c.baseURL, url.QueryEscape(postcode), url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Location{}, fmt.Errorf("build geocode request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("geocode %q: %w", postcode, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Location{}, fmt.Errorf("geocode %q: status %d: %s: %w", postcode, resp.StatusCode, strings.TrimSpace(string(body)), ErrUnresolvable)
	}

	var decoded geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Location{}, fmt.Errorf("decode geocode response: %w", err)
	}
	if decoded.Status != "OK" || len(decoded.Results) == 0 {
		return Location{}, fmt.Errorf("geocode %q: provider status %q: %w", postcode, decoded.Status, ErrUnresolvable)
	}

	loc := Location{
		Latitude:  decoded.Results[0].Geometry.Location.Lat,
		Longitude: decoded.Results[0].Geometry.Location.Lng,
	}
	if c.cache != nil {
		if raw, err := json.Marshal(loc); err == nil {
			if err := c.cache.Set(ctx, key, string(raw), c.cacheTTL); err != nil {
				log.Printf("geocode: cache write for %q failed: %v", postcode, err)
			}
		}
	}
	return loc, nil
}

func cacheKey(postcode string) string {
	return "geocode:" + strings.ToUpper(strings.ReplaceAll(postcode, " ", ""))
}
