package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// BikeProvider fetches shared-bike availability from the nextbike live map.
type BikeProvider struct {
	name    string
	baseURL *url.URL
	getter  httpGetter
}

var _ Provider = (*BikeProvider)(nil)

// NewBikeProvider creates a bike availability client for the named provider
// at baseURL, e.g. "https://api.nextbike.net/maps/nextbike-live.json".
func NewBikeProvider(name, baseURL string, options ...Option) (*BikeProvider, error) {
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}
	u, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	return &BikeProvider{
		name:    name,
		baseURL: u,
		getter:  httpGetter{client: opts.client(), accept: acceptJSON},
	}, nil
}

func (p *BikeProvider) Name() string { return p.name }

// Fetch queries the live map. The canonical "near" pair and "radius" are
// translated into the lat, lng and distance parameters the nextbike API
// filters by.
func (p *BikeProvider) Fetch(ctx context.Context, params Params) ([]byte, error) {
	coord, ok := params["near"]
	if !ok {
		return nil, fmt.Errorf("near param required")
	}
	lat, lon, err := splitCoord(coord)
	if err != nil {
		return nil, fmt.Errorf("near param: %w", err)
	}
	values := url.Values{}
	values.Set("lat", lat)
	values.Set("lng", lon)
	if radius := params["radius"]; radius != "" {
		values.Set("distance", radius)
	}
	return p.getter.get(ctx, p.baseURL, values)
}

// Probe checks liveness with a minimal live-map query around the campus
// coordinate, requiring a decodable document with the countries list the
// API always carries.
func (p *BikeProvider) Probe(ctx context.Context) error {
	values := url.Values{}
	values.Set("lat", probeLatitude)
	values.Set("lng", probeLongitude)
	values.Set("distance", "100")

	body, err := p.getter.get(ctx, p.baseURL, values)
	if err != nil {
		return err
	}
	var doc struct {
		Countries []json.RawMessage `json:"countries"`
	}
	if err = json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("cannot decode live map: %w", err)
	}
	if doc.Countries == nil {
		return fmt.Errorf("live map response has no countries list")
	}
	return nil
}

func (p *BikeProvider) String() string {
	return fmt.Sprintf("%s (%s)", p.name, p.baseURL)
}
