package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// TransitProvider fetches public-transport journeys from a transport.rest
// deployment. BVG and VBB expose the same API surface, so a failover pair
// is simply two TransitProvider instances with different base URLs.
type TransitProvider struct {
	name    string
	baseURL *url.URL
	getter  httpGetter
}

var _ Provider = (*TransitProvider)(nil)

// NewTransitProvider creates a transit routing client for the named
// provider at baseURL, e.g. "https://v6.bvg.transport.rest".
func NewTransitProvider(name, baseURL string, options ...Option) (*TransitProvider, error) {
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}
	u, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	return &TransitProvider{
		name:    name,
		baseURL: u,
		getter:  httpGetter{client: opts.client(), accept: acceptJSON},
	}, nil
}

func (p *TransitProvider) Name() string { return p.name }

// maxJourneys bounds the number of route options requested per journey
// query.
const maxJourneys = "3"

// Fetch queries the journeys endpoint. The canonical "from" and "to"
// coordinate pairs are translated into the per-axis query parameters the
// transport.rest API expects for coordinate trips; the address form carries
// the pair so the API treats each endpoint as a free location rather than a
// stop.
func (p *TransitProvider) Fetch(ctx context.Context, params Params) ([]byte, error) {
	values := url.Values{}
	for _, side := range []string{"from", "to"} {
		coord, ok := params[side]
		if !ok {
			return nil, fmt.Errorf("%s param required", side)
		}
		lat, lon, err := splitCoord(coord)
		if err != nil {
			return nil, fmt.Errorf("%s param: %w", side, err)
		}
		values.Set(side+".latitude", lat)
		values.Set(side+".longitude", lon)
		values.Set(side+".address", coord)
	}
	if departure := params["departure"]; departure != "" {
		values.Set("departure", departure)
	}
	values.Set("results", maxJourneys)
	return p.getter.get(ctx, p.baseURL.JoinPath("journeys"), values)
}

// Probe checks liveness by asking for stops near a fixed campus coordinate.
// A working deployment returns a non-empty list; an empty or malformed
// response counts as a failure even with a 200 status.
func (p *TransitProvider) Probe(ctx context.Context) error {
	values := url.Values{}
	values.Set("latitude", probeLatitude)
	values.Set("longitude", probeLongitude)
	values.Set("results", "1")

	body, err := p.getter.get(ctx, p.baseURL.JoinPath("locations", "nearby"), values)
	if err != nil {
		return err
	}
	var stops []json.RawMessage
	if err = json.Unmarshal(body, &stops); err != nil {
		return fmt.Errorf("cannot decode nearby stops: %w", err)
	}
	if len(stops) == 0 {
		return fmt.Errorf("no stops near probe coordinate")
	}
	return nil
}

func (p *TransitProvider) String() string {
	return fmt.Sprintf("%s (%s)", p.name, p.baseURL)
}
