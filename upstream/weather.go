package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// WeatherProvider fetches current weather from an OpenWeatherMap-compatible
// API.
type WeatherProvider struct {
	name    string
	baseURL *url.URL
	apiKey  string
	getter  httpGetter
}

var _ Provider = (*WeatherProvider)(nil)

// NewWeatherProvider creates a weather client for the named provider at
// baseURL, e.g. "https://api.openweathermap.org/data/2.5". The API key is
// added to every request.
func NewWeatherProvider(name, baseURL, apiKey string, options ...Option) (*WeatherProvider, error) {
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}
	if apiKey == "" {
		return nil, errors.New("weather api key required")
	}
	u, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	return &WeatherProvider{
		name:    name,
		baseURL: u,
		apiKey:  apiKey,
		getter:  httpGetter{client: opts.client(), accept: acceptJSON},
	}, nil
}

func (p *WeatherProvider) Name() string { return p.name }

// Fetch queries current weather for the canonical "near" coordinate pair,
// translated into the lat and lon parameters OpenWeatherMap expects. Units
// are metric.
func (p *WeatherProvider) Fetch(ctx context.Context, params Params) ([]byte, error) {
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
	values.Set("lon", lon)
	values.Set("appid", p.apiKey)
	values.Set("units", "metric")
	return p.getter.get(ctx, p.baseURL.JoinPath("weather"), values)
}

// Probe checks liveness by fetching weather for the campus coordinate.
func (p *WeatherProvider) Probe(ctx context.Context) error {
	_, err := p.Fetch(ctx, Params{
		"near": probeLatitude + "," + probeLongitude,
	})
	return err
}

func (p *WeatherProvider) String() string {
	return fmt.Sprintf("%s (%s)", p.name, p.baseURL)
}
