package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("upstream")

// Campus reference coordinate used by liveness probes. Probes only need a
// request that any working deployment of the upstream can answer.
const (
	probeLatitude  = "52.5090"
	probeLongitude = "13.3323"
)

const (
	acceptJSON = "application/json"
	acceptHTML = "text/html"
)

// httpGetter is the shared GET helper behind every provider client. The
// accept value is per client: the API clients ask for JSON, the scraped
// menu and schedule clients for HTML.
type httpGetter struct {
	client *http.Client
	accept string
}

// get issues a GET for u with the given query values and returns the
// response body. A non-success status is returned as a StatusError.
func (g *httpGetter) get(ctx context.Context, u *url.URL, values url.Values) ([]byte, error) {
	target := *u
	if values != nil {
		target.RawQuery = values.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	if g.accept != "" {
		req.Header.Add("Accept", g.accept)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse(resp.StatusCode, body)
	}
	return body, nil
}

// parseBaseURL validates and parses a provider base URL.
func parseBaseURL(baseURL string) (*url.URL, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("url must have http or https scheme: %s", baseURL)
	}
	return u, nil
}

// paramValues converts normalized params into a URL query.
func paramValues(params Params) url.Values {
	values := make(url.Values, len(params))
	for key, value := range params {
		values.Set(key, value)
	}
	return values
}

// splitCoord splits a canonical "lat,lon" parameter value into its parts.
func splitCoord(coord string) (lat, lon string, err error) {
	lat, lon, found := strings.Cut(coord, ",")
	if !found || lat == "" || lon == "" {
		return "", "", fmt.Errorf("malformed coordinate pair: %q", coord)
	}
	return lat, lon, nil
}
