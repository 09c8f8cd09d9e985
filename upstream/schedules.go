package upstream

import (
	"context"
	"fmt"
	"net/url"
)

// ScheduleProvider fetches course-schedule documents from the university
// course registry by study regulation and semester.
type ScheduleProvider struct {
	name    string
	baseURL *url.URL
	getter  httpGetter
}

var _ Provider = (*ScheduleProvider)(nil)

// NewScheduleProvider creates a schedule client for the named provider at
// baseURL.
func NewScheduleProvider(name, baseURL string, options ...Option) (*ScheduleProvider, error) {
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}
	u, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	return &ScheduleProvider{
		name:    name,
		baseURL: u,
		getter:  httpGetter{client: opts.client(), accept: acceptHTML},
	}, nil
}

func (p *ScheduleProvider) Name() string { return p.name }

// Fetch retrieves the schedule document selected by the "stupo" and
// "semester" params.
func (p *ScheduleProvider) Fetch(ctx context.Context, params Params) ([]byte, error) {
	if params["stupo"] == "" {
		return nil, fmt.Errorf("stupo param required")
	}
	if params["semester"] == "" {
		return nil, fmt.Errorf("semester param required")
	}
	return p.getter.get(ctx, p.baseURL, paramValues(params))
}

// Probe checks that the registry page answers at all. The registry has no
// cheap data endpoint, so reachability is the liveness signal.
func (p *ScheduleProvider) Probe(ctx context.Context) error {
	_, err := p.getter.get(ctx, p.baseURL, nil)
	if err != nil {
		log.Debugw("Schedule registry unreachable", "provider", p.name, "err", err)
	}
	return err
}

func (p *ScheduleProvider) String() string {
	return fmt.Sprintf("%s (%s)", p.name, p.baseURL)
}
