package upstream

import (
	"context"
	"fmt"
	"net/url"
)

// MenuProvider fetches cafeteria weekly-menu documents. How the document is
// turned into structured dishes is the normalizer's business; this client
// only retrieves it.
type MenuProvider struct {
	name    string
	getter  httpGetter
	menuURL map[string]*url.URL
}

var _ Provider = (*MenuProvider)(nil)

// NewMenuProvider creates a menu client for the named provider. The menus
// map gives the document URL for each cafeteria by its identifier.
func NewMenuProvider(name string, menus map[string]string, options ...Option) (*MenuProvider, error) {
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}
	if len(menus) == 0 {
		return nil, fmt.Errorf("no cafeterias configured")
	}
	menuURL := make(map[string]*url.URL, len(menus))
	for mensa, menuAddr := range menus {
		u, err := parseBaseURL(menuAddr)
		if err != nil {
			return nil, fmt.Errorf("cafeteria %s: %w", mensa, err)
		}
		menuURL[mensa] = u
	}
	return &MenuProvider{
		name:    name,
		getter:  httpGetter{client: opts.client(), accept: acceptHTML},
		menuURL: menuURL,
	}, nil
}

func (p *MenuProvider) Name() string { return p.name }

// Fetch retrieves the weekly-menu document for the cafeteria named by the
// "mensa" param.
func (p *MenuProvider) Fetch(ctx context.Context, params Params) ([]byte, error) {
	mensa := params["mensa"]
	u, ok := p.menuURL[mensa]
	if !ok {
		return nil, fmt.Errorf("unknown cafeteria: %q", mensa)
	}
	return p.getter.get(ctx, u, nil)
}

// Probe checks liveness by fetching one configured menu document.
func (p *MenuProvider) Probe(ctx context.Context) error {
	for mensa := range p.menuURL {
		_, err := p.Fetch(ctx, Params{"mensa": mensa})
		return err
	}
	return nil
}

func (p *MenuProvider) String() string {
	return fmt.Sprintf("%s (%d cafeterias)", p.name, len(p.menuURL))
}
