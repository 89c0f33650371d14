// Package sites looks up the coordinates of the home provider's regional
// sites. The site list is fetched once and kept for the process lifetime.
package sites

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"go.ntppool.org/common/logger"

	"go.ntppool.org/dnsresults/client/provider"
)

const sitesPath = "/api/config/namespaces/system/sites"

// Requester makes provider API calls; *provider.Client implements it.
type Requester interface {
	Request(ctx context.Context, call, method, path string, query url.Values, body, out any) error
}

type siteListResponse struct {
	Items []struct {
		Name    string `json:"name"`
		GetSpec struct {
			Coordinates *struct {
				Latitude  *float64 `json:"latitude"`
				Longitude *float64 `json:"longitude"`
			} `json:"coordinates"`
		} `json:"get_spec"`
	} `json:"items"`
}

// Lister returns all known sites and their coordinates.
type Lister interface {
	ListSites(ctx context.Context) (map[string]provider.Coordinates, error)
}

// Client lists sites from the provider API.
type Client struct {
	req Requester
}

func NewClient(req Requester) *Client {
	return &Client{req: req}
}

func (c *Client) ListSites(ctx context.Context) (map[string]provider.Coordinates, error) {
	q := url.Values{}
	q.Set("report_fields", "")

	var resp siteListResponse
	err := c.req.Request(ctx, provider.CallListSites, http.MethodGet, sitesPath, q, nil, &resp)
	if err != nil {
		return nil, err
	}

	sites := make(map[string]provider.Coordinates, len(resp.Items))
	for _, item := range resp.Items {
		coords := item.GetSpec.Coordinates
		if len(item.Name) == 0 || coords == nil || coords.Latitude == nil || coords.Longitude == nil {
			continue
		}
		sites[item.Name] = provider.Coordinates{
			Latitude:  *coords.Latitude,
			Longitude: *coords.Longitude,
		}
	}
	return sites, nil
}

// Registry caches the site list. A failed fetch isn't cached so the next
// lookup tries again.
type Registry struct {
	src Lister
	log *slog.Logger

	lock   sync.Mutex
	sites  map[string]provider.Coordinates
	loaded bool
}

func NewRegistry(ctx context.Context, src Lister) *Registry {
	return &Registry{
		src: src,
		log: logger.FromContext(ctx).WithGroup("sites"),
	}
}

// Sites returns the site coordinates, fetching them on first use. The
// returned map must not be modified.
func (r *Registry) Sites(ctx context.Context) (map[string]provider.Coordinates, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.loaded {
		return r.sites, nil
	}

	sites, err := r.src.ListSites(ctx)
	if err != nil {
		return nil, err
	}

	r.log.InfoContext(ctx, "loaded site registry", "sites", len(sites))

	r.sites = sites
	r.loaded = true
	return r.sites, nil
}

// Lookup returns the coordinates of a site. ok is false when the registry
// doesn't know the site.
func (r *Registry) Lookup(ctx context.Context, name string) (provider.Coordinates, bool, error) {
	sites, err := r.Sites(ctx)
	if err != nil {
		return provider.Coordinates{}, false, err
	}
	c, ok := sites[name]
	return c, ok, nil
}
