// Package forge fetches module releases from a Puppet Forge compatible API.
package forge

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/git-pkgs/registries"
	"github.com/rs/zerolog"
	circuit "github.com/rubyist/circuitbreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/moddeps/pkg/constraint"
	"github.com/openfroyo/moddeps/pkg/engine"
)

// DefaultURL is the public Forge API.
const DefaultURL = "https://forgeapi.puppet.com"

const (
	pageLimit = 100
	maxPages  = 50
)

// ErrUnavailable is returned while the circuit breaker for a Forge host is
// open.
var ErrUnavailable = errors.New("forge unavailable")

var tracer = otel.Tracer("github.com/openfroyo/moddeps/pkg/providers/forge")

// Client is an engine.Registry backed by the Forge v3 API.
type Client struct {
	baseURL       string
	http          *registries.Client
	puppetVersion string
	logger        zerolog.Logger

	mu       sync.Mutex
	breakers map[string]*circuit.Breaker
	releases map[string][]release
	owners   map[string]string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another Forge.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient replaces the registries HTTP client.
func WithHTTPClient(hc *registries.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithPuppetVersion discards releases whose puppet requirement excludes
// version.
func WithPuppetVersion(version string) Option {
	return func(c *Client) { c.puppetVersion = version }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a Forge client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:  DefaultURL,
		logger:   zerolog.Nop(),
		breakers: make(map[string]*circuit.Breaker),
		releases: make(map[string][]release),
		owners:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = registries.DefaultClient().WithUserAgent("moddeps")
	}
	return c
}

type releaseList struct {
	Pagination struct {
		Next *string `json:"next"`
	} `json:"pagination"`
	Results []release `json:"results"`
}

type release struct {
	Version   string          `json:"version"`
	DeletedAt *string         `json:"deleted_at"`
	Metadata  releaseMetadata `json:"metadata"`
}

type releaseMetadata struct {
	Dependencies []dependency `json:"dependencies"`
	Requirements []dependency `json:"requirements"`
}

type dependency struct {
	Name               string `json:"name"`
	VersionRequirement string `json:"version_requirement"`
}

type moduleList struct {
	Results []struct {
		Name  string `json:"name"`
		Owner struct {
			Username string `json:"username"`
		} `json:"owner"`
	} `json:"results"`
}

// FetchModule returns the highest release of ref allowed by c. A module the
// Forge does not know is reported as engine.ErrNotFound.
func (c *Client) FetchModule(ctx context.Context, ref engine.ModuleRef, con constraint.Constraint) (*engine.ModuleRecord, error) {
	ctx, span := tracer.Start(ctx, "forge.fetch", trace.WithAttributes(
		attribute.String("moddeps.module", ref.Slug()),
		attribute.String("moddeps.constraint", con.String()),
	))
	defer span.End()

	rec, err := c.fetchModule(ctx, ref, con)
	if err != nil && !errors.Is(err, engine.ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return rec, err
}

func (c *Client) fetchModule(ctx context.Context, ref engine.ModuleRef, con constraint.Constraint) (*engine.ModuleRecord, error) {
	if ref.Owner == "" {
		owner, err := c.lookupOwner(ctx, ref.Name)
		if err != nil {
			return nil, err
		}
		ref.Owner = owner
	}

	releases, err := c.listReleases(ctx, ref)
	if err != nil {
		return nil, err
	}

	byVersion := make(map[string]release, len(releases))
	versions := make([]string, 0, len(releases))
	for _, r := range releases {
		if !c.compatible(r) {
			continue
		}
		byVersion[r.Version] = r
		versions = append(versions, r.Version)
	}

	version, ok := con.Select(versions)
	if !ok {
		return nil, fmt.Errorf("no release of %s satisfies %s", ref.Slug(), con)
	}

	deps, err := requirements(byVersion[version].Metadata.Dependencies)
	if err != nil {
		return nil, fmt.Errorf("release %s@%s: %w", ref.Slug(), version, err)
	}

	c.logger.Debug().
		Str("module", ref.Slug()).
		Str("constraint", con.String()).
		Str("version", version).
		Int("candidates", len(versions)).
		Msg("Release selected")

	return &engine.ModuleRecord{
		Owner:        ref.Owner,
		Name:         ref.Name,
		Version:      version,
		Dependencies: deps,
		Source:       engine.SourceRegistry,
	}, nil
}

// compatible drops deleted releases and, when a puppet version is known,
// releases whose puppet requirement excludes it.
func (c *Client) compatible(r release) bool {
	if r.DeletedAt != nil {
		return false
	}
	if c.puppetVersion == "" {
		return true
	}
	for _, req := range r.Metadata.Requirements {
		if req.Name != "puppet" {
			continue
		}
		con, err := constraint.Parse(req.VersionRequirement)
		if err != nil {
			return true
		}
		return con.Allows(c.puppetVersion)
	}
	return true
}

func requirements(deps []dependency) ([]engine.Requirement, error) {
	out := make([]engine.Requirement, 0, len(deps))
	for _, d := range deps {
		ref, err := engine.ParseModuleRef(d.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, engine.Requirement{Name: ref.Name, Owner: ref.Owner, Constraint: d.VersionRequirement})
	}
	return out, nil
}

// listReleases pages through /v3/releases. Results are cached per module.
func (c *Client) listReleases(ctx context.Context, ref engine.ModuleRef) ([]release, error) {
	slug := ref.Slug()

	c.mu.Lock()
	cached, ok := c.releases[slug]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	q := url.Values{}
	q.Set("module", slug)
	q.Set("limit", fmt.Sprint(pageLimit))
	q.Set("show_deleted", "false")
	next := "/v3/releases?" + q.Encode()

	var all []release
	for page := 0; next != ""; page++ {
		if page == maxPages {
			c.logger.Warn().Str("module", slug).Int("pages", page).Msg("Release listing truncated")
			break
		}

		var list releaseList
		found, err := c.getJSON(ctx, c.baseURL+next, &list)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, engine.ErrNotFound
		}

		all = append(all, list.Results...)
		next = ""
		if list.Pagination.Next != nil {
			next = *list.Pagination.Next
		}
	}

	if len(all) == 0 {
		return nil, engine.ErrNotFound
	}

	c.mu.Lock()
	c.releases[slug] = all
	c.mu.Unlock()
	return all, nil
}

// lookupOwner finds the owner of a module given only its short name.
func (c *Client) lookupOwner(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	owner, ok := c.owners[name]
	c.mu.Unlock()
	if ok {
		return owner, nil
	}

	q := url.Values{}
	q.Set("query", name)
	q.Set("limit", "20")

	var list moduleList
	found, err := c.getJSON(ctx, c.baseURL+"/v3/modules?"+q.Encode(), &list)
	if err != nil {
		return "", err
	}
	if found {
		for _, m := range list.Results {
			if m.Name == name && m.Owner.Username != "" {
				owner = m.Owner.Username
				break
			}
		}
	}
	if owner == "" {
		return "", engine.ErrNotFound
	}

	c.mu.Lock()
	c.owners[name] = owner
	c.mu.Unlock()
	return owner, nil
}

// getJSON fetches rawURL through the host's circuit breaker. A 404 returns
// found=false and does not count as a failure.
func (c *Client) getJSON(ctx context.Context, rawURL string, v interface{}) (bool, error) {
	host := hostOf(rawURL)
	breaker := c.breaker(host)

	if !breaker.Ready() {
		return false, fmt.Errorf("circuit breaker open for %s: %w", host, ErrUnavailable)
	}

	found := true
	err := breaker.Call(func() error {
		err := c.http.GetJSON(ctx, rawURL, v)
		var httpErr *registries.HTTPError
		if errors.As(err, &httpErr) && httpErr.IsNotFound() {
			found = false
			return nil
		}
		return err
	}, 0)
	if err != nil {
		return false, err
	}
	return found, nil
}

func (c *Client) breaker(host string) *circuit.Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.breakers[host]; ok {
		return b
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	b := circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(5),
	})
	c.breakers[host] = b
	return b
}

// BreakerStates reports open or closed per Forge host.
func (c *Client) BreakerStates() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	states := make(map[string]string, len(c.breakers))
	for host, b := range c.breakers {
		if b.Tripped() {
			states[host] = "open"
		} else {
			states[host] = "closed"
		}
	}
	return states
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
