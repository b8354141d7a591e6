// Package resolver turns user-supplied formula references into the ordered,
// platform-resolved install plan the Installer executes: it fetches formula
// metadata (from the canonical JSON API or a tap's Ruby source), computes
// the transitive dependency closure, topologically sorts it, and selects a
// bottle archive per formula for the host platform.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zerobrew/zb/internal/zberr"
	"github.com/zerobrew/zb/internal/zblog"
	"github.com/zerobrew/zb/pkg/catalog"
	"github.com/zerobrew/zb/pkg/types"
)

const defaultTapRawBaseURL = "https://raw.githubusercontent.com"

// Cache is the subset of *catalog.Catalog the client needs for conditional
// GET caching of API responses, kept narrow so tests can fake it.
type Cache interface {
	GetAPICacheEntry(key string) (etag, lastModified string, body []byte, ok bool, err error)
	PutAPICacheEntry(key, etag, lastModified string, body []byte, now int64) error
}

var _ Cache = (*catalog.Catalog)(nil)

// Client fetches formula metadata from the canonical JSON API and from
// third-party taps, with conditional-GET caching when a Cache is attached.
type Client struct {
	baseURL       string
	tapRawBaseURL string
	httpClient    *http.Client
	cache         Cache
	now           func() int64
}

// NewClient builds a Client for baseURL (the formula API root, e.g.
// "https://formulae.brew.sh/api/formula").
func NewClient(baseURL string, httpClient *http.Client, cache Cache) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		tapRawBaseURL: defaultTapRawBaseURL,
		httpClient:    httpClient,
		cache:         cache,
		now:           func() int64 { return time.Now().Unix() },
	}
}

// GetFormula fetches and parses a single formula, dispatching to the tap
// Ruby-subset parser when ref is a three-segment tap reference.
func (c *Client) GetFormula(ctx context.Context, ref string) (types.Formula, error) {
	name, tapRef, err := ParseReference(ref)
	if err != nil {
		return types.Formula{}, err
	}
	if tapRef != nil {
		return c.getTapFormula(ctx, *tapRef)
	}
	return c.getCoreFormula(ctx, name)
}

func (c *Client) getCoreFormula(ctx context.Context, name string) (types.Formula, error) {
	url := fmt.Sprintf("%s/%s.json", c.baseURL, name)
	body, err := c.cachedGet(ctx, url, func(status int) error {
		if status == http.StatusNotFound {
			return zberr.NewMissingFormula(name)
		}
		return nil
	})
	if err != nil {
		return types.Formula{}, err
	}

	var doc formulaJSON
	if err := json.Unmarshal(body, &doc); err != nil {
		return types.Formula{}, zberr.NewNetworkFailure("failed to parse formula JSON", err)
	}
	return doc.toFormula(), nil
}

// formulaJSON mirrors the homebrew-core formula API's JSON shape, decoupled
// from the internal types.Formula representation.
type formulaJSON struct {
	Name         string   `json:"name"`
	FullName     string   `json:"full_name"`
	Dependencies []string `json:"dependencies"`
	Versions     struct {
		Stable string `json:"stable"`
	} `json:"versions"`
	Revision int `json:"revision"`
	Bottle   struct {
		Stable struct {
			Rebuild int                          `json:"rebuild"`
			Files   map[string]formulaBottleFile `json:"files"`
		} `json:"stable"`
	} `json:"bottle"`
}

type formulaBottleFile struct {
	URL    string `json:"url"`
	SHA256 string `json:"sha256"`
}

func (d formulaJSON) toFormula() types.Formula {
	files := make(map[string]types.BottleFile, len(d.Bottle.Stable.Files))
	for tag, f := range d.Bottle.Stable.Files {
		files[tag] = types.BottleFile{URL: f.URL, SHA256: f.SHA256}
	}
	version := d.Versions.Stable
	if d.Revision > 0 {
		version = fmt.Sprintf("%s_%d", version, d.Revision)
	}
	return types.Formula{
		Name:         d.Name,
		Tap:          "homebrew/core",
		Version:      types.ParseVersion(version),
		Dependencies: d.Dependencies,
		Bottle: types.BottleSet{
			Rebuild: uint32(d.Bottle.Stable.Rebuild),
			Files:   files,
		},
	}
}

// getTapFormula tries Formula/<name>.rb, Formula/<first-char>/<name>.rb,
// HomebrewFormula/<name>.rb (and the <first-char> variant), and <name>.rb,
// against both "homebrew-<repo>" and "<repo>", on both the main and master
// branches, returning the first one found.
func (c *Client) getTapFormula(ctx context.Context, ref TapFormulaRef) (types.Formula, error) {
	log := zblog.WithComponent("resolver").With().Str("tap", ref.Owner+"/"+ref.Repo).Str("formula", ref.Formula).Logger()

	repos := candidateRepos(ref.Repo)
	paths := candidatePaths(ref.Formula)
	branches := []string{"main", "master"}

	var tried []string
	for _, repo := range repos {
		for _, branch := range branches {
			prefix := fmt.Sprintf("%s/%s/%s/%s/", strings.TrimSuffix(c.tapRawBaseURL, "/"), ref.Owner, repo, branch)
			for _, path := range paths {
				url := prefix + path
				tried = append(tried, url)
				body, err := c.fetchRaw(ctx, url)
				if err != nil {
					continue
				}
				log.Debug().Str("url", url).Msg("resolved tap formula source")
				return ParseTapFormulaRuby(ref, string(body))
			}
		}
	}
	return types.Formula{}, zberr.NewMissingFormulaInSources(ref.Owner+"/"+ref.Repo+"/"+ref.Formula, tried)
}

func candidateRepos(repo string) []string {
	if strings.HasPrefix(repo, "homebrew-") {
		return []string{repo, strings.TrimPrefix(repo, "homebrew-")}
	}
	return []string{"homebrew-" + repo, repo}
}

func candidatePaths(formula string) []string {
	first := "x"
	if len(formula) > 0 {
		first = formula[:1]
	}
	return []string{
		fmt.Sprintf("Formula/%s.rb", formula),
		fmt.Sprintf("Formula/%s/%s.rb", first, formula),
		fmt.Sprintf("HomebrewFormula/%s.rb", formula),
		fmt.Sprintf("HomebrewFormula/%s/%s.rb", first, formula),
		fmt.Sprintf("%s.rb", formula),
	}
}

// fetchRaw performs an uncached GET, returning an error for any status
// other than 200 (a 404 is expected and silent — callers probe several candidate
// paths before giving up).
func (c *Client) fetchRaw(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, zberr.NewNetworkFailure("building request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, zberr.NewNetworkFailure("fetching "+url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, zberr.NewNetworkFailure(fmt.Sprintf("HTTP %d for %s", resp.StatusCode, url), nil)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, zberr.NewNetworkFailure("reading response body", err)
	}
	return body, nil
}

// cachedGet performs a conditional GET against url, consulting the attached
// Cache for an If-None-Match/If-Modified-Since revalidation and returning
// the cached body on a 304. checkStatus lets callers turn a particular
// non-2xx status into a typed error (e.g. 404 -> MissingFormula) before the
// generic NetworkFailure fallback applies.
func (c *Client) cachedGet(ctx context.Context, url string, checkStatus func(status int) error) ([]byte, error) {
	var cachedETag, cachedLastModified string
	var cachedBody []byte
	haveCache := false
	if c.cache != nil {
		etag, lastModified, body, ok, err := c.cache.GetAPICacheEntry(url)
		if err != nil {
			return nil, err
		}
		if ok {
			cachedETag, cachedLastModified, cachedBody, haveCache = etag, lastModified, body, true
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, zberr.NewNetworkFailure("building request", err)
	}
	if haveCache {
		if cachedETag != "" {
			req.Header.Set("If-None-Match", cachedETag)
		}
		if cachedLastModified != "" {
			req.Header.Set("If-Modified-Since", cachedLastModified)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, zberr.NewNetworkFailure("fetching "+url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && haveCache {
		return cachedBody, nil
	}
	if checkStatus != nil {
		if err := checkStatus(resp.StatusCode); err != nil {
			return nil, err
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, zberr.NewNetworkFailure(fmt.Sprintf("HTTP %d for %s", resp.StatusCode, url), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, zberr.NewNetworkFailure("reading response body", err)
	}

	if c.cache != nil {
		etag := resp.Header.Get("ETag")
		lastModified := resp.Header.Get("Last-Modified")
		if err := c.cache.PutAPICacheEntry(url, etag, lastModified, body, c.now()); err != nil {
			return nil, err
		}
	}

	return body, nil
}
