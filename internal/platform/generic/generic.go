// Package generic implements a config-driven platform.Adapter for
// platforms that need no bespoke normalization logic, the way the
// teacher's internal/plugin/generic provides a pass-through DomainPlugin
// for store types without one. Instead of pass-through, here "generic"
// means field-mapped: a FieldMap of gjson paths drives Normalize so new
// long-tail platforms can be onboarded by configuration alone.
package generic

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/streamline/gateway/internal/deeplink"
	"github.com/streamline/gateway/internal/types"
)

// FieldMap declares where to find each canonical field in a platform's raw
// JSON payload, as gjson paths (e.g. "data.title", "genres.#.name").
type FieldMap struct {
	Title          string
	Overview       string
	ReleaseYear    string
	RuntimeMinutes string
	Genres         string // path to an array of genre strings/objects
	GenreNameField string // when Genres is an array of objects, the name field
	IMDbID         string
	TMDBID         string
	EIDRID         string
	Poster         string
	Backdrop       string
	Regions        string // path to an array of region codes
	ContentID      string // path to the platform's own content id
}

// GenreMapping translates a platform's native genre label into the
// canonical taxonomy (spec.md §4.6). Unmapped labels pass through
// unchanged, so a platform onboarded with a partial map still produces
// usable (if unmapped) genres rather than dropping them.
type GenreMapping map[string]string

// Adapter is a FieldMap-driven platform.Adapter. FetchFunc supplies the
// network call; Normalize/GenerateDeepLink are pure.
type Adapter struct {
	PlatformID string
	Fields     FieldMap
	Genres     GenreMapping
	FetchFunc  func(ctx context.Context, since time.Time, region string) ([]types.RawItem, error)
}

func (a *Adapter) Platform() string { return a.PlatformID }

func (a *Adapter) FetchDelta(ctx context.Context, since time.Time, region string) ([]types.RawItem, error) {
	if a.FetchFunc == nil {
		return nil, nil
	}
	return a.FetchFunc(ctx, since, region)
}

// Normalize maps raw.Payload into canonical Content using Fields. Never
// touches the network (spec.md §4.6).
func (a *Adapter) Normalize(_ context.Context, raw types.RawItem) (types.Content, error) {
	root := gjson.ParseBytes(raw.Payload)

	c := types.Content{
		PlatformID:        a.PlatformID,
		PlatformContentID: get(root, a.Fields.ContentID),
		ContentType:       types.ContentMovie,
		Title:             get(root, a.Fields.Title),
		Overview:          get(root, a.Fields.Overview),
		UpdatedAt:         raw.FetchedAt,
	}

	if y := get(root, a.Fields.ReleaseYear); y != "" {
		if n, err := strconv.Atoi(y); err == nil {
			c.ReleaseYear = n
		}
	}
	if rt := get(root, a.Fields.RuntimeMinutes); rt != "" {
		if n, err := strconv.Atoi(rt); err == nil {
			c.RuntimeMinutes = n
		}
	}

	c.Genres = a.normalizeGenres(root)
	c.ExternalIDs = types.ExternalIDs{
		IMDb: get(root, a.Fields.IMDbID),
		TMDB: get(root, a.Fields.TMDBID),
		EIDR: get(root, a.Fields.EIDRID),
	}
	c.Images = types.Images{
		Poster:   get(root, a.Fields.Poster),
		Backdrop: get(root, a.Fields.Backdrop),
	}
	c.Availability = types.Availability{
		Regions: stringArray(root, a.Fields.Regions),
	}

	return c, nil
}

func (a *Adapter) normalizeGenres(root gjson.Result) []string {
	if a.Fields.Genres == "" {
		return nil
	}
	arr := root.Get(a.Fields.Genres)
	if !arr.IsArray() {
		return nil
	}
	out := make([]string, 0, len(arr.Array()))
	for _, item := range arr.Array() {
		raw := item.String()
		if a.Fields.GenreNameField != "" && item.IsObject() {
			raw = item.Get(a.Fields.GenreNameField).String()
		}
		if raw == "" {
			continue
		}
		if mapped, ok := a.Genres[raw]; ok {
			out = append(out, mapped)
		} else {
			out = append(out, raw)
		}
	}
	return out
}

func (a *Adapter) GenerateDeepLink(_ context.Context, contentID string) (types.DeepLinks, error) {
	return deeplink.Generate(a.PlatformID, contentID), nil
}

func get(root gjson.Result, path string) string {
	if path == "" {
		return ""
	}
	return root.Get(path).String()
}

// HTTPClient is the subset of *http.Client a FetchFunc needs, letting
// tests substitute a fake transport.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPFetch builds a FetchFunc hitting "<baseURL>/catalog/changes?since=..&region=.."
// and expecting a top-level "items" array, the same change-feed shape
// internal/platform/netflix.Adapter's bespoke fetchDelta uses — most
// long-tail platforms differ only in field names, not in this envelope,
// so they onboard via FieldMap alone instead of a dedicated adapter.
func HTTPFetch(client HTTPClient, baseURL, platformID string) func(ctx context.Context, since time.Time, region string) ([]types.RawItem, error) {
	return func(ctx context.Context, since time.Time, region string) ([]types.RawItem, error) {
		url := fmt.Sprintf("%s/catalog/changes?since=%s&region=%s", baseURL, since.UTC().Format(time.RFC3339), region)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("build %s request: %w", platformID, err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s change feed request: %w", platformID, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%s change feed returned %d", platformID, resp.StatusCode)
		}

		buf, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read %s change feed response: %w", platformID, err)
		}

		items := gjson.GetBytes(buf, "items")
		if !items.IsArray() {
			return nil, nil
		}

		fetchedAt := time.Now().UTC()
		out := make([]types.RawItem, 0, len(items.Array()))
		for _, item := range items.Array() {
			out = append(out, types.RawItem{
				PlatformID: platformID,
				Payload:    []byte(item.Raw),
				FetchedAt:  fetchedAt,
			})
		}
		return out, nil
	}
}

func stringArray(root gjson.Result, path string) []string {
	if path == "" {
		return nil
	}
	arr := root.Get(path)
	if !arr.IsArray() {
		return nil
	}
	out := make([]string, 0, len(arr.Array()))
	for _, item := range arr.Array() {
		out = append(out, item.String())
	}
	return out
}
