// Package netflix implements platform.Adapter for Netflix's change feed.
// It wraps internal/platform/generic's field-mapped Normalize with
// Netflix's own genre taxonomy and a bespoke FetchDelta signature, the way
// a platform with a quirky API earns its own adapter instead of riding the
// generic one.
package netflix

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/streamline/gateway/internal/deeplink"
	"github.com/streamline/gateway/internal/platform/generic"
	"github.com/streamline/gateway/internal/types"
)

const platformID = "netflix"

// genreTaxonomy maps Netflix's native genre labels to the canonical
// taxonomy (spec.md §4.6).
var genreTaxonomy = generic.GenreMapping{
	"Sci-Fi & Fantasy":   "science_fiction",
	"Crime TV Shows":     "crime",
	"Docuseries":         "documentary",
	"Romantic Comedies":  "romantic_comedy",
	"Stand-Up Comedy":    "comedy",
	"Teen TV Shows":      "drama",
	"Anime Series":       "animation",
	"British TV Shows":   "drama",
}

// Client is the subset of an HTTP client Adapter needs, letting tests
// substitute a fake transport without a real network call.
type Client interface {
	Do(req *http.Request) (*http.Response, error)
}

// Adapter is the Netflix platform.Adapter.
type Adapter struct {
	BaseURL string
	Client  Client
	inner   *generic.Adapter
}

// New builds a Netflix Adapter pointed at baseURL (the change-feed API
// root) using client for outbound requests.
func New(baseURL string, client Client) *Adapter {
	a := &Adapter{BaseURL: baseURL, Client: client}
	a.inner = &generic.Adapter{
		PlatformID: platformID,
		Genres:     genreTaxonomy,
		Fields: generic.FieldMap{
			ContentID:      "id",
			Title:          "title",
			Overview:       "synopsis",
			ReleaseYear:    "releaseYear",
			RuntimeMinutes: "runtimeMinutes",
			Genres:         "genres",
			IMDbID:         "externalIds.imdb",
			TMDBID:         "externalIds.tmdb",
			EIDRID:         "externalIds.eidr",
			Poster:         "images.poster",
			Backdrop:       "images.backdrop",
			Regions:        "availability.regions",
		},
		FetchFunc: a.fetchDelta,
	}
	return a
}

func (a *Adapter) Platform() string { return platformID }

func (a *Adapter) FetchDelta(ctx context.Context, since time.Time, region string) ([]types.RawItem, error) {
	return a.fetchDelta(ctx, since, region)
}

func (a *Adapter) fetchDelta(ctx context.Context, since time.Time, region string) ([]types.RawItem, error) {
	url := fmt.Sprintf("%s/catalog/changes?since=%s&region=%s", a.BaseURL, since.UTC().Format(time.RFC3339), region)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build netflix request: %w", err)
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("netflix change feed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("netflix change feed returned %d", resp.StatusCode)
	}

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read netflix change feed response: %w", err)
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

func (a *Adapter) Normalize(ctx context.Context, raw types.RawItem) (types.Content, error) {
	return a.inner.Normalize(ctx, raw)
}

func (a *Adapter) GenerateDeepLink(_ context.Context, contentID string) (types.DeepLinks, error) {
	return deeplink.Generate(platformID, contentID), nil
}
