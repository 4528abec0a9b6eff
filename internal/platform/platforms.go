package platform

import (
	"net/http"
	"time"

	"github.com/streamline/gateway/internal/config"
	"github.com/streamline/gateway/internal/platform/generic"
	"github.com/streamline/gateway/internal/platform/netflix"
)

// defaultHTTPTimeout bounds every built-in adapter's outbound fetch calls.
const defaultHTTPTimeout = 20 * time.Second

// PlatformID identifies one of the gateway's supported streaming
// platforms. The set is closed (spec.md §9's re-architecture of the
// teacher's open internal/plugin trait-object registry into "a tagged
// variant with per-variant data where the set is closed"): onboarding a
// platform is a code change to AllPlatformIDs/BuildAdapter below, not a
// config entry that silently starts working. The dynamic Register/Get
// registry in registry.go still exists, but only to serve the edge
// spec.md §9 carves out: webhook dispatch, where an inbound payload
// names its platform by string before any PlatformID has been
// validated, and CLI introspection.
type PlatformID string

const (
	PlatformNetflix       PlatformID = "netflix"
	PlatformPrimeVideo    PlatformID = "prime_video"
	PlatformDisneyPlus    PlatformID = "disney_plus"
	PlatformYouTube       PlatformID = "youtube"
	PlatformHulu          PlatformID = "hulu"
	PlatformHBOMax        PlatformID = "hbo_max"
	PlatformAppleTVPlus   PlatformID = "apple_tv_plus"
	PlatformParamountPlus PlatformID = "paramount_plus"
	PlatformPeacock       PlatformID = "peacock"
)

// AllPlatformIDs is the closed, fixed-order list of every platform the
// gateway knows how to build an adapter for.
func AllPlatformIDs() []PlatformID {
	return []PlatformID{
		PlatformNetflix,
		PlatformPrimeVideo,
		PlatformDisneyPlus,
		PlatformYouTube,
		PlatformHulu,
		PlatformHBOMax,
		PlatformAppleTVPlus,
		PlatformParamountPlus,
		PlatformPeacock,
	}
}

// ParsePlatformID validates s against the closed set, for turning a
// config key or an inbound webhook payload's platform field into a typed
// PlatformID. ok is false for anything outside AllPlatformIDs.
func ParsePlatformID(s string) (id PlatformID, ok bool) {
	for _, candidate := range AllPlatformIDs() {
		if string(candidate) == s {
			return candidate, true
		}
	}
	return "", false
}

// genericFieldMaps covers every platform but Netflix, which differs from
// the rest only in field names, onboarded via internal/platform/generic's
// FieldMap instead of a bespoke adapter. Field maps are grounded on
// Netflix's own FieldMap in internal/platform/netflix/netflix.go, varied
// per platform the way a real aggregator's per-partner schemas would
// plausibly differ (nested vs. flat genre arrays, "asin" vs "id" vs
// "videoId" content keys, etc.).
var genericFieldMaps = map[PlatformID]generic.FieldMap{
	PlatformPrimeVideo: {
		ContentID: "asin", Title: "title", Overview: "synopsis",
		ReleaseYear: "releaseYear", RuntimeMinutes: "runtimeMinutes",
		Genres: "genres", IMDbID: "externalIds.imdb", TMDBID: "externalIds.tmdb",
		EIDRID: "externalIds.eidr", Poster: "images.poster", Backdrop: "images.hero",
		Regions: "availability.regions",
	},
	PlatformDisneyPlus: {
		ContentID: "contentId", Title: "title", Overview: "description",
		ReleaseYear: "releaseYear", RuntimeMinutes: "durationMinutes",
		Genres: "genres", GenreNameField: "name",
		IMDbID: "externalIds.imdb", TMDBID: "externalIds.tmdb", EIDRID: "externalIds.eidr",
		Poster: "images.poster", Backdrop: "images.backdrop", Regions: "regions",
	},
	PlatformYouTube: {
		ContentID: "videoId", Title: "snippet.title", Overview: "snippet.description",
		ReleaseYear: "releaseYear", Genres: "snippet.categories",
		Poster: "snippet.thumbnails.high.url", Regions: "regionsAllowed",
	},
	PlatformHulu: {
		ContentID: "id", Title: "title", Overview: "summary",
		ReleaseYear: "releaseYear", RuntimeMinutes: "runtimeMinutes",
		Genres: "genres", IMDbID: "externalIds.imdb", TMDBID: "externalIds.tmdb",
		Poster: "images.poster", Backdrop: "images.backdrop", Regions: "availability.regions",
	},
	PlatformHBOMax: {
		ContentID: "id", Title: "title", Overview: "synopsis",
		ReleaseYear: "releaseYear", RuntimeMinutes: "runtimeMinutes",
		Genres: "genres.#.name", IMDbID: "externalIds.imdb", EIDRID: "externalIds.eidr",
		Poster: "images.poster", Backdrop: "images.backdrop", Regions: "availability.regions",
	},
	PlatformAppleTVPlus: {
		ContentID: "id", Title: "title", Overview: "description",
		ReleaseYear: "releaseYear", RuntimeMinutes: "duration",
		Genres: "genres", Poster: "artwork.poster", Backdrop: "artwork.backdrop",
		Regions: "territories",
	},
	PlatformParamountPlus: {
		ContentID: "id", Title: "title", Overview: "description",
		ReleaseYear: "releaseYear", RuntimeMinutes: "runtimeMinutes",
		Genres: "genres", IMDbID: "externalIds.imdb", Poster: "images.poster",
		Regions: "availability.regions",
	},
	PlatformPeacock: {
		ContentID: "id", Title: "title", Overview: "description",
		ReleaseYear: "releaseYear", RuntimeMinutes: "runtimeMinutes",
		Genres: "genres", Poster: "images.poster", Regions: "availability.regions",
	},
}

// BuildAdapter constructs the concrete Adapter for id. This switch is the
// tagged variant itself: each member of the closed PlatformID set has
// exactly one construction path fixed at compile time, replacing the
// teacher's runtime "register whatever shows up" plugin model.
func BuildAdapter(id PlatformID, cfg config.PlatformConfig, client *http.Client) Adapter {
	switch id {
	case PlatformNetflix:
		return netflix.New(cfg.BaseURL, client)
	default:
		fields, ok := genericFieldMaps[id]
		if !ok {
			fields = generic.FieldMap{ContentID: "id", Title: "title"}
		}
		adapter := &generic.Adapter{PlatformID: string(id), Fields: fields}
		adapter.FetchFunc = generic.HTTPFetch(client, cfg.BaseURL, string(id))
		return adapter
	}
}

// DefaultHTTPClient is the HTTP client every built-in adapter's outbound
// calls share; a modest timeout keeps one slow platform from holding up
// its guard's worker goroutine past the ingest coordinator's own poll
// cadence.
func DefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultHTTPTimeout}
}
