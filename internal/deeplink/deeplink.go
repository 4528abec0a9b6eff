// Package deeplink builds per-surface launch URLs for a piece of content
// on a given platform (spec.md §4.6 generate_deep_link), via a per-platform
// URL template table with a generic fallback for platforms without a
// bespoke template.
package deeplink

import (
	"fmt"
	"strings"

	"github.com/streamline/gateway/internal/types"
)

// Template is one platform's set of URL patterns. "{id}" is substituted
// with the platform's content id.
type Template struct {
	Mobile string // deep-link scheme, e.g. "nflx://www.netflix.com/watch/{id}"
	Web    string
	TV     string // smart-TV app intent URI, if the platform supports one
}

// templates covers the platforms spec.md §4.6 names; platforms without an
// entry fall back to genericTemplate.
var templates = map[string]Template{
	"netflix": {
		Mobile: "nflx://www.netflix.com/watch/{id}",
		Web:    "https://www.netflix.com/watch/{id}",
		TV:     "nflx://www.netflix.com/watch/{id}",
	},
	"prime_video": {
		Mobile: "aiv://aiv/play?asin={id}",
		Web:    "https://www.amazon.com/gp/video/detail/{id}",
	},
	"disney_plus": {
		Mobile: "disneyplus://content/{id}",
		Web:    "https://www.disneyplus.com/video/{id}",
	},
	"youtube": {
		Mobile: "youtube://www.youtube.com/watch?v={id}",
		Web:    "https://www.youtube.com/watch?v={id}",
	},
	"hulu": {
		Mobile: "hulu://watch/{id}",
		Web:    "https://www.hulu.com/watch/{id}",
	},
	"hbo_max": {
		Mobile: "hbomax://content/{id}",
		Web:    "https://play.max.com/video/watch/{id}",
	},
	"apple_tv_plus": {
		Mobile: "com.apple.tv://video/{id}",
		Web:    "https://tv.apple.com/video/{id}",
	},
	"paramount_plus": {
		Mobile: "paramountplus://watch/{id}",
		Web:    "https://www.paramountplus.com/shows/video/{id}",
	},
	"peacock": {
		Mobile: "peacocktv://watch/{id}",
		Web:    "https://www.peacocktv.com/watch/asset/{id}",
	},
}

// genericTemplate applies when a platform has no bespoke entry: a web-only
// link pointed at the platform's generic content route.
func genericTemplate(platformID string) Template {
	return Template{
		Web: fmt.Sprintf("https://%s.example/watch/{id}", strings.ReplaceAll(platformID, "_", "")),
	}
}

// Generate builds the DeepLinks for platformContentID on platformID.
func Generate(platformID, platformContentID string) types.DeepLinks {
	t, ok := templates[platformID]
	if !ok {
		t = genericTemplate(platformID)
	}
	return types.DeepLinks{
		Mobile: substitute(t.Mobile, platformContentID),
		Web:    substitute(t.Web, platformContentID),
		TV:     substitute(t.TV, platformContentID),
	}
}

func substitute(tmpl, id string) string {
	if tmpl == "" {
		return ""
	}
	return strings.ReplaceAll(tmpl, "{id}", id)
}
