package embedding

import (
	"strconv"
	"strings"

	"github.com/streamline/gateway/internal/types"
)

// ContentPrompt builds the text passed to Embed/EmbedBatch for a catalog
// item (spec.md §3's canonical content, SPEC_FULL.md's "content
// embeddings"): title, release year, genres, and overview concatenated
// into one descriptive passage, the same shape a title/overview/genre
// summary takes for a nearest-neighbor content recommender.
func ContentPrompt(c types.Content) string {
	var b strings.Builder
	b.WriteString(c.Title)
	if c.ReleaseYear > 0 {
		b.WriteString(" (")
		b.WriteString(strconv.Itoa(c.ReleaseYear))
		b.WriteString(")")
	}
	if len(c.Genres) > 0 {
		b.WriteString(". Genres: ")
		b.WriteString(strings.Join(c.Genres, ", "))
	}
	if c.Overview != "" {
		b.WriteString(". ")
		b.WriteString(c.Overview)
	}
	return b.String()
}
