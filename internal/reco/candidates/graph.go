package candidates

// maxVisitedNodes bounds a single graph traversal query (spec.md §4.10:
// "Budget <= 1000 visited nodes per query").
const maxVisitedNodes = 1000

// GraphSource supplies the edges the graph generator traverses: genre and
// cast metadata per item, plus co-watch neighbors (items frequently
// watched by the same viewers, the "similar-viewer" edge spec.md §4.10
// names).
type GraphSource interface {
	GenresOf(contentID string) []string
	CastOf(contentID string) []string
	CoWatchNeighbors(contentID string) map[string]int
}

// GraphGenerator scores candidates reachable from a user's seed items
// (recently watched/liked content) by breadth-first traversal of
// co-watch edges, weighting each visited node by genre Jaccard, cast
// overlap with the seed, co-watch frequency, and decaying by path
// length from the seed (spec.md §4.10).
type GraphGenerator struct {
	source GraphSource
	// pathDecay multiplies a node's raw score per hop of traversal
	// distance from its seed; 0.7 means a 2-hop neighbor keeps 49% of
	// its raw score.
	pathDecay float64
}

// NewGraphGenerator builds a GraphGenerator over source with the given
// per-hop decay factor (0 < pathDecay <= 1).
func NewGraphGenerator(source GraphSource, pathDecay float64) *GraphGenerator {
	if pathDecay <= 0 || pathDecay > 1 {
		pathDecay = 0.7
	}
	return &GraphGenerator{source: source, pathDecay: pathDecay}
}

// Generate traverses outward from seedIDs (the user's recent positive
// interactions) over co-watch edges, scoring every visited item by genre
// Jaccard + cast overlap + co-watch frequency relative to the seeds it
// was reached from, decayed by hop distance. Traversal stops after
// maxVisitedNodes nodes regardless of remaining frontier.
func (g *GraphGenerator) Generate(seedIDs []string, seen map[string]bool, limit int) []Candidate {
	if g.source == nil || len(seedIDs) == 0 {
		return nil
	}

	seedGenres := map[string]bool{}
	seedCast := map[string]bool{}
	for _, id := range seedIDs {
		for _, genre := range g.source.GenresOf(id) {
			seedGenres[genre] = true
		}
		for _, actor := range g.source.CastOf(id) {
			seedCast[actor] = true
		}
	}

	type frontierNode struct {
		id  string
		hop int
	}

	visited := map[string]bool{}
	for _, id := range seedIDs {
		visited[id] = true
	}

	queue := make([]frontierNode, 0, len(seedIDs))
	for _, id := range seedIDs {
		queue = append(queue, frontierNode{id: id, hop: 0})
	}

	best := map[string]float64{}
	visitedCount := 0

	for len(queue) > 0 && visitedCount < maxVisitedNodes {
		node := queue[0]
		queue = queue[1:]

		neighbors := g.source.CoWatchNeighbors(node.id)
		totalCoWatch := 0
		for _, count := range neighbors {
			totalCoWatch += count
		}

		for neighborID, coWatchCount := range neighbors {
			if visited[neighborID] {
				continue
			}
			visited[neighborID] = true
			visitedCount++

			if !seen[neighborID] {
				score := scoreNode(seedGenres, seedCast, g.source.GenresOf(neighborID), g.source.CastOf(neighborID), coWatchCount, totalCoWatch)
				decayed := score * decayPow(g.pathDecay, node.hop+1)
				if decayed > best[neighborID] {
					best[neighborID] = decayed
				}
			}

			if visitedCount < maxVisitedNodes {
				queue = append(queue, frontierNode{id: neighborID, hop: node.hop + 1})
			}
		}
	}

	candidates := make([]Candidate, 0, len(best))
	for id, score := range best {
		candidates = append(candidates, Candidate{ContentID: id, Score: score, Source: SourceGraph})
	}
	sortCandidatesDesc(candidates)
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

// scoreNode blends genre Jaccard similarity, cast overlap ratio, and
// normalized co-watch frequency into a single [0, 1] raw score before
// path-length decay is applied.
func scoreNode(seedGenres, seedCast map[string]bool, nodeGenres, nodeCast []string, coWatchCount, totalCoWatch int) float64 {
	genreScore := jaccard(seedGenres, toSet(nodeGenres))
	castScore := overlapRatio(seedCast, toSet(nodeCast))
	freqScore := 0.0
	if totalCoWatch > 0 {
		freqScore = float64(coWatchCount) / float64(totalCoWatch)
	}
	return 0.4*genreScore + 0.3*castScore + 0.3*freqScore
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if b[k] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// overlapRatio reports what fraction of b's members also appear in a,
// used for cast overlap where b (the candidate's cast) is typically much
// smaller than a (the union of seed items' cast).
func overlapRatio(a, b map[string]bool) float64 {
	if len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range b {
		if a[k] {
			intersection++
		}
	}
	return float64(intersection) / float64(len(b))
}

func decayPow(base float64, hops int) float64 {
	result := 1.0
	for i := 0; i < hops; i++ {
		result *= base
	}
	return result
}
