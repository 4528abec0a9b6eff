package candidates

import "github.com/streamline/gateway/internal/types"

// DeviceType names the device class a session is using, affecting what
// context-aware re-weighting considers a good fit (spec.md §4.10: "device
// type" is one of the re-weighting signals).
type DeviceType string

const (
	DeviceTV      DeviceType = "tv"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceDesktop DeviceType = "desktop"
)

// MoodSignal is a recent, short-lived affinity nudge (e.g. the user just
// binged comedies), distinct from the long-lived GenreAffinities in
// types.Profile.
type MoodSignal struct {
	Genre  string
	Weight float64
}

// ContextInput bundles the signals context-aware re-weighting needs:
// the serving-time temporal context, the requesting device, any recent
// mood signals, and each candidate's own genre tags to match against
// them.
type ContextInput struct {
	Temporal     types.TemporalContext
	Device       DeviceType
	MoodSignals  []MoodSignal
	GenresOf     func(contentID string) []string
	RuntimeOf    func(contentID string) int // minutes, 0 if unknown
}

// ContextGenerator re-scores a base candidate pool by how well each item
// fits the current serving context: time of day/weekday favor runtime
// bands (a quick watch at 8am on mobile, a long film at 9pm on a TV), and
// recent mood signals boost matching genres (spec.md §4.10).
type ContextGenerator struct{}

// NewContextGenerator builds a ContextGenerator. It carries no state: all
// context is passed per-call via ContextInput.
func NewContextGenerator() *ContextGenerator {
	return &ContextGenerator{}
}

// Generate re-weights base (typically the union of the other three
// generators' output, or a content catalog sample) by contextual fit,
// returning up to limit candidates tagged SourceContext.
func (g *ContextGenerator) Generate(base []Candidate, in ContextInput, limit int) []Candidate {
	if len(base) == 0 {
		return nil
	}

	moodByGenre := make(map[string]float64, len(in.MoodSignals))
	for _, m := range in.MoodSignals {
		moodByGenre[m.Genre] += m.Weight
	}

	runtimeBand := preferredRuntimeBand(in.Temporal, in.Device)

	out := make([]Candidate, 0, len(base))
	for _, c := range base {
		score := c.Score

		if in.GenresOf != nil {
			for _, genre := range in.GenresOf(c.ContentID) {
				score += moodByGenre[genre]
			}
		}

		if in.RuntimeOf != nil && runtimeBand.max > 0 {
			runtime := in.RuntimeOf(c.ContentID)
			if runtime > 0 && runtime >= runtimeBand.min && runtime <= runtimeBand.max {
				score *= 1.15
			}
		}

		out = append(out, Candidate{ContentID: c.ContentID, Score: score, Source: SourceContext})
	}

	sortCandidatesDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

type runtimeBand struct{ min, max int }

// preferredRuntimeBand picks a runtime window that fits the likely
// viewing session: short sessions on mobile/during weekday daytime,
// longer sessions in evening hours or on a TV.
func preferredRuntimeBand(t types.TemporalContext, device DeviceType) runtimeBand {
	evening := t.HourOfDay >= 19 || t.HourOfDay < 1
	weekend := t.DayOfWeek == 0 || t.DayOfWeek == 6

	switch {
	case device == DeviceTV && (evening || weekend):
		return runtimeBand{min: 80, max: 180}
	case device == DeviceMobile && !evening:
		return runtimeBand{min: 0, max: 40}
	case evening:
		return runtimeBand{min: 60, max: 150}
	default:
		return runtimeBand{min: 0, max: 60}
	}
}
