package segment

import (
	"strings"
	"time"

	"github.com/whisperq/whisperq/internal/speech"
)

// MergePolicy bounds the greedy prefix matching that de-duplicates
// overlapping window text. The thresholds are policy, not law: the
// heuristic has no alignment data to lean on, so it is biased toward
// never silently dropping content, and occasional duplicated or
// slightly clipped words at window boundaries are expected.
type MergePolicy struct {
	// LeadWords is how many leading words of a window are candidates
	// for overlap matching.
	LeadWords int
	// FinalLeadWords replaces LeadWords for the last window, where a
	// wide scan risks filtering away trailing content.
	FinalLeadWords int
	// SearchMultiplier scales the prefix length into the tail span of
	// merged text that is searched for it.
	SearchMultiplier int
	// MinPrefixChars rejects prefixes shorter than this, avoiding
	// spurious single-word matches.
	MinPrefixChars int
}

// DefaultMergePolicy returns the tuned production thresholds.
func DefaultMergePolicy() MergePolicy {
	return MergePolicy{
		LeadWords:        10,
		FinalLeadWords:   5,
		SearchMultiplier: 3,
		MinPrefixChars:   4,
	}
}

func (p MergePolicy) normalized() MergePolicy {
	if p.LeadWords <= 0 {
		p.LeadWords = 10
	}
	if p.FinalLeadWords <= 0 {
		p.FinalLeadWords = 5
	}
	if p.SearchMultiplier <= 0 {
		p.SearchMultiplier = 3
	}
	if p.MinPrefixChars <= 0 {
		p.MinPrefixChars = 4
	}
	return p
}

// Merger folds ordered per-window results into one coherent transcript.
type Merger struct {
	Policy         MergePolicy
	WindowSeconds  float64
	OverlapSeconds float64
}

// NewMerger builds a merger matching a planner's geometry.
func NewMerger(policy MergePolicy, planner Planner) Merger {
	return Merger{
		Policy:         policy.normalized(),
		WindowSeconds:  planner.WindowSeconds,
		OverlapSeconds: planner.OverlapSeconds,
	}
}

// Merge combines window results produced in order. Window 0 seeds the
// transcript verbatim; every later window is scanned for a leading
// phrase that already appears near the tail of the merged text, and
// only the remainder is appended. Sub-segment timestamps are shifted to
// absolute positions and duplicates covering the overlap are dropped.
func (m Merger) Merge(results []*speech.Result, requestedLanguage string) *speech.Result {
	policy := m.Policy.normalized()

	var combined string
	var segments []speech.Segment
	last := len(results) - 1

	for i, res := range results {
		if res == nil {
			continue
		}

		text := strings.TrimSpace(res.Text)
		if i == 0 {
			combined = text
		} else if text != "" {
			combined = m.appendWindow(combined, text, i == last, policy)
		}

		base := float64(i) * m.WindowSeconds
		if i > 0 {
			base -= m.OverlapSeconds
		}
		cutoff := secondsToDuration(float64(i)*m.WindowSeconds - m.OverlapSeconds/2)
		shift := secondsToDuration(base)

		for _, seg := range res.Segments {
			adjusted := seg
			adjusted.Start += shift
			adjusted.End += shift
			// Sub-segments entirely inside the already-covered overlap
			// would duplicate audio the previous window owns.
			if i == 0 || adjusted.Start >= cutoff {
				segments = append(segments, adjusted)
			}
		}
	}

	language := requestedLanguage
	if len(results) > 0 && results[0] != nil && results[0].Language != "" {
		language = results[0].Language
	}

	return &speech.Result{
		Text:     combined,
		Language: language,
		Segments: segments,
	}
}

// appendWindow joins one window's text onto the merged transcript,
// skipping a detected overlapping lead phrase.
func (m Merger) appendWindow(combined, text string, final bool, policy MergePolicy) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return combined
	}

	maxCheck := policy.LeadWords
	if final {
		maxCheck = policy.FinalLeadWords
	}
	if maxCheck > len(words) {
		maxCheck = len(words)
	}

	for j := 0; j < maxCheck; j++ {
		prefix := strings.Join(words[:j+1], " ")
		if len(prefix) < policy.MinPrefixChars {
			continue
		}
		tail := combined
		if span := len(prefix) * policy.SearchMultiplier; len(tail) > span {
			tail = tail[len(tail)-span:]
		}
		if !strings.Contains(tail, prefix) {
			continue
		}

		if remaining := strings.Join(words[j+1:], " "); remaining != "" {
			return appendWithSpace(combined, remaining)
		}
		if final {
			// The match consumed the whole final window. Keep its
			// second half rather than losing trailing content: the
			// matched lead is likelier to be overlap than the tail is.
			if remaining := strings.Join(words[len(words)/2:], " "); remaining != "" {
				return appendWithSpace(combined, remaining)
			}
		}
		return combined
	}

	// No overlap detected: treat the window as non-overlapping.
	return appendWithSpace(combined, text)
}

func appendWithSpace(combined, text string) string {
	if combined == "" {
		return text
	}
	if !strings.HasSuffix(combined, " ") {
		combined += " "
	}
	return combined + text
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
