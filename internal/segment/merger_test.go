package segment

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisperq/whisperq/internal/speech"
)

func newTestMerger() Merger {
	return NewMerger(DefaultMergePolicy(), NewPlanner(30, 2))
}

func res(text string, segs ...speech.Segment) *speech.Result {
	return &speech.Result{Text: text, Segments: segs}
}

func TestMergeSingleWindowVerbatim(t *testing.T) {
	m := newTestMerger()
	out := m.Merge([]*speech.Result{res(" hello world ")}, "en")
	assert.Equal(t, "hello world", out.Text)
}

// Windows that share no repeated leading words merge into a simple
// space-joined concatenation.
func TestMergeNonOverlappingConcatenation(t *testing.T) {
	m := newTestMerger()
	out := m.Merge([]*speech.Result{
		res("the quick brown fox"),
		res("jumps over the lazy dog"),
		res("and keeps running away"),
	}, "en")
	assert.Equal(t, "the quick brown fox jumps over the lazy dog and keeps running away", out.Text)
}

// A window whose leading words repeat the tail of the merged text has
// the matched lead dropped. Matching is greedy shortest-first, so a
// shorter lead match can leave a residual duplicate word; that is the
// documented bias toward never losing content.
func TestMergeDropsOverlappingLead(t *testing.T) {
	m := newTestMerger()
	out := m.Merge([]*speech.Result{
		res("we met at the old station"),
		res("the old station before noon"),
	}, "en")
	assert.Equal(t, "we met at the old station station before noon", out.Text)
}

// Window 2 starts with the exact trailing four words of window 1; the
// four-word phrase must appear exactly once in the merged text.
func TestMergeFourWordOverlap(t *testing.T) {
	m := newTestMerger()
	out := m.Merge([]*speech.Result{
		res("today we will talk about the state of the union"),
		res("state of the union and its economy"),
	}, "en")
	assert.Equal(t, "today we will talk about the state of the union the union and its economy", out.Text)
	assert.Equal(t, 1, len(splitCount(out.Text, "state of the union")))
	assert.True(t, strings.HasSuffix(out.Text, "economy"))
}

func splitCount(s, sub string) []int {
	var idxs []int
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

// A final window fully consumed by prefix matching keeps its second
// half instead of vanishing.
func TestMergeFinalWindowNeverEmpty(t *testing.T) {
	m := newTestMerger()
	out := m.Merge([]*speech.Result{
		res("closing remarks thank you all"),
		res("you all"),
	}, "en")
	// "you all" fully matches the tail; the fallback keeps the second
	// half of the final window's words instead of dropping everything.
	assert.Equal(t, "closing remarks thank you all all", out.Text)
}

func TestMergeEmptyMiddleWindow(t *testing.T) {
	m := newTestMerger()
	out := m.Merge([]*speech.Result{
		res("first part"),
		res("   "),
		res("last part"),
	}, "en")
	assert.Equal(t, "first part last part", out.Text)
}

func TestMergeShortLeadNotMatched(t *testing.T) {
	m := newTestMerger()
	// "so" is under the 4-char minimum prefix, and "so it" does not
	// appear in the tail, so the full window text is appended.
	out := m.Merge([]*speech.Result{
		res("that is not so"),
		res("so it goes"),
	}, "en")
	assert.Equal(t, "that is not so so it goes", out.Text)
}

func TestMergeTimestampShiftAndFilter(t *testing.T) {
	m := newTestMerger()
	out := m.Merge([]*speech.Result{
		res("alpha",
			speech.Segment{ID: 0, Start: 0, End: 5 * time.Second, Text: "alpha"},
		),
		res("beta gamma",
			// Starts at 28s absolute (0 + shift 28), before the 29s
			// cutoff: dropped as overlap duplicate.
			speech.Segment{ID: 0, Start: 0, End: 2 * time.Second, Text: "beta"},
			// Starts at 31s absolute: kept.
			speech.Segment{ID: 1, Start: 3 * time.Second, End: 6 * time.Second, Text: "gamma"},
		),
	}, "en")

	require.Len(t, out.Segments, 2)
	assert.Equal(t, "alpha", out.Segments[0].Text)
	assert.Equal(t, "gamma", out.Segments[1].Text)
	assert.Equal(t, 31*time.Second, out.Segments[1].Start)
	assert.Equal(t, 34*time.Second, out.Segments[1].End)

	// Monotonically non-decreasing start times after merge.
	for i := 1; i < len(out.Segments); i++ {
		assert.GreaterOrEqual(t, out.Segments[i].Start, out.Segments[i-1].Start)
	}
}

func TestMergeWindowZeroSegmentsNeverFiltered(t *testing.T) {
	m := newTestMerger()
	out := m.Merge([]*speech.Result{
		res("only window",
			speech.Segment{ID: 0, Start: 0, End: time.Second, Text: "only"},
			speech.Segment{ID: 1, Start: time.Second, End: 2 * time.Second, Text: "window"},
		),
	}, "en")
	assert.Len(t, out.Segments, 2)
}

func TestMergeLanguageResolution(t *testing.T) {
	m := newTestMerger()

	out := m.Merge([]*speech.Result{
		{Text: "hallo", Language: "de"},
		{Text: "welt"},
	}, "auto")
	assert.Equal(t, "de", out.Language)

	out = m.Merge([]*speech.Result{{Text: "hola"}}, "es")
	assert.Equal(t, "es", out.Language)
}

func TestMergePolicyOverride(t *testing.T) {
	planner := NewPlanner(30, 2)
	strict := NewMerger(MergePolicy{LeadWords: 1, FinalLeadWords: 1, SearchMultiplier: 3, MinPrefixChars: 4}, planner)

	// With only one lead word scanned, the two-word overlap is not
	// detected and the text is appended unchanged.
	out := strict.Merge([]*speech.Result{
		res("we met at the old station"),
		res("old station before noon"),
	}, "en")
	assert.Equal(t, "we met at the old station old station before noon", out.Text)
}

func TestMergeNilResultSkipped(t *testing.T) {
	m := newTestMerger()
	out := m.Merge([]*speech.Result{res("kept"), nil, res("tail words")}, "en")
	assert.Equal(t, "kept tail words", out.Text)
}
