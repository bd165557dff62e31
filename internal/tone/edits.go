package tone

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Edit categories.
const (
	CategoryVocabulary = "vocabulary"
	CategoryTone       = "tone"
	CategoryStyle      = "style"
	CategoryStructure  = "structure"
	CategoryContent    = "content"
)

// Finding kinds.
const (
	FindingSubstitution = "substitution"
	FindingInsertion    = "insertion"
	FindingDeletion     = "deletion"
	FindingSentenceAdd  = "sentence_addition"
	FindingSentenceDrop = "sentence_removal"
	FindingToneShift    = "tone_shift"
)

const (
	sentenceAddSignificance  = 80
	sentenceDropSignificance = 85
	toneShiftMinSwing        = 20
	descriptionOverlap       = 0.5
	maxPatternExamples       = 3
)

// EditFinding is one observed change between two versions of a caption.
type EditFinding struct {
	Kind         string  `json:"kind"`
	Category     string  `json:"category"`
	Description  string  `json:"description"`
	Before       string  `json:"before,omitempty"`
	After        string  `json:"after,omitempty"`
	Significance float64 `json:"significance"`
}

// EditExample is a before/after pair kept on an aggregated pattern.
type EditExample struct {
	Before string `json:"before"`
	After  string `json:"after"`
}

// EditPattern is a recurring edit habit aggregated across many revisions.
type EditPattern struct {
	Category            string        `json:"category"`
	Description         string        `json:"description"`
	Frequency           int           `json:"frequency"`
	Share               float64       `json:"share"`
	AverageSignificance float64       `json:"averageSignificance"`
	Confidence          float64       `json:"confidence"`
	Examples            []EditExample `json:"examples"`
}

// AnalyzeEditPatterns compares an original caption with its edited version. Words are aligned with an
// LCS diff so insertions do not shift every later word into a false substitution.
func AnalyzeEditPatterns(original, edited string) []EditFinding {
	var out []EditFinding
	out = append(out, alignedWordFindings(strings.Fields(original), strings.Fields(edited))...)

	before := CalculateStyleMetrics(original)
	after := CalculateStyleMetrics(edited)

	switch {
	case after.SentenceCount > before.SentenceCount:
		n := after.SentenceCount - before.SentenceCount
		out = append(out, EditFinding{
			Kind:         FindingSentenceAdd,
			Category:     CategoryStructure,
			Description:  fmt.Sprintf("added %d sentence(s)", n),
			Significance: sentenceAddSignificance,
		})
	case after.SentenceCount < before.SentenceCount:
		n := before.SentenceCount - after.SentenceCount
		out = append(out, EditFinding{
			Kind:         FindingSentenceDrop,
			Category:     CategoryStructure,
			Description:  fmt.Sprintf("removed %d sentence(s)", n),
			Significance: sentenceDropSignificance,
		})
	}

	swing := after.FormalityScore - before.FormalityScore
	if math.Abs(swing) >= toneShiftMinSwing {
		direction := "more formal"
		if swing < 0 {
			direction = "more casual"
		}
		out = append(out, EditFinding{
			Kind:         FindingToneShift,
			Category:     CategoryTone,
			Description:  "shifted tone " + direction,
			Before:       fmt.Sprintf("formality %.0f", before.FormalityScore),
			After:        fmt.Sprintf("formality %.0f", after.FormalityScore),
			Significance: math.Min(100, 50+math.Abs(swing)),
		})
	}
	return out
}

func alignedWordFindings(a, b []string) []EditFinding {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	ra, rb, vocab := wordsToRunes(a, b)

	dmp := diffmatchpatch.New()
	// No timeout: a deadline would make the alignment depend on machine speed.
	dmp.DiffTimeout = 0
	diffs := dmp.DiffMainRunes(ra, rb, false)

	var out []EditFinding
	var deleted, inserted []string
	flush := func() {
		n := len(deleted)
		if len(inserted) < n {
			n = len(inserted)
		}
		for i := 0; i < n; i++ {
			out = append(out, substitutionFinding(deleted[i], inserted[i]))
		}
		if rest := deleted[n:]; len(rest) > 0 {
			out = append(out, runFinding(FindingDeletion, rest))
		}
		if rest := inserted[n:]; len(rest) > 0 {
			out = append(out, runFinding(FindingInsertion, rest))
		}
		deleted, inserted = deleted[:0], inserted[:0]
	}
	for _, d := range diffs {
		words := runesToWords(d.Text, vocab)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flush()
		case diffmatchpatch.DiffDelete:
			deleted = append(deleted, words...)
		case diffmatchpatch.DiffInsert:
			inserted = append(inserted, words...)
		}
	}
	flush()
	return out
}

// wordsToRunes encodes each distinct token as a single rune so the character differ works on words.
func wordsToRunes(a, b []string) ([]rune, []rune, []string) {
	index := map[string]rune{}
	var vocab []string
	encode := func(words []string) []rune {
		out := make([]rune, 0, len(words))
		for _, w := range words {
			r, ok := index[w]
			if !ok {
				r = tokenRune(len(vocab))
				index[w] = r
				vocab = append(vocab, w)
			}
			out = append(out, r)
		}
		return out
	}
	return encode(a), encode(b), vocab
}

const tokenRuneBase = 0xE000

// planeSize is the number of usable code points in a supplementary plane: its last two
// (U+nFFFE and U+nFFFF) are noncharacters.
const planeSize = 0xFFFE

// tokenRune maps a vocabulary index to a code point from U+E000 upward, skipping every
// noncharacter (U+FDD0..U+FDEF and the last two code points of each plane).
func tokenRune(i int) rune {
	r := rune(tokenRuneBase + i)
	if r >= 0xFDD0 {
		r += 0x20
	}
	if r >= 0xFFFE {
		off := r - 0xFFFE
		r = 0x10000 + (off/planeSize)<<16 + off%planeSize
	}
	return r
}

func runeToken(r rune) int {
	if r >= 0x10000 {
		plane := r >> 16
		r = 0xFFFE + (plane-1)*planeSize + r&0xFFFF
	}
	if r >= 0xFDF0 {
		r -= 0x20
	}
	return int(r - tokenRuneBase)
}

func runesToWords(s string, vocab []string) []string {
	var out []string
	for _, r := range s {
		i := runeToken(r)
		if i >= 0 && i < len(vocab) {
			out = append(out, vocab[i])
		}
	}
	return out
}

func substitutionFinding(before, after string) EditFinding {
	nb, na := normalizeToken(before), normalizeToken(after)
	f := EditFinding{
		Kind:        FindingSubstitution,
		Before:      before,
		After:       after,
		Description: fmt.Sprintf("replaced %q with %q", nb, na),
	}
	switch {
	case nb == na || hasStyleMarker(before) || hasStyleMarker(after):
		f.Category = CategoryStyle
		f.Significance = 40
	case isToneWord(nb) || isToneWord(na) || contractionRe.MatchString(before) != contractionRe.MatchString(after):
		f.Category = CategoryTone
		f.Significance = 70
	default:
		f.Category = CategoryVocabulary
		f.Significance = 55
		if _, ok := australianSet[na]; ok {
			f.Significance = 65
		}
	}
	return f
}

func runFinding(kind string, words []string) EditFinding {
	verb := "added"
	if kind == FindingDeletion {
		verb = "removed"
	}
	text := strings.Join(words, " ")
	f := EditFinding{Kind: kind}
	if kind == FindingDeletion {
		f.Before = text
	} else {
		f.After = text
	}
	styleOnly := true
	for _, w := range words {
		if !hasStyleMarker(w) {
			styleOnly = false
			break
		}
	}
	switch {
	case styleOnly:
		f.Category = CategoryStyle
		f.Description = verb + " emoji/hashtags"
		f.Significance = 40
	case len(words) >= 3:
		f.Category = CategoryContent
		f.Description = fmt.Sprintf("%s content %q", verb, normalizeToken(text))
		f.Significance = math.Min(95, 60+5*float64(len(words)))
	default:
		f.Category = CategoryVocabulary
		f.Description = fmt.Sprintf("%s %q", verb, normalizeToken(text))
		f.Significance = 50
	}
	return f
}

func normalizeToken(s string) string {
	s = strings.ToLower(s)
	return strings.TrimFunc(s, func(r rune) bool {
		return strings.ContainsRune(".,!?;:\"()[]…-—'’", r)
	})
}

func hasStyleMarker(w string) bool {
	return emojiRe.MatchString(w) || hashtagRe.MatchString(w)
}

func isToneWord(w string) bool {
	if _, ok := formalSet[w]; ok {
		return true
	}
	_, ok := enthusiasmSet[w]
	return ok
}

// AggregateEditPatterns folds findings of the same category with overlapping descriptions into
// patterns and keeps those whose share of all findings reaches threshold.
func AggregateEditPatterns(findings []EditFinding, threshold float64) []EditPattern {
	if len(findings) == 0 {
		return []EditPattern{}
	}
	type acc struct {
		pattern EditPattern
		words   map[string]struct{}
		sigSum  float64
	}
	var accs []*acc
	for _, f := range findings {
		fw := descriptionWords(f.Description)
		var target *acc
		for _, a := range accs {
			if a.pattern.Category == f.Category && jaccard(a.words, fw) >= descriptionOverlap {
				target = a
				break
			}
		}
		if target == nil {
			target = &acc{
				pattern: EditPattern{Category: f.Category, Description: f.Description},
				words:   fw,
			}
			accs = append(accs, target)
		}
		target.pattern.Frequency++
		target.sigSum += f.Significance
		if len(target.pattern.Examples) < maxPatternExamples && (f.Before != "" || f.After != "") {
			target.pattern.Examples = append(target.pattern.Examples, EditExample{Before: f.Before, After: f.After})
		}
	}

	total := float64(len(findings))
	out := make([]EditPattern, 0, len(accs))
	for _, a := range accs {
		p := a.pattern
		p.Share = round2(float64(p.Frequency) / total)
		if float64(p.Frequency)/total < threshold {
			continue
		}
		p.AverageSignificance = round2(a.sigSum / float64(p.Frequency))
		p.Confidence = round2(math.Min(100, p.Share*100))
		if p.Examples == nil {
			p.Examples = []EditExample{}
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		if out[i].AverageSignificance != out[j].AverageSignificance {
			return out[i].AverageSignificance > out[j].AverageSignificance
		}
		return out[i].Description < out[j].Description
	})
	return out
}

func descriptionWords(s string) map[string]struct{} {
	m := map[string]struct{}{}
	for _, w := range wordRe.FindAllString(strings.ToLower(s), -1) {
		m[w] = struct{}{}
	}
	return m
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
