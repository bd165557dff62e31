package tone

import (
	"math"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// StyleMetrics is the lexical/stylistic fingerprint of a single piece of text.
// All scores are in [0,100].
type StyleMetrics struct {
	WordCount            int         `json:"wordCount"`
	SentenceCount        int         `json:"sentenceCount"`
	ParagraphCount       int         `json:"paragraphCount"`
	AvgSentenceLength    float64     `json:"avgSentenceLength"`
	AvgWordLength        float64     `json:"avgWordLength"`
	ReadabilityScore     float64     `json:"readabilityScore"`
	FormalityScore       float64     `json:"formalityScore"`
	EnthusiasmScore      float64     `json:"enthusiasmScore"`
	ProfessionalismScore float64     `json:"professionalismScore"`
	PersonalityScore     float64     `json:"personalityScore"`
	EmojiCount           int         `json:"emojiCount"`
	HashtagCount         int         `json:"hashtagCount"`
	QuestionCount        int         `json:"questionCount"`
	ExclamationCount     int         `json:"exclamationCount"`
	ContractionCount     int         `json:"contractionCount"`
	FormalWordCount      int         `json:"formalWordCount"`
	AustralianTermCount  int         `json:"australianTermCount"`
	AustralianTerms      []TermCount `json:"australianTerms,omitempty"`
	CTACount             int         `json:"ctaCount"`
	CTAPhrases           []TermCount `json:"ctaPhrases,omitempty"`
	BusinessTermCount    int         `json:"businessTermCount"`
	BenefitTermCount     int         `json:"benefitTermCount"`
}

const neutralFormality = 50.0

var apostropheStripper = strings.NewReplacer("'", "", "’", "")

// CalculateStyleMetrics tokenises text and scores it. Empty input yields the zero record.
func CalculateStyleMetrics(text string) StyleMetrics {
	text = norm.NFC.String(text)
	if strings.TrimSpace(text) == "" {
		return StyleMetrics{}
	}

	var m StyleMetrics
	words := wordRe.FindAllString(text, -1)
	m.WordCount = len(words)
	m.EmojiCount = len(emojiRe.FindAllStringIndex(text, -1))
	m.HashtagCount = len(hashtagRe.FindAllStringIndex(text, -1))
	m.QuestionCount = strings.Count(text, "?")
	m.ExclamationCount = strings.Count(text, "!")
	m.ContractionCount = len(contractionRe.FindAllStringIndex(text, -1))
	m.FormalWordCount = len(formalRe.FindAllStringIndex(text, -1))
	m.BusinessTermCount = len(businessRe.FindAllStringIndex(text, -1))
	m.BenefitTermCount = len(benefitRe.FindAllStringIndex(text, -1))
	m.AustralianTerms = matchedTerms(australianRe, text)
	m.AustralianTermCount = sumCounts(m.AustralianTerms)
	m.CTAPhrases = matchedTerms(ctaRe, text)
	m.CTACount = sumCounts(m.CTAPhrases)

	enthusiasmHits := len(enthusiasmRe.FindAllStringIndex(text, -1))
	m.EnthusiasmScore = clampScore(float64(m.ExclamationCount)*10 + float64(m.EmojiCount)*8 + float64(enthusiasmHits)*12)

	if m.WordCount == 0 {
		return m
	}

	m.SentenceCount = countSentences(text)
	m.ParagraphCount = countParagraphs(text)

	letters := 0
	syllables := 0
	pronouns := 0
	for _, w := range words {
		lw := strings.ToLower(w)
		letters += utf8.RuneCountInString(apostropheStripper.Replace(lw))
		syllables += estimateSyllables(lw)
		if _, ok := firstPersonSet[lw]; ok {
			pronouns++
		} else if _, ok := secondPersonSet[lw]; ok {
			pronouns++
		}
	}

	wc := float64(m.WordCount)
	m.AvgSentenceLength = round2(wc / float64(m.SentenceCount))
	m.AvgWordLength = round2(float64(letters) / wc)
	m.ReadabilityScore = round2(clampScore(206.835 - 1.015*(wc/float64(m.SentenceCount)) - 84.6*(float64(syllables)/wc)))

	// Weighted per ten words so short captions and long posts land on the same scale.
	per10 := 10 / math.Max(wc, 10)
	m.FormalityScore = round2(clampScore(neutralFormality + (float64(m.FormalWordCount)*20-float64(m.ContractionCount)*15)*per10))

	m.ProfessionalismScore = round2(clampScore(50 +
		float64(m.BusinessTermCount)*6 +
		float64(m.BenefitTermCount)*4 +
		float64(m.FormalWordCount)*5 -
		float64(m.AustralianTermCount)*4 -
		float64(m.EmojiCount)*3 -
		float64(m.ExclamationCount)*3 -
		float64(m.ContractionCount)*2))

	m.PersonalityScore = round2(clampScore(float64(pronouns) / wc * 400))
	m.EnthusiasmScore = round2(m.EnthusiasmScore)
	return m
}

func countSentences(text string) int {
	n := 0
	for _, part := range sentenceEndRe.Split(text, -1) {
		if wordRe.MatchString(part) {
			n++
		}
	}
	if n == 0 {
		n = 1
	}
	return n
}

func countParagraphs(text string) int {
	n := 0
	for _, p := range paragraphRe.Split(text, -1) {
		if strings.TrimSpace(p) != "" {
			n++
		}
	}
	if n == 0 {
		n = 1
	}
	return n
}

func estimateSyllables(word string) int {
	groups := len(vowelGroupRe.FindAllStringIndex(word, -1))
	if groups > 1 && strings.HasSuffix(word, "e") && !strings.HasSuffix(word, "le") {
		groups--
	}
	if groups < 1 {
		groups = 1
	}
	return groups
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func sumCounts(tcs []TermCount) int {
	n := 0
	for _, tc := range tcs {
		n += tc.Count
	}
	return n
}
