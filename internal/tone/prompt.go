package tone

import (
	"context"
	"fmt"
	"strings"
)

type TrainingPrompt struct {
	UserID string `json:"userId"`
	Prompt string `json:"prompt"`
}

type TrainingPromptResponse struct {
	Success bool            `json:"success"`
	Data    *TrainingPrompt `json:"data,omitempty"`
	Error   *ErrorBody      `json:"error,omitempty"`
	Meta    ResponseMeta    `json:"meta"`
}

// GetClaudeTrainingPrompt renders the user's profile over the default window as a Markdown
// prompt for steering a generative model.
func (e *Engine) GetClaudeTrainingPrompt(ctx context.Context, userID string) TrainingPromptResponse {
	r := e.GetUserToneProfile(ctx, userID, nil, nil)
	if !r.Success {
		return TrainingPromptResponse{Error: r.Error, Meta: r.Meta}
	}
	return TrainingPromptResponse{
		Success: true,
		Data:    &TrainingPrompt{UserID: r.Data.UserID, Prompt: RenderTrainingPrompt(r.Data)},
		Meta:    r.Meta,
	}
}

// RenderTrainingPrompt is deterministic for a given profile.
func RenderTrainingPrompt(p *ToneProfile) string {
	var b strings.Builder
	st := p.WritingStyle

	fmt.Fprintf(&b, "# Writing Voice Guide for %s\n\n", p.UserID)
	fmt.Fprintf(&b, "You are writing social media content in the voice of this user. The guide below is derived from %d posts and %d caption revisions between %s and %s.\n\n",
		p.Activity.TotalPosts, p.Activity.TotalRevisions,
		p.AnalysisPeriod.Start.UTC().Format("2006-01-02"), p.AnalysisPeriod.End.UTC().Format("2006-01-02"))

	b.WriteString("## Core Style\n\n")
	fmt.Fprintf(&b, "- Overall tone: %s (formality %.0f/100)\n", st.ToneLabel, st.Formality)
	fmt.Fprintf(&b, "- Enthusiasm: %.0f/100\n", st.Enthusiasm)
	fmt.Fprintf(&b, "- Professionalism: %.0f/100\n", st.Professionalism)
	fmt.Fprintf(&b, "- Readability: %.0f/100\n", st.Readability)
	fmt.Fprintf(&b, "- Typical length: about %.0f words, %.1f words per sentence\n\n", st.AvgWordCount, st.AvgSentenceLength)

	b.WriteString("## Language Preferences\n\n")
	if len(p.Vocabulary.AustralianTerms) > 0 {
		fmt.Fprintf(&b, "- Uses Australian English. Familiar terms: %s\n", strings.Join(termsOf(p.Vocabulary.AustralianTerms, topListSize), ", "))
	} else {
		b.WriteString("- No regional slang detected; keep neutral English.\n")
	}
	fmt.Fprintf(&b, "- Contractions per post: %.1f\n\n", st.ContractionsPerPost)

	b.WriteString("## Vocabulary\n\n")
	writeTermLine(&b, "Preferred words (introduced in edits)", p.Vocabulary.PreferredWords)
	writeTermLine(&b, "Avoided words (removed in edits)", p.Vocabulary.AvoidedWords)
	writeTermLine(&b, "Most common words", p.Vocabulary.CommonWords)
	b.WriteString("\n")

	b.WriteString("## Communication Elements\n\n")
	fmt.Fprintf(&b, "- Emoji: %s (%.1f per post)\n", st.EmojiUsage, st.EmojiPerPost)
	fmt.Fprintf(&b, "- Hashtags per post: %.1f\n", st.HashtagsPerPost)
	fmt.Fprintf(&b, "- Questions per post: %.1f\n", st.QuestionsPerPost)
	fmt.Fprintf(&b, "- Exclamations per post: %.1f\n", st.ExclamationsPerPost)
	writeTermLine(&b, "Calls to action", p.Vocabulary.CTAPhrases)
	b.WriteString("\n")

	b.WriteString("## Personality Traits\n\n")
	for _, t := range keyTraits(p) {
		fmt.Fprintf(&b, "- %s\n", t)
	}
	fmt.Fprintf(&b, "- Personal address score: %.0f/100\n\n", st.Personality)

	b.WriteString("## Platform Adaptations\n\n")
	if len(p.PlatformAdaptations) == 0 {
		b.WriteString("- No platform-specific differences.\n")
	}
	for _, pa := range p.PlatformAdaptations {
		fmt.Fprintf(&b, "- %s (%d posts): formality %+.0f, enthusiasm %+.0f, length %+.0f words, emoji %+.1f, hashtags %+.1f\n",
			pa.Platform, pa.PostCount, pa.FormalityDelta, pa.EnthusiasmDelta, pa.AvgWordCountDelta, pa.EmojiDelta, pa.HashtagDelta)
	}
	b.WriteString("\n")

	b.WriteString("## Edit Patterns\n\n")
	if len(p.EditPatterns) == 0 {
		b.WriteString("- No dominant editing habits detected.\n")
	}
	for _, ep := range p.EditPatterns {
		fmt.Fprintf(&b, "- [%s] %s (seen %d times, %.0f%% of edits)\n", ep.Category, ep.Description, ep.Frequency, ep.Share*100)
		for _, ex := range ep.Examples {
			fmt.Fprintf(&b, "  - %q -> %q\n", ex.Before, ex.After)
		}
	}
	b.WriteString("\n")

	b.WriteString("## Recommendations\n\n")
	if len(p.Recommendations) == 0 {
		b.WriteString("- None.\n")
	}
	for _, r := range p.Recommendations {
		fmt.Fprintf(&b, "- **%s** (%s): %s\n", r.Category, r.Priority, r.Guidance)
		if len(r.Emphasize) > 0 {
			fmt.Fprintf(&b, "  - Emphasise: %s\n", strings.Join(r.Emphasize, ", "))
		}
		if len(r.Avoid) > 0 {
			fmt.Fprintf(&b, "  - Avoid: %s\n", strings.Join(r.Avoid, ", "))
		}
		for _, ex := range r.ExamplePrompts {
			fmt.Fprintf(&b, "  - Example: %s\n", ex)
		}
	}
	b.WriteString("\n")

	b.WriteString("## Generation Instructions\n\n")
	b.WriteString("1. Match the core style scores above as closely as possible.\n")
	b.WriteString("2. Apply the edit patterns before returning a draft so the user does not have to.\n")
	b.WriteString("3. Adapt length, emoji and hashtags to the target platform.\n")
	b.WriteString("4. Follow high-priority recommendations first.\n\n")

	b.WriteString("---\n")
	fmt.Fprintf(&b, "Data quality: %s. %s\n", p.DataQuality,
		RecommendedMinimumData(p.Activity.TotalPosts, p.Activity.TotalRevisions, p.Activity.ActiveDays))
	return b.String()
}

func writeTermLine(b *strings.Builder, label string, terms []TermCount) {
	if len(terms) == 0 {
		fmt.Fprintf(b, "- %s: none\n", label)
		return
	}
	parts := make([]string, 0, len(terms))
	for _, t := range terms {
		parts = append(parts, fmt.Sprintf("%s (%d)", t.Term, t.Count))
	}
	fmt.Fprintf(b, "- %s: %s\n", label, strings.Join(parts, ", "))
}
