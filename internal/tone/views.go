package tone

import (
	"context"
	"strings"
	"time"
)

// BatchResult is one user's outcome inside a batch run.
type BatchResult struct {
	UserID  string       `json:"userId"`
	Success bool         `json:"success"`
	Data    *ToneProfile `json:"data,omitempty"`
	Error   *ErrorBody   `json:"error,omitempty"`
	Meta    ResponseMeta `json:"meta"`
}

type BatchResponse struct {
	Results      []BatchResult `json:"results"`
	Total        int           `json:"total"`
	Successful   int           `json:"successful"`
	Failed       int           `json:"failed"`
	ProcessingMs int64         `json:"processingTimeMs"`
}

// GetBatchToneProfiles runs users one after another. A failure for one user is recorded
// in its result and does not stop the batch.
func (e *Engine) GetBatchToneProfiles(ctx context.Context, userIDs []string, start, end *time.Time) BatchResponse {
	began := time.Now()
	out := BatchResponse{Results: make([]BatchResult, 0, len(userIDs)), Total: len(userIDs)}
	for _, id := range userIDs {
		if err := ctx.Err(); err != nil {
			out.Results = append(out.Results, BatchResult{
				UserID: id,
				Error:  &ErrorBody{Message: "batch cancelled", Code: CodeUnknownError},
				Meta:   ResponseMeta{DataQuality: QualityPoor},
			})
			out.Failed++
			continue
		}
		r := e.GetUserToneProfile(ctx, id, start, end)
		out.Results = append(out.Results, BatchResult{UserID: id, Success: r.Success, Data: r.Data, Error: r.Error, Meta: r.Meta})
		if r.Success {
			out.Successful++
		} else {
			out.Failed++
		}
	}
	out.ProcessingMs = time.Since(began).Milliseconds()
	return out
}

// ToneProfileSummary is a lightweight view of a profile for dashboards.
type ToneProfileSummary struct {
	UserID              string   `json:"userId"`
	DataQuality         string   `json:"dataQuality"`
	ToneLabel           string   `json:"toneLabel"`
	Formality           float64  `json:"formality"`
	Enthusiasm          float64  `json:"enthusiasm"`
	Professionalism     float64  `json:"professionalism"`
	EmojiUsage          string   `json:"emojiUsage"`
	TopPlatform         string   `json:"topPlatform,omitempty"`
	TotalPosts          int      `json:"totalPosts"`
	EditRate            float64  `json:"editRate"`
	UsesAustralianTerms bool     `json:"usesAustralianTerms"`
	KeyTraits           []string `json:"keyTraits"`
	TopRecommendation   string   `json:"topRecommendation,omitempty"`
}

type SummaryResponse struct {
	Success bool                `json:"success"`
	Data    *ToneProfileSummary `json:"data,omitempty"`
	Error   *ErrorBody          `json:"error,omitempty"`
	Meta    ResponseMeta        `json:"meta"`
}

// GetToneProfileSummary computes the profile over the default window and reduces it.
func (e *Engine) GetToneProfileSummary(ctx context.Context, userID string) SummaryResponse {
	r := e.GetUserToneProfile(ctx, userID, nil, nil)
	if !r.Success {
		return SummaryResponse{Error: r.Error, Meta: r.Meta}
	}
	return SummaryResponse{Success: true, Data: Summarize(r.Data), Meta: r.Meta}
}

// Summarize reduces a full profile to its headline traits.
func Summarize(p *ToneProfile) *ToneProfileSummary {
	s := &ToneProfileSummary{
		UserID:              p.UserID,
		DataQuality:         p.DataQuality,
		ToneLabel:           p.WritingStyle.ToneLabel,
		Formality:           p.WritingStyle.Formality,
		Enthusiasm:          p.WritingStyle.Enthusiasm,
		Professionalism:     p.WritingStyle.Professionalism,
		EmojiUsage:          p.WritingStyle.EmojiUsage,
		TotalPosts:          p.Activity.TotalPosts,
		EditRate:            p.Activity.EditRate,
		UsesAustralianTerms: len(p.Vocabulary.AustralianTerms) > 0,
		KeyTraits:           keyTraits(p),
	}
	if len(p.Activity.PostsByPlatform) > 0 {
		s.TopPlatform = p.Activity.PostsByPlatform[0].Platform
	}
	if len(p.Recommendations) > 0 {
		s.TopRecommendation = p.Recommendations[0].Guidance
	}
	return s
}

func keyTraits(p *ToneProfile) []string {
	st := p.WritingStyle
	traits := []string{st.ToneLabel}
	if st.Enthusiasm >= 60 {
		traits = append(traits, "enthusiastic")
	}
	if st.Professionalism >= 65 {
		traits = append(traits, "professional")
	}
	if st.Personality >= 40 {
		traits = append(traits, "personal")
	}
	if len(p.Vocabulary.AustralianTerms) > 0 {
		traits = append(traits, "australian voice")
	}
	if st.CTAsPerPost >= 0.5 {
		traits = append(traits, "action-oriented")
	}
	if st.EmojiUsage == "moderate" || st.EmojiUsage == "heavy" {
		traits = append(traits, "emoji-friendly")
	}
	return traits
}

var windowLayouts = []string{time.RFC3339, "2006-01-02"}

// ParseWindow parses optional start/end query values. Empty strings mean "use the default".
func ParseWindow(startStr, endStr string) (start, end *time.Time, err *Error) {
	parse := func(s string) (*time.Time, bool) {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, true
		}
		for _, layout := range windowLayouts {
			if t, e := time.Parse(layout, s); e == nil {
				return &t, true
			}
		}
		return nil, false
	}
	start, ok := parse(startStr)
	if !ok {
		return nil, nil, newError(CodeInvalidStartDate, "start must be RFC3339 or YYYY-MM-DD", nil)
	}
	end, ok = parse(endStr)
	if !ok {
		return nil, nil, newError(CodeInvalidEndDate, "end must be RFC3339 or YYYY-MM-DD", nil)
	}
	if start != nil && end != nil && !start.Before(*end) {
		return nil, nil, newError(CodeInvalidDateRange, "start date must be before end date", nil)
	}
	return start, end, nil
}
