package tone

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"
)

// DefaultWindow is the analysis window used when no start is supplied.
const DefaultWindow = 90 * 24 * time.Hour

// DefaultPatternThreshold is the minimum share of all findings an edit pattern needs to be reported.
const DefaultPatternThreshold = 0.6

const topListSize = 10

// TermCount is a word or phrase with its number of occurrences.
type TermCount struct {
	Term  string `json:"term"`
	Count int    `json:"count"`
}

type PlatformCount struct {
	Platform string `json:"platform"`
	Posts    int    `json:"posts"`
}

type AnalysisPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type ActivityMetrics struct {
	TotalPosts          int             `json:"totalPosts"`
	TotalRevisions      int             `json:"totalRevisions"`
	TotalComments       int             `json:"totalComments"`
	EditedPosts         int             `json:"editedPosts"`
	EditRate            float64         `json:"editRate"`
	AvgRevisionsPerPost float64         `json:"avgRevisionsPerPost"`
	ActiveDays          int             `json:"activeDays"`
	FirstActivity       time.Time       `json:"firstActivity"`
	LastActivity        time.Time       `json:"lastActivity"`
	PostsByPlatform     []PlatformCount `json:"postsByPlatform"`
}

// WritingStyleProfile averages style metrics over a set of captions.
type WritingStyleProfile struct {
	SampleSize             int     `json:"sampleSize"`
	AvgWordCount           float64 `json:"avgWordCount"`
	AvgSentenceLength      float64 `json:"avgSentenceLength"`
	AvgWordLength          float64 `json:"avgWordLength"`
	Readability            float64 `json:"readability"`
	Formality              float64 `json:"formality"`
	Enthusiasm             float64 `json:"enthusiasm"`
	Professionalism        float64 `json:"professionalism"`
	Personality            float64 `json:"personality"`
	EmojiPerPost           float64 `json:"emojiPerPost"`
	HashtagsPerPost        float64 `json:"hashtagsPerPost"`
	QuestionsPerPost       float64 `json:"questionsPerPost"`
	ExclamationsPerPost    float64 `json:"exclamationsPerPost"`
	ContractionsPerPost    float64 `json:"contractionsPerPost"`
	CTAsPerPost            float64 `json:"ctasPerPost"`
	AustralianTermsPerPost float64 `json:"australianTermsPerPost"`
	ToneLabel              string  `json:"toneLabel"`
	EmojiUsage             string  `json:"emojiUsage"`
}

// PlatformAdaptation is a platform's style expressed as deltas from the overall profile.
type PlatformAdaptation struct {
	Platform          string              `json:"platform"`
	PostCount         int                 `json:"postCount"`
	Style             WritingStyleProfile `json:"style"`
	FormalityDelta    float64             `json:"formalityDelta"`
	EnthusiasmDelta   float64             `json:"enthusiasmDelta"`
	AvgWordCountDelta float64             `json:"avgWordCountDelta"`
	EmojiDelta        float64             `json:"emojiDelta"`
	HashtagDelta      float64             `json:"hashtagDelta"`
}

type VocabularyPreferences struct {
	PreferredWords  []TermCount `json:"preferredWords"`
	AvoidedWords    []TermCount `json:"avoidedWords"`
	CommonWords     []TermCount `json:"commonWords"`
	AustralianTerms []TermCount `json:"australianTerms"`
	CTAPhrases      []TermCount `json:"ctaPhrases"`
}

type FeedbackPatterns struct {
	TotalComments      int         `json:"totalComments"`
	ApprovalCount      int         `json:"approvalCount"`
	RejectionCount     int         `json:"rejectionCount"`
	ChangeRequestCount int         `json:"changeRequestCount"`
	ApprovalRate       float64     `json:"approvalRate"`
	RejectionRate      float64     `json:"rejectionRate"`
	CommonThemes       []TermCount `json:"commonThemes"`
}

type TrendSnapshot struct {
	Month           string  `json:"month"`
	PostCount       int     `json:"postCount"`
	AvgWordCount    float64 `json:"avgWordCount"`
	Formality       float64 `json:"formality"`
	Enthusiasm      float64 `json:"enthusiasm"`
	Professionalism float64 `json:"professionalism"`
	EmojiPerPost    float64 `json:"emojiPerPost"`
}

// Recommendation priorities.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

type Recommendation struct {
	Category       string   `json:"category"`
	Priority       string   `json:"priority"`
	Guidance       string   `json:"guidance"`
	ExamplePrompts []string `json:"examplePrompts"`
	Emphasize      []string `json:"emphasize"`
	Avoid          []string `json:"avoid"`
}

// ToneProfile is derived on demand from a user's posts, revisions and comments. It is never persisted.
type ToneProfile struct {
	UserID              string                `json:"userId"`
	AnalysisPeriod      AnalysisPeriod        `json:"analysisPeriod"`
	ProfileGeneratedAt  time.Time             `json:"profileGeneratedAt"`
	DataQuality         string                `json:"dataQuality"`
	Activity            ActivityMetrics       `json:"activity"`
	WritingStyle        WritingStyleProfile   `json:"writingStyle"`
	PlatformAdaptations []PlatformAdaptation  `json:"platformAdaptations"`
	EditPatterns        []EditPattern         `json:"editPatterns"`
	Vocabulary          VocabularyPreferences `json:"vocabulary"`
	Feedback            FeedbackPatterns      `json:"feedback"`
	Trends              []TrendSnapshot       `json:"trends"`
	Recommendations     []Recommendation      `json:"recommendations"`
}

type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ResponseMeta struct {
	DataQuality            string `json:"dataQuality"`
	ProcessingTimeMs       int64  `json:"processingTimeMs"`
	RecommendedMinimumData string `json:"recommendedMinimumData,omitempty"`
}

// ToneProfileResponse is the success/error envelope returned to callers.
type ToneProfileResponse struct {
	Success bool         `json:"success"`
	Data    *ToneProfile `json:"data,omitempty"`
	Error   *ErrorBody   `json:"error,omitempty"`
	Meta    ResponseMeta `json:"meta"`
}

// Engine builds tone profiles from a content Store.
type Engine struct {
	store            Store
	now              func() time.Time
	patternThreshold float64
}

type Option func(*Engine)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithPatternThreshold sets the minimum edit pattern share. Values outside (0,1] are ignored.
func WithPatternThreshold(t float64) Option {
	return func(e *Engine) {
		if t > 0 && t <= 1 {
			e.patternThreshold = t
		}
	}
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{store: store, now: time.Now, patternThreshold: DefaultPatternThreshold}
	for _, o := range opts {
		o(e)
	}
	return e
}

// GetUserToneProfile analyses the user's history in [start, end]. A nil end means now and a nil
// start means DefaultWindow before end. Failures are reported in the envelope, never returned.
func (e *Engine) GetUserToneProfile(ctx context.Context, userID string, start, end *time.Time) (resp ToneProfileResponse) {
	began := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Tone] panic userId=%s err=%v", userID, r)
			resp = failure(newError(CodeUnknownError, "unexpected error while analysing tone", nil), 0, 0, 0)
		}
		resp.Meta.ProcessingTimeMs = time.Since(began).Milliseconds()
	}()

	profile, err := e.buildProfile(ctx, userID, start, end)
	if err != nil {
		var te *Error
		if !errors.As(err, &te) {
			te = newError(CodeUnknownError, "unexpected error while analysing tone", err)
		}
		if te.Code == CodeDatabaseError || te.Code == CodeUnknownError {
			log.Printf("[Tone] profile failed userId=%s code=%s err=%v", userID, te.Code, err)
		}
		var posts, revisions, days int
		if profile != nil {
			posts, revisions, days = profile.Activity.TotalPosts, profile.Activity.TotalRevisions, profile.Activity.ActiveDays
		}
		return failure(te, posts, revisions, days)
	}
	return ToneProfileResponse{
		Success: true,
		Data:    profile,
		Meta: ResponseMeta{
			DataQuality:            profile.DataQuality,
			RecommendedMinimumData: RecommendedMinimumData(profile.Activity.TotalPosts, profile.Activity.TotalRevisions, profile.Activity.ActiveDays),
		},
	}
}

func failure(te *Error, posts, revisions, days int) ToneProfileResponse {
	return ToneProfileResponse{
		Error: &ErrorBody{Message: te.Message, Code: te.Code},
		Meta: ResponseMeta{
			DataQuality:            DataQuality(posts, revisions, days),
			RecommendedMinimumData: RecommendedMinimumData(posts, revisions, days),
		},
	}
}

// buildProfile returns a partial profile (activity only) alongside INSUFFICIENT_DATA so the
// envelope can report what was found.
func (e *Engine) buildProfile(ctx context.Context, userID string, start, end *time.Time) (*ToneProfile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, newError(CodeInvalidUserID, "userId is required", nil)
	}
	if start != nil && start.IsZero() {
		return nil, newError(CodeInvalidStartDate, "start date is invalid", nil)
	}
	if end != nil && end.IsZero() {
		return nil, newError(CodeInvalidEndDate, "end date is invalid", nil)
	}
	now := e.now()
	windowEnd := now
	if end != nil {
		windowEnd = *end
	}
	windowStart := windowEnd.Add(-DefaultWindow)
	if start != nil {
		windowStart = *start
	}
	if !windowStart.Before(windowEnd) {
		return nil, newError(CodeInvalidDateRange, "start date must be before end date", nil)
	}

	posts, err := e.store.ListPosts(ctx, userID, windowStart, windowEnd)
	if err != nil {
		return nil, newError(CodeDatabaseError, "failed to load posts", err)
	}
	if len(posts) == 0 {
		return nil, newError(CodeNoPostsFound, "no posts found in the analysis window", nil)
	}
	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	revisions, err := e.store.ListRevisions(ctx, ids)
	if err != nil {
		return nil, newError(CodeDatabaseError, "failed to load revisions", err)
	}
	comments, err := e.store.ListComments(ctx, ids)
	if err != nil {
		return nil, newError(CodeDatabaseError, "failed to load comments", err)
	}

	p := &ToneProfile{
		UserID:             userID,
		AnalysisPeriod:     AnalysisPeriod{Start: windowStart, End: windowEnd},
		ProfileGeneratedAt: now,
	}
	revsByPost := groupRevisions(revisions)
	p.Activity = activityMetrics(posts, revisions, comments, revsByPost)
	p.DataQuality = DataQuality(p.Activity.TotalPosts, p.Activity.TotalRevisions, p.Activity.ActiveDays)

	if p.Activity.TotalPosts < MinPosts || p.Activity.TotalRevisions < MinRevisions || p.Activity.ActiveDays < MinActiveDays {
		return p, newError(CodeInsufficientData, fmt.Sprintf(
			"insufficient data: found %d posts, %d revisions over %d days", p.Activity.TotalPosts, p.Activity.TotalRevisions, p.Activity.ActiveDays), nil)
	}

	captions := make([]string, 0, len(posts))
	metrics := make([]StyleMetrics, 0, len(posts))
	for _, post := range posts {
		c := finalCaption(post)
		captions = append(captions, c)
		metrics = append(metrics, CalculateStyleMetrics(c))
	}

	p.WritingStyle = summarizeStyle(metrics)
	p.PlatformAdaptations = platformAdaptations(posts, metrics, p.WritingStyle)

	var findings []EditFinding
	for _, post := range posts {
		versions := captionVersions(post, revsByPost[post.ID])
		for i := 1; i < len(versions); i++ {
			findings = append(findings, AnalyzeEditPatterns(versions[i-1], versions[i])...)
		}
	}
	p.EditPatterns = AggregateEditPatterns(findings, e.patternThreshold)
	p.Vocabulary = vocabularyPreferences(captions, findings)
	p.Feedback = feedbackPatterns(comments)
	p.Trends = trendSnapshots(posts, metrics)
	p.Recommendations = recommendations(p)
	return p, nil
}

func finalCaption(p Post) string {
	if strings.TrimSpace(p.CurrentCaption) != "" {
		return p.CurrentCaption
	}
	return p.OriginalCaption
}

func groupRevisions(revs []Revision) map[string][]Revision {
	out := map[string][]Revision{}
	for _, r := range revs {
		out[r.PostID] = append(out[r.PostID], r)
	}
	for id := range out {
		list := out[id]
		sort.SliceStable(list, func(i, j int) bool { return list[i].RevisionNumber < list[j].RevisionNumber })
	}
	return out
}

// captionVersions is the ordered caption history: original, each revision, then the final caption
// when it differs from the last revision.
func captionVersions(p Post, revs []Revision) []string {
	versions := []string{p.OriginalCaption}
	for _, r := range revs {
		if r.Caption != versions[len(versions)-1] {
			versions = append(versions, r.Caption)
		}
	}
	if c := strings.TrimSpace(p.CurrentCaption); c != "" && p.CurrentCaption != versions[len(versions)-1] {
		versions = append(versions, p.CurrentCaption)
	}
	return versions
}

func activityMetrics(posts []Post, revs []Revision, comments []Comment, revsByPost map[string][]Revision) ActivityMetrics {
	a := ActivityMetrics{
		TotalPosts:     len(posts),
		TotalRevisions: len(revs),
		TotalComments:  len(comments),
	}
	byPlatform := map[string]int{}
	for _, p := range posts {
		platform := strings.ToLower(strings.TrimSpace(p.Platform))
		if platform == "" {
			platform = "unknown"
		}
		byPlatform[platform]++
		if len(revsByPost[p.ID]) > 0 || (strings.TrimSpace(p.CurrentCaption) != "" && p.CurrentCaption != p.OriginalCaption) {
			a.EditedPosts++
		}
		a.FirstActivity, a.LastActivity = widen(a.FirstActivity, a.LastActivity, p.CreatedAt)
	}
	for _, r := range revs {
		a.FirstActivity, a.LastActivity = widen(a.FirstActivity, a.LastActivity, r.CreatedAt)
	}
	for platform, n := range byPlatform {
		a.PostsByPlatform = append(a.PostsByPlatform, PlatformCount{Platform: platform, Posts: n})
	}
	sort.Slice(a.PostsByPlatform, func(i, j int) bool {
		if a.PostsByPlatform[i].Posts != a.PostsByPlatform[j].Posts {
			return a.PostsByPlatform[i].Posts > a.PostsByPlatform[j].Posts
		}
		return a.PostsByPlatform[i].Platform < a.PostsByPlatform[j].Platform
	})
	if a.TotalPosts > 0 {
		a.EditRate = round2(float64(a.EditedPosts) / float64(a.TotalPosts))
		a.AvgRevisionsPerPost = round2(float64(a.TotalRevisions) / float64(a.TotalPosts))
	}
	a.ActiveDays = activeDays(a.FirstActivity, a.LastActivity)
	return a
}

func widen(first, last, t time.Time) (time.Time, time.Time) {
	if t.IsZero() {
		return first, last
	}
	if first.IsZero() || t.Before(first) {
		first = t
	}
	if last.IsZero() || t.After(last) {
		last = t
	}
	return first, last
}

// activeDays is the inclusive calendar-day span between the first and last activity.
func activeDays(first, last time.Time) int {
	if first.IsZero() || last.IsZero() {
		return 0
	}
	f := first.UTC().Truncate(24 * time.Hour)
	l := last.UTC().Truncate(24 * time.Hour)
	return int(l.Sub(f).Hours()/24) + 1
}

func summarizeStyle(ms []StyleMetrics) WritingStyleProfile {
	s := WritingStyleProfile{SampleSize: len(ms)}
	if len(ms) == 0 {
		s.ToneLabel = toneLabel(neutralFormality)
		s.EmojiUsage = emojiUsage(0)
		return s
	}
	var words, sentLen, wordLen, read, formal, enth, prof, pers float64
	var emoji, hashtags, questions, excl, contractions, ctas, aus float64
	for _, m := range ms {
		words += float64(m.WordCount)
		sentLen += m.AvgSentenceLength
		wordLen += m.AvgWordLength
		read += m.ReadabilityScore
		formal += m.FormalityScore
		enth += m.EnthusiasmScore
		prof += m.ProfessionalismScore
		pers += m.PersonalityScore
		emoji += float64(m.EmojiCount)
		hashtags += float64(m.HashtagCount)
		questions += float64(m.QuestionCount)
		excl += float64(m.ExclamationCount)
		contractions += float64(m.ContractionCount)
		ctas += float64(m.CTACount)
		aus += float64(m.AustralianTermCount)
	}
	n := float64(len(ms))
	s.AvgWordCount = round2(words / n)
	s.AvgSentenceLength = round2(sentLen / n)
	s.AvgWordLength = round2(wordLen / n)
	s.Readability = round2(read / n)
	s.Formality = round2(formal / n)
	s.Enthusiasm = round2(enth / n)
	s.Professionalism = round2(prof / n)
	s.Personality = round2(pers / n)
	s.EmojiPerPost = round2(emoji / n)
	s.HashtagsPerPost = round2(hashtags / n)
	s.QuestionsPerPost = round2(questions / n)
	s.ExclamationsPerPost = round2(excl / n)
	s.ContractionsPerPost = round2(contractions / n)
	s.CTAsPerPost = round2(ctas / n)
	s.AustralianTermsPerPost = round2(aus / n)
	s.ToneLabel = toneLabel(s.Formality)
	s.EmojiUsage = emojiUsage(s.EmojiPerPost)
	return s
}

func toneLabel(formality float64) string {
	switch {
	case formality < 40:
		return "casual"
	case formality > 70:
		return "formal"
	default:
		return "balanced"
	}
}

func emojiUsage(perPost float64) string {
	switch {
	case perPost == 0:
		return "none"
	case perPost < 1:
		return "light"
	case perPost < 3:
		return "moderate"
	default:
		return "heavy"
	}
}

func platformAdaptations(posts []Post, metrics []StyleMetrics, overall WritingStyleProfile) []PlatformAdaptation {
	byPlatform := map[string][]StyleMetrics{}
	for i, p := range posts {
		platform := strings.ToLower(strings.TrimSpace(p.Platform))
		if platform == "" {
			platform = "unknown"
		}
		byPlatform[platform] = append(byPlatform[platform], metrics[i])
	}
	out := make([]PlatformAdaptation, 0, len(byPlatform))
	for _, platform := range sortedKeys(byPlatform) {
		st := summarizeStyle(byPlatform[platform])
		out = append(out, PlatformAdaptation{
			Platform:          platform,
			PostCount:         st.SampleSize,
			Style:             st,
			FormalityDelta:    round2(st.Formality - overall.Formality),
			EnthusiasmDelta:   round2(st.Enthusiasm - overall.Enthusiasm),
			AvgWordCountDelta: round2(st.AvgWordCount - overall.AvgWordCount),
			EmojiDelta:        round2(st.EmojiPerPost - overall.EmojiPerPost),
			HashtagDelta:      round2(st.HashtagsPerPost - overall.HashtagsPerPost),
		})
	}
	return out
}

func vocabularyPreferences(captions []string, findings []EditFinding) VocabularyPreferences {
	preferred := map[string]int{}
	avoided := map[string]int{}
	addWords := func(dst map[string]int, text string) {
		for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
			if len([]rune(w)) < 3 || isStopword(w) {
				continue
			}
			dst[w]++
		}
	}
	for _, f := range findings {
		switch f.Kind {
		case FindingSubstitution:
			if f.Category == CategoryStyle {
				continue
			}
			addWords(preferred, f.After)
			addWords(avoided, f.Before)
		case FindingInsertion:
			addWords(preferred, f.After)
		case FindingDeletion:
			addWords(avoided, f.Before)
		}
	}

	common := map[string]int{}
	aus := map[string]int{}
	ctas := map[string]int{}
	for _, c := range captions {
		addWords(common, c)
		for _, tc := range matchedTerms(australianRe, c) {
			aus[tc.Term] += tc.Count
		}
		for _, tc := range matchedTerms(ctaRe, c) {
			ctas[tc.Term] += tc.Count
		}
	}
	return VocabularyPreferences{
		PreferredWords:  topTerms(preferred, topListSize),
		AvoidedWords:    topTerms(avoided, topListSize),
		CommonWords:     topTerms(common, topListSize),
		AustralianTerms: topTerms(aus, topListSize),
		CTAPhrases:      topTerms(ctas, topListSize),
	}
}

var (
	rejectionMarkers     = wordSetRegexp([]string{"reject", "rejected", "not approved", "don't like", "do not like", "not happy", "off-brand", "off brand", "scrap", "wrong", "no good"})
	changeRequestMarkers = wordSetRegexp([]string{"change", "update", "tweak", "adjust", "revise", "edit", "instead", "shorter", "longer", "could you", "can you", "please make", "less", "more"})
	approvalMarkers      = wordSetRegexp([]string{"approved", "approve", "looks good", "love it", "perfect", "great", "lgtm", "good to go", "happy with", "spot on", "nailed it"})
)

func feedbackPatterns(comments []Comment) FeedbackPatterns {
	f := FeedbackPatterns{TotalComments: len(comments)}
	themes := map[string]int{}
	for _, c := range comments {
		switch {
		case rejectionMarkers.MatchString(c.Body):
			f.RejectionCount++
		case changeRequestMarkers.MatchString(c.Body):
			f.ChangeRequestCount++
		case approvalMarkers.MatchString(c.Body):
			f.ApprovalCount++
		}
		for _, w := range wordRe.FindAllString(strings.ToLower(c.Body), -1) {
			if len([]rune(w)) < 3 || isStopword(w) {
				continue
			}
			themes[w]++
		}
	}
	if f.TotalComments > 0 {
		f.ApprovalRate = round2(float64(f.ApprovalCount) / float64(f.TotalComments))
		f.RejectionRate = round2(float64(f.RejectionCount) / float64(f.TotalComments))
	}
	f.CommonThemes = topTerms(themes, topListSize)
	return f
}

func trendSnapshots(posts []Post, metrics []StyleMetrics) []TrendSnapshot {
	byMonth := map[string][]StyleMetrics{}
	for i, p := range posts {
		month := p.CreatedAt.UTC().Format("2006-01")
		byMonth[month] = append(byMonth[month], metrics[i])
	}
	if len(byMonth) < 2 {
		return []TrendSnapshot{}
	}
	out := make([]TrendSnapshot, 0, len(byMonth))
	for _, month := range sortedKeys(byMonth) {
		st := summarizeStyle(byMonth[month])
		out = append(out, TrendSnapshot{
			Month:           month,
			PostCount:       st.SampleSize,
			AvgWordCount:    st.AvgWordCount,
			Formality:       st.Formality,
			Enthusiasm:      st.Enthusiasm,
			Professionalism: st.Professionalism,
			EmojiPerPost:    st.EmojiPerPost,
		})
	}
	return out
}

var priorityRank = map[string]int{PriorityHigh: 0, PriorityMedium: 1, PriorityLow: 2}

func recommendations(p *ToneProfile) []Recommendation {
	var out []Recommendation
	st := p.WritingStyle

	if len(p.Vocabulary.AustralianTerms) > 0 {
		out = append(out, Recommendation{
			Category: "voice",
			Priority: PriorityHigh,
			Guidance: "Preserve the Australian English voice: keep local spelling and the slang this user already reaches for.",
			ExamplePrompts: []string{
				"Write this the way a friendly Aussie small business owner would say it.",
				"Use Australian spelling (colour, organise, favourite).",
			},
			Emphasize: termsOf(p.Vocabulary.AustralianTerms, 5),
			Avoid:     []string{"color", "favorite", "organize", "y'all"},
		})
	}

	switch {
	case st.Formality < 40:
		out = append(out, Recommendation{
			Category:       "style",
			Priority:       PriorityHigh,
			Guidance:       "Favour a casual, conversational tone with contractions and short sentences.",
			ExamplePrompts: []string{"Keep it relaxed and chatty, like a message to a regular customer."},
			Emphasize:      []string{"contractions", "short sentences", "direct address"},
			Avoid:          []string{"therefore", "furthermore", "moreover", "pursuant"},
		})
	case st.Formality > 70:
		out = append(out, Recommendation{
			Category:       "style",
			Priority:       PriorityMedium,
			Guidance:       "Keep a polished, formal register and avoid slang or contractions.",
			ExamplePrompts: []string{"Write in a professional, considered tone suitable for business clients."},
			Emphasize:      []string{"complete sentences", "clear structure"},
			Avoid:          []string{"slang", "contractions", "excessive exclamation marks"},
		})
	}

	if len(p.Activity.PostsByPlatform) > 0 {
		top := p.Activity.PostsByPlatform[0]
		out = append(out, Recommendation{
			Category:       "platform-adaptation",
			Priority:       PriorityMedium,
			Guidance:       fmt.Sprintf("Most content is written for %s (%d posts); optimise length and formatting for that platform first.", top.Platform, top.Posts),
			ExamplePrompts: []string{fmt.Sprintf("Write a %s caption in this voice.", top.Platform)},
			Emphasize:      []string{top.Platform},
			Avoid:          []string{},
		})
	}

	if len(p.EditPatterns) > 0 {
		descs := make([]string, 0, len(p.EditPatterns))
		for _, ep := range p.EditPatterns {
			descs = append(descs, ep.Description)
		}
		out = append(out, Recommendation{
			Category:       "editing",
			Priority:       PriorityHigh,
			Guidance:       "Apply the user's recurring edits up front: " + strings.Join(descs, "; ") + ".",
			ExamplePrompts: []string{"Draft the caption as it would look after the user's usual edits."},
			Emphasize:      termsOf(p.Vocabulary.PreferredWords, 5),
			Avoid:          termsOf(p.Vocabulary.AvoidedWords, 5),
		})
	}

	if p.Feedback.TotalComments >= 3 && p.Feedback.RejectionRate >= 0.3 {
		out = append(out, Recommendation{
			Category:       "feedback",
			Priority:       PriorityHigh,
			Guidance:       fmt.Sprintf("%.0f%% of feedback rejects drafts; review recurring themes before generating.", p.Feedback.RejectionRate*100),
			ExamplePrompts: []string{"Address these common concerns: " + strings.Join(termsOf(p.Feedback.CommonThemes, 5), ", ") + "."},
			Emphasize:      []string{},
			Avoid:          termsOf(p.Feedback.CommonThemes, 5),
		})
	}

	if st.Enthusiasm >= 60 {
		out = append(out, Recommendation{
			Category:       "tone",
			Priority:       PriorityMedium,
			Guidance:       "Keep the energy high with upbeat wording and the occasional exclamation.",
			ExamplePrompts: []string{"Make it sound genuinely excited without overdoing it."},
			Emphasize:      []string{"upbeat verbs", "exclamation marks"},
			Avoid:          []string{"flat corporate phrasing"},
		})
	}

	if st.CTAsPerPost >= 0.5 {
		out = append(out, Recommendation{
			Category:       "content",
			Priority:       PriorityMedium,
			Guidance:       "Close with a clear call to action, as most posts do.",
			ExamplePrompts: []string{"End with a call to action in the user's usual phrasing."},
			Emphasize:      termsOf(p.Vocabulary.CTAPhrases, 3),
			Avoid:          []string{},
		})
	}

	switch {
	case st.EmojiPerPost == 0:
		out = append(out, Recommendation{
			Category:       "style",
			Priority:       PriorityLow,
			Guidance:       "Do not add emoji; this user never uses them.",
			ExamplePrompts: []string{},
			Emphasize:      []string{},
			Avoid:          []string{"emoji"},
		})
	case st.EmojiPerPost >= 1:
		out = append(out, Recommendation{
			Category:       "style",
			Priority:       PriorityLow,
			Guidance:       fmt.Sprintf("Include emoji (about %.1f per post).", math.Round(st.EmojiPerPost*10)/10),
			ExamplePrompts: []string{},
			Emphasize:      []string{"emoji"},
			Avoid:          []string{},
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return priorityRank[out[i].Priority] < priorityRank[out[j].Priority]
	})
	return out
}

func termsOf(tcs []TermCount, n int) []string {
	out := []string{}
	for i, tc := range tcs {
		if i >= n {
			break
		}
		out = append(out, tc.Term)
	}
	return out
}

// topTerms sorts by count descending then term ascending and keeps the first n.
func topTerms(counts map[string]int, n int) []TermCount {
	out := make([]TermCount, 0, len(counts))
	for t, c := range counts {
		out = append(out, TermCount{Term: t, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Term < out[j].Term
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
