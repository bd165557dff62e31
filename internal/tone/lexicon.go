package tone

import (
	"regexp"
	"strings"
)

// Lexicons are fixed process-wide tables. They are compiled once at init and never mutated.

var australianTerms = []string{
	"mate", "arvo", "brekkie", "reckon", "heaps", "keen", "stoked", "no worries",
	"g'day", "fair dinkum", "ripper", "bloody", "servo", "barbie", "sunnies", "avo",
	"footy", "cuppa", "tradie", "aussie", "straya", "legend", "cheers",
	"too easy", "she'll be right", "good on ya", "how ya going", "devo", "rego",
	"colour", "favourite", "organisation", "organise", "realise", "centre",
	"optimise", "customise", "behaviour", "neighbour",
}

var ctaPhrases = []string{
	"call now", "call us", "book now", "book a", "contact us", "get in touch",
	"learn more", "find out more", "sign up", "shop now", "click the link",
	"dm us", "message us", "visit our website", "link in bio", "limited time",
	"don't miss out", "get started", "enquire now", "grab yours", "order now",
}

var businessTerms = []string{
	"business", "solution", "solutions", "service", "services", "customer", "customers",
	"client", "clients", "growth", "strategy", "results", "roi", "brand", "marketing",
	"revenue", "professional", "expert", "experts", "quality", "industry", "team",
}

var benefitTerms = []string{
	"save", "saves", "boost", "increase", "improve", "grow", "transform", "maximise",
	"maximize", "free", "guaranteed", "benefit", "benefits", "proven", "faster",
	"easier", "better", "more leads", "more sales",
}

var formalConnectives = []string{
	"therefore", "furthermore", "moreover", "consequently", "accordingly",
	"nevertheless", "notwithstanding", "additionally", "subsequently", "hence",
	"thus", "whereas", "regarding", "pursuant", "henceforth",
}

var enthusiasmWords = []string{
	"amazing", "awesome", "incredible", "excited", "exciting", "love", "loving",
	"fantastic", "brilliant", "stoked", "thrilled", "wow", "epic", "super",
	"can't wait", "delighted", "unreal", "insane", "best",
}

var firstPersonPronouns = []string{"i", "me", "my", "mine", "we", "us", "our", "ours", "myself", "ourselves"}

var secondPersonPronouns = []string{"you", "your", "yours", "yourself", "yourselves", "ya"}

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a an and are as at be but by for from has have he her his
		i if in into is it its me my of on or our so that the their them they this to up us was
		we were what when which who will with you your just can all not no do get out about more`) {
		stopwords[w] = struct{}{}
	}
}

var (
	australianRe = phraseRegexps(australianTerms)
	ctaRe        = phraseRegexps(ctaPhrases)
	businessRe   = wordSetRegexp(businessTerms)
	benefitRe    = wordSetRegexp(benefitTerms)
	formalRe     = wordSetRegexp(formalConnectives)
	enthusiasmRe = wordSetRegexp(enthusiasmWords)

	firstPersonSet  = toSet(firstPersonPronouns)
	secondPersonSet = toSet(secondPersonPronouns)
	formalSet       = toSet(formalConnectives)
	enthusiasmSet   = toSet(enthusiasmWords)
	australianSet   = toSet(australianTerms)

	// Standard emoji blocks: pictographs, emoticons, transport, supplemental symbols,
	// dingbats, misc symbols and regional indicators.
	emojiRe = regexp.MustCompile(`[\x{1F300}-\x{1F5FF}\x{1F600}-\x{1F64F}\x{1F680}-\x{1F6FF}\x{1F900}-\x{1F9FF}\x{1FA70}-\x{1FAFF}\x{2600}-\x{26FF}\x{2700}-\x{27BF}\x{1F1E6}-\x{1F1FF}]`)

	hashtagRe     = regexp.MustCompile(`#[\p{L}\p{N}_]+`)
	wordRe        = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}]+)*`)
	contractionRe = regexp.MustCompile(`(?i)\b[\p{L}]+['’](?:s|t|re|ve|ll|d|m)\b`)
	sentenceEndRe = regexp.MustCompile(`[.!?]+`)
	paragraphRe   = regexp.MustCompile(`\n\s*\n`)
	vowelGroupRe  = regexp.MustCompile(`[aeiouy]+`)
)

// namedPattern keeps the original phrase alongside its compiled matcher so callers can report
// which lexicon entry matched.
type namedPattern struct {
	term string
	re   *regexp.Regexp
}

func phraseRegexps(terms []string) []namedPattern {
	out := make([]namedPattern, 0, len(terms))
	for _, t := range terms {
		out = append(out, namedPattern{
			term: t,
			re:   regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(t) + `\b`),
		})
	}
	return out
}

func wordSetRegexp(terms []string) *regexp.Regexp {
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, regexp.QuoteMeta(t))
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

func toSet(terms []string) map[string]struct{} {
	m := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		m[t] = struct{}{}
	}
	return m
}

// matchedTerms returns each lexicon entry found in text with its occurrence count, in lexicon order.
func matchedTerms(patterns []namedPattern, text string) []TermCount {
	var out []TermCount
	for _, p := range patterns {
		n := len(p.re.FindAllStringIndex(text, -1))
		if n > 0 {
			out = append(out, TermCount{Term: p.term, Count: n})
		}
	}
	return out
}

func isStopword(w string) bool {
	_, ok := stopwords[w]
	return ok
}
