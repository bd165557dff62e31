package tone

import "fmt"

// Stable error codes returned in the response envelope.
const (
	CodeInvalidUserID    = "INVALID_USER_ID"
	CodeInvalidStartDate = "INVALID_START_DATE"
	CodeInvalidEndDate   = "INVALID_END_DATE"
	CodeInvalidDateRange = "INVALID_DATE_RANGE"
	CodeInsufficientData = "INSUFFICIENT_DATA"
	CodeNoPostsFound     = "NO_POSTS_FOUND"
	CodeDatabaseError    = "DATABASE_ERROR"
	CodeUnknownError     = "UNKNOWN_ERROR"
)

// Data quality tiers.
const (
	QualityPoor      = "poor"
	QualityFair      = "fair"
	QualityGood      = "good"
	QualityExcellent = "excellent"
)

// Minimum history required before a profile is produced.
const (
	MinPosts      = 5
	MinRevisions  = 3
	MinActiveDays = 7
)

// Error is a tone analysis failure with a stable code.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// DataQuality grades how much history is available.
func DataQuality(posts, revisions, activeDays int) string {
	switch {
	case posts >= 50 && revisions >= 30 && activeDays >= 60:
		return QualityExcellent
	case posts >= 20 && revisions >= 10 && activeDays >= 30:
		return QualityGood
	case posts >= MinPosts && revisions >= MinRevisions && activeDays >= MinActiveDays:
		return QualityFair
	default:
		return QualityPoor
	}
}

// RecommendedMinimumData describes what is still missing to reach the minimum thresholds.
func RecommendedMinimumData(posts, revisions, activeDays int) string {
	need := func(have, min int) int {
		if have >= min {
			return 0
		}
		return min - have
	}
	p, r, d := need(posts, MinPosts), need(revisions, MinRevisions), need(activeDays, MinActiveDays)
	if p == 0 && r == 0 && d == 0 {
		return fmt.Sprintf("Minimum met. For higher accuracy aim for 20+ posts, 10+ revisions and 30+ days of activity (currently %d posts, %d revisions, %d days).", posts, revisions, activeDays)
	}
	return fmt.Sprintf("At least %d posts, %d caption revisions and %d days of activity are needed (need %d more posts, %d more revisions, %d more days).",
		MinPosts, MinRevisions, MinActiveDays, p, r, d)
}
