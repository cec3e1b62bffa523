package enums

type FeedbackTag string

const (
	FeedbackIntense  FeedbackTag = "intense"
	FeedbackCreative FeedbackTag = "creative"
	FeedbackSlow     FeedbackTag = "slow"
	FeedbackReport   FeedbackTag = "report"
)

func ParseFeedbackTag(value string) (FeedbackTag, bool) {
	switch FeedbackTag(value) {
	case FeedbackIntense, FeedbackCreative, FeedbackSlow, FeedbackReport:
		return FeedbackTag(value), true
	default:
		return "", false
	}
}
