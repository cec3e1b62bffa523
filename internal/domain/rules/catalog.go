package rules

import "time"

const (
	MaxStyleTags = 3

	MinAge = 13
	MaxAge = 99

	InviteTTL = 5 * time.Minute
)

var languages = []string{"English", "Spanish", "Hindi", "French", "German", "Russian"}

var styleTags = []string{
	"gentle", "direct", "romantic", "verbal",
	"scenario", "fantasy", "slow-burn", "playful",
}

func Languages() []string {
	out := make([]string, len(languages))
	copy(out, languages)
	return out
}

func KnownLanguage(lang string) bool {
	for _, l := range languages {
		if l == lang {
			return true
		}
	}
	return false
}

func StyleTags() []string {
	out := make([]string, len(styleTags))
	copy(out, styleTags)
	return out
}

func ValidAge(age int) bool {
	return age >= MinAge && age <= MaxAge
}
