package enums

type Intent string

const (
	IntentOpen     Intent = "open"
	IntentCasual   Intent = "casual"
	IntentFlirting Intent = "flirting"
	IntentRoleplay Intent = "roleplay"
	IntentGames    Intent = "games"
	IntentMedia    Intent = "media"
)

var allIntents = []Intent{
	IntentOpen,
	IntentCasual,
	IntentFlirting,
	IntentRoleplay,
	IntentGames,
	IntentMedia,
}

// ParseIntent falls back to "open" for anything outside the catalog.
func ParseIntent(value string) Intent {
	for _, intent := range allIntents {
		if Intent(value) == intent {
			return intent
		}
	}
	return IntentOpen
}

func (i Intent) Specific() bool {
	return i != "" && i != IntentOpen
}
