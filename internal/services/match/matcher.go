package match

import (
	"fmt"
	"strings"

	"github.com/nkarpachev/emberchat/backend/internal/domain/enums"
	"github.com/nkarpachev/emberchat/backend/internal/domain/model"
	"github.com/nkarpachev/emberchat/backend/internal/infra/telegram"
	pgrepo "github.com/nkarpachev/emberchat/backend/internal/repo/postgres"
)

// Callback payloads understood by the fallback menu.
const (
	CancelSearchData   = "search:cancel"
	FallbackIntentData = "fb:intent"
	FallbackAnyoneData = "fb:any"
	FallbackKeepData   = "fb:keep"

	fallbackPrefPrefix = "fb:pref:"
)

// MutualMatch reports whether two waiting clients satisfy each other's
// filters. Intents conflict only when both are specific and different; every
// gender and language filter is checked in both directions. Missing data
// fails the check rather than passing it.
func MutualMatch(a, b pgrepo.CandidateRecord) bool {
	if a.Profile.UserID == b.Profile.UserID {
		return false
	}

	if a.Profile.Intent.Specific() && b.Profile.Intent.Specific() &&
		a.Profile.Intent != b.Profile.Intent {
		return false
	}

	return accepts(a, b) && accepts(b, a)
}

func accepts(seeker, candidate pgrepo.CandidateRecord) bool {
	if g := seeker.Session.Prefs.GenderFilter(); g != enums.GenderAny && candidate.Profile.Gender != g {
		return false
	}
	if l := seeker.Session.Prefs.LanguageFilter(); l != "any" && !speaks(candidate.Profile, l) {
		return false
	}
	return true
}

func speaks(p model.Profile, language string) bool {
	for _, l := range p.Languages {
		if strings.EqualFold(l, language) {
			return true
		}
	}
	return false
}

// FallbackOptions derives the escalation menu for a client whose search has
// gone unanswered. Relax-one-filter options appear only when the current pool
// actually holds someone they would unlock; the last two rows are always
// offered.
func FallbackOptions(prof model.Profile, prefs model.SearchPrefs, pool []pgrepo.CandidateRecord) []telegram.MenuOption {
	var options []telegram.MenuOption

	if prof.IsPremium {
		if g := prefs.GenderFilter(); g != enums.GenderAny {
			if poolHas(pool, prof, func(c pgrepo.CandidateRecord) bool {
				return c.Profile.Gender == g
			}) {
				options = append(options, telegram.MenuOption{
					Label: fmt.Sprintf("🗣️ Chat with a %s (any language)", g),
					Data:  FallbackPrefData(model.SearchPrefs{Gender: g}),
				})
			}
		}

		if l := prefs.LanguageFilter(); l != "any" {
			if poolHas(pool, prof, func(c pgrepo.CandidateRecord) bool {
				return speaks(c.Profile, l)
			}) {
				options = append(options, telegram.MenuOption{
					Label: fmt.Sprintf("👤 Chat with a %s speaker (any gender)", l),
					Data:  FallbackPrefData(model.SearchPrefs{Language: l}),
				})
			}
		}
	}

	if prof.Intent.Specific() {
		options = append(options, telegram.MenuOption{
			Label: "➡️ Switch your vibe to 'Anything Goes'",
			Data:  FallbackIntentData,
		})
	}

	options = append(options,
		telegram.MenuOption{Label: "🎲 Connect with anyone (random)", Data: FallbackAnyoneData},
		telegram.MenuOption{Label: "⏳ Keep waiting for the perfect match", Data: FallbackKeepData},
	)

	return options
}

func poolHas(pool []pgrepo.CandidateRecord, prof model.Profile, fits func(pgrepo.CandidateRecord) bool) bool {
	for _, c := range pool {
		if c.Profile.UserID == prof.UserID {
			continue
		}
		if c.Profile.Intent.Specific() && c.Profile.Intent != prof.Intent {
			continue
		}
		if fits(c) {
			return true
		}
	}
	return false
}

// FallbackPrefData encodes a relaxed filter pair into callback data.
func FallbackPrefData(prefs model.SearchPrefs) string {
	return fallbackPrefPrefix + string(prefs.GenderFilter()) + ":" + prefs.LanguageFilter()
}

// ParseFallbackPref decodes the payload produced by FallbackPrefData.
func ParseFallbackPref(data string) (model.SearchPrefs, bool) {
	rest, ok := strings.CutPrefix(data, fallbackPrefPrefix)
	if !ok {
		return model.SearchPrefs{}, false
	}

	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return model.SearchPrefs{}, false
	}

	prefs := model.SearchPrefs{Gender: enums.ParseGender(parts[0])}
	if !strings.EqualFold(parts[1], "any") {
		prefs.Language = parts[1]
	}
	return prefs, true
}
