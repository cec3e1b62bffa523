package enums

type Gender string

const (
	GenderAny    Gender = "any"
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// ParseGender maps stored or callback values onto the enum. Unknown values
// resolve to "any" so that a corrupted preference never blocks matching.
func ParseGender(value string) Gender {
	switch Gender(value) {
	case GenderMale, GenderFemale:
		return Gender(value)
	default:
		return GenderAny
	}
}
