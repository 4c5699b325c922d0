package session

// PinStrength is the advisory classification of a candidate PIN.
type PinStrength string

const (
	PinStrengthWeak   PinStrength = "weak"
	PinStrengthMedium PinStrength = "medium"
	PinStrengthStrong PinStrength = "strong"
)

// StrengthResult pairs the classification with human-readable
// suggestions for the setup UI.
type StrengthResult struct {
	Strength    PinStrength
	Suggestions []string
}

// Codes people actually pick; anything here is an immediate Weak.
var commonPins = map[string]struct{}{
	"0000": {}, "1111": {}, "1234": {}, "4321": {}, "1212": {},
	"2222": {}, "3333": {}, "4444": {}, "5555": {}, "6666": {},
	"7777": {}, "8888": {}, "9999": {}, "1122": {}, "1313": {},
	"2000": {}, "2001": {}, "1010": {}, "6969": {}, "1004": {},
	"123456": {}, "654321": {}, "111111": {}, "000000": {},
}

// EvaluateStrength is a deterministic, stateless classifier. Weak PINs
// block setup; Medium is advisory only.
func EvaluateStrength(pin string) StrengthResult {
	if _, common := commonPins[pin]; common {
		return StrengthResult{
			Strength:    PinStrengthWeak,
			Suggestions: []string{"avoid common codes like 1234 or 0000"},
		}
	}

	if allSameDigit(pin) {
		return StrengthResult{
			Strength:    PinStrengthWeak,
			Suggestions: []string{"avoid repeating a single digit"},
		}
	}

	if isStrictSequence(pin) {
		return StrengthResult{
			Strength:    PinStrengthWeak,
			Suggestions: []string{"avoid ascending or descending runs like 1234 or 4321"},
		}
	}

	var suggestions []string
	score := 0

	if distinct := distinctDigits(pin); distinct >= 3 {
		score++
	} else {
		suggestions = append(suggestions, "use at least three different digits")
	}

	if !looksLikeYear(pin) {
		score++
	} else {
		suggestions = append(suggestions, "avoid years and other guessable dates")
	}

	if !hasRepeatedPair(pin) {
		score++
	} else {
		suggestions = append(suggestions, "avoid repeating pairs like 1212")
	}

	if score == 3 {
		return StrengthResult{Strength: PinStrengthStrong}
	}
	return StrengthResult{
		Strength:    PinStrengthMedium,
		Suggestions: suggestions,
	}
}

func allSameDigit(pin string) bool {
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			return false
		}
	}
	return len(pin) > 0
}

func isStrictSequence(pin string) bool {
	if len(pin) < 2 {
		return false
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[i-1]+1 {
			ascending = false
		}
		if pin[i] != pin[i-1]-1 {
			descending = false
		}
	}
	return ascending || descending
}

func distinctDigits(pin string) int {
	seen := map[byte]struct{}{}
	for i := 0; i < len(pin); i++ {
		seen[pin[i]] = struct{}{}
	}
	return len(seen)
}

func looksLikeYear(pin string) bool {
	if len(pin) != 4 {
		return false
	}
	return pin[0] == '1' && pin[1] == '9' || pin[0] == '2' && pin[1] == '0'
}

func hasRepeatedPair(pin string) bool {
	if len(pin) != 4 && len(pin) != 6 {
		return false
	}
	return pin[:2] == pin[2:4]
}
