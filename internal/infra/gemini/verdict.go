package gemini

import (
	"fmt"
	"strings"

	"github.com/CohenShirel/SkyLens/internal/domain/entity"
)

// refusalPhrases map a model that declines to answer onto a
// non-suspicious verdict instead of a parse error.
var refusalPhrases = []string{"can't assist", "cannot assist"}

// ParseVerdict applies the strict three-field grammar: a boolean-like
// threat flag, an object label and an explanation, separated by the
// first two commas. The flag is matched case-insensitively for "true".
// Anything that is neither the grammar nor a recognized refusal is a
// malformed verdict.
func ParseVerdict(raw string) (entity.Verdict, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "`")
	cleaned = strings.TrimSuffix(cleaned, "`")
	cleaned = strings.TrimSpace(cleaned)

	first := strings.Index(cleaned, ",")
	second := -1
	if first >= 0 {
		if rel := strings.Index(cleaned[first+1:], ","); rel >= 0 {
			second = first + 1 + rel
		}
	}

	if first < 0 || second < 0 {
		if isRefusal(cleaned) {
			return entity.Verdict{Images: []string{}}, nil
		}
		return entity.Verdict{}, fmt.Errorf("%w: %q", entity.ErrMalformedVerdict, raw)
	}

	suspicious := strings.Contains(strings.ToLower(cleaned[:first]), "true")

	return entity.Verdict{
		IsSuspicious: suspicious,
		Object:       trimField(cleaned[first+1 : second]),
		Explanation:  trimField(cleaned[second+1:]),
		Images:       []string{},
	}, nil
}

func isRefusal(answer string) bool {
	lower := strings.ToLower(answer)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// trimField drops surrounding whitespace and the quote placeholders the
// format uses for empty fields ('').
func trimField(field string) string {
	return strings.Trim(strings.TrimSpace(field), `'"`)
}
