package dispatch

import (
	"math/rand"
	"strings"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

// PickVariant returns one of the non-empty message variants uniformly
// at random. Returns "" when no variant is usable.
func PickVariant(variants []string) string {
	if len(variants) == 0 {
		return ""
	}
	return variants[rand.Intn(len(variants))]
}

// Render substitutes {placeholder} occurrences in body. Contact fields
// win over contact attributes, which win over tenant variables; a
// placeholder nothing resolves stays in the text verbatim so broken
// templates are visible instead of silently blanked.
func Render(body string, contact domain.ContactListItem, vars []domain.Variable) string {
	replace := func(key, value string) {
		body = strings.ReplaceAll(body, "{"+key+"}", value)
	}

	replace("name", contact.Name)
	replace("number", contact.Number)
	replace("email", contact.Email)

	for key, value := range contact.Attributes {
		replace(key, value)
	}
	for _, v := range vars {
		replace(v.Key, v.Value)
	}
	return body
}
