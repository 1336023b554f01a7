package dispatch

import (
	"testing"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

func TestRenderSubstitutesContactFields(t *testing.T) {
	contact := domain.ContactListItem{
		Name:   "Ana",
		Number: "5511999990000",
		Email:  "ana@example.com",
	}

	got := Render("Hi {name}, we will call {number} or mail {email}.", contact, nil)
	want := "Hi Ana, we will call 5511999990000 or mail ana@example.com."
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRenderAttributesAndVariables(t *testing.T) {
	contact := domain.ContactListItem{
		Name:       "Ana",
		Attributes: map[string]string{"company": "Acme"},
	}
	vars := []domain.Variable{
		{Key: "discount", Value: "10%"},
		// A tenant variable must not override a contact attribute.
		{Key: "company", Value: "WrongCo"},
	}

	got := Render("{name} from {company}: {discount} off", contact, vars)
	want := "Ana from Acme: 10% off"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRenderLeavesUnresolvedVerbatim(t *testing.T) {
	got := Render("Hello {name}, your code is {code}", domain.ContactListItem{Name: "Bo"}, nil)
	want := "Hello Bo, your code is {code}"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestPickVariant(t *testing.T) {
	if got := PickVariant(nil); got != "" {
		t.Fatalf("empty variants returned %q", got)
	}

	variants := []string{"a", "b", "c"}
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		v := PickVariant(variants)
		if v != "a" && v != "b" && v != "c" {
			t.Fatalf("picked unknown variant %q", v)
		}
		seen[v] = true
	}
	if len(seen) < 2 {
		t.Fatalf("200 picks hit only %d variants, selection is not random", len(seen))
	}
}
