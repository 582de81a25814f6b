package profile

import "testing"

func TestLookup_Basic(t *testing.T) {
	f, err := Lookup("basic")
	if err != nil {
		t.Fatalf("Lookup(basic) error = %v", err)
	}
	p, err := f(NewTranslations([]string{"en"}))
	if err != nil || p == nil {
		t.Fatalf("factory() = %v, %v", p, err)
	}
}

func TestLookup_Unknown(t *testing.T) {
	if _, err := Lookup("does-not-exist"); err == nil {
		t.Error("Lookup of unknown profile should error")
	}
}
