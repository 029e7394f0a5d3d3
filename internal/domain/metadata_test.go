package domain

import "testing"

func strPtr(s string) *string { return &s }

func TestTokenMetadata_Components(t *testing.T) {
	plain := &TokenMetadata{Chain: 1, Address: "0xaa"}
	if plain.IsComposite() {
		t.Error("plain token should not be composite")
	}
	if got := plain.Components(); len(got) != 0 {
		t.Errorf("expected no components, got %v", got)
	}

	pool := &TokenMetadata{Chain: 1, Address: "0xpp", Component0: strPtr("0xa0"), Component1: strPtr("0xa1")}
	if !pool.IsComposite() {
		t.Error("pool token should be composite")
	}
	got := pool.Components()
	if len(got) != 2 {
		t.Fatalf("expected 2 components, got %d", len(got))
	}
	if got[0] != (TokenAddress{Chain: 1, Hex: "0xa0"}) || got[1] != (TokenAddress{Chain: 1, Hex: "0xa1"}) {
		t.Errorf("unexpected components: %v", got)
	}
}

func TestTokenMetadata_CloneIsDeep(t *testing.T) {
	orig := &TokenMetadata{Chain: 1, Address: "0xpp", Component0: strPtr("0xa0")}
	c := orig.Clone()
	*c.Component0 = "0xff"
	if *orig.Component0 != "0xa0" {
		t.Errorf("clone shares component pointer: %s", *orig.Component0)
	}
}

func TestTokenAddress_String(t *testing.T) {
	a := TokenAddress{Chain: 137, Hex: "0xabc"}
	if a.String() != "137:0xabc" {
		t.Errorf("unexpected string: %s", a.String())
	}
}
