//go:build go1.18

package domain

import "testing"

// FuzzParseClaimKey checks that parsing never panics and that accepted keys
// round-trip through their hex encoding.
func FuzzParseClaimKey(f *testing.F) {
	f.Add("")
	f.Add("0102")
	f.Add("ABCDEF")
	f.Add("not-hex")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		k, err := ParseClaimKey(input)
		if err != nil {
			return
		}
		again, err := ParseClaimKey(k.Hex())
		if err != nil {
			t.Fatalf("accepted key failed round-trip: %v", err)
		}
		if !again.Equal(k) {
			t.Fatal("round-trip changed key value")
		}
	})
}

// FuzzParseAccountID checks that an accepted id survives a String round-trip.
func FuzzParseAccountID(f *testing.F) {
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("")
	f.Add("'; DROP TABLE claims;--")

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseAccountID(input)
		if err != nil {
			return
		}
		if id.IsNil() {
			t.Fatal("nil account id was accepted")
		}
		again, err := ParseAccountID(id.String())
		if err != nil || again != id {
			t.Fatalf("accepted id failed round-trip: %v", err)
		}
	})
}
