package geo

import "testing"

func TestEncodeLength(t *testing.T) {
	h := Encode(40.7128, -74.0060, 10)
	if len(h) != 10 {
		t.Fatalf("expected length 10, got %d (%s)", len(h), h)
	}
}

func TestRoundTrip(t *testing.T) {
	lat, lng := 40.7128, -74.0060
	h := Encode(lat, lng, 12)
	dLat, dLng := Decode(h)

	// Round trip: re-encoding the decoded center must reproduce a prefix
	// of the original hash up to the encoded precision (spec §8 property 7).
	h2 := Encode(dLat, dLng, 12)
	if h2[:8] != h[:8] {
		t.Fatalf("round trip diverged: %s vs %s", h, h2)
	}
}

func TestPrefixes(t *testing.T) {
	got := Prefixes("dr5ru8")
	want := []string{"dr5ru8", "dr5ru", "dr5r", "dr5", "dr", "d"}
	if len(got) != len(want) {
		t.Fatalf("len mismatch: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("at %d: got %s want %s", i, got[i], want[i])
		}
	}
}

func TestIsPrefixOf(t *testing.T) {
	if !IsPrefixOf("dr5r", "dr5ru8") {
		t.Fatal("expected dr5r to be a prefix of dr5ru8")
	}
	if IsPrefixOf("dr5x", "dr5ru8") {
		t.Fatal("did not expect dr5x to be a prefix of dr5ru8")
	}
	if IsPrefixOf("dr5ru8x", "dr5ru8") {
		t.Fatal("longer string cannot be a prefix")
	}
}

func TestEncodeDifferentiatesNearbyPoints(t *testing.T) {
	a := Encode(40.7128, -74.0060, 10)
	b := Encode(40.7138, -74.0070, 10)
	if a == b {
		t.Fatalf("expected distinct geohashes, got %s for both", a)
	}
	// but short prefixes should still agree for nearby points
	if a[:4] != b[:4] {
		t.Fatalf("expected shared prefix for nearby points: %s vs %s", a, b)
	}
}
