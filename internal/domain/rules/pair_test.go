package rules

import "testing"

func TestCanonicalPairOrdersIDs(t *testing.T) {
	key := CanonicalPair(42, 7)
	if key.Low != 7 || key.High != 42 {
		t.Fatalf("unexpected pair key: %+v", key)
	}

	same := CanonicalPair(7, 42)
	if same != key {
		t.Fatalf("pair key is not canonical: %+v vs %+v", same, key)
	}
}

func TestPairKeyOtherOf(t *testing.T) {
	key := CanonicalPair(10, 20)
	if got := key.OtherOf(10); got != 20 {
		t.Fatalf("expected 20, got %d", got)
	}
	if got := key.OtherOf(20); got != 10 {
		t.Fatalf("expected 10, got %d", got)
	}
	if !key.Contains(10) || !key.Contains(20) || key.Contains(30) {
		t.Fatalf("unexpected membership for %+v", key)
	}
}
