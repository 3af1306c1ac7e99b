package security

import (
	"testing"
)

func TestHasher_HashAndMatch(t *testing.T) {
	h := NewHasher(4)
	hash, err := h.Hash("Correct-Horse-9")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hash == "" || hash == "Correct-Horse-9" {
		t.Fatal("Hash returned empty or plaintext")
	}
	if !h.Matches(hash, "Correct-Horse-9") {
		t.Fatal("Matches should accept the original password")
	}
	if h.Matches(hash, "wrong") {
		t.Fatal("Matches should reject a wrong password")
	}
	if h.Matches("not-a-bcrypt-hash", "Correct-Horse-9") {
		t.Fatal("Matches should reject an invalid hash")
	}
}

func TestHasher_Cost(t *testing.T) {
	if h := NewHasher(12); h.Cost != 12 {
		t.Errorf("Cost want 12, got %d", h.Cost)
	}
	if h := NewHasher(0); h.Cost < 4 {
		t.Errorf("zero cost should be clamped to at least MinCost, got %d", h.Cost)
	}
	if h := NewHasher(99); h.Cost != 31 {
		t.Errorf("cost should be clamped to MaxCost, got %d", h.Cost)
	}
}

func TestHasher_BurnCompare(t *testing.T) {
	h := NewHasher(4)
	h.BurnCompare("anything")
	h.BurnCompare("anything else")
	if h.dummy == nil {
		t.Error("BurnCompare should initialize the placeholder hash")
	}
}
