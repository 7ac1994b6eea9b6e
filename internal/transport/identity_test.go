package transport

import "testing"

func TestIdentityDeterministic(t *testing.T) {
	a := IdentityFromSeed(12345)
	b := IdentityFromSeed(12345)
	if a.NodeID() != b.NodeID() {
		t.Error("same seed must yield the same NodeID")
	}
}

func TestIdentityDistinct(t *testing.T) {
	seen := make(map[string]uint64)
	for _, seed := range []uint64{0, 1, 2, 42, 1 << 40, ^uint64(0)} {
		id := IdentityFromSeed(seed).NodeID()
		if prev, dup := seen[id]; dup {
			t.Errorf("seeds %d and %d collided on NodeID %s", prev, seed, id)
		}
		seen[id] = seed
	}
}

func TestNodeIDShape(t *testing.T) {
	id := IdentityFromSeed(7).NodeID()
	if len(id) != 64 {
		t.Errorf("NodeID should be 64 hex chars, got %d", len(id))
	}
	for _, c := range id {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			t.Fatalf("NodeID contains non-hex char %q", c)
		}
	}
}
