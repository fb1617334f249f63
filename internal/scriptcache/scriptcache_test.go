package scriptcache

import "testing"

func TestCache_StoreAndLookup(t *testing.T) {
	c, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	src := `self.onmessage = function(e) {};`
	if _, ok, err := c.Lookup(src); err != nil || ok {
		t.Fatalf("expected a miss on an empty cache, got ok=%v err=%v", ok, err)
	}

	if err := c.Store(src, "BUNDLED_OUTPUT"); err != nil {
		t.Fatalf("Store: %v", err)
	}

	bundled, ok, err := c.Lookup(src)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok {
		t.Fatalf("expected a hit after Store")
	}
	if bundled != "BUNDLED_OUTPUT" {
		t.Fatalf("expected %q, got %q", "BUNDLED_OUTPUT", bundled)
	}
}

func TestCache_StoreOverwritesSameHash(t *testing.T) {
	c, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	src := `1+1;`
	if err := c.Store(src, "first"); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := c.Store(src, "second"); err != nil {
		t.Fatalf("Store: %v", err)
	}

	bundled, ok, err := c.Lookup(src)
	if err != nil || !ok {
		t.Fatalf("Lookup: ok=%v err=%v", ok, err)
	}
	if bundled != "second" {
		t.Fatalf("expected the later Store to win, got %q", bundled)
	}
}

func TestHash_IsDeterministicAndContentSensitive(t *testing.T) {
	a := Hash("same")
	b := Hash("same")
	c := Hash("different")
	if a != b {
		t.Fatalf("expected Hash to be deterministic for identical input")
	}
	if a == c {
		t.Fatalf("expected Hash to differ for different input")
	}
}
