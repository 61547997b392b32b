package sha256

import "testing"

// TestHasherHashDeterministic ensures repeated hashing yields the same digest.
func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	again, err := h.Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() repeat error = %v", err)
	}
	if again != got {
		t.Fatalf("expected deterministic hash, got %s vs %s", got, again)
	}
}

func TestShort(t *testing.T) {
	t.Parallel()

	if got := Short("hello world", 12); got != "b94d27b9934d" {
		t.Fatalf("Short() = %s", got)
	}
	if got := Short("hello world", 0); len(got) != 64 {
		t.Fatalf("expected full digest for n=0, got %d chars", len(got))
	}
	if Short("https://wiki.example.org/w/A", 12) == Short("https://wiki.example.org/w/B", 12) {
		t.Fatal("expected distinct prefixes for distinct inputs")
	}
}
