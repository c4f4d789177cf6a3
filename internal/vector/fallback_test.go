package vector

import "testing"

func TestFallbackStore_Bounded(t *testing.T) {
	f, err := NewFallbackStore(2)
	if err != nil {
		t.Fatal(err)
	}

	f.Put("a", []float32{1})
	f.Put("b", []float32{2})
	f.Put("c", []float32{3})

	if f.Len() != 2 {
		t.Errorf("len = %d, want 2", f.Len())
	}
	// Oldest entry evicted.
	if _, ok := f.Get("a"); ok {
		t.Error("expected a to be evicted")
	}
	if v, ok := f.Get("c"); !ok || v[0] != 3 {
		t.Errorf("c = %v ok=%v", v, ok)
	}
}

func TestFallbackStore_Replace(t *testing.T) {
	f, err := NewFallbackStore(4)
	if err != nil {
		t.Fatal(err)
	}

	f.Put("a", []float32{1})
	f.Put("a", []float32{9})

	if v, _ := f.Get("a"); v[0] != 9 {
		t.Errorf("a = %v, want replaced value", v)
	}
	if f.Len() != 1 {
		t.Errorf("len = %d, want 1", f.Len())
	}
}
