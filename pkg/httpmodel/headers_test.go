package httpmodel

import "testing"

func TestHeadersCaseInsensitiveLookup(t *testing.T) {
	var h Headers
	h.Add("Content-Type", "text/plain")

	if v, ok := h.Get("content-type"); !ok || v != "text/plain" {
		t.Errorf("Get(content-type) = %q, %v", v, ok)
	}
	if v, ok := h.Get("CONTENT-TYPE"); !ok || v != "text/plain" {
		t.Errorf("Get(CONTENT-TYPE) = %q, %v", v, ok)
	}
}

func TestHeadersPreservesInsertionOrderForRepeatedNames(t *testing.T) {
	var h Headers
	h.Add("Set-Cookie", "a=1")
	h.Add("Set-Cookie", "b=2")
	h.Add("Set-Cookie", "c=3")

	got := h.Values("set-cookie")
	want := []string{"a=1", "b=2", "c=3"}
	if len(got) != len(want) {
		t.Fatalf("Values() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Values()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestHeadersSetReplacesAllValues(t *testing.T) {
	var h Headers
	h.Add("X-Foo", "1")
	h.Add("X-Foo", "2")
	h.Set("X-Foo", "3")

	got := h.Values("x-foo")
	if len(got) != 1 || got[0] != "3" {
		t.Errorf("Values() after Set() = %v, want [3]", got)
	}
}

func TestHeadersDel(t *testing.T) {
	var h Headers
	h.Add("A", "1")
	h.Add("B", "2")
	h.Del("a")

	if h.Has("A") {
		t.Error("Has(A) = true after Del")
	}
	if !h.Has("B") {
		t.Error("Has(B) = false, want true")
	}
}

func TestHeadersRangePreservesOrder(t *testing.T) {
	var h Headers
	h.Add("A", "1")
	h.Add("B", "2")
	h.Add("A", "3")

	var names []string
	h.Range(func(name, value string) { names = append(names, name+"="+value) })

	want := []string{"A=1", "B=2", "A=3"}
	for i, w := range want {
		if names[i] != w {
			t.Errorf("Range()[%d] = %q, want %q", i, names[i], w)
		}
	}
}

func TestHeadersCloneIsIndependent(t *testing.T) {
	var h Headers
	h.Add("A", "1")

	clone := h.Clone()
	h.Add("A", "2")

	if clone.Len() != 1 {
		t.Errorf("Clone() was mutated by later Add on original: Len() = %d, want 1", clone.Len())
	}
}
