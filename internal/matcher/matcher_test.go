package matcher

import "testing"

func TestMatchExact(t *testing.T) {
	cases := []struct {
		a, b []byte
		want bool
	}{
		{[]byte("hello world\n"), []byte("hello world\n"), true},
		{[]byte("hello world"), []byte("hello world\n"), false},
		{[]byte("hello  world"), []byte("hello world"), false},
	}
	for _, c := range cases {
		if got := Match(c.a, c.b, Exact); got != c.want {
			t.Errorf("Match(%q, %q, Exact) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestMatchIgnoreSpaceAndNewline(t *testing.T) {
	cases := []struct {
		a, b []byte
		want bool
	}{
		{[]byte("1 2 3\n"), []byte("1  2   3"), true},
		{[]byte("1\n2\n3"), []byte("1 2 3\n\n"), true},
		{[]byte("12 3"), []byte("1 23"), false},
	}
	for _, c := range cases {
		if got := Match(c.a, c.b, IgnoreSpaceAndNewline); got != c.want {
			t.Errorf("Match(%q, %q, IgnoreSnl) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestMatchSkipSpaceAndNewline(t *testing.T) {
	// Per spec.md §9: under SkipSnl, "ab" and "a b" compare equal.
	if !Match([]byte("ab"), []byte("a b"), SkipSpaceAndNewline) {
		t.Fatalf(`expected "ab" to match "a b" under SkipSnl`)
	}
	if Match([]byte("ab"), []byte("a b"), IgnoreSpaceAndNewline) {
		t.Fatalf(`expected "ab" to NOT match "a b" under IgnoreSnl (different token counts)`)
	}
}

func TestMatchReflexiveAndSymmetric(t *testing.T) {
	samples := [][]byte{
		[]byte(""),
		[]byte("hello world\n"),
		[]byte("1 2\n3  4\n\n"),
		[]byte("no whitespace at all"),
	}
	rules := []Rule{Exact, IgnoreSpaceAndNewline, SkipSpaceAndNewline}
	for _, s := range samples {
		for _, r := range rules {
			if !Match(s, s, r) {
				t.Errorf("Match(%q, %q, %v) expected reflexive true", s, s, r)
			}
		}
	}
	a, b := []byte("1 2 3"), []byte("1  2  3\n")
	for _, r := range rules {
		if Match(a, b, r) != Match(b, a, r) {
			t.Errorf("Match not symmetric for rule %v", r)
		}
	}
}
