package urlutil

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://Example.com/", "https://example.com"},
		{"https://example.com/Pricing/", "https://example.com/pricing"},
		{"https://example.com/docs#install", "https://example.com/docs"},
		{"https://example.com/docs///", "https://example.com/docs"},
		{"  https://example.com/About  ", "https://example.com/about"},
		{"/", "/"},
		{"https://example.com/?q=1", "https://example.com/?q=1"},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"https://Example.com/Path/",
		"HTTP://WWW.EXAMPLE.COM/a/b/#frag",
		"https://example.com",
		"/",
		"",
		"https://example.com/trailing////",
	}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestIsHomepage(t *testing.T) {
	cases := []struct {
		page, start string
		want        bool
	}{
		{"https://example.com/", "https://example.com", true},
		{"http://www.example.com", "https://example.com", true},
		{"https://example.com/about", "https://example.com", false},
		{"https://EXAMPLE.com", "https://example.com/", true},
		{"https://other.com", "https://example.com", false},
	}
	for _, c := range cases {
		if got := IsHomepage(c.page, c.start); got != c.want {
			t.Errorf("IsHomepage(%q, %q) = %v, want %v", c.page, c.start, got, c.want)
		}
	}
}

func TestNormalizeAll(t *testing.T) {
	got := NormalizeAll([]string{
		"https://example.com/A",
		"https://example.com/a/",
		"https://example.com/b",
		"",
	})
	want := []string{"https://example.com/a", "https://example.com/b"}
	if len(got) != len(want) {
		t.Fatalf("expected %d urls, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("urls[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
