package sandbox

import "testing"

func TestSanitizeIdentifier(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"echo", "echo"},
		{"My Tool-Name!", "myToolName"},
		{"search_files", "search_files"},
		{"123abc", "_123abc"},
		{"weird!!chars**here", "weirdCharsHere"},
		{"", "_"},
		{"---", "_"},
	}
	for _, c := range cases {
		if got := sanitizeIdentifier(c.in); got != c.want {
			t.Errorf("sanitizeIdentifier(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSanitizeASCIIDescription(t *testing.T) {
	in := "Reads a file—safely éé"
	want := "Reads a filesafely "
	if got := sanitizeASCIIDescription(in); got != want {
		t.Errorf("sanitizeASCIIDescription(%q) = %q, want %q", in, got, want)
	}
}
