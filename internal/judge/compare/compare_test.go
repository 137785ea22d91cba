package compare

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "only whitespace", in: " \n\t\r\n ", want: ""},
		{name: "trailing newline", in: "Hello\n", want: "Hello"},
		{name: "crlf", in: "a\r\nb\r\n", want: "a\nb"},
		{name: "bare cr", in: "a\rb", want: "a\nb"},
		{name: "blank lines dropped", in: "a\n\n\nb", want: "a\nb"},
		{name: "per line trim", in: "  1 2  \n\t3\t", want: "1 2\n3"},
		{name: "inner spaces kept", in: "1  2", want: "1  2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.in); got != tc.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"", "x", "a\nb\n", "a\r\n\r\nb  \n  c", "\n\n  \n", " lead\ttrail \r", "1 2 3\n4 5 6\n\n",
	}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Fatalf("Normalize not idempotent for %q: %q vs %q", in, once, twice)
		}
	}
}

func TestMatches(t *testing.T) {
	cases := []struct {
		expected string
		actual   string
		want     bool
	}{
		{"a\nb\n", "a\nb", true},
		{"a\n\nb", "a\nb", true},
		{"a\nb", "b\na", false},
		{"Hello", "Hello\n", true},
		{"6", "5", false},
		{"1 2", "1  2", false},
		{"x\r\ny", "x\ny\n\n", true},
	}
	for _, tc := range cases {
		if got := Matches(tc.expected, tc.actual); got != tc.want {
			t.Fatalf("Matches(%q, %q) = %v, want %v", tc.expected, tc.actual, got, tc.want)
		}
	}
}
