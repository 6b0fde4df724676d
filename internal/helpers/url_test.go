package helpers

import "testing"

func TestNormalizeURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "defaults https",
			in:   "example.com/tech/latest",
			want: "https://example.com/tech/latest",
		},
		{
			name: "lowercases scheme and host",
			in:   "HTTPS://Example.COM/Article",
			want: "https://example.com/Article",
		},
		{
			name: "strips fragment",
			in:   "https://example.com/article?id=123#section",
			want: "https://example.com/article?id=123",
		},
		{
			name: "trims trailing slash",
			in:   "https://example.com/path/",
			want: "https://example.com/path",
		},
		{
			name: "empty input",
			in:   "   ",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeURL(tt.in); got != tt.want {
				t.Fatalf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDomain(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"https://News.Example.com/article": "news.example.com",
		"http://example.com:8080/x":        "example.com",
		"example.com/path":                 "example.com",
		"":                                 "",
	}
	for in, want := range tests {
		if got := Domain(in); got != want {
			t.Fatalf("Domain(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSnippet(t *testing.T) {
	t.Parallel()
	if got := Snippet("short", 10); got != "short" {
		t.Fatalf("unexpected snippet %q", got)
	}
	got := Snippet("a long text that exceeds the limit comfortably", 10)
	if len([]rune(got)) > 11 {
		t.Fatalf("snippet too long: %q", got)
	}
	if got[len(got)-3:] != "…" {
		t.Fatalf("expected ellipsis suffix, got %q", got)
	}
	if Snippet("   ", 10) != "" {
		t.Fatalf("blank input yields empty snippet")
	}
}
