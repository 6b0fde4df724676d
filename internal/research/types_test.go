package research

import (
	"strings"
	"testing"
)

func TestParseDepthProfile(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    DepthProfile
		wantErr bool
	}{
		{in: "3x3", want: DepthProfile{Dimensions: 3, AspectsPerDimension: 3}},
		{in: "2x5", want: DepthProfile{Dimensions: 2, AspectsPerDimension: 5}},
		{in: " 4X2 ", want: DepthProfile{Dimensions: 4, AspectsPerDimension: 2}},
		{in: "1x3", wantErr: true},
		{in: "3x6", wantErr: true},
		{in: "9x9", wantErr: true},
		{in: "3", wantErr: true},
		{in: "axb", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseDepthProfile(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseDepthProfile(%q): expected error, got %+v", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDepthProfile(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseDepthProfile(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestDepthProfileString(t *testing.T) {
	t.Parallel()
	d := DepthProfile{Dimensions: 4, AspectsPerDimension: 2}
	if d.String() != "4x2" {
		t.Fatalf("String() = %q", d.String())
	}
}

func TestSessionStatusTerminal(t *testing.T) {
	t.Parallel()

	terminal := []SessionStatus{StatusCompleted, StatusFailed, StatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	live := []SessionStatus{StatusPending, StatusProcessing, StatusCancelling}
	for _, s := range live {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestReferenceInputOrigin(t *testing.T) {
	t.Parallel()

	if got := (ReferenceInput{Name: "whitepaper", URL: "https://a.example"}).Origin(); got != "whitepaper" {
		t.Errorf("Origin() = %q, want name", got)
	}
	if got := (ReferenceInput{URL: "https://a.example"}).Origin(); got != "https://a.example" {
		t.Errorf("Origin() = %q, want url", got)
	}
	if got := (ReferenceInput{Document: "text"}).Origin(); got != "inline-document" {
		t.Errorf("Origin() = %q, want inline-document", got)
	}
}

func TestReportMarkdownSkipsEmptyFraming(t *testing.T) {
	t.Parallel()

	r := Report{
		Topic:    "Grid Storage",
		Sections: []Section{{Ordinal: 0, Title: "Economics", Body: "Costs fell."}},
	}
	md := r.Markdown()
	if strings.Contains(md, "Executive Summary") {
		t.Error("empty executive summary should be omitted")
	}
	if strings.Contains(md, "Conclusions") {
		t.Error("empty conclusions should be omitted")
	}
	if !strings.Contains(md, "## Economics\n\nCosts fell.") {
		t.Errorf("missing section body:\n%s", md)
	}
}
