package research

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func validPlan(m int, speculative bool) string {
	var aspects []string
	for i := 0; i < m; i++ {
		aspects = append(aspects, fmt.Sprintf(
			`{"title":"Aspect %d","reasoning":"r","key_questions":["q%d"],"answered_by_reference":%t}`, i, i, speculative))
	}
	return `{"aspects":[` + strings.Join(aspects, ",") + `]}`
}

func TestPlannerPlansEveryDimension(t *testing.T) {
	t.Parallel()
	llm, _ := testLLM(func(prompt string) (string, error) {
		if !strings.HasPrefix(prompt, "PLAN") {
			return "", fmt.Errorf("unexpected prompt: %s", prompt)
		}
		return validPlan(3, false), nil
	})
	session := testSession("2x3")
	dims := []Dimension{
		{ID: "d0", Ordinal: 0, Title: "Chemistry"},
		{ID: "d1", Ordinal: 1, Title: "Economics"},
	}

	aspects, err := NewPlanner(llm).Run(context.Background(), session, dims, nil)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(aspects) != 6 {
		t.Fatalf("expected 6 aspects, got %d", len(aspects))
	}
	// Combined list follows dimension order regardless of which goroutine
	// finished first.
	for i, a := range aspects {
		wantDim := dims[i/3].ID
		if a.DimensionID != wantDim {
			t.Fatalf("aspect %d belongs to %s, want %s", i, a.DimensionID, wantDim)
		}
		if a.Ordinal != i%3 {
			t.Fatalf("aspect %d has ordinal %d", i, a.Ordinal)
		}
		if a.Status != AspectPending {
			t.Fatalf("new aspects must start pending, got %s", a.Status)
		}
	}
}

func TestPlannerWrongCountTwiceFailsDimension(t *testing.T) {
	t.Parallel()
	llm, _ := testLLM(func(string) (string, error) {
		return validPlan(4, false), nil
	})
	dims := []Dimension{{ID: "d0", Title: "Chemistry"}}

	_, err := NewPlanner(llm).Run(context.Background(), testSession("2x2"), dims, nil)
	if err == nil {
		t.Fatal("expected planning failure")
	}
	if !strings.Contains(err.Error(), "Chemistry") {
		t.Fatalf("error should name the dimension: %v", err)
	}
}

func TestPlannerCarriesSpeculativeReferenceFlag(t *testing.T) {
	t.Parallel()
	llm, _ := testLLM(func(string) (string, error) {
		return validPlan(2, true), nil
	})
	dims := []Dimension{{ID: "d0", Title: "Chemistry"}}
	refs := []ReferenceDocument{{Origin: "paper", Text: "data", Status: RefOK}}

	aspects, err := NewPlanner(llm).Run(context.Background(), testSession("2x2"), dims, refs)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	for _, a := range aspects {
		if !a.AnsweredByReference {
			t.Fatalf("expected speculative flag carried through: %+v", a)
		}
	}
}
