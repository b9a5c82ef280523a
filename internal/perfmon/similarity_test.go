package perfmon

import (
	"math"
	"reflect"
	"testing"
)

func TestSimilarity_Identity(t *testing.T) {
	set := []string{"a", "b", "c"}
	if got := Similarity(set, set); got != 1.0 {
		t.Errorf("Similarity(A,A) = %v, want 1.0", got)
	}
}

func TestSimilarity_BothEmpty(t *testing.T) {
	if got := Similarity(nil, nil); got != 0 {
		t.Errorf("Similarity(empty,empty) = %v, want 0", got)
	}
	if got := Similarity([]string{}, []string{"", "  "}); got != 0 {
		t.Errorf("Similarity with blank-only input = %v, want 0", got)
	}
}

func TestSimilarity_Symmetric(t *testing.T) {
	a := []string{"a", "b", "c"}
	b := []string{"b", "c", "d", "e"}
	if Similarity(a, b) != Similarity(b, a) {
		t.Errorf("similarity not symmetric: %v vs %v", Similarity(a, b), Similarity(b, a))
	}
}

func TestSimilarity_Values(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want float64
	}{
		{"exact", []string{"a", "b", "c"}, []string{"a", "b", "c"}, 1.0},
		{"superset", []string{"a", "b", "c"}, []string{"a", "b", "c", "d"}, 0.75},
		{"disjoint", []string{"a"}, []string{"b"}, 0},
		{"one empty", []string{"a", "b"}, nil, 0},
		{"half overlap", []string{"a", "b"}, []string{"b", "c"}, 1.0 / 3.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Similarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Similarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSimilarity_OrderAndCaseInsensitive(t *testing.T) {
	a := []string{`\Memory\Available MBytes`, `\Processor(_Total)\% Processor Time`}
	b := []string{`\processor(_total)\% processor time`, `\memory\available mbytes`}
	if got := Similarity(a, b); got != 1.0 {
		t.Errorf("case/order variant sets should score 1.0, got %v", got)
	}
}

func TestSimilarity_DuplicatesIgnored(t *testing.T) {
	if got := Similarity([]string{"a", "a", "b"}, []string{"a", "b", "b"}); got != 1.0 {
		t.Errorf("duplicates must not change the score, got %v", got)
	}
}

func TestNormalizeCounters(t *testing.T) {
	in := []string{"  B ", "a", "b", "", "A"}
	want := []string{"a", "b"}
	if got := NormalizeCounters(in); !reflect.DeepEqual(got, want) {
		t.Errorf("NormalizeCounters = %v, want %v", got, want)
	}
}

func TestNormalizeCounters_Empty(t *testing.T) {
	if got := NormalizeCounters(nil); len(got) != 0 {
		t.Errorf("expected empty result, got %v", got)
	}
}
