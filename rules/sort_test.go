package rules

import (
	"math"
	"slices"
	"testing"
)

func TestSortByDependencies(t *testing.T) {
	tests := []struct {
		name  string
		input []*Rule
		want  []string
	}{
		{
			name:  "priority order without dependencies",
			input: []*Rule{passRule("low", "X", 50), passRule("high", "X", 100)},
			want:  []string{"high", "low"},
		},
		{
			name:  "dependency beats priority",
			input: []*Rule{passRule("a", "X", 100, "b"), passRule("b", "X", 1)},
			want:  []string{"b", "a"},
		},
		{
			name: "chain",
			input: []*Rule{
				passRule("c", "X", 300, "b"),
				passRule("b", "X", 200, "a"),
				passRule("a", "X", 100),
			},
			want: []string{"a", "b", "c"},
		},
		{
			name: "diamond",
			input: []*Rule{
				passRule("top", "X", 100, "left", "right"),
				passRule("left", "X", 50, "base"),
				passRule("right", "X", 50, "base"),
				passRule("base", "X", 10),
			},
			want: []string{"base", "left", "right", "top"},
		},
		{
			name:  "dependency outside input is ignored",
			input: []*Rule{passRule("a", "X", 10, "elsewhere")},
			want:  []string{"a"},
		},
		{
			name:  "stable ties",
			input: []*Rule{passRule("x", "X", 5), passRule("y", "X", 5), passRule("z", "X", 5)},
			want:  []string{"x", "y", "z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ordered, cycles := SortByDependencies(tt.input)
			if len(cycles) != 0 {
				t.Errorf("unexpected cycles %v", cycles)
			}
			if got := ids(ordered); !slices.Equal(got, tt.want) {
				t.Errorf("SortByDependencies() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSortByDependencies_CycleEmitsEveryRuleOnce(t *testing.T) {
	input := []*Rule{
		passRule("a", "X", 100, "b"),
		passRule("b", "X", 90, "a"),
		passRule("free", "X", 10),
	}

	ordered, cycles := SortByDependencies(input)

	if len(cycles) != 1 {
		t.Fatalf("got %d cycles, want 1", len(cycles))
	}
	if got, want := cycles[0], []string{"a", "b", "a"}; !slices.Equal(got, want) {
		t.Errorf("cycle path = %v, want %v", got, want)
	}

	got := ids(ordered)
	slices.Sort(got)
	if want := []string{"a", "b", "free"}; !slices.Equal(got, want) {
		t.Errorf("ordered ids = %v, want each rule exactly once", got)
	}
}

func TestSortByDependencies_DoesNotMutateInput(t *testing.T) {
	input := []*Rule{passRule("low", "X", 1), passRule("high", "X", 2)}
	SortByDependencies(input)

	if got := ids(input); !slices.Equal(got, []string{"low", "high"}) {
		t.Errorf("input reordered to %v", got)
	}
}

func TestSortByDependencies_ExtremePriorities(t *testing.T) {
	sorted, _ := SortByDependencies([]*Rule{
		passRule("low", "X", math.MinInt),
		passRule("high", "X", 1),
		passRule("top", "X", math.MaxInt),
	})
	if got, want := ids(sorted), []string{"top", "high", "low"}; !slices.Equal(got, want) {
		t.Errorf("SortByDependencies() = %v, want %v", got, want)
	}
}
