package seeds

import (
	"errors"
	"slices"
	"testing"
)

func TestExpand(t *testing.T) {
	tests := []struct {
		expr string
		want Set
	}{
		{"1-5", Set{1, 2, 3, 4, 5}},
		{"1,3,7", Set{1, 3, 7}},
		{"7", Set{7}},
		{"3,1,3", Set{1, 3}},
		{"1-3,2-4", Set{1, 2, 3, 4}},
		{" 5 , 2-3 ", Set{2, 3, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Expand(tt.expr)
			if err != nil {
				t.Fatalf("Expand(%q) failed: %v", tt.expr, err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("Expand(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestExpand_Invalid(t *testing.T) {
	for _, expr := range []string{"", "a", "1,,2", "0-3", "5-2", "-1", "1-b"} {
		_, err := Expand(expr)
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Errorf("Expand(%q): expected ParseError, got %v", expr, err)
		}
	}
}

func TestExpand_Limit(t *testing.T) {
	for _, expr := range []string{"1-2000000000", "2000000000", "1,100001"} {
		_, err := Expand(expr)
		var perr *ParseError
		if !errors.As(err, &perr) || !errors.Is(err, ErrLimit) {
			t.Errorf("Expand(%q): expected limit ParseError, got %v", expr, err)
		}
	}

	if _, err := ExpandLimit("1-8", 4); !errors.Is(err, ErrLimit) {
		t.Errorf("ExpandLimit(1-8, 4): expected ErrLimit, got %v", err)
	}
	got, err := ExpandLimit("1-4", 4)
	if err != nil || !slices.Equal(got, Set{1, 2, 3, 4}) {
		t.Errorf("ExpandLimit(1-4, 4) = %v, %v", got, err)
	}
}

func TestSet_Contiguous(t *testing.T) {
	if !(Set{2, 3, 4}).Contiguous() {
		t.Error("2,3,4 should be contiguous")
	}
	if (Set{1, 3, 9}).Contiguous() {
		t.Error("1,3,9 should not be contiguous")
	}
	if (Set{}).Contiguous() {
		t.Error("empty set should not be contiguous")
	}
}

func TestSet_String(t *testing.T) {
	s := Set{1, 2, 3, 7, 9, 10}
	if got := s.String(); got != "1-3,7,9-10" {
		t.Errorf("String() = %q", got)
	}
	if got := Range(4).String(); got != "1-4" {
		t.Errorf("Range(4).String() = %q", got)
	}
}
