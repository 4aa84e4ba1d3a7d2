package ranges

import (
	"reflect"
	"testing"
)

func TestMergeRanges(t *testing.T) {
	tests := []struct {
		name string
		in   []Range
		want []Range
	}{
		{name: "empty", in: nil, want: nil},
		{name: "single", in: []Range{{5, 9}}, want: []Range{{5, 9}}},
		{name: "overlapping", in: []Range{{5, 9}, {7, 12}}, want: []Range{{5, 12}}},
		{name: "adjacent", in: []Range{{10, 12}, {5, 9}}, want: []Range{{5, 12}}},
		{name: "disjoint", in: []Range{{20, 25}, {5, 9}}, want: []Range{{5, 9}, {20, 25}}},
		{name: "contained", in: []Range{{1, 100}, {20, 25}, {101, 101}}, want: []Range{{1, 101}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeRanges(tt.in)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MergeRanges() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMergeRanges_DoesNotModifyInput(t *testing.T) {
	in := []Range{{20, 25}, {5, 9}}
	_ = MergeRanges(in)
	if in[0] != (Range{20, 25}) {
		t.Errorf("input reordered: %v", in)
	}
}

func TestRange_Without(t *testing.T) {
	r := Range{Start: 10, End: 20}
	tests := []struct {
		n    int64
		want []Range
	}{
		{n: 5, want: []Range{{10, 20}}},
		{n: 10, want: []Range{{11, 20}}},
		{n: 20, want: []Range{{10, 19}}},
		{n: 15, want: []Range{{10, 14}, {16, 20}}},
	}
	for _, tt := range tests {
		if got := r.Without(tt.n); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Without(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
	if got := (Range{7, 7}).Without(7); len(got) != 0 {
		t.Errorf("Without on single height = %v, want empty", got)
	}
}

func TestSubtract(t *testing.T) {
	set := []Range{{1, 5}, {10, 10}, {20, 30}}
	got := Subtract(set, []int64{1, 10, 25, 40})
	want := []Range{{2, 5}, {20, 24}, {26, 30}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Subtract() = %v, want %v", got, want)
	}
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		input   string
		want    Range
		wantErr bool
	}{
		{"12000-12500", Range{12000, 12500}, false},
		{"7-7", Range{7, 7}, false},
		{"9-3", Range{}, true},
		{"12000", Range{}, true},
		{"a-b", Range{}, true},
		{"1-2-3", Range{}, true},
		{"abc", Range{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseRange(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseRange(%q) succeeded, want error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRange(%q) failed: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseRange(%q) = %v, want %v", tt.input, got, tt.want)
			}
			if got.String() != tt.input {
				t.Errorf("String() = %q, want %q", got.String(), tt.input)
			}
		})
	}
}
