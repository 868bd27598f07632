package recipe

import "testing"

func TestRangeContains(t *testing.T) {
	tests := []struct {
		r    Range
		v    string
		want bool
	}{
		{"", "1.0", true},
		{"1.2", "1.2", true},
		{"1.2", "1.2.7", true},
		{"1.2", "1.20", false},
		{"1.2", "1.3", false},
		{"1.2:", "1.2", true},
		{"1.2:", "2.0", true},
		{"1.2:", "1.1.9", false},
		{":3", "3", true},
		{":3", "3.4", true},
		{":3", "2.1", true},
		{":3", "4.0", false},
		{":3", "2021.1.1", false},
		{"1.2:3", "2.5", true},
		{"1.2:3", "1.1", false},
		{"1.2:3", "4", false},
		{"2021.1:", "2021.1.1.76", true},
	}
	for _, tt := range tests {
		if got := tt.r.Contains(tt.v); got != tt.want {
			t.Errorf("Range(%q).Contains(%q) = %v, want %v", tt.r, tt.v, got, tt.want)
		}
	}
}

func TestRangeIntersects(t *testing.T) {
	tests := []struct {
		a, b Range
		want bool
	}{
		{"", "3", true},
		{":3", "3", true},
		{":3", "2.1", true},
		{":2", "3", false},
		{"4:", ":3", false},
		{"1:2", "2:3", true},
		{"1.2", "1.2", true},
		{"1.2", "1.3", false},
	}
	for _, tt := range tests {
		if got := tt.a.Intersects(tt.b); got != tt.want {
			t.Errorf("Range(%q).Intersects(%q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
		if got := tt.b.Intersects(tt.a); got != tt.want {
			t.Errorf("Range(%q).Intersects(%q) = %v, want %v", tt.b, tt.a, got, tt.want)
		}
	}
}

func TestRangeCheck(t *testing.T) {
	tests := []struct {
		r       Range
		wantErr bool
	}{
		{"", false},
		{"1.2", false},
		{"1.2:", false},
		{":3", false},
		{":", false},
		{"1.2:3", false},
		{"1.2:1", false},
		{"3:1.2", true},
		{"1:2:3", true},
		{"bad version", true},
	}
	for _, tt := range tests {
		err := tt.r.Check()
		if (err != nil) != tt.wantErr {
			t.Errorf("Range(%q).Check() error = %v, wantErr %v", tt.r, err, tt.wantErr)
		}
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0", "1.0.0", 0},
		{"1.10", "1.9", +1},
		{"1.2.3", "1.2.4", -1},
		{"2021.1.1.76", "2021.1.1.9", +1},
		{"2021.1.1", "2021.1.1.76", -1},
		{"1.0.rc", "1.0.1", -1},
		{"abc", "abd", -1},
		{"1.0.0-rc1", "1.0.0", -1},
	}
	for _, tt := range tests {
		if got := Compare(tt.a, tt.b); got != tt.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
		if got := Compare(tt.b, tt.a); got != -tt.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", tt.b, tt.a, got, -tt.want)
		}
	}
}
