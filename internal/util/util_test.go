package util

import "testing"

func TestToInt(t *testing.T) {
	cases := []struct {
		in      any
		want    int
		wantErr bool
	}{
		{nil, 0, false},
		{float64(250), 250, false},
		{" 17 ", 17, false},
		{true, 1, false},
		{1.5, 0, true},
		{"x", 0, true},
		{[]int{1}, 0, true},
	}
	for _, tc := range cases {
		got, err := ToInt(tc.in)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Errorf("ToInt(%v) = %d, %v", tc.in, got, err)
		}
	}
}

func TestToFloat(t *testing.T) {
	if v, err := ToFloat("0.25"); err != nil || v != 0.25 {
		t.Errorf("ToFloat(\"0.25\") = %v, %v", v, err)
	}
	if v, err := ToFloat(float64(3)); err != nil || v != 3 {
		t.Errorf("ToFloat(3) = %v, %v", v, err)
	}
	if _, err := ToFloat(nil); err == nil {
		t.Errorf("ToFloat(nil) must fail")
	}
}

func TestBoolsToBinaryString(t *testing.T) {
	if got := BoolsToBinaryString([]bool{true, false, false, true}); got != "1001" {
		t.Errorf("got %q", got)
	}
}
