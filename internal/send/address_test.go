package send

import "testing"

func TestNormalizeAddress(t *testing.T) {
	cases := []struct {
		raw, code, want string
	}{
		{"0100000001", "20", "20100000001"},
		{"100000002", "20", "20100000002"},
		{"20100000003", "20", "20100000003"},
		{"+20 100-000-0004", "20", "20100000004"},
		{"(010) 000 0005", "20", "20100000005"},
		{"0100000001", "", "0100000001"},
		{"no digits here", "20", ""},
		{"", "20", ""},
		{"0000", "20", ""},
	}
	for _, c := range cases {
		if got := NormalizeAddress(c.raw, c.code); got != c.want {
			t.Errorf("NormalizeAddress(%q, %q) = %q, want %q", c.raw, c.code, got, c.want)
		}
	}
}
