package seqnum

import "testing"

func TestDistanceWraparound(t *testing.T) {
	cases := []struct {
		a, b uint16
		want int32
	}{
		{65534, 65535, 1},
		{65535, 0, 1},
		{0, 1, 1},
		{1, 0, -1},
		{0, 65535, -1},
		{10, 10, 0},
	}
	for _, c := range cases {
		if got := Distance(c.a, c.b); got != c.want {
			t.Errorf("Distance(%d,%d) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestLessConsecutiveWraparound(t *testing.T) {
	seq := []uint16{65534, 65535, 0, 1}
	for i := 0; i+1 < len(seq); i++ {
		if !Less(seq[i], seq[i+1]) {
			t.Errorf("expected %d < %d in wraparound order", seq[i], seq[i+1])
		}
	}
}

func TestAddRoundTrip(t *testing.T) {
	if got := Add(65535, 1); got != 0 {
		t.Errorf("Add(65535,1) = %d, want 0", got)
	}
	if got := Add(0, -1); got != 65535 {
		t.Errorf("Add(0,-1) = %d, want 65535", got)
	}
}
