package grid

import "testing"

func TestDistance(t *testing.T) {
	cases := []struct {
		ax, ay, bx, by, want int
	}{
		{1, 1, 1, 1, 0},
		{10, 10, 12, 15, 7},
		{12, 15, 10, 10, 7},
		{1, 100, 100, 1, 198},
	}
	for _, c := range cases {
		if got := Distance(c.ax, c.ay, c.bx, c.by); got != c.want {
			t.Fatalf("Distance(%d,%d,%d,%d)=%d want %d", c.ax, c.ay, c.bx, c.by, got, c.want)
		}
	}
}

func TestInBounds(t *testing.T) {
	if !InBounds(1, 100, 100) {
		t.Fatal("corner cell should be in bounds")
	}
	if InBounds(0, 50, 100) || InBounds(50, 101, 100) {
		t.Fatal("out-of-range cell reported in bounds")
	}
}
