package grid

// Distance is the Manhattan distance between two grid cells. It ranks
// reservation candidates and prices out travel estimates.
func Distance(ax, ay, bx, by int) int {
	return abs(ax-bx) + abs(ay-by)
}

// InBounds reports whether (x, y) lies on a size×size grid indexed from 1.
func InBounds(x, y, size int) bool {
	return x >= 1 && x <= size && y >= 1 && y <= size
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
