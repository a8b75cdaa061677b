package regime

// smoothLabels applies a centered rolling-mode filter, repeated for the
// given number of passes. Each position is rewritten in place, so later
// windows within the same pass see the positions already smoothed ahead
// of them. Windows truncate at the series boundaries and ties resolve
// to the lowest label, so output is fully deterministic.
func smoothLabels(labels []int, window, passes, k int) []int {
	cur := append([]int(nil), labels...)
	if window <= 1 || len(cur) == 0 {
		return cur
	}

	half := window / 2
	counts := make([]int, k)

	for p := 0; p < passes; p++ {
		for i := range cur {
			lo := i - half
			if lo < 0 {
				lo = 0
			}
			hi := i + half
			if hi >= len(cur) {
				hi = len(cur) - 1
			}

			for c := range counts {
				counts[c] = 0
			}
			for j := lo; j <= hi; j++ {
				counts[cur[j]]++
			}

			mode, best := 0, -1
			for c, n := range counts {
				if n > best {
					mode, best = c, n
				}
			}
			cur[i] = mode
		}
	}
	return cur
}
