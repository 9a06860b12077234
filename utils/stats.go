package utils

// CalculateRSSIStats returns the mean, minimum and maximum of the samples.
// An empty input yields zeros.
func CalculateRSSIStats(values []int) (avg float64, min int, max int) {
	if len(values) == 0 {
		return 0, 0, 0
	}

	sum := 0
	min = values[0]
	max = values[0]
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	avg = float64(sum) / float64(len(values))
	return avg, min, max
}
