package client

import "math/rand"

// Quality labels, mapped from the 0-100 score.
const (
	LabelExcellent = "Excellent"
	LabelGood      = "Good"
	LabelFair      = "Fair"
	LabelPoor      = "Poor"
	LabelBad       = "Bad"
)

// Jitter is the mean absolute difference between consecutive ping samples in
// milliseconds. Fewer than two samples yield zero.
func Jitter(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(samples); i++ {
		d := samples[i] - samples[i-1]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum / float64(len(samples)-1)
}

// Mean is the arithmetic mean of samples; zero for an empty slice.
func Mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

// SimulatedPacketLoss returns a synthetic loss percentage in [0, 0.5). It is
// an estimate placeholder, not a measured quantity.
func SimulatedPacketLoss() float64 {
	return rand.Float64() * 0.5
}

// QualityScore folds ping (ms), jitter (ms) and packet loss (%) into a 0-100
// score and its label.
func QualityScore(ping, jitter, packetLoss float64) (int, string) {
	score := 100
	switch {
	case ping > 100:
		score -= 30
	case ping > 50:
		score -= 15
	}
	switch {
	case jitter > 10:
		score -= 20
	case jitter > 5:
		score -= 10
	}
	switch {
	case packetLoss > 0.1:
		score -= 20
	case packetLoss > 0.05:
		score -= 10
	}
	switch {
	case score >= 90:
		return score, LabelExcellent
	case score >= 80:
		return score, LabelGood
	case score >= 70:
		return score, LabelFair
	case score >= 60:
		return score, LabelPoor
	default:
		return score, LabelBad
	}
}
