package model

// Confusion is a binary confusion matrix at threshold 0.5
type Confusion struct {
	TP, FP, TN, FN int
}

// Add records one prediction
func (c *Confusion) Add(predicted, actual int) {
	switch {
	case predicted == 1 && actual == 1:
		c.TP++
	case predicted == 1:
		c.FP++
	case actual == 1:
		c.FN++
	default:
		c.TN++
	}
}

// Total returns the number of recorded predictions
func (c Confusion) Total() int {
	return c.TP + c.FP + c.TN + c.FN
}

// Precision returns TP / (TP + FP), 0 when nothing was predicted positive
func (c Confusion) Precision() float64 {
	return ratio(c.TP, c.TP+c.FP)
}

// Recall returns TP / (TP + FN), 0 when there are no positives
func (c Confusion) Recall() float64 {
	return ratio(c.TP, c.TP+c.FN)
}

// F1 returns the harmonic mean of precision and recall
func (c Confusion) F1() float64 {
	return ratio(2*c.TP, 2*c.TP+c.FP+c.FN)
}

// Accuracy returns the fraction of correct predictions
func (c Confusion) Accuracy() float64 {
	return ratio(c.TP+c.TN, c.Total())
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
