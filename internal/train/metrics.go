package train

import "slices"

// MacroScores returns precision, recall and F1 averaged over every label
// that occurs in either yTrue or yPred. A ratio with a zero denominator
// counts as 0.
func MacroScores(yTrue, yPred []int) (precision, recall, f1 float64) {
	var labels []int
	for _, l := range append(slices.Clone(yTrue), yPred...) {
		if !slices.Contains(labels, l) {
			labels = append(labels, l)
		}
	}
	if len(labels) == 0 {
		return 0, 0, 0
	}

	for _, l := range labels {
		var tp, fp, fn int
		for i := range yTrue {
			switch {
			case yPred[i] == l && yTrue[i] == l:
				tp++
			case yPred[i] == l:
				fp++
			case yTrue[i] == l:
				fn++
			}
		}
		precision += ratio(tp, tp+fp)
		recall += ratio(tp, tp+fn)
		f1 += ratio(2*tp, 2*tp+fp+fn)
	}
	n := float64(len(labels))
	return precision / n, recall / n, f1 / n
}

// ConfusionMatrix counts predictions with rows indexed by the true label
// and columns by the predicted label.
func ConfusionMatrix(yTrue, yPred []int, classes int) [][]int {
	m := make([][]int, classes)
	for i := range m {
		m[i] = make([]int, classes)
	}
	for i := range yTrue {
		m[yTrue[i]][yPred[i]]++
	}
	return m
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
