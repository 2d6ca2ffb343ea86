package linkage

import "math"

// Classifier is a logistic regression over comparison features.
type Classifier struct {
	Coef      []float64
	Intercept float64
}

// Score returns the match probability for a feature vector.
func (c *Classifier) Score(features []float64) float64 {
	return logistic(dot(c.Coef, features) + c.Intercept)
}

type fitOptions struct {
	epochs       int
	learningRate float64
	l2           float64
}

var defaultFit = fitOptions{epochs: 2000, learningRate: 0.5, l2: 0.001}

// fit runs full-batch gradient descent on the log loss. Positive and negative
// examples are weighted so each class contributes equally.
func fit(x [][]float64, y []float64, opts fitOptions) *Classifier {
	c := &Classifier{Coef: make([]float64, numFeatures)}
	if len(x) == 0 {
		return c
	}

	positives := 0.0
	for _, label := range y {
		positives += label
	}
	negatives := float64(len(y)) - positives
	weightPos, weightNeg := 1.0, 1.0
	if positives > 0 && negatives > 0 {
		weightPos = float64(len(y)) / (2 * positives)
		weightNeg = float64(len(y)) / (2 * negatives)
	}

	n := float64(len(x))
	grad := make([]float64, numFeatures)
	for epoch := 0; epoch < opts.epochs; epoch++ {
		for i := range grad {
			grad[i] = 0
		}
		gradIntercept := 0.0

		for i, features := range x {
			weight := weightNeg
			if y[i] == 1 {
				weight = weightPos
			}
			diff := weight * (c.Score(features) - y[i])
			for j, v := range features {
				grad[j] += diff * v
			}
			gradIntercept += diff
		}

		for j := range c.Coef {
			c.Coef[j] -= opts.learningRate * (grad[j]/n + opts.l2*c.Coef[j])
		}
		c.Intercept -= opts.learningRate * gradIntercept / n
	}

	return c
}

func dot(a, b []float64) float64 {
	var sum float64
	for i, v := range a {
		if i < len(b) {
			sum += v * b[i]
		}
	}
	return sum
}

func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
