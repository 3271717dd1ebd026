package ml

import (
	"errors"
	"fmt"
	"math"
)

const singularTolerance = 1e-12

// LinearRegression is an ordinary least squares regressor.
type LinearRegression struct {
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
}

// Fit solves the centered normal equations. Directions with no variance get a
// zero coefficient, so a constant feature falls back to predicting the mean.
func (m *LinearRegression) Fit(features [][]float64, targets []float64) error {
	if err := checkTrainingShape(features, len(targets)); err != nil {
		return err
	}
	n := float64(len(features))
	width := len(features[0])

	meanX := make([]float64, width)
	meanY := 0.0
	for i, row := range features {
		for j, v := range row {
			meanX[j] += v
		}
		meanY += targets[i]
	}
	for j := range meanX {
		meanX[j] /= n
	}
	meanY /= n

	// augmented matrix [XtX | Xty] on centered data
	a := make([][]float64, width)
	for j := range a {
		a[j] = make([]float64, width+1)
	}
	for i, row := range features {
		dy := targets[i] - meanY
		for j := 0; j < width; j++ {
			dj := row[j] - meanX[j]
			for k := 0; k < width; k++ {
				a[j][k] += dj * (row[k] - meanX[k])
			}
			a[j][width] += dj * dy
		}
	}

	coefs := solveLeastSquares(a, width)
	intercept := meanY
	for j, c := range coefs {
		intercept -= c * meanX[j]
	}

	m.Coefficients = coefs
	m.Intercept = intercept
	return nil
}

func (m *LinearRegression) Predict(features []float64) (float64, error) {
	if m.Coefficients == nil {
		return 0, errors.New("model not trained")
	}
	if len(features) != len(m.Coefficients) {
		return 0, fmt.Errorf("expected %d features, got %d", len(m.Coefficients), len(features))
	}
	return dot(m.Coefficients, features) + m.Intercept, nil
}

// solveLeastSquares runs Gauss-Jordan elimination with partial pivoting on an
// augmented width x (width+1) matrix. Pivots below tolerance are treated as
// free variables fixed at zero.
func solveLeastSquares(a [][]float64, width int) []float64 {
	scale := 0.0
	for j := 0; j < width; j++ {
		scale = math.Max(scale, math.Abs(a[j][j]))
	}
	tolerance := singularTolerance * math.Max(scale, 1)

	pivotCol := make([]int, 0, width)
	row := 0
	for col := 0; col < width && row < width; col++ {
		best := row
		for r := row + 1; r < width; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[best][col]) {
				best = r
			}
		}
		if math.Abs(a[best][col]) <= tolerance {
			continue
		}
		a[row], a[best] = a[best], a[row]
		pivot := a[row][col]
		for k := col; k <= width; k++ {
			a[row][k] /= pivot
		}
		for r := 0; r < width; r++ {
			if r == row || a[r][col] == 0 {
				continue
			}
			factor := a[r][col]
			for k := col; k <= width; k++ {
				a[r][k] -= factor * a[row][k]
			}
		}
		pivotCol = append(pivotCol, col)
		row++
	}

	coefs := make([]float64, width)
	for r, col := range pivotCol {
		coefs[col] = a[r][width]
	}
	return coefs
}
