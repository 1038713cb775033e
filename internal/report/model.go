package report

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Split is a shuffled train/test partition of row indices.
type Split struct {
	Train []int
	Test  []int
}

// TrainTestSplit shuffles n rows with the given seed and holds out
// ceil(fraction*n) of them, the same sizing rule scikit-learn uses.
func TrainTestSplit(n int, fraction float64, seed int64) (Split, error) {
	if n < 2 {
		return Split{}, fmt.Errorf("need at least 2 rows to split, got %d", n)
	}
	if fraction <= 0 || fraction >= 1 {
		return Split{}, fmt.Errorf("test fraction %.2f out of range", fraction)
	}

	nTest := int(math.Ceil(fraction * float64(n)))
	if nTest >= n {
		nTest = n - 1
	}

	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
	perm := rng.Perm(n)

	return Split{Test: perm[:nTest], Train: perm[nTest:]}, nil
}

// Design gathers feature rows and the target for the given row indices.
func Design(f *Frame, features []string, target string, idx []int) ([][]float64, []float64, error) {
	cols := make([][]float64, len(features))
	for i, name := range features {
		col, err := f.Column(name)
		if err != nil {
			return nil, nil, err
		}
		cols[i] = col
	}
	y, err := f.Column(target)
	if err != nil {
		return nil, nil, err
	}

	X := make([][]float64, len(idx))
	Y := make([]float64, len(idx))
	for r, row := range idx {
		X[r] = make([]float64, len(features))
		for c := range features {
			X[r][c] = cols[c][row]
		}
		Y[r] = y[row]
	}
	return X, Y, nil
}

type Regressor interface {
	Fit(X [][]float64, y []float64) error
	Predict(X [][]float64) []float64
}

// LinearRegression is ordinary least squares with an intercept. The fit uses
// an SVD so rank-deficient designs get the minimum-norm solution.
type LinearRegression struct {
	Intercept float64
	Coef      []float64
}

func (m *LinearRegression) Fit(X [][]float64, y []float64) error {
	if len(X) == 0 || len(X) != len(y) {
		return errors.New("linear regression: empty or mismatched training data")
	}
	p := len(X[0])

	A := mat.NewDense(len(X), p+1, nil)
	for i, row := range X {
		A.Set(i, 0, 1)
		for j, v := range row {
			A.Set(i, j+1, v)
		}
	}
	b := mat.NewVecDense(len(y), append([]float64(nil), y...))

	var svd mat.SVD
	if ok := svd.Factorize(A, mat.SVDThin); !ok {
		return errors.New("linear regression: svd factorization failed")
	}
	rank := svd.Rank(1e-12)
	if rank == 0 {
		return errors.New("linear regression: design matrix has rank 0")
	}

	var beta mat.VecDense
	svd.SolveVecTo(&beta, b, rank)

	m.Intercept = beta.AtVec(0)
	m.Coef = make([]float64, p)
	for j := range m.Coef {
		m.Coef[j] = beta.AtVec(j + 1)
	}
	return nil
}

func (m *LinearRegression) Predict(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, row := range X {
		v := m.Intercept
		for j, x := range row {
			v += m.Coef[j] * x
		}
		out[i] = v
	}
	return out
}

// KNNRegressor averages the targets of the K nearest training rows
// (Euclidean distance, uniform weights).
type KNNRegressor struct {
	K int

	x [][]float64
	y []float64
}

func NewKNNRegressor() *KNNRegressor { return &KNNRegressor{K: 5} }

func (m *KNNRegressor) Fit(X [][]float64, y []float64) error {
	if len(X) == 0 || len(X) != len(y) {
		return errors.New("knn: empty or mismatched training data")
	}
	if m.K <= 0 {
		m.K = 5
	}
	if len(X) < m.K {
		return fmt.Errorf("knn: %d training rows is fewer than k=%d", len(X), m.K)
	}
	m.x, m.y = X, y
	return nil
}

func (m *KNNRegressor) Predict(X [][]float64) []float64 {
	out := make([]float64, len(X))
	order := make([]int, len(m.x))
	dist := make([]float64, len(m.x))

	for i, q := range X {
		for j, row := range m.x {
			d := 0.0
			for c, v := range row {
				diff := v - q[c]
				d += diff * diff
			}
			dist[j] = d
			order[j] = j
		}
		sort.SliceStable(order, func(a, b int) bool { return dist[order[a]] < dist[order[b]] })

		sum := 0.0
		for _, j := range order[:m.K] {
			sum += m.y[j]
		}
		out[i] = sum / float64(m.K)
	}
	return out
}

func RMSE(truth, pred []float64) float64 {
	if len(truth) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for i := range truth {
		d := truth[i] - pred[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(truth)))
}

func R2(truth, pred []float64) float64 {
	return stat.RSquaredFrom(pred, truth, nil)
}

// CorrelationMatrix returns the Pearson correlation of every numeric column,
// rounded to two decimals. Constant columns yield NaN like pandas does.
func CorrelationMatrix(f *Frame) ([]string, [][]float64) {
	names := f.Numeric
	m := make([][]float64, len(names))
	for i := range names {
		m[i] = make([]float64, len(names))
	}
	for i, a := range names {
		for j := i; j < len(names); j++ {
			v := 1.0
			if i != j {
				v = stat.Correlation(f.values[a], f.values[names[j]], nil)
			} else if stat.Variance(f.values[a], nil) == 0 {
				v = math.NaN()
			}
			v = Round(v, 2)
			m[i][j], m[j][i] = v, v
		}
	}
	return names, m
}

// Round rounds half to even at the given number of decimals.
func Round(v float64, decimals int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	p := math.Pow(10, float64(decimals))
	return math.RoundToEven(v*p) / p
}
