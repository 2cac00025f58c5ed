package assign

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Default Sinkhorn parameters.
const (
	DefaultEpsilon    = 0.1
	DefaultIterations = 100
)

// Transport treats assignment as a balanced transport problem: every slot
// supplies one unit, every working target demands one unit and a zero-score
// sink absorbs the surplus slots. The entropic plan is computed with
// log-domain Sinkhorn iterations and rounded to a hard one-to-one
// assignment.
type Transport struct {
	Epsilon    float64
	Iterations int
}

// Solve implements Solver.
func (t Transport) Solve(score *mat.Dense) ([]int, float64, error) {
	rows, cols, err := checkScore(score)
	if err != nil {
		return nil, 0, err
	}
	if cols == 0 {
		assignment := make([]int, rows)
		for i := range assignment {
			assignment[i] = -1
		}
		return assignment, 0, nil
	}

	plan, err := t.Plan(score)
	if err != nil {
		return nil, 0, err
	}
	assignment, _, err := Hungarian{}.Solve(mat.DenseCopyOf(plan.Slice(0, rows, 0, cols)))
	if err != nil {
		return nil, 0, err
	}
	return assignment, totalScore(score, assignment), nil
}

// Plan returns the entropic transport plan. The result has one column per
// working target, plus a trailing sink column when there are more slots than
// targets.
func (t Transport) Plan(score *mat.Dense) (*mat.Dense, error) {
	eps := t.Epsilon
	if eps == 0 {
		eps = DefaultEpsilon
	}
	if eps < 0 {
		return nil, errors.New("transport epsilon must be positive")
	}
	iters := t.Iterations
	if iters <= 0 {
		iters = DefaultIterations
	}

	rows, cols := score.Dims()
	k := cols
	if rows > cols {
		k++
	}
	logK := mat.NewDense(rows, k, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			logK.Set(i, j, score.At(i, j)/eps)
		}
	}
	logB := make([]float64, k)
	if k > cols {
		logB[cols] = math.Log(float64(rows - cols))
	}

	f := make([]float64, rows)
	g := make([]float64, k)
	buf := make([]float64, max(rows, k))
	for it := 0; it < iters; it++ {
		for i := 0; i < rows; i++ {
			row := buf[:k]
			for j := range row {
				row[j] = logK.At(i, j) + g[j]
			}
			f[i] = -floats.LogSumExp(row)
		}
		for j := 0; j < k; j++ {
			col := buf[:rows]
			for i := range col {
				col[i] = logK.At(i, j) + f[i]
			}
			g[j] = logB[j] - floats.LogSumExp(col)
		}
	}

	plan := mat.NewDense(rows, k, nil)
	plan.Apply(func(i, j int, v float64) float64 {
		return math.Exp(v + f[i] + g[j])
	}, logK)
	return plan, nil
}
