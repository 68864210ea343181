// Package projection fits and applies the shared 3-D principal-components
// model that maps description embeddings to visualization coordinates.
package projection

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/ashita-ai/rota/internal/model"
)

// Model is a fitted PCA model: the training mean and up to three principal
// component rows, each of length Dims. Missing components (too few samples
// or dimensions) are zero rows, which project to the origin on that axis.
type Model struct {
	Dims       int
	Mean       []float64
	Components []float64 // row-major, 3 rows of Dims values
	FittedOn   int
}

// Fit computes a PCA model from embedding samples via thin SVD on the
// mean-centered data. A single sample yields a degenerate model that projects
// everything to the origin.
func Fit(samples [][]float32) (Model, error) {
	n := len(samples)
	if n == 0 {
		return Model{}, fmt.Errorf("projection: fit requires at least one sample")
	}
	dims := len(samples[0])
	if dims == 0 {
		return Model{}, fmt.Errorf("projection: fit requires non-empty embeddings")
	}
	for i, s := range samples {
		if len(s) != dims {
			return Model{}, fmt.Errorf("projection: sample %d has %d dims, want %d", i, len(s), dims)
		}
	}

	m := Model{
		Dims:       dims,
		Mean:       make([]float64, dims),
		Components: make([]float64, 3*dims),
		FittedOn:   n,
	}
	for _, s := range samples {
		for j, v := range s {
			m.Mean[j] += float64(v)
		}
	}
	for j := range m.Mean {
		m.Mean[j] /= float64(n)
	}
	if n == 1 {
		return m, nil
	}

	centered := mat.NewDense(n, dims, nil)
	for i, s := range samples {
		for j, v := range s {
			centered.Set(i, j, float64(v)-m.Mean[j])
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThin); !ok {
		return Model{}, fmt.Errorf("projection: svd factorization failed")
	}
	var v mat.Dense
	svd.VTo(&v)

	k := min(3, min(n, dims))
	for c := 0; c < k; c++ {
		row := m.Components[c*dims : (c+1)*dims]
		for j := 0; j < dims; j++ {
			row[j] = v.At(j, c)
		}
		flipSign(row)
	}
	return m, nil
}

// flipSign negates the component when its largest-magnitude entry is
// negative, so repeated fits on the same data produce the same model.
func flipSign(row []float64) {
	maxAbs, maxVal := 0.0, 0.0
	for _, v := range row {
		a := v
		if a < 0 {
			a = -a
		}
		if a > maxAbs {
			maxAbs, maxVal = a, v
		}
	}
	if maxVal < 0 {
		for j := range row {
			row[j] = -row[j]
		}
	}
}

// Project maps an embedding to 3-D coordinates using the fitted model.
func (m Model) Project(emb []float32) (model.Coords3D, error) {
	if len(emb) != m.Dims {
		return model.Coords3D{}, fmt.Errorf("projection: embedding has %d dims, model has %d", len(emb), m.Dims)
	}
	var out [3]float64
	for c := 0; c < 3; c++ {
		row := m.Components[c*m.Dims : (c+1)*m.Dims]
		var sum float64
		for j, v := range emb {
			sum += (float64(v) - m.Mean[j]) * row[j]
		}
		out[c] = sum
	}
	return model.Coords3D{X: out[0], Y: out[1], Z: out[2]}, nil
}
