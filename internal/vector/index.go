// Package vector provides the in-memory passage index and similarity search.
package vector

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/hyperjump/kotae/internal/models"
)

// ErrDimensionMismatch is matched by every *DimensionMismatchError via errors.Is.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// DimensionMismatchError reports a vector whose length differs from the index dimensionality.
type DimensionMismatchError struct {
	Got  int
	Want int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: got %d, expected %d", e.Got, e.Want)
}

// Is makes errors.Is(err, ErrDimensionMismatch) hold.
func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// ErrNonFiniteVector is matched by every *NonFiniteError via errors.Is.
var ErrNonFiniteVector = errors.New("vector has a non-finite component")

// NonFiniteError reports a NaN or infinite vector component.
type NonFiniteError struct {
	Index int
	Value float32
}

func (e *NonFiniteError) Error() string {
	return fmt.Sprintf("vector component %d is %v", e.Index, e.Value)
}

// Is makes errors.Is(err, ErrNonFiniteVector) hold.
func (e *NonFiniteError) Is(target error) bool {
	return target == ErrNonFiniteVector
}

// checkVector validates length and finiteness of v.
func checkVector(v []float32, dimensions int) error {
	if len(v) != dimensions {
		return &DimensionMismatchError{Got: len(v), Want: dimensions}
	}
	for i, x := range v {
		if f := float64(x); math.IsNaN(f) || math.IsInf(f, 0) {
			return &NonFiniteError{Index: i, Value: x}
		}
	}
	return nil
}

// Index stores passages with their vectors and answers nearest-neighbour queries.
type Index interface {
	Insert(passage models.Passage, vector []float32) (int64, error)
	Search(ctx context.Context, query []float32, k int, filters map[string]string) ([]Result, error)
	Get(id int64) (*models.Passage, bool)
	Size() int
	Dimensions() int
}

// Result is a single search hit. Passage is shared with the index and must not be modified.
type Result struct {
	Passage *models.Passage
	Score   float64
}
