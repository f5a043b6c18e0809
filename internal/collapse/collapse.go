// Package collapse folds the virtual feature block of a feature transformer
// into its real feature blocks.
//
// A virtual feature (relation, square) is active exactly when the real
// feature (bucket, relation, square) is active for the king's bucket, so its
// weight row can be added to every bucket's copy of that row and dropped.
package collapse

import (
	"fmt"

	"gonum.org/v1/gonum/blas/blas32"

	"github.com/23skdu/nnue-export/internal/config"
	"github.com/23skdu/nnue-export/internal/model"
)

// PartialChunkError reports real rows that do not tile into whole blocks.
type PartialChunkError struct {
	RealRows    int
	VirtualRows int
}

func (e *PartialChunkError) Error() string {
	return fmt.Sprintf("%v: %d real rows do not split into blocks of %d",
		model.ErrMalformedInput, e.RealRows, e.VirtualRows)
}

func (e *PartialChunkError) Unwrap() error { return model.ErrMalformedInput }

// Collapse returns a new tensor holding the first Rows-virtualRows rows of
// ft with the trailing virtualRows rows added into every block of that
// size. ft is not modified.
func Collapse(ft *model.Tensor, virtualRows int) (*model.Tensor, error) {
	if virtualRows <= 0 || virtualRows >= ft.Rows {
		return nil, fmt.Errorf("%w: %d virtual rows for a %d-row tensor",
			model.ErrMalformedInput, virtualRows, ft.Rows)
	}
	realRows := ft.Rows - virtualRows
	if realRows%virtualRows != 0 {
		return nil, &PartialChunkError{RealRows: realRows, VirtualRows: virtualRows}
	}

	collapsed := &model.Tensor{
		Name: ft.Name,
		Rows: realRows,
		Cols: ft.Cols,
		Data: make([]float32, realRows*ft.Cols),
	}
	copy(collapsed.Data, ft.Data[:realRows*ft.Cols])

	n := virtualRows * ft.Cols
	virtual := blas32.Vector{N: n, Inc: 1, Data: ft.Slice(realRows, virtualRows)}
	for start := 0; start < realRows; start += virtualRows {
		chunk := blas32.Vector{N: n, Inc: 1, Data: collapsed.Slice(start, virtualRows)}
		blas32.Axpy(1, virtual, chunk)
	}
	return collapsed, nil
}

// CollapseLayout collapses ft after checking it has the layout's
// transformer shape.
func CollapseLayout(ft *model.Tensor, l config.Layout) (*model.Tensor, error) {
	if ft.Rows != l.TotalFeatures() || ft.Cols != l.TransformerWidth {
		return nil, fmt.Errorf("%w: feature transformer is %dx%d, layout requires %dx%d",
			model.ErrMalformedInput, ft.Rows, ft.Cols, l.TotalFeatures(), l.TransformerWidth)
	}
	return Collapse(ft, l.VirtualFeatures())
}
