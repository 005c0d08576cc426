// Package disparity reads floating-point disparity rasters and derives the
// validity mask. The matcher marks pixels it could not match reliably with
// NaN; the mask maps those to 255 and every matched pixel to 0.
package disparity

import (
	"fmt"
	"math"

	"gocv.io/x/gocv"

	"stereopipe/internal/services"
)

const (
	// MaskInvalid marks pixels whose disparity is undefined.
	MaskInvalid uint8 = 255
	// MaskValid marks pixels with a finite disparity estimate.
	MaskValid uint8 = 0
)

// Summary describes a derived mask.
type Summary struct {
	Width   int
	Height  int
	Total   int
	Invalid int
}

// ReadFloatMap loads a single-channel floating-point raster without any
// depth conversion.
func ReadFloatMap(path string) (gocv.Mat, error) {
	mat := gocv.IMRead(path, gocv.IMReadUnchanged)
	if mat.Empty() {
		mat.Close()
		return gocv.Mat{}, services.Wrap(services.ErrNotFound, "mask", "read disparity",
			fmt.Sprintf("cannot decode raster %q", path), nil)
	}
	if mat.Channels() != 1 {
		mat.Close()
		return gocv.Mat{}, services.Wrap(services.ErrValidation, "mask", "read disparity",
			fmt.Sprintf("expected single-channel raster, got %d channels", mat.Channels()), nil)
	}
	switch mat.Type() {
	case gocv.MatTypeCV32F, gocv.MatTypeCV64F:
		return mat, nil
	default:
		mat.Close()
		return gocv.Mat{}, services.Wrap(services.ErrValidation, "mask", "read disparity",
			fmt.Sprintf("expected floating-point raster, got type %d", int(mat.Type())), nil)
	}
}

// MaskFromDisparity builds the validity mask for a floating-point disparity
// map. The returned mat is CV8U with the same dimensions; the caller owns it.
func MaskFromDisparity(disp gocv.Mat) (gocv.Mat, Summary, error) {
	if disp.Empty() || disp.Channels() != 1 {
		return gocv.Mat{}, Summary{}, services.Wrap(services.ErrValidation, "mask", "derive",
			"disparity map must be a non-empty single-channel raster", nil)
	}

	rows, cols := disp.Rows(), disp.Cols()
	mask := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8U)
	summary := Summary{Width: cols, Height: rows, Total: rows * cols}

	double := disp.Type() == gocv.MatTypeCV64F
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			var value float64
			if double {
				value = disp.GetDoubleAt(r, c)
			} else {
				value = float64(disp.GetFloatAt(r, c))
			}
			if math.IsNaN(value) {
				mask.SetUCharAt(r, c, MaskInvalid)
				summary.Invalid++
			} else {
				mask.SetUCharAt(r, c, MaskValid)
			}
		}
	}
	return mask, summary, nil
}

// DeriveMask reads the disparity raster at dispPath and writes the validity
// mask to maskPath.
func DeriveMask(dispPath, maskPath string) (Summary, error) {
	disp, err := ReadFloatMap(dispPath)
	if err != nil {
		return Summary{}, err
	}
	defer disp.Close()

	mask, summary, err := MaskFromDisparity(disp)
	if err != nil {
		return Summary{}, err
	}
	defer mask.Close()

	if ok := gocv.IMWrite(maskPath, mask); !ok {
		return Summary{}, services.Wrap(services.ErrExternalTool, "mask", "write mask",
			fmt.Sprintf("cannot encode %q", maskPath), nil)
	}
	return summary, nil
}
