// Package preview renders 8-bit color-mapped previews of disparity maps and
// masks for quick visual inspection. Previews are diagnostic only; the
// pipeline outputs themselves are never modified here.
package preview

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"

	"stereopipe/internal/services"
)

// DefaultThumbWidth bounds the generated thumbnail.
const DefaultThumbWidth = 512

// Result names the files a render produced.
type Result struct {
	PreviewPath string
	ThumbPath   string
}

// Render reads the raster at srcPath, writes a color-mapped preview to
// outPath, and a width-bounded thumbnail next to it. Float rasters are
// min-max normalized with NaN pixels forced to the low end first.
func Render(srcPath, outPath string, thumbWidth int) (Result, error) {
	mat := gocv.IMRead(srcPath, gocv.IMReadUnchanged)
	if mat.Empty() {
		mat.Close()
		return Result{}, services.Wrap(services.ErrNotFound, "preview", "read raster",
			fmt.Sprintf("cannot decode %q", srcPath), nil)
	}
	defer mat.Close()

	if mat.Channels() != 1 {
		return Result{}, services.Wrap(services.ErrValidation, "preview", "read raster",
			fmt.Sprintf("expected single-channel raster, got %d channels", mat.Channels()), nil)
	}

	gray, err := toGray(mat)
	if err != nil {
		return Result{}, err
	}
	defer gray.Close()

	colored := gocv.NewMat()
	defer colored.Close()
	gocv.ApplyColorMap(gray, &colored, gocv.ColormapJet)

	if ok := gocv.IMWrite(outPath, colored); !ok {
		return Result{}, services.Wrap(services.ErrExternalTool, "preview", "write preview",
			fmt.Sprintf("cannot encode %q", outPath), nil)
	}

	thumbPath, err := writeThumb(outPath, thumbWidth)
	if err != nil {
		return Result{}, err
	}
	return Result{PreviewPath: outPath, ThumbPath: thumbPath}, nil
}

// toGray converts a single-channel raster to CV8U. Float inputs are min-max
// scaled across their finite range.
func toGray(mat gocv.Mat) (gocv.Mat, error) {
	switch mat.Type() {
	case gocv.MatTypeCV8U:
		return mat.Clone(), nil
	case gocv.MatTypeCV32F, gocv.MatTypeCV64F:
		scrubbed := scrubNaN(mat)
		defer scrubbed.Close()

		normalized := gocv.NewMat()
		gocv.Normalize(scrubbed, &normalized, 0, 255, gocv.NormMinMax)

		gray := gocv.NewMat()
		normalized.ConvertTo(&gray, gocv.MatTypeCV8U)
		normalized.Close()
		return gray, nil
	default:
		return gocv.Mat{}, services.Wrap(services.ErrValidation, "preview", "convert raster",
			fmt.Sprintf("unsupported raster type %d", int(mat.Type())), nil)
	}
}

// scrubNaN copies mat with NaN pixels replaced by the finite minimum, so
// normalization is not poisoned by undefined disparities.
func scrubNaN(mat gocv.Mat) gocv.Mat {
	rows, cols := mat.Rows(), mat.Cols()
	double := mat.Type() == gocv.MatTypeCV64F

	get := func(r, c int) float64 {
		if double {
			return mat.GetDoubleAt(r, c)
		}
		return float64(mat.GetFloatAt(r, c))
	}

	low := math.Inf(1)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if v := get(r, c); !math.IsNaN(v) && v < low {
				low = v
			}
		}
	}
	if math.IsInf(low, 1) {
		low = 0
	}

	out := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV32F)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			v := get(r, c)
			if math.IsNaN(v) {
				v = low
			}
			out.SetFloatAt(r, c, float32(v))
		}
	}
	return out
}

func writeThumb(previewPath string, width int) (string, error) {
	if width <= 0 {
		width = DefaultThumbWidth
	}
	img, err := imaging.Open(previewPath)
	if err != nil {
		return "", fmt.Errorf("open preview for thumbnail: %w", err)
	}
	if img.Bounds().Dx() > width {
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
	}
	thumbPath := thumbName(previewPath)
	if err := imaging.Save(img, thumbPath); err != nil {
		return "", fmt.Errorf("save thumbnail: %w", err)
	}
	return thumbPath, nil
}

func thumbName(previewPath string) string {
	ext := filepath.Ext(previewPath)
	return strings.TrimSuffix(previewPath, ext) + "_thumb.png"
}
