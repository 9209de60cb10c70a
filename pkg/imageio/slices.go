package imageio

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"fociscan/internal/models"
)

// loadSliceDir stacks the 2D images of a directory into a volume, one
// z-plane per image.
func loadSliceDir(dir string) (*raw, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if sliceExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no slice images found in %s", ErrUnsupportedFormat, dir)
	}

	// Slice order comes from the number in the file name, so slice_2
	// precedes slice_10
	sort.SliceStable(files, func(i, j int) bool {
		return extractNumber(files[i]) < extractNumber(files[j])
	})

	var out *raw
	for z, name := range files {
		plane, w, h, err := decodePlane(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to load slice %s: %w", name, err)
		}

		if out == nil {
			out = &raw{shape: models.Shape{Width: w, Height: h, Depth: len(files)}}
			out.data = make([]float64, out.shape.Len())
		} else if w != out.shape.Width || h != out.shape.Height {
			return nil, fmt.Errorf("slice %s is %dx%d, expected %dx%d", name, w, h, out.shape.Width, out.shape.Height)
		}
		copy(out.data[z*w*h:(z+1)*w*h], plane)
	}
	return out, nil
}

// loadSliceFile reads a single PNG or JPEG image as a volume of depth 1.
func loadSliceFile(path string) (*raw, error) {
	plane, w, h, err := decodePlane(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return &raw{data: plane, shape: models.Shape{Width: w, Height: h, Depth: 1}}, nil
}

// extractNumber returns the digits of a file name as a number, 0 if none.
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	var digits strings.Builder
	for _, c := range base {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	if digits.Len() == 0 {
		return 0
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0
	}
	return n
}

func decodePlane(path string) ([]float64, int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, err
	}
	defer f.Close()

	var img image.Image
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		img, err = decodeTIFFSlice(f)
	default:
		img, _, err = image.Decode(f)
	}
	if err != nil {
		return nil, 0, 0, err
	}

	plane, w, h := imageValues(img)
	return plane, w, h, nil
}

// decodeTIFFSlice decodes a single-page TIFF. A slice directory holds one
// z-plane per file, so a stack inside it is an error.
func decodeTIFFSlice(f *os.File) (image.Image, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	order, pages, err := tiffPages(f, info.Size())
	if err != nil {
		return nil, err
	}
	if len(pages) > 1 {
		return nil, fmt.Errorf("%w: %d pages in a slice, expected 1", ErrUnsupportedFormat, len(pages))
	}
	return decodeTIFFPage(f, info.Size(), order, pages[0])
}

// imageValues returns raw intensities in row-major order. Grey images keep
// their stored value; colour images use the first channel at 8 bits.
func imageValues(img image.Image) ([]float64, int, int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]float64, w*h)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px, py := b.Min.X+x, b.Min.Y+y
			switch g := img.(type) {
			case *image.Gray:
				out[y*w+x] = float64(g.GrayAt(px, py).Y)
			case *image.Gray16:
				out[y*w+x] = float64(g.Gray16At(px, py).Y)
			default:
				r, _, _, _ := img.At(px, py).RGBA()
				out[y*w+x] = float64(r >> 8)
			}
		}
	}
	return out, w, h
}
