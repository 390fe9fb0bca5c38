package volume

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var supportedExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
}

// LoadDir reads every PNG/JPEG in dir, sorted by file name, as consecutive Z
// slices. All images must share the dimensions of the first one.
func LoadDir(dir string) (*Volume, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read slice directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := supportedExtensions[strings.ToLower(filepath.Ext(e.Name()))]; ok {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no slice images found in %s", dir)
	}
	sort.Strings(files)

	images := make([]image.Image, 0, len(files))
	for _, f := range files {
		img, err := decodeFile(f)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return FromImages(images)
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open slice %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode slice %s: %w", path, err)
	}
	return img, nil
}

// FromImages stacks images as Z slices, converting them to normalized gray.
func FromImages(images []image.Image) (*Volume, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: no images", ErrInvalidExtents)
	}
	b := images[0].Bounds()
	v, err := New(b.Dx(), b.Dy(), len(images))
	if err != nil {
		return nil, err
	}

	plane := v.width * v.height
	for z, img := range images {
		ib := img.Bounds()
		if ib.Dx() != v.width || ib.Dy() != v.height {
			return nil, fmt.Errorf("%w: slice %d is %dx%d, expected %dx%d",
				ErrInvalidExtents, z, ib.Dx(), ib.Dy(), v.width, v.height)
		}
		for y := 0; y < v.height; y++ {
			for x := 0; x < v.width; x++ {
				g := color.Gray16Model.Convert(img.At(ib.Min.X+x, ib.Min.Y+y)).(color.Gray16)
				v.data[z*plane+y*v.width+x] = float64(g.Y) / 65535
			}
		}
	}
	return v, nil
}

// NewPhantom builds a synthetic stack of nested ellipsoids with a soft
// gradient, useful for demos and benchmarks without real data.
func NewPhantom(width, height, depth int) (*Volume, error) {
	v, err := New(width, height, depth)
	if err != nil {
		return nil, err
	}

	cx, cy, cz := float64(width-1)/2, float64(height-1)/2, float64(depth-1)/2
	rx, ry, rz := math.Max(cx, 1), math.Max(cy, 1), math.Max(cz, 1)
	v.Modify(func(data []float64, w, h, d int) {
		for z := 0; z < d; z++ {
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					dx, dy, dz := (float64(x)-cx)/rx, (float64(y)-cy)/ry, (float64(z)-cz)/rz
					r := math.Sqrt(dx*dx + dy*dy + dz*dz)
					var val float64
					switch {
					case r < 0.35:
						val = 0.9
					case r < 0.7:
						val = 0.55 + 0.1*math.Sin(float64(x+y)/4)
					case r < 1:
						val = 0.25 * (1 - r)
					}
					data[z*w*h+y*w+x] = val
				}
			}
		}
	})
	return v, nil
}
