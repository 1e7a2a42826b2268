// Package asset renders synthetic documents for file-input steps that need
// an upload of plausible size and type.
package asset

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"math/rand"

	"github.com/entrhq/claimbridge/pkg/logging"
)

// Defaults for CreatePNGAtLeast.
const (
	DefaultMinSide = 256
	DefaultMaxSide = 4096
	DefaultSeed    = 42
	growthFactor   = 1.5
)

// Options tunes image generation.
type Options struct {
	// MaxSide caps the side length; growth stops there
	MaxSide int
	// Seed makes the noise reproducible
	Seed   int64
	Logger *logging.Logger
}

// Image is one encoded synthetic PNG.
type Image struct {
	Data []byte
	Side int
	// Capped is set when MaxSide was reached before the size target
	Capped bool
}

// CreatePNGAtLeast renders square gradient-plus-noise images, growing the
// side by half each round, until the encoded PNG is at least minBytes long.
// When MaxSide is reached first it logs a warning and returns the largest
// image attempted.
func CreatePNGAtLeast(minBytes, minSide int, opts Options) (*Image, error) {
	if opts.MaxSide <= 0 {
		opts.MaxSide = DefaultMaxSide
	}
	if opts.Seed == 0 {
		opts.Seed = DefaultSeed
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard("asset")
	}
	if minSide <= 0 {
		minSide = DefaultMinSide
	}

	side := min(minSide, opts.MaxSide)
	for {
		data, err := encodePNG(side, opts.Seed)
		if err != nil {
			return nil, err
		}
		if len(data) >= minBytes {
			opts.Logger.Debugf("synthetic png %dx%d, %d bytes", side, side, len(data))
			return &Image{Data: data, Side: side}, nil
		}
		if side >= opts.MaxSide {
			opts.Logger.Warnf("synthetic png capped at %dx%d with %d bytes, wanted %d", side, side, len(data), minBytes)
			return &Image{Data: data, Side: side, Capped: true}, nil
		}
		side = min(int(math.Ceil(float64(side)*growthFactor)), opts.MaxSide)
	}
}

func encodePNG(side int, seed int64) ([]byte, error) {
	img := image.NewNRGBA(image.Rect(0, 0, side, side))
	rng := rand.New(rand.NewSource(seed))
	span := float64(max(side-1, 1))

	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			gx := float64(x) / span
			gy := float64(y) / span
			img.SetNRGBA(x, y, color.NRGBA{
				R: blend(gx*255, rng),
				G: blend(gy*255, rng),
				B: blend((1-gx)*gy*255, rng),
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// blend mixes a gradient value with uniform noise in equal parts.
func blend(gradient float64, rng *rand.Rand) uint8 {
	return uint8((gradient + float64(rng.Intn(256))) / 2)
}
