package train

import (
	"image"
	"image/color"
	"math/rand/v2"

	"github.com/disintegration/imaging"
)

// Augmentation ranges applied to training images.
const (
	flipProbability = 0.5
	maxRotation     = 10.0
	brightnessRange = 0.2
)

// Augment applies a random horizontal flip, a random rotation within
// ±maxRotation degrees about the center on a same-sized canvas with black
// fill, and a random brightness factor in [1-brightnessRange, 1+brightnessRange].
func Augment(img image.Image, rng *rand.Rand) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	out := imaging.Clone(img)
	if rng.Float64() < flipProbability {
		out = imaging.FlipH(out)
	}

	angle := (rng.Float64()*2 - 1) * maxRotation
	rotated := imaging.Rotate(out, angle, color.Black)
	out = imaging.CropCenter(rotated, w, h)

	factor := 1 + (rng.Float64()*2-1)*brightnessRange
	return Brightness(out, factor)
}

// Brightness scales every channel by factor, clamping to the valid range.
func Brightness(img image.Image, factor float64) *image.NRGBA {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: scale(c.R, factor),
			G: scale(c.G, factor),
			B: scale(c.B, factor),
			A: c.A,
		}
	})
}

func scale(v uint8, factor float64) uint8 {
	f := float64(v)*factor + 0.5
	switch {
	case f < 0:
		return 0
	case f > 255:
		return 255
	}
	return uint8(f)
}
