package model

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrDecode is returned when bytes cannot be decoded as an image.
var ErrDecode = errors.New("not a valid image")

// ImageNet channel statistics the backbone was trained with.
var (
	Mean = [3]float32{0.485, 0.456, 0.406}
	Std  = [3]float32{0.229, 0.224, 0.225}
)

// Decode reads an image in any registered format.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

// DecodeFile opens and decodes an image file.
func DecodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Resize drops any alpha channel and scales img to size×size with bilinear
// interpolation, ignoring the aspect ratio.
func Resize(img image.Image, size int) image.Image {
	return resize.Resize(uint(size), uint(size), dropAlpha(img), resize.Bilinear)
}

// dropAlpha keeps the stored color of every pixel and makes it opaque.
// Translucent pixels are not blended against any background.
func dropAlpha(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	b := img.Bounds()
	out := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := straight(img.At(x, y))
			c.A = 0xff
			out.SetNRGBA(x, y, c)
		}
	}
	return out
}

func straight(c color.Color) color.NRGBA {
	switch v := c.(type) {
	case color.NRGBA:
		return v
	case color.NRGBA64:
		return color.NRGBA{R: uint8(v.R >> 8), G: uint8(v.G >> 8), B: uint8(v.B >> 8), A: uint8(v.A >> 8)}
	}
	return color.NRGBAModel.Convert(c).(color.NRGBA)
}

// Normalize converts an opaque img to a CHW float tensor scaled to [0,1]
// and standardized per channel.
func Normalize(img image.Image) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	out := make([]float32, 3*plane)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := y*w + x
			out[i] = (float32(r)/65535 - Mean[0]) / Std[0]
			out[plane+i] = (float32(g)/65535 - Mean[1]) / Std[1]
			out[2*plane+i] = (float32(bl)/65535 - Mean[2]) / Std[2]
		}
	}
	return out
}

// Preprocess resizes and normalizes img for the backbone.
func Preprocess(img image.Image, size int) []float32 {
	return Normalize(Resize(img, size))
}
