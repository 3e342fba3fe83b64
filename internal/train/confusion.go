package train

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"strconv"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Figure geometry in pixels.
const (
	figWidth  = 600
	figHeight = 400
	gridLeft  = 140
	gridTop   = 50
	gridSize  = 270
	barLeft   = gridLeft + gridSize + 40
	barWidth  = 20
)

// blues approximates matplotlib's sequential "Blues" colormap.
var blues = []color.NRGBA{
	{247, 251, 255, 255}, {222, 235, 247, 255}, {198, 219, 239, 255},
	{158, 202, 225, 255}, {107, 174, 214, 255}, {66, 146, 198, 255},
	{33, 113, 181, 255}, {8, 81, 156, 255}, {8, 48, 107, 255},
}

// WriteConfusionPNG renders the matrix as an annotated heatmap with the
// class names as tick labels.
func WriteConfusionPNG(path string, matrix [][]int, classes []string) error {
	img := image.NewNRGBA(image.Rect(0, 0, figWidth, figHeight))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	lo, hi := bounds(matrix)
	n := len(matrix)
	cell := gridSize / max(n, 1)

	for r, row := range matrix {
		for c, v := range row {
			fill := colormap(normalize(v, lo, hi))
			rect := image.Rect(gridLeft+c*cell, gridTop+r*cell, gridLeft+(c+1)*cell, gridTop+(r+1)*cell)
			draw.Draw(img, rect, image.NewUniform(fill), image.Point{}, draw.Src)
			drawCentered(img, strconv.Itoa(v), rect.Min.X+cell/2, rect.Min.Y+cell/2, textColor(fill))
		}
	}

	for i, name := range classes {
		drawCentered(img, name, gridLeft+i*cell+cell/2, gridTop+n*cell+14, color.Black)
		drawRight(img, name, gridLeft-8, gridTop+i*cell+cell/2, color.Black)
	}

	drawCentered(img, "Confusion Matrix", gridLeft+gridSize/2, gridTop-25, color.Black)
	drawCentered(img, "Predicted Label", gridLeft+gridSize/2, gridTop+n*cell+40, color.Black)
	drawVertical(img, "Actual Label", gridLeft-75, gridTop+gridSize/2)

	// Color bar, dark at the top.
	for y := 0; y < gridSize; y++ {
		fill := colormap(1 - float64(y)/float64(gridSize-1))
		draw.Draw(img, image.Rect(barLeft, gridTop+y, barLeft+barWidth, gridTop+y+1),
			image.NewUniform(fill), image.Point{}, draw.Src)
	}
	drawLeft(img, strconv.Itoa(hi), barLeft+barWidth+6, gridTop+4, color.Black)
	drawLeft(img, strconv.Itoa(lo), barLeft+barWidth+6, gridTop+gridSize-4, color.Black)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing confusion matrix: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encoding confusion matrix: %w", err)
	}
	return f.Close()
}

func bounds(matrix [][]int) (lo, hi int) {
	first := true
	for _, row := range matrix {
		for _, v := range row {
			if first || v < lo {
				lo = v
			}
			if first || v > hi {
				hi = v
			}
			first = false
		}
	}
	return lo, hi
}

func normalize(v, lo, hi int) float64 {
	if hi == lo {
		return 0
	}
	return float64(v-lo) / float64(hi-lo)
}

// colormap linearly interpolates the blues stops at t in [0,1].
func colormap(t float64) color.NRGBA {
	t = min(max(t, 0), 1)
	pos := t * float64(len(blues)-1)
	i := int(pos)
	if i >= len(blues)-1 {
		return blues[len(blues)-1]
	}
	frac := pos - float64(i)
	a, b := blues[i], blues[i+1]
	mix := func(x, y uint8) uint8 {
		return uint8(float64(x) + (float64(y)-float64(x))*frac + 0.5)
	}
	return color.NRGBA{mix(a.R, b.R), mix(a.G, b.G), mix(a.B, b.B), 255}
}

func textColor(bg color.NRGBA) color.Color {
	lum := (0.299*float64(bg.R) + 0.587*float64(bg.G) + 0.114*float64(bg.B)) / 255
	if lum < 0.5 {
		return color.White
	}
	return color.Black
}

var face = basicfont.Face7x13

func textWidth(s string) int {
	return font.MeasureString(face, s).Ceil()
}

// drawLeft draws s starting at x, vertically centered on y.
func drawLeft(dst draw.Image, s string, x, y int, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y+face.Ascent/2-face.Descent/2),
	}
	d.DrawString(s)
}

func drawCentered(dst draw.Image, s string, x, y int, c color.Color) {
	drawLeft(dst, s, x-textWidth(s)/2, y, c)
}

func drawRight(dst draw.Image, s string, x, y int, c color.Color) {
	drawLeft(dst, s, x-textWidth(s), y, c)
}

// drawVertical draws s rotated a quarter turn counter-clockwise, centered
// on (x, y).
func drawVertical(dst draw.Image, s string, x, y int) {
	w, h := textWidth(s), face.Height
	label := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(label, label.Bounds(), image.White, image.Point{}, draw.Src)
	drawLeft(label, s, 0, h/2, color.Black)

	rotated := imaging.Rotate90(label)
	rb := rotated.Bounds()
	at := image.Rect(x-rb.Dx()/2, y-rb.Dy()/2, x+rb.Dx()/2+1, y+rb.Dy()/2+1)
	draw.Draw(dst, at, rotated, image.Point{}, draw.Src)
}
