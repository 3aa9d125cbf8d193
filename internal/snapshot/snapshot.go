// Package snapshot turns a captured frame into a scaled PNG preview.
package snapshot

import (
	"fmt"
	"image"
	"image/png"
	"io"

	"golang.org/x/image/draw"

	"screenshare/internal/types"
)

// Image converts a BGRA frame to RGBA.
func Image(f *types.VideoFrame) (*image.RGBA, error) {
	if f == nil || f.Data == nil {
		return nil, fmt.Errorf("snapshot: released or nil frame")
	}
	if f.PixFmt != types.PixFmtBGRA {
		return nil, fmt.Errorf("snapshot: unsupported pixel format %d", f.PixFmt)
	}
	if f.Width <= 0 || f.Height <= 0 || f.Stride < f.Width*4 || len(f.Data) < f.Stride*(f.Height-1)+f.Width*4 {
		return nil, fmt.Errorf("snapshot: bad geometry %dx%d stride %d len %d", f.Width, f.Height, f.Stride, len(f.Data))
	}

	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		src := f.Data[y*f.Stride : y*f.Stride+f.Width*4]
		dst := img.Pix[y*img.Stride : y*img.Stride+f.Width*4]
		for x := 0; x < len(src); x += 4 {
			dst[x+0] = src[x+2]
			dst[x+1] = src[x+1]
			dst[x+2] = src[x+0]
			dst[x+3] = 0xff
		}
	}
	return img, nil
}

// Scale fits img into maxWidth keeping the aspect ratio. Images already
// narrow enough are returned as is.
func Scale(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}
	h := b.Dy() * maxWidth / b.Dx()
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// WritePNG encodes f as PNG, scaled down to maxWidth when it is positive.
func WritePNG(w io.Writer, f *types.VideoFrame, maxWidth int) error {
	img, err := Image(f)
	if err != nil {
		return err
	}
	if err := png.Encode(w, Scale(img, maxWidth)); err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}
	return nil
}
