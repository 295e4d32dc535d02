package rembg

import (
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

// ToNRGBA 把任意颜色模式（灰度、YCbCr、调色板、RGBA、16 位）统一成 4 通道非预乘的 NRGBA，
// 原点移到 (0,0)。已经是从原点开始的 NRGBA 直接返回。
func ToNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Rect.Min == (image.Point{}) {
		return nrgba
	}
	return imaging.Clone(img)
}

func cloneNRGBA(img image.Image) *image.NRGBA {
	return imaging.Clone(img)
}

// Preview 缩放（最长边 <= maxSize），不超过时原样返回
func Preview(img *image.NRGBA, maxSize int) *image.NRGBA {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	longest := max(w, h)

	if maxSize <= 0 || longest <= maxSize {
		return img
	}

	scale := float64(maxSize) / float64(longest)
	newW := max(1, int(float64(w)*scale))
	newH := max(1, int(float64(h)*scale))

	resized := resize.Resize(uint(newW), uint(newH), img, resize.Lanczos3)
	return ToNRGBA(resized)
}

// EncodePNG 总是写 RGBA（color type 6），即使所有像素都不透明。
// PNG 是无损的，alpha 会原样保留
func EncodePNG(w io.Writer, img *image.NRGBA) error {
	return imaging.Encode(w, alphaNRGBA{img}, imaging.PNG)
}

// alphaNRGBA png 编码器遇到不透明的图会退化成 RGB，这里让它始终认为有透明像素
type alphaNRGBA struct {
	*image.NRGBA
}

func (alphaNRGBA) Opaque() bool {
	return false
}
