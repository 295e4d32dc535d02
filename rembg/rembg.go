package rembg

import (
	"context"
	"errors"
	"image"
)

// DefaultThreshold 亮度阈值，R/G/B 都严格大于它的像素被当作背景
const DefaultThreshold uint8 = 240

var ErrNilImage = errors.New("nil image")

type Remover interface {
	Remove(ctx context.Context, img image.Image) (image.Image, error)
}

// ThresholdRemover 简单的阈值抠图：接近白色的像素变成全透明。
// 没有任何空间信息，主体内部的高亮像素同样会被去掉，非白色背景不会被处理。
type ThresholdRemover struct {
	Threshold uint8
}

func NewThresholdRemover(threshold uint8) *ThresholdRemover {
	return &ThresholdRemover{Threshold: threshold}
}

// Remove 返回新的 *image.NRGBA，不修改输入
func (r *ThresholdRemover) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	if img == nil {
		return nil, ErrNilImage
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dst := cloneNRGBA(img)
	r.Apply(dst)
	return dst, nil
}

// Apply 原地处理 NRGBA 图像
func (r *ThresholdRemover) Apply(img *image.NRGBA) {
	t := r.Threshold
	w, h := img.Rect.Dx(), img.Rect.Dy()

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for i := 0; i < len(row); i += 4 {
			if row[i] > t && row[i+1] > t && row[i+2] > t {
				row[i], row[i+1], row[i+2], row[i+3] = 255, 255, 255, 0
			}
		}
	}
}
