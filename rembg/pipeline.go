package rembg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // 注册 GIF 解码
	_ "image/jpeg" // 注册 JPEG 解码
	_ "image/png"  // 注册 PNG 解码
	"strings"

	"github.com/chaos-io/nobg/util"
	_ "golang.org/x/image/bmp"  // 注册 BMP 解码
	_ "golang.org/x/image/webp" // 注册 WebP 解码
)

const (
	StageDecode = "decode"
	StageFilter = "filter"
	StageEncode = "encode"

	outputSuffix = "_no_bg.png"

	// DefaultMaxPixels 和 PIL 的 MAX_IMAGE_PIXELS 一致
	DefaultMaxPixels = 1024 * 1024 * 1024 / 4 / 3
)

var (
	ErrEmptyInput         = errors.New("empty input")
	ErrPixelLimitExceeded = errors.New("image exceeds max pixels limit")
)

// ProcessError 某个处理阶段失败，不会返回部分结果
type ProcessError struct {
	Stage string
	Err   error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("%s image: %v", e.Stage, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

type Result struct {
	PNG    []byte
	Image  *image.NRGBA
	Width  int
	Height int
	// Format 输入的编码格式，例如 "jpeg"
	Format string
}

// Pipeline 字节进、字节出：解码 -> 转 NRGBA -> 去背景 -> 编码 PNG
type Pipeline struct {
	remover Remover
	// maxPixels 解码前按头部的宽高检查，<= 0 不限制
	maxPixels int64
}

func NewPipeline(remover Remover, maxPixels int64) *Pipeline {
	return &Pipeline{remover: remover, maxPixels: maxPixels}
}

func (p *Pipeline) Process(ctx context.Context, data []byte) (*Result, error) {
	defer util.Trace("process image")()

	if len(data) == 0 {
		return nil, &ProcessError{Stage: StageDecode, Err: ErrEmptyInput}
	}

	// 解码器会按头部声明的尺寸一次性分配像素，先看头部
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &ProcessError{Stage: StageDecode, Err: err}
	}
	if p.maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > p.maxPixels {
		return nil, &ProcessError{
			Stage: StageDecode,
			Err:   fmt.Errorf("%w: %dx%d", ErrPixelLimitExceeded, cfg.Width, cfg.Height),
		}
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &ProcessError{Stage: StageDecode, Err: err}
	}

	out, err := p.remover.Remove(ctx, src)
	if err != nil {
		return nil, &ProcessError{Stage: StageFilter, Err: err}
	}
	nrgba := ToNRGBA(out)

	var buf bytes.Buffer
	if err := EncodePNG(&buf, nrgba); err != nil {
		return nil, &ProcessError{Stage: StageEncode, Err: err}
	}

	return &Result{
		PNG:    buf.Bytes(),
		Image:  nrgba,
		Width:  nrgba.Rect.Dx(),
		Height: nrgba.Rect.Dy(),
		Format: format,
	}, nil
}

// OutputName photo.jpeg -> photo_no_bg.png，只去掉最后一个扩展名
func OutputName(filename string) string {
	stem := filename
	if i := strings.LastIndex(filename, "."); i >= 0 {
		stem = filename[:i]
	}
	if stem == "" {
		stem = "image"
	}
	return stem + outputSuffix
}
