// Package upload 校验上传文件，和 HTTP 层解耦
package upload

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoFile      = errors.New("no file uploaded")
	ErrNoFilename  = errors.New("no file selected")
	ErrInvalidType = errors.New("invalid file type")
	ErrTooLarge    = errors.New("file too large")
)

var DefaultExtensions = []string{"png", "jpg", "jpeg", "gif", "bmp", "webp"}

const DefaultMaxSize int64 = 16 << 20

type Rules struct {
	AllowedExtensions map[string]struct{}
	MaxSizeBytes      int64
}

func NewRules(extensions []string, maxSize int64) Rules {
	allowed := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			allowed[ext] = struct{}{}
		}
	}
	return Rules{AllowedExtensions: allowed, MaxSizeBytes: maxSize}
}

// Extension 最后一个 "." 之后的部分，小写；没有 "." 返回空串
func Extension(filename string) string {
	i := strings.LastIndex(filename, ".")
	if i < 0 {
		return ""
	}
	return strings.ToLower(filename[i+1:])
}

// Validate 依次检查文件名、扩展名、大小，返回 nil 或者 Err* 之一
func (r Rules) Validate(filename string, size int64) error {
	if filename == "" {
		return ErrNoFilename
	}
	if _, ok := r.AllowedExtensions[Extension(filename)]; !ok {
		return ErrInvalidType
	}
	if size > r.MaxSizeBytes {
		return ErrTooLarge
	}
	return nil
}

// Message 给用户看的提示
func (r Rules) Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoFile):
		return "No file uploaded"
	case errors.Is(err, ErrNoFilename):
		return "No file selected"
	case errors.Is(err, ErrInvalidType):
		return "Invalid file type. Please upload PNG, JPG, JPEG, GIF, BMP, or WebP files."
	case errors.Is(err, ErrTooLarge):
		return fmt.Sprintf("File too large. Maximum size is %s.", formatSize(r.MaxSizeBytes))
	default:
		return "Error processing image: " + err.Error()
	}
}

func formatSize(n int64) string {
	if n >= 1<<20 && n%(1<<20) == 0 {
		return fmt.Sprintf("%dMB", n>>20)
	}
	if n >= 1<<10 && n%(1<<10) == 0 {
		return fmt.Sprintf("%dKB", n>>10)
	}
	return fmt.Sprintf("%d bytes", n)
}
