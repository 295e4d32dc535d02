package util

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

var ErrTooLarge = errors.New("content exceeds size limit")

// Trace 打印耗时，用法：defer util.Trace("xxx")()
func Trace(msg string) func() {
	start := time.Now()
	return func() {
		logrus.WithField("elapsed", time.Since(start).String()).Debug(msg)
	}
}

// ReadAllLimit 最多读取 limit 字节，超出返回 ErrTooLarge
func ReadAllLimit(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrTooLarge
	}
	return data, nil
}

// ReadFile 读取本地文件，大小超过 limit 时不读内容
func ReadFile(path string, limit int64) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = file.Close()
	}()

	return ReadAllLimit(file, limit)
}
