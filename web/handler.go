package web

import (
	"bytes"
	"errors"
	"maps"
	"mime"
	"mime/multipart"
	"net/http"
	"slices"
	"strings"

	"github.com/chaos-io/nobg/config"
	"github.com/chaos-io/nobg/rembg"
	"github.com/chaos-io/nobg/stats"
	"github.com/chaos-io/nobg/upload"
	"github.com/chaos-io/nobg/util"
	"github.com/gin-gonic/gin"
)

const (
	formField   = "file"
	successNote = "Background removed successfully! Note: This is a basic implementation that works best with light backgrounds."
)

type Handler struct {
	rules           upload.Rules
	pipeline        *rembg.Pipeline
	stats           *stats.Stats
	maxRequestBytes int64
	previewSize     int
}

func NewHandler(cfg *config.Config, pipeline *rembg.Pipeline, st *stats.Stats) *Handler {
	return &Handler{
		rules:           upload.NewRules(cfg.App.AllowedExtensions, cfg.App.MaxSizeBytes),
		pipeline:        pipeline,
		stats:           st,
		maxRequestBytes: cfg.Server.MaxRequestBytes,
		previewSize:     cfg.App.PreviewSize,
	}
}

// Index 上传表单
func (h *Handler) Index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"flashes":    popFlashes(c),
		"extensions": acceptList(h.rules),
		"maxSize":    h.rules.MaxSizeBytes,
	})
}

// Upload 去背景并以附件形式返回 PNG，失败时闪现提示并跳回表单
func (h *Handler) Upload(c *gin.Context) {
	file, data, err := h.readUpload(c)
	switch {
	case errors.Is(err, upload.ErrTooLarge):
		h.tooLarge(c)
		return
	case err != nil:
		h.stats.Rejected()
		h.redirectWith(c, err)
		return
	}

	res, err := h.pipeline.Process(c.Request.Context(), data)
	if err != nil {
		h.stats.Failed()
		logger(c).WithError(err).WithField("filename", file.Filename).Warn("process image")
		h.redirectWith(c, err)
		return
	}
	h.stats.Processed(len(data), len(res.PNG))

	// 先写 cookie 再写 body
	addFlash(c, flashSuccess, successNote)

	name := rembg.OutputName(file.Filename)
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	c.Data(http.StatusOK, "image/png", res.PNG)
}

// Preview 给前端预览用，返回缩小后的 PNG，错误用 JSON
func (h *Handler) Preview(c *gin.Context) {
	_, data, err := h.readUpload(c)
	if err != nil {
		h.stats.Rejected()
		status := http.StatusBadRequest
		if errors.Is(err, upload.ErrTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"error": h.rules.Message(err)})
		return
	}

	res, err := h.pipeline.Process(c.Request.Context(), data)
	if err != nil {
		h.stats.Failed()
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": h.rules.Message(err)})
		return
	}

	var buf bytes.Buffer
	if err := rembg.EncodePNG(&buf, rembg.Preview(res.Image, h.previewSize)); err != nil {
		h.stats.Failed()
		c.JSON(http.StatusInternalServerError, gin.H{"error": h.rules.Message(err)})
		return
	}
	h.stats.Processed(len(data), buf.Len())

	c.Header("Content-Disposition", "inline")
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "nobg",
		"stats":   h.stats.Snapshot(),
	})
}

// readUpload 读取并校验 multipart 中的文件，返回的 error 都是 upload.Err* 或读文件失败
func (h *Handler) readUpload(c *gin.Context) (*multipart.FileHeader, []byte, error) {
	if c.Request.ContentLength > h.maxRequestBytes {
		return nil, nil, upload.ErrTooLarge
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxRequestBytes)

	file, err := c.FormFile(formField)
	if err != nil {
		return nil, nil, formFileError(c, err)
	}

	if err := h.rules.Validate(file.Filename, file.Size); err != nil {
		return nil, nil, err
	}

	src, err := file.Open()
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		_ = src.Close()
	}()

	data, err := util.ReadAllLimit(src, h.rules.MaxSizeBytes)
	if errors.Is(err, util.ErrTooLarge) {
		return nil, nil, upload.ErrTooLarge
	}
	if err != nil {
		return nil, nil, err
	}
	return file, data, nil
}

func formFileError(c *gin.Context, err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return upload.ErrTooLarge
	}
	// 浏览器没选文件时 filename 为空，Go 会把它当普通表单字段
	if errors.Is(err, http.ErrMissingFile) && c.Request.MultipartForm != nil {
		if _, ok := c.Request.MultipartForm.Value[formField]; ok {
			return upload.ErrNoFilename
		}
	}
	return upload.ErrNoFile
}

func (h *Handler) redirectWith(c *gin.Context, err error) {
	addFlash(c, flashError, h.rules.Message(err))
	c.Redirect(http.StatusFound, "/")
}

// tooLarge 传输层 413 和文件大小检查走同一条路径
func (h *Handler) tooLarge(c *gin.Context) {
	h.stats.Rejected()
	h.redirectWith(c, upload.ErrTooLarge)
}

func acceptList(rules upload.Rules) string {
	exts := slices.Sorted(maps.Keys(rules.AllowedExtensions))
	for i, ext := range exts {
		exts[i] = "." + ext
	}
	return strings.Join(exts, ",")
}
