package web

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/chaos-io/nobg/config"
	"github.com/chaos-io/nobg/rembg"
	"github.com/chaos-io/nobg/stats"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, mutate func(c *config.Config)) (*gin.Engine, *stats.Stats) {
	t.Helper()

	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	if cfg.Server.MaxRequestBytes == 0 {
		cfg.Server.MaxRequestBytes = cfg.App.MaxSizeBytes + 1<<20
	}
	require.NoError(t, cfg.Validate())

	st := stats.New()
	p := rembg.NewPipeline(rembg.NewThresholdRemover(uint8(cfg.App.Threshold)), cfg.App.MaxPixels)
	return InitRoutes(NewHandler(cfg, p, st), "test-secret"), st
}

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func postFile(t *testing.T, router http.Handler, path, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()

	body, contentType := multipartBody(t, "file", filename, data)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// followFlash 带着 session cookie 打开首页，返回页面内容
func followFlash(t *testing.T, router http.Handler, resp *httptest.ResponseRecorder) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range resp.Result().Cookies() {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func assertRedirectWithFlash(t *testing.T, router http.Handler, w *httptest.ResponseRecorder, msg string) {
	t.Helper()

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
	assert.Contains(t, followFlash(t, router, w), msg)
}

func decodeNRGBA(t *testing.T, data []byte) *image.NRGBA {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return rembg.ToNRGBA(img)
}

func TestIndex(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `enctype="multipart/form-data"`)
	assert.Contains(t, body, `name="file"`)
	assert.Contains(t, body, ".bmp,.gif,.jpeg,.jpg,.png,.webp")
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestUpload_WhiteImage(t *testing.T) {
	router, st := newTestRouter(t, nil)

	w := postFile(t, router, "/", "photo.png", solidPNG(t, 2, 2, color.White))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	disposition, params, err := mime.ParseMediaType(w.Header().Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, "attachment", disposition)
	assert.Equal(t, "photo_no_bg.png", params["filename"])

	got := decodeNRGBA(t, w.Body.Bytes())
	require.Equal(t, image.Rect(0, 0, 2, 2), got.Bounds())
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			assert.Equal(t, color.NRGBA{255, 255, 255, 0}, got.NRGBAAt(x, y))
		}
	}

	assert.Contains(t, followFlash(t, router, w), "Background removed successfully!")
	assert.Equal(t, int64(1), st.Snapshot().Processed)
}

func TestUpload_BlackImage(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := postFile(t, router, "/", "dark.PNG", solidPNG(t, 2, 2, color.Black))
	require.Equal(t, http.StatusOK, w.Code)
	// IHDR 中的 color type，6 为 RGBA
	assert.Equal(t, byte(6), w.Body.Bytes()[25])

	got := decodeNRGBA(t, w.Body.Bytes())
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			assert.Equal(t, color.NRGBA{0, 0, 0, 255}, got.NRGBAAt(x, y))
		}
	}
}

func TestUpload_WebP(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	data, err := os.ReadFile("../rembg/testdata/white_2x2.webp")
	require.NoError(t, err)

	w := postFile(t, router, "/", "photo.webp", data)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "photo_no_bg.png")

	got := decodeNRGBA(t, w.Body.Bytes())
	require.Equal(t, image.Rect(0, 0, 2, 2), got.Bounds())
	assert.Equal(t, color.NRGBA{255, 255, 255, 0}, got.NRGBAAt(1, 1))
}

func TestUpload_Rejected(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		data     []byte
		want     string
	}{
		{name: "txt 文件", filename: "photo.txt", data: []byte("hello"), want: "Invalid file type. Please upload PNG, JPG, JPEG, GIF, BMP, or WebP files."},
		{name: "没有扩展名", filename: "photo", data: []byte("hello"), want: "Invalid file type."},
		{name: "空文件名", filename: "", data: nil, want: "No file selected"},
		{name: "不是图片", filename: "fake.png", data: []byte("not an image"), want: "Error processing image: decode image: image: unknown format"},
		{name: "空文件", filename: "empty.png", data: []byte{}, want: "Error processing image: decode image: empty input"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, st := newTestRouter(t, nil)

			w := postFile(t, router, "/", tt.filename, tt.data)
			assertRedirectWithFlash(t, router, w, tt.want)
			assert.Equal(t, int64(0), st.Snapshot().Processed)
		})
	}
}

func TestUpload_NoFileField(t *testing.T) {
	router, st := newTestRouter(t, nil)

	body, contentType := multipartBody(t, "other", "a.png", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assertRedirectWithFlash(t, router, w, "No file uploaded")
	assert.Equal(t, int64(1), st.Snapshot().Rejected)
}

func TestUpload_NotMultipart(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("file=abc"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assertRedirectWithFlash(t, router, w, "No file uploaded")
}

func TestUpload_TooLargeJPEG(t *testing.T) {
	router, st := newTestRouter(t, nil)

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	// JPEG 解码器忽略 EOI 之后的数据，文件依然是合法的 JPEG
	data := append(buf.Bytes(), make([]byte, 16<<20)...)

	w := postFile(t, router, "/", "huge.jpg", data)
	assertRedirectWithFlash(t, router, w, "File too large. Maximum size is 16MB.")
	assert.Equal(t, int64(1), st.Snapshot().Rejected)
}

func TestUpload_TransportLimit(t *testing.T) {
	small := func(c *config.Config) {
		c.App.MaxSizeBytes = 1 << 10
		c.Server.MaxRequestBytes = 2 << 10
	}

	t.Run("Content-Length 超限", func(t *testing.T) {
		router, _ := newTestRouter(t, small)

		w := postFile(t, router, "/", "a.png", make([]byte, 4<<10))
		assertRedirectWithFlash(t, router, w, "File too large. Maximum size is 1KB.")
	})

	t.Run("未知长度的请求体超限", func(t *testing.T) {
		router, _ := newTestRouter(t, small)

		body, contentType := multipartBody(t, "file", "a.png", make([]byte, 4<<10))
		req := httptest.NewRequest(http.MethodPost, "/", io.NopCloser(body))
		req.Header.Set("Content-Type", contentType)
		require.Equal(t, int64(-1), req.ContentLength)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assertRedirectWithFlash(t, router, w, "File too large. Maximum size is 1KB.")
	})

	t.Run("文件本身超限", func(t *testing.T) {
		router, _ := newTestRouter(t, small)

		w := postFile(t, router, "/", "a.png", make([]byte, 1<<10+1))
		assertRedirectWithFlash(t, router, w, "File too large. Maximum size is 1KB.")
	})
}

func TestUpload_CustomThreshold(t *testing.T) {
	router, _ := newTestRouter(t, func(c *config.Config) { c.App.Threshold = 100 })

	w := postFile(t, router, "/", "gray.png", solidPNG(t, 1, 1, color.RGBA{150, 150, 150, 255}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, color.NRGBA{255, 255, 255, 0}, decodeNRGBA(t, w.Body.Bytes()).NRGBAAt(0, 0))
}

func TestPreview(t *testing.T) {
	router, _ := newTestRouter(t, func(c *config.Config) { c.App.PreviewSize = 50 })

	w := postFile(t, router, "/preview", "wide.png", solidPNG(t, 200, 100, color.White))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "inline", w.Header().Get("Content-Disposition"))

	got := decodeNRGBA(t, w.Body.Bytes())
	assert.Equal(t, 50, got.Bounds().Dx())
	assert.Equal(t, 25, got.Bounds().Dy())
	assert.Equal(t, uint8(0), got.NRGBAAt(10, 10).A)
}

func TestPreview_Errors(t *testing.T) {
	router, _ := newTestRouter(t, func(c *config.Config) {
		c.App.MaxSizeBytes = 1 << 10
		c.Server.MaxRequestBytes = 4 << 10
	})

	tests := []struct {
		name       string
		filename   string
		data       []byte
		wantStatus int
		wantMsg    string
	}{
		{name: "类型不对", filename: "a.txt", data: []byte("x"), wantStatus: http.StatusBadRequest, wantMsg: "Invalid file type"},
		{name: "太大", filename: "a.png", data: make([]byte, 2<<10), wantStatus: http.StatusRequestEntityTooLarge, wantMsg: "File too large"},
		{name: "解码失败", filename: "a.png", data: []byte("x"), wantStatus: http.StatusUnprocessableEntity, wantMsg: "Error processing image"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postFile(t, router, "/preview", tt.filename, tt.data)
			require.Equal(t, tt.wantStatus, w.Code)

			var resp map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Contains(t, resp["error"], tt.wantMsg)
		})
	}
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	_ = postFile(t, router, "/", "photo.png", solidPNG(t, 2, 2, color.White))
	_ = postFile(t, router, "/", "photo.txt", []byte("x"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status  string         `json:"status"`
		Service string         `json:"service"`
		Stats   stats.Snapshot `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "nobg", resp.Service)
	assert.Equal(t, int64(1), resp.Stats.Processed)
	assert.Equal(t, int64(1), resp.Stats.Rejected)
	assert.Positive(t, resp.Stats.BytesOut)
}

func TestRequestID(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "abc123", w.Header().Get(requestIDHeader))
}
