package web

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

//go:embed templates/*.html
var templatesFS embed.FS

const sessionName = "nobg_session"

func InitRoutes(h *Handler, sessionSecret string) *gin.Engine {
	router := gin.New()
	router.Use(RequestID(), Logger(), gin.Recovery())

	store := cookie.NewStore([]byte(sessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   3600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	router.Use(sessions.Sessions(sessionName, store))

	router.SetHTMLTemplate(template.Must(template.ParseFS(templatesFS, "templates/*.html")))

	router.GET("/", h.Index)
	router.POST("/", h.Upload)
	router.POST("/preview", h.Preview)
	router.GET("/health", h.Health)

	return router
}
