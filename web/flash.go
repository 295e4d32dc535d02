package web

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	flashError   = "error"
	flashSuccess = "success"
)

type flashMessage struct {
	Category string
	Message  string
}

func addFlash(c *gin.Context, category, msg string) {
	session := sessions.Default(c)
	session.AddFlash(msg, category)
	if err := session.Save(); err != nil {
		logger(c).WithError(err).Warn("save flash message")
	}
}

// popFlashes 取出并清空所有待显示的消息
func popFlashes(c *gin.Context) []flashMessage {
	session := sessions.Default(c)

	var messages []flashMessage
	for _, category := range []string{flashError, flashSuccess} {
		for _, f := range session.Flashes(category) {
			if msg, ok := f.(string); ok {
				messages = append(messages, flashMessage{Category: category, Message: msg})
			}
		}
	}

	if len(messages) > 0 {
		if err := session.Save(); err != nil {
			logger(c).WithError(err).Warn("clear flash messages")
		}
	}
	return messages
}
