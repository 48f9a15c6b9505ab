package handlers

import (
	"errors"
	"log"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "outreach/server/errors"
	"outreach/server/middleware"
)

// ErrorResponse структура ответа об ошибке
type ErrorResponse struct {
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
	RequestID string `json:"request_id,omitempty"`
}

// SendJSONResponse записывает JSON ответ
func SendJSONResponse(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, data)
}

// SendJSONError записывает JSON ошибку с request ID
func SendJSONError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error:     message,
		Timestamp: time.Now().Format(time.RFC3339),
		RequestID: middleware.GetRequestID(c),
	})
}

// HandleError отвечает на ошибку приложения: AppError сохраняет свой статус
// и сообщение, остальные ошибки скрываются за 500
func HandleError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		detail := ""
		if appErr.Context != "" {
			detail = " (" + appErr.Context + ")"
		}
		log.Printf("[Server] %s %s: %v%s [RequestID: %s]",
			c.Request.Method, c.Request.URL.Path, appErr, detail, middleware.GetRequestID(c))
		SendJSONError(c, appErr.StatusCode(), appErr.UserMessage())
		return
	}

	log.Printf("[Server] %s %s: unexpected error: %v [RequestID: %s]",
		c.Request.Method, c.Request.URL.Path, err, middleware.GetRequestID(c))
	SendJSONError(c, 500, "Внутренняя ошибка сервера")
}
