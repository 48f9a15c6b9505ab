package middleware

import (
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDMiddleware добавляет уникальный request ID к каждому запросу
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Генерируем или получаем request ID из заголовка
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}

		c.Set("request_id", reqID)
		c.Header("X-Request-ID", reqID)

		c.Next()
	}
}

// GetRequestID извлекает request ID из контекста Gin
func GetRequestID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	if reqID, exists := c.Get("request_id"); exists {
		if id, ok := reqID.(string); ok {
			return id
		}
	}
	return ""
}

// LoggerMiddleware логирует запросы с request ID
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		reqID := GetRequestID(c)

		if raw != "" {
			path = path + "?" + raw
		}

		logLine := fmt.Sprintf("[Server] %s %s %d %s", c.Request.Method, path, statusCode, latency)
		if reqID != "" {
			logLine += " [RequestID: " + reqID + "]"
		}
		if err := c.Errors.Last(); err != nil {
			logLine += " [Error: " + err.Error() + "]"
		}
		log.Println(logLine)
	}
}

// RecoveryMiddleware обрабатывает паники и возвращает JSON ошибку
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				reqID := GetRequestID(c)
				log.Printf("[Server] Panic recovered: %v [RequestID: %s]\n%s", err, reqID, debug.Stack())

				c.JSON(500, gin.H{
					"error":      "Internal server error",
					"request_id": reqID,
				})
				c.Abort()
			}
		}()

		c.Next()
	}
}
