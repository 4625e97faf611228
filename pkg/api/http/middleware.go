package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const userIDKey = "user_id"

// CORS middleware (placeholder for MVP)
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-User-ID, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// AuthMiddleware extracts the caller identity from the X-User-ID
// header. The header is set by the fronting auth gateway; requests
// without it are rejected.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-User-ID")
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error: ErrorDetail{
					Code:    "UNAUTHORIZED",
					Message: "Missing X-User-ID header",
				},
			})
			return
		}
		c.Set(userIDKey, id)
		c.Next()
	}
}

// userID returns the authenticated caller id set by AuthMiddleware.
func userID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
