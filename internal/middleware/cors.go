package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Fixed cross-origin header set for the read API.
const (
	AllowOrigin  = "*"
	AllowHeaders = "Content-Type,Authorization"
	AllowMethods = "GET,POST,OPTIONS"
)

// CORS sets the permissive cross-origin headers on every response and answers preflight requests.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", AllowOrigin)
		c.Header("Access-Control-Allow-Headers", AllowHeaders)
		c.Header("Access-Control-Allow-Methods", AllowMethods)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent) // 204
			return
		}
		c.Next()
	}
}
