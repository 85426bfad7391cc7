package middleware

import (
	"github.com/gin-gonic/gin"
)

// NoStore marks responses as private session state that must never be cached
// by the browser or an intermediate proxy.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store, max-age=0")
		c.Header("Pragma", "no-cache")
		c.Next()
	}
}
