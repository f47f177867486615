package middleware

import "github.com/gin-gonic/gin"

// NoStore marks responses as uncacheable. Session state and results change
// every second and are private to the candidate.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}
