package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mkleve522/zzimage/internal/utils/log"
)

func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debugf("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
