package monitor

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// NewRouter builds the operational HTTP surface: liveness plus runtime
// counters.
func NewRouter(status *RuntimeStatus) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, status.Snapshot(time.Now()))
	})
	return r
}
