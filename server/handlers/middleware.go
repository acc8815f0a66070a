package handlers

import (
	"math"
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupJob resolves the :job path parameter into the bound job.
func SetupJob(c *gin.Context) {
	name := c.Param("job")
	if name == "" || len(name) > math.MaxUint8 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job name"})
		c.Abort()
		return
	}
	job, ok := _deps.Registry.Lookup(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		c.Abort()
		return
	}
	c.Set("job", job)
}
