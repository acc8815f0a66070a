package handlers

import (
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/bitleak/bert/chain"
	"github.com/bitleak/bert/server/middleware"
)

// GET /metrics
func PrometheusMetrics(c *gin.Context) {
	promhttp.Handler().ServeHTTP(c.Writer, c.Request)
}

type jobInfo struct {
	Name      string `json:"name"`
	Parent    string `json:"parent"`
	Space     string `json:"space"`
	WorkKey   string `json:"work_key"`
	DoneKey   string `json:"done_key"`
	Type      string `json:"type"`
	Workers   int    `json:"workers"`
	Cached    bool   `json:"cached"`
	HasSchema bool   `json:"has_schema"`
}

func newJobInfo(job *chain.Job) jobInfo {
	return jobInfo{
		Name:      job.Name(),
		Parent:    job.Parent().Name(),
		Space:     job.Space(),
		WorkKey:   job.WorkKey(),
		DoneKey:   job.DoneKey(),
		Type:      job.PipelineType().String(),
		Workers:   job.Workers(),
		Cached:    job.Cached(),
		HasSchema: job.Schema() != nil,
	}
}

// GET /chain
func ListJobs(c *gin.Context) {
	jobs, err := _deps.Registry.BuildChain()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	infos := make([]jobInfo, 0, len(jobs))
	for _, job := range jobs {
		infos = append(infos, newJobInfo(job))
	}
	c.IndentedJSON(http.StatusOK, gin.H{"jobs": infos})
}

// GET /jobs/:job
func GetJob(c *gin.Context) {
	job := c.MustGet("job").(*chain.Job)
	c.IndentedJSON(http.StatusOK, newJobInfo(job))
}

// GET /jobs/:job/size
func QueueSize(c *gin.Context) {
	logger := GetHTTPLogger(c)
	job := c.MustGet("job").(*chain.Job)
	cd, err := _deps.Codecs.Load(_deps.Conf.JobSettings(job.Name()).Encoding)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	work, err := _deps.Factory.New(job.WorkKey(), cd).Size(ctx)
	if err == nil {
		var done int64
		done, err = _deps.Factory.New(job.DoneKey(), cd).Size(ctx)
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"job": job.Name(), "work": work, "done": done})
			return
		}
	}
	logger.WithFields(logrus.Fields{
		"job": job.Name(),
		"err": err,
	}).Error("Failed to get the queue size")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// GET /executions?older_than=
func ListStalled(c *gin.Context) {
	logger := GetHTTPLogger(c)
	olderThan := _deps.Conf.StalledAfter()
	if raw := c.Query("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid older_than"})
			return
		}
		olderThan = d
	}
	stalled, err := _deps.Tracker.ScanStalled(c.Request.Context(), olderThan)
	if err != nil {
		logger.WithField("err", err).Error("Failed to scan the stalled executions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"executions": stalled})
}

// DELETE /executions/:identity
func ReleaseExecution(c *gin.Context) {
	logger := GetHTTPLogger(c)
	identity := c.Param("identity")
	released, err := _deps.Tracker.Release(c.Request.Context(), identity)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"identity": identity,
			"err":      err,
		}).Error("Failed to release the execution")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !released {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func PProf(c *gin.Context) {
	switch c.Param("profile") {
	case "/profile":
		pprof.Profile(c.Writer, c.Request)
	case "/trace":
		pprof.Trace(c.Writer, c.Request)
	default:
		pprof.Index(c.Writer, c.Request)
	}
}

// GetAccessLogStatus return whether the accesslog was enabled or not
// GET /accesslog
func GetAccessLogStatus(c *gin.Context) {
	if middleware.IsAccessLogEnabled() {
		c.JSON(http.StatusOK, gin.H{"status": "enabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "disabled"})
}

// UpdateAccessLogStatus update the accesslog status
// POST /accesslog
func UpdateAccessLogStatus(c *gin.Context) {
	status := c.Query("status")
	if status == "enable" {
		middleware.EnableAccessLog()
		c.JSON(http.StatusOK, gin.H{"status": "enabled"})
		return
	} else if status == "disable" {
		middleware.DisableAccessLog()
		c.JSON(http.StatusOK, gin.H{"status": "disabled"})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
}
