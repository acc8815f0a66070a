package handlers

import (
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/bitleak/bert/chain"
	"github.com/bitleak/bert/codec"
	"github.com/bitleak/bert/config"
	"github.com/bitleak/bert/queue"
	"github.com/bitleak/bert/reporting"
)

// Deps is what the admin handlers inspect.
type Deps struct {
	Conf     *config.Config
	Registry *chain.Registry
	Factory  *queue.Factory
	Codecs   *codec.Registry
	Tracker  *reporting.Tracker
}

var setupOnce sync.Once
var (
	_logger *logrus.Logger
	_deps   *Deps
)

func Setup(l *logrus.Logger, deps *Deps) {
	setupOnce.Do(setupMetrics)
	_logger = l
	_deps = deps
}

func GetHTTPLogger(c *gin.Context) *logrus.Entry {
	reqID := c.GetString("req_id")
	if reqID == "" {
		return logrus.NewEntry(_logger)
	}
	return _logger.WithField("req_id", reqID)
}
