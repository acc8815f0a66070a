package log

import (
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu           sync.RWMutex
	globalLogger = logrus.New()
	accessLogger = logrus.New()
)

func openLog(logDir, name string) (*os.File, error) {
	return os.OpenFile(path.Join(logDir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

func swapOutput(logger *logrus.Logger, out io.Writer) {
	old := logger.Out
	logger.SetOutput(out)
	if f, ok := old.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		f.Close()
	}
}

// ReopenLogs reopens bert.log and access.log, used after the files were rotated.
func ReopenLogs(logDir string) error {
	if logDir == "" {
		return nil
	}
	mu.Lock()
	defer mu.Unlock()
	accessLog, err := openLog(logDir, "access.log")
	if err != nil {
		return err
	}
	bertLog, err := openLog(logDir, "bert.log")
	if err != nil {
		accessLog.Close()
		return err
	}
	swapOutput(accessLogger, accessLog)
	swapOutput(globalLogger, bertLog)
	return nil
}

// Setup configures the process loggers. Before Setup is called, Get returns a
// text logger writing to stderr at info level.
func Setup(logFormat, logDir, logLevel, backtrackLevel string) error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %s", err)
	}
	if backtrackLevel == "" {
		backtrackLevel = "error"
	}
	btLevel, err := logrus.ParseLevel(backtrackLevel)
	if err != nil {
		return fmt.Errorf("failed to parse backtrack level: %s", err)
	}

	access := logrus.New()
	global := logrus.New()
	if logFormat == "json" {
		access.SetFormatter(&logrus.JSONFormatter{})
		global.SetFormatter(&logrus.JSONFormatter{})
	}
	global.SetLevel(level)
	global.AddHook(NewBackTrackHook(btLevel))

	if logDir == "" {
		access.SetOutput(os.Stdout)
		global.SetOutput(os.Stderr)
	} else {
		accessLog, err := openLog(logDir, "access.log")
		if err != nil {
			return fmt.Errorf("failed to create access.log: %s", err)
		}
		bertLog, err := openLog(logDir, "bert.log")
		if err != nil {
			accessLog.Close()
			return fmt.Errorf("failed to create bert.log: %s", err)
		}
		access.SetOutput(accessLog)
		global.SetOutput(bertLog)
	}

	mu.Lock()
	globalLogger, accessLogger = global, access
	mu.Unlock()
	return nil
}

func Get() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return globalLogger
}

func GetAccessLogger() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return accessLogger
}

// ForJob returns an entry tagged with the job's name and space.
func ForJob(logger *logrus.Logger, name, space string) *logrus.Entry {
	if logger == nil {
		logger = Get()
	}
	return logger.WithFields(logrus.Fields{"job": name, "space": space})
}
