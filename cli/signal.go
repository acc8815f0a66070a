package cli

import (
	"os"
	"os/signal"
	"syscall"
)

// registerSignal stops the runner on the first SIGINT or SIGTERM and cancels
// the run on the second one. SIGHUP reopens the log files.
func registerSignal(stop, abort, reopenLogs func()) func() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		stopping := false
		for {
			select {
			case <-done:
				return
			case sig := <-c:
				switch sig {
				case syscall.SIGHUP:
					reopenLogs()
				case syscall.SIGINT, syscall.SIGTERM:
					if stopping {
						abort()
						continue
					}
					stopping = true
					stop()
				}
			}
		}
	}()
	return func() {
		signal.Stop(c)
		close(done)
	}
}
