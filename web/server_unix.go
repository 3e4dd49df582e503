//go:build !windows

package web

import (
	"os"
	"os/signal"
	"syscall"

	"squadstream/log"
)

// setupPlatformSignals stops the server on SIGINT, SIGTERM and SIGHUP.
func (s *Server) setupPlatformSignals() {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		select {
		case sig := <-signalChan:
			log.InfoLog.Printf("Shutting down web server due to signal: %v", sig)
			if err := s.Stop(); err != nil {
				log.ErrorLog.Printf("error stopping web server: %v", err)
			}
		case <-s.done:
		}
		signal.Stop(signalChan)
	}()
}
