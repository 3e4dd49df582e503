package app

import (
	"squadstream/config"
	"squadstream/events"
	"squadstream/log"
	"squadstream/output"
	"squadstream/render"
	"squadstream/supervisor"
	"squadstream/web"
)

// StartWebServer serves the view's buffers and events. Clearing a buffer remotely goes
// through the throttle, so the local view redraws at once.
func StartWebServer(cfg *config.Config, buffers *output.Registry, hub *events.Hub, sup *supervisor.Supervisor, throttle *render.Throttle) (*web.Server, error) {
	server := web.NewServer(cfg, web.Deps{
		Buffers:   buffers,
		Hub:       hub,
		Processes: sup,
		Clearer:   throttle,
	})
	if err := server.Start(); err != nil {
		return nil, err
	}
	log.InfoLog.Printf("Web server started on %s", cfg.WebServerAddr())
	return server, nil
}

// StopWebServer gracefully stops the web server.
func StopWebServer(server *web.Server) {
	log.InfoLog.Printf("Shutting down web server...")
	if err := server.Stop(); err != nil {
		log.ErrorLog.Printf("Error stopping web server: %v", err)
	}
}
