package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"squadstream/log"
	"squadstream/supervisor"
	"squadstream/web/types"
)

// ProcessController is the part of the supervisor the web handlers drive.
type ProcessController interface {
	Handles() []*supervisor.Handle
	KillProcess(key string) bool
	Write(key string, data []byte) error
	Resize(key string, cols, rows int) error
}

// ProcessesHandler lists the live processes.
func ProcessesHandler(procs ProcessController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handles := procs.Handles()
		list := make([]types.Process, 0, len(handles))
		for _, h := range handles {
			list = append(list, types.Process{
				Key:       h.Key,
				PID:       h.PID,
				Command:   h.Command,
				Terminal:  h.Terminal(),
				Cols:      h.Cols,
				Rows:      h.Rows,
				StartedAt: h.StartedAt,
			})
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// KillProcessHandler terminates the process tree of a key. It responds once the process
// exited; killing a key without a live process is not an error.
func KillProcessHandler(procs ProcessController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		killed := procs.KillProcess(key)
		log.InfoLog.Printf("API: kill %s (was running: %v)", key, killed)
		writeJSON(w, http.StatusOK, map[string]bool{"killed": killed})
	}
}
