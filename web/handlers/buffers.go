package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"squadstream/log"
	"squadstream/output"
	"squadstream/web/types"
)

// Clearer empties the buffer of a key. Both *output.Registry and *render.Throttle clear
// buffers; the throttle also redraws the local view at once.
type Clearer interface {
	Clear(key string)
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WarningLog.Printf("API: error encoding response: %v", err)
	}
}

// BuffersHandler lists every buffer.
func BuffersHandler(buffers *output.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys := buffers.Keys()
		summaries := make([]types.BufferSummary, 0, len(keys))
		for _, key := range keys {
			buf, ok := buffers.Lookup(key)
			if !ok {
				continue
			}
			summaries = append(summaries, types.BufferSummary{
				Key:       key,
				Entries:   buf.Len(),
				Chars:     buf.TotalChars(),
				Truncated: buf.Truncated(),
			})
		}
		writeJSON(w, http.StatusOK, summaries)
	}
}

// BufferHandler returns a snapshot of one buffer. ?recent=N limits it to the last N
// entries.
func BufferHandler(buffers *output.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		buf, ok := buffers.Lookup(key)
		if !ok {
			http.Error(w, "Buffer not found", http.StatusNotFound)
			return
		}

		var entries []output.Entry
		if recent := r.URL.Query().Get("recent"); recent != "" {
			n, err := strconv.Atoi(recent)
			if err != nil || n < 0 {
				http.Error(w, "Invalid recent parameter", http.StatusBadRequest)
				return
			}
			entries = buf.ToRecentArray(n)
		} else {
			entries = buf.ToArray()
		}

		writeJSON(w, http.StatusOK, types.BufferDetail{
			Key:       key,
			Truncated: buf.Truncated(),
			Entries:   types.NewBufferEntries(entries),
		})
	}
}

// ClearBufferHandler empties one buffer.
func ClearBufferHandler(clearer Clearer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		clearer.Clear(key)
		log.InfoLog.Printf("API: cleared buffer %s", key)
		w.WriteHeader(http.StatusNoContent)
	}
}
