package api

import (
	"encoding/json"
	"net/http"
)

// stats is the literal /api/stats response schema.
type stats struct {
	StartTime    int64 `json:"start_time"`
	NumDocuments int   `json:"num_documents"`
	DatabaseSize int   `json:"database_size"`
}

// handleStats reports process start time, the number of documents
// currently resident in memory, and the number of documents persisted
// to durable storage.
func (deps *Dependencies) handleStats(w http.ResponseWriter, r *http.Request) {
	dbSize := 0
	if deps.DB != nil {
		if count, err := deps.DB.Count(); err == nil {
			dbSize = count
		} else {
			deps.Log.Error("count persisted documents", "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats{
		StartTime:    deps.StartTime.Unix(),
		NumDocuments: deps.Registry.NumDocuments(),
		DatabaseSize: dbSize,
	})
}
