package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ValentinKolb/dPersist/lib/health"
)

// observabilityHandler serves
//
//	GET /metrics        prometheus text format of all maps
//	GET /health         aggregated health of all maps (503 if any map is unhealthy)
//	GET /health/{shard} health of a single map
func (s *Server) observabilityHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		s.sink.WritePrometheus(w)
	})

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		statuses := map[string]health.Status{}
		healthy := true
		s.shards.Range(func(id uint64, shard serverShard) bool {
			st := health.Status{Healthy: shard.Health.IsHealthy(), State: shard.Health.State().String()}
			statuses[shard.MapName] = st
			healthy = healthy && st.Healthy
			return true
		})
		w.Header().Set("Content-Type", "application/json")
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(statuses)
	})

	mux.HandleFunc("GET /health/{shardId}", func(w http.ResponseWriter, r *http.Request) {
		shardId, err := strconv.ParseUint(r.PathValue("shardId"), 10, 64)
		if err != nil {
			http.Error(w, "Invalid shardId", http.StatusBadRequest)
			return
		}
		shard, ok := s.shards.Load(shardId)
		if !ok {
			http.Error(w, "shard not found", http.StatusNotFound)
			return
		}
		health.Handler(shard.Health).ServeHTTP(w, r)
	})

	return mux
}
