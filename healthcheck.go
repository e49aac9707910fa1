package main

import (
	"log/slog"
	"net/http"

	"github.com/kinshiphq/kinship/internal/media"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// startHealthCheckServer serves liveness and readiness probes on a sidecar
// listener. Readiness requires the database, the cache and the media bucket
// to all answer.
func startHealthCheckServer(addr string, rdb redis.UniversalClient, db *gorm.DB, blobs *media.BlobStore) {
	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		sqlDB, err := db.DB()
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if err := sqlDB.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if _, err := rdb.Ping(r.Context()).Result(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if err := blobs.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("Health check server stopped", "error", err)
	}
}
