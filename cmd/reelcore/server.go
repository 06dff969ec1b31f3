package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/latoulicious/reelcore/internal/version"
	"github.com/latoulicious/reelcore/pkg/common"
	"github.com/latoulicious/reelcore/pkg/playback"
)

// healthServer exposes health, status and a small transport control surface
type healthServer struct {
	server    *http.Server
	engine    *playback.Supervisor
	queue     *common.SourceQueue
	timeouts  *common.TimeoutManager
	database  bool
	startTime time.Time
}

func newHealthServer(addr string, engine *playback.Supervisor, queue *common.SourceQueue, timeouts *common.TimeoutManager, database bool) *healthServer {
	hs := &healthServer{
		engine:    engine,
		queue:     queue,
		timeouts:  timeouts,
		database:  database,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", hs.healthCheckHandler)
	mux.HandleFunc("/status", hs.statusHandler)
	mux.HandleFunc("/intent", hs.intentHandler)
	mux.HandleFunc("/stop", hs.stopHandler)

	hs.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return hs
}

// Start serves in the background
func (hs *healthServer) Start() {
	go func() {
		log.Printf("Starting health check server on %s", hs.server.Addr)
		if err := hs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Health check server error: %v", err)
		}
	}()
}

// Shutdown gracefully shuts down the server
func (hs *healthServer) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := hs.server.Shutdown(ctx); err != nil {
		log.Printf("Health server shutdown error: %v", err)
	} else {
		log.Println("Health check server shutdown complete")
	}
}

// healthCheckHandler reports unhealthy when the engine failed or most
// restarts are failing
func (hs *healthServer) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	status := hs.engine.PollStatus()
	healthy := status.State != playback.EngineFailed && hs.engine.Metrics().IsHealthy()

	code := http.StatusOK
	label := "healthy"
	if !healthy {
		code = http.StatusServiceUnavailable
		label = "unhealthy"
	}

	writeJSON(w, code, map[string]interface{}{
		"status":             label,
		"uptime":             time.Since(hs.startTime).String(),
		"engine_state":       status.State,
		"database_connected": hs.database,
		"start_time":         hs.startTime.Format(time.RFC3339),
	})
}

// statusHandler returns the full engine snapshot
func (hs *healthServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"application": "reelcore",
		"version":     version.Get(),
		"session_id":  hs.engine.SessionID(),
		"uptime":      time.Since(hs.startTime).String(),
		"pipeline":    hs.engine.PollStatus(),
		"metrics":     hs.engine.Metrics().GetStats(),
		"cache":       hs.engine.CacheStats(),
		"mixer":       hs.engine.MixerStats(),
		"queue":       hs.queue.GetDetailedStatus(),
	})
}

// intentHandler submits a transport command. Query parameters: t is the
// timeline time, speed defaults to 1, dir is forward or reverse.
func (hs *healthServer) intentHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	intent, err := parseIntent(hs.queue, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	hs.timeouts.UpdateActivity(hs.engine.SessionID())
	if intent.Speed == 0 {
		err = hs.engine.Scrub(intent.Source, intent.TargetTime)
	} else {
		err = hs.engine.SubmitIntent(intent)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, hs.engine.PollStatus())
}

func (hs *healthServer) stopHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	hs.engine.Stop()
	writeJSON(w, http.StatusOK, hs.engine.PollStatus())
}

func parseIntent(queue *common.SourceQueue, r *http.Request) (playback.PlaybackIntent, error) {
	q := r.URL.Query()

	timeline, err := strconv.ParseFloat(q.Get("t"), 64)
	if err != nil {
		return playback.PlaybackIntent{}, fmt.Errorf("invalid t: %w", err)
	}
	speed := 1.0
	if v := q.Get("speed"); v != "" {
		if speed, err = strconv.ParseFloat(v, 64); err != nil {
			return playback.PlaybackIntent{}, fmt.Errorf("invalid speed: %w", err)
		}
	}

	dir := playback.Forward
	switch q.Get("dir") {
	case "", "forward":
	case "reverse":
		dir = playback.Reverse
	default:
		return playback.PlaybackIntent{}, fmt.Errorf("invalid dir %q", q.Get("dir"))
	}

	src, srcTime, ok := queue.Locate(timeline)
	if !ok {
		return playback.PlaybackIntent{}, fmt.Errorf("sequence is empty")
	}

	intent := playback.PlaybackIntent{
		Source:     src,
		TargetTime: srcTime,
		Speed:      speed,
		Direction:  dir,
	}
	return intent, intent.Validate()
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}
