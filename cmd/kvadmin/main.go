// Command kvadmin exposes a read-only HTTP admin surface over a running
// store: level/memtable statistics and a live compaction-event stream.
// It does not participate in the put/get/del/scan API boundary; it only
// observes it.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/mnohosten/kvstore-lsm/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type admin struct {
	s *store.Store
}

func newRouter(a *admin) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/stats", a.handleStats)
	r.Get("/levels", a.handleLevels)
	r.Get("/ws/compactions", a.handleCompactionStream)
	return r
}

func (a *admin) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(a.s.Stats())
}

func (a *admin) handleLevels(w http.ResponseWriter, r *http.Request) {
	stats := a.s.Stats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats.LevelTables)
}

// compactionMessage is the JSON frame sent over the websocket for each
// compaction step.
type compactionMessage struct {
	Type    string               `json:"type"`
	Event   *store.CompactionEvent `json:"event,omitempty"`
	Message string               `json:"message,omitempty"`
}

func (a *admin) handleCompactionStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("kvadmin: failed to upgrade connection: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := a.s.Subscribe()
	defer cancel()

	if err := conn.WriteJSON(compactionMessage{Type: "hello", Message: "subscribed to compaction events"}); err != nil {
		return
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(compactionMessage{Type: "event", Event: &ev}); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteJSON(compactionMessage{Type: "heartbeat"}); err != nil {
				return
			}
		}
	}
}

func main() {
	dataDir := "./kvdata"
	if len(os.Args) > 1 {
		dataDir = os.Args[1]
	}
	addr := ":8080"
	if len(os.Args) > 2 {
		addr = os.Args[2]
	}

	s, err := store.Open(store.DefaultOptions(dataDir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "kvadmin: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	r := newRouter(&admin{s: s})
	log.Printf("kvadmin listening on %s (data dir %s)", addr, dataDir)
	if err := http.ListenAndServe(addr, r); err != nil {
		fmt.Fprintf(os.Stderr, "kvadmin: %v\n", err)
		os.Exit(1)
	}
}
