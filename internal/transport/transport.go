// Package transport carries Orwell's signed-and-sealed packets over
// WebSocket-over-TLS (spec §6), the same gorilla/websocket + gorilla/mux
// stack the teacher uses for its chat hub, pared down to the single /ws
// upgrade endpoint this protocol needs.
package transport

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"
	ws "github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/samyycX/orwell/internal/connection"
	"github.com/samyycX/orwell/internal/metrics"
)

// upgrader mirrors the teacher's origin-checking websocket.Upgrader: exact
// match against an allowlist, with subdomains of non-localhost entries
// permitted.
var upgrader = ws.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     checkOrigin,
}

func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return os.Getenv("DEV_MODE") == "true"
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}

	allowedEnv := os.Getenv("ORWELL_ALLOWED_ORIGINS")
	if allowedEnv == "" {
		allowedEnv = "http://localhost:3000,https://localhost"
	}

	for _, allowed := range strings.Split(allowedEnv, ",") {
		allowed = strings.TrimSpace(allowed)
		if allowed == "" {
			continue
		}
		if origin == allowed {
			return true
		}
		if !strings.Contains(allowed, "localhost") {
			if parsedAllowed, err := url.Parse(allowed); err == nil && parsedAllowed.Host != "" {
				if parsed.Host == parsedAllowed.Host || strings.HasSuffix(parsed.Host, "."+parsedAllowed.Host) {
					return true
				}
			}
		}
	}
	return false
}

// ConnHandler processes one accepted connection's full lifecycle; it
// blocks until the connection closes. server.ServerState.HandleConnection
// satisfies this signature.
type ConnHandler func(connID string, t connection.Transport) error

// NewRouter builds the HTTP router exposing the /ws upgrade endpoint and
// the Prometheus /metrics endpoint, wrapped in the teacher's CORS
// middleware.
func NewRouter(handle ConnHandler, nextConnID func() string) http.Handler {
	router := mux.NewRouter()
	router.Handle("/metrics", metrics.Handler()).Methods("GET")
	router.HandleFunc("/ws", wsHandler(handle, nextConnID)).Methods("GET")

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   allowedOriginsList(),
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	})
	return corsHandler.Handler(router)
}

func allowedOriginsList() []string {
	allowedEnv := os.Getenv("ORWELL_ALLOWED_ORIGINS")
	if allowedEnv == "" {
		allowedEnv = "http://localhost:3000,https://localhost"
	}
	var out []string
	for _, o := range strings.Split(allowedEnv, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func wsHandler(handle ConnHandler, nextConnID func() string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("transport: upgrade failed: %v", err)
			return
		}
		connID := nextConnID()
		go func() {
			if err := handle(connID, conn); err != nil {
				log.Printf("transport: connection %s ended: %v", connID, err)
			}
		}()
	}
}

// ListenAndServeTLS runs the HTTP server with the teacher's Slowloris
// mitigations (timeouts on read/write/idle/header), serving TLS from
// certFullchainPath/certKeyPath when both are set, or plaintext otherwise
// (local development only, per spec §6's client/server cert config).
func ListenAndServeTLS(addr, certFullchainPath, certKeyPath string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if certFullchainPath != "" && certKeyPath != "" {
		return srv.ListenAndServeTLS(certFullchainPath, certKeyPath)
	}
	log.Printf("transport: no TLS certificate configured, serving plaintext on %s (development only)", addr)
	return srv.ListenAndServe()
}

// Dial opens a client-side WebSocket connection to serverURL (spec §6
// "server_url"), returning a connection.Transport ready for
// connection.RunClientHandshake/NewClientConn.
func Dial(serverURL string) (connection.Transport, error) {
	conn, _, err := ws.DefaultDialer.Dial(serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", serverURL, err)
	}
	return conn, nil
}
