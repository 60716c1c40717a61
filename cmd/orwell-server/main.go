// Command orwell-server runs the Orwell group-chat relay: it terminates
// WebSocket-over-TLS connections, drives each one through the Kyber
// Double Ratchet handshake and the bound protocol state machine, and
// never holds a client's message plaintext (spec §4, §6).
package main

import (
	"log"
	"strconv"

	"github.com/google/uuid"

	"github.com/samyycX/orwell/internal/config"
	"github.com/samyycX/orwell/internal/server"
	"github.com/samyycX/orwell/internal/transport"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("orwell-server: load config: %v", err)
	}

	st, err := server.New(cfg.HistoryDBPath)
	if err != nil {
		log.Fatalf("orwell-server: init state: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("orwell-server: close state: %v", err)
		}
	}()

	nextConnID := func() string { return uuid.Must(uuid.NewV7()).String() }
	router := transport.NewRouter(st.HandleConnection, nextConnID)

	addr := ":" + strconv.Itoa(int(cfg.Port))
	log.Printf("orwell-server: listening on %s", addr)
	if err := transport.ListenAndServeTLS(addr, cfg.CertFullchainPath, cfg.CertKeyPath, router); err != nil {
		log.Fatalf("orwell-server: %v", err)
	}
}
