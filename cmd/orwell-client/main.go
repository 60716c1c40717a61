// Command orwell-client is a minimal reference client driving the Orwell
// protocol end to end from a terminal: connect, register or log back into
// a vault-held identity, then send/receive lines as Text messages. A real
// UI is explicitly out of scope (spec §1 Non-goals); this exists to prove
// the wire protocol and end-to-end sealing work.
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/samyycX/orwell/internal/client"
	"github.com/samyycX/orwell/internal/config"
	"github.com/samyycX/orwell/internal/security"
	"github.com/samyycX/orwell/internal/transport"
	"github.com/samyycX/orwell/internal/vault"
	"github.com/samyycX/orwell/internal/wire"
)

func main() {
	cfg := config.LoadClientConfig()
	if cfg.ServerURL == "" {
		log.Fatal("orwell-client: ORWELL_SERVER_URL is not set")
	}

	vaultPath := os.Getenv("ORWELL_VAULT_PATH")
	if vaultPath == "" {
		vaultPath = "orwell-profile.vault"
	}
	password := os.Getenv("ORWELL_VAULT_PASSWORD")

	profile, err := loadOrCreateProfile(vaultPath, password)
	if err != nil {
		log.Fatalf("orwell-client: vault: %v", err)
	}

	t, err := transport.Dial(cfg.ServerURL)
	if err != nil {
		log.Fatalf("orwell-client: %v", err)
	}

	sess, err := client.Connect(t, profile.SigPrivate)
	if err != nil {
		log.Fatalf("orwell-client: handshake: %v", err)
	}

	preLogin, err := sess.PreLogin(profile.SigPublic)
	if err != nil {
		log.Fatalf("orwell-client: prelogin: %v", err)
	}
	if preLogin.VersionMismatch {
		log.Fatal("orwell-client: protocol version mismatch with server")
	}

	switch {
	case preLogin.Registered:
		resp, err := sess.Login(preLogin.SealedToken, profile.KEMPrivate, profile.SigPrivate)
		if err != nil || !resp.Success {
			log.Fatalf("orwell-client: login failed: %v %s", err, resp.Message)
		}
		profile.ID = resp.ID
		profile.Colour = resp.Colour
		log.Printf("orwell-client: logged in as %s (id=%s)", profile.Name, profile.ID)

	case preLogin.CanRegister:
		resp, err := sess.Register(profile.Name, profile.KEMPublic, profile.SigPublic)
		if err != nil || !resp.Success {
			log.Fatalf("orwell-client: register failed: %v %s", err, resp.Message)
		}
		profile.ID = resp.ID
		profile.Colour = resp.Colour
		log.Printf("orwell-client: registered as %s (id=%s)", profile.Name, profile.ID)

	default:
		log.Fatal("orwell-client: server will neither log in nor register this identity")
	}

	if password != "" {
		sealed, err := vault.Seal(password, profile)
		if err != nil {
			log.Printf("orwell-client: warning: could not persist profile: %v", err)
		} else if err := os.WriteFile(vaultPath, sealed, 0600); err != nil {
			log.Printf("orwell-client: warning: could not write vault file: %v", err)
		}
	}

	go func() {
		err := sess.Run(profile.KEMPrivate, profile.ID, func(in client.Inbound) {
			tag := ""
			if in.History {
				tag = " [history]"
			}
			switch in.Type {
			case wire.Login:
				fmt.Printf("* %s joined%s\n", in.FromName, tag)
			case wire.Logout:
				fmt.Printf("* %s left%s\n", in.FromName, tag)
			case wire.EnterAfk:
				fmt.Printf("* %s is now afk%s\n", in.FromName, tag)
			case wire.LeftAfk:
				fmt.Printf("* %s is back%s\n", in.FromName, tag)
			default:
				fmt.Printf("<%s>%s %s\n", in.FromName, tag, string(in.Plaintext))
			}
		})
		if err != nil {
			log.Fatalf("orwell-client: connection lost: %v", err)
		}
	}()

	repl(sess)
}

// loadOrCreateProfile restores a vault-sealed identity, or mints a fresh
// Kyber-1024/Dilithium5 keypair and prompts for a display name when no
// vault file exists yet (spec §3 "Profile vault").
func loadOrCreateProfile(path, password string) (*vault.Profile, error) {
	if data, err := os.ReadFile(path); err == nil {
		return vault.Open(password, data)
	}

	kemKP, err := security.GenerateKEMKeyPair()
	if err != nil {
		return nil, err
	}
	sigKP, err := security.GenerateSigKeyPair()
	if err != nil {
		return nil, err
	}

	name := os.Getenv("ORWELL_NAME")
	if name == "" {
		fmt.Print("choose a display name: ")
		reader := bufio.NewReader(os.Stdin)
		line, _ := reader.ReadString('\n')
		name = strings.TrimSpace(line)
	}

	return &vault.Profile{
		Name:       name,
		KEMPublic:  kemKP.PublicKey,
		KEMPrivate: kemKP.PrivateKey,
		SigPublic:  sigKP.PublicKey,
		SigPrivate: sigKP.PrivateKey,
	}, nil
}

// repl reads lines from stdin and sends each as a Text message, with a
// couple of slash commands for the other client-initiated operations.
func repl(sess *client.Session) {
	reader := bufio.NewReader(os.Stdin)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			continue
		}

		switch {
		case line == "/afk":
			if err := sess.ToggleAfk(); err != nil {
				log.Printf("orwell-client: afk: %v", err)
			}
		case strings.HasPrefix(line, "/colour "):
			var colour uint32
			fmt.Sscanf(strings.TrimPrefix(line, "/colour "), "%d", &colour)
			if err := sess.ChangeColour(colour); err != nil {
				log.Printf("orwell-client: colour: %v", err)
			}
		default:
			if err := sess.SendText(wire.Text, []byte(line)); err != nil {
				log.Printf("orwell-client: send: %v", err)
			}
		}
	}
}
