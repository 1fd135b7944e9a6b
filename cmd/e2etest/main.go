// E2E test: creates a room over REST, connects two WebSocket clients and
// drives a join / chat / timer round-trip through a live server.
// Usage: go run ./cmd/e2etest -server http://localhost:8000
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

var serverURL = flag.String("server", "http://localhost:8000", "focus room server base URL")

func main() {
	flag.Parse()
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	roomID := "e2etestroom"

	// --- Create room over REST ---
	log.Println(">> Creating room...")
	body := fmt.Sprintf(`{"room_id":%q,"goal":"e2e smoke test","timer_length":120,"break_length":60}`, roomID)
	resp, err := http.Post(*serverURL+"/rooms", "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		log.Fatal("create room:", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("create room: status %d", resp.StatusCode)
	}
	log.Println("   Room created ✓")

	wsBase := "ws" + strings.TrimPrefix(*serverURL, "http") + "/ws/rooms/" + roomID

	// --- Connect alice ---
	log.Println(">> Connecting alice...")
	alice, _, err := websocket.DefaultDialer.Dial(wsBase, nil)
	if err != nil {
		log.Fatal("alice connect:", err)
	}
	defer alice.Close()
	readFrame(alice, "alice initial state", isType("state"))
	log.Println("   Alice connected ✓")

	// --- Connect bob ---
	log.Println(">> Connecting bob...")
	bob, _, err := websocket.DefaultDialer.Dial(wsBase, nil)
	if err != nil {
		log.Fatal("bob connect:", err)
	}
	defer bob.Close()
	readFrame(bob, "bob initial state", isType("state"))
	log.Println("   Bob connected ✓")

	// --- Both join; bob sees alice on the roster ---
	log.Println(">> Joining room...")
	send(alice, `{"type":"join","user":"alice"}`)
	send(bob, `{"type":"join","user":"bob"}`)
	roster := readFrame(bob, "roster with both users", func(f frame) bool {
		return f.Type == "state" && f.Data != nil &&
			contains(f.Data.Participants, "alice") && contains(f.Data.Participants, "bob")
	})
	log.Printf("   Roster: %v ✓", roster.Data.Participants)

	// --- Test: alice chats, bob receives ---
	log.Println(">> Alice sending chat...")
	send(alice, `{"type":"chat","user":"alice","text":"hello from alice"}`)
	chat := readFrame(bob, "chat frame", isType("chat"))
	log.Printf("   Bob received: %s: %s ✓", chat.User, chat.Text)

	// --- Test: alice starts the timer, bob sees it running ---
	log.Println(">> Alice starting focus timer...")
	send(alice, `{"type":"timer:start_focus","user":"alice"}`)
	running := readFrame(bob, "running state", func(f frame) bool {
		return f.Type == "state" && f.Data != nil && f.Data.Status == "running"
	})
	log.Printf("   Timer running, %ds remaining ✓", running.Data.Remaining)

	// --- Test: a tick broadcast arrives within the cadence window ---
	log.Println(">> Waiting for a tick broadcast...")
	tick := readFrame(bob, "tick state", func(f frame) bool {
		return f.Type == "state" && f.Data != nil && f.Data.Remaining < running.Data.Remaining
	})
	log.Printf("   Tick received, %ds remaining ✓", tick.Data.Remaining)

	// --- Done ---
	fmt.Println()
	log.Println("═══════════════════════════════")
	log.Println("  E2E TEST PASSED ✓")
	log.Println("═══════════════════════════════")
}

type frame struct {
	Type string `json:"type"`
	User string `json:"user"`
	Text string `json:"text"`
	Data *struct {
		Status       string   `json:"status"`
		Remaining    int      `json:"remaining"`
		Participants []string `json:"participants"`
	} `json:"data"`
}

func send(conn *websocket.Conn, payload string) {
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		log.Fatal("send:", err)
	}
}

// readFrame consumes frames until one matches, skipping the broadcasts the
// other client's traffic produces.
func readFrame(conn *websocket.Conn, what string, match func(frame) bool) frame {
	_ = conn.SetReadDeadline(time.Now().Add(15 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Fatalf("waiting for %s: %v", what, err)
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			log.Fatalf("waiting for %s: bad frame %s: %v", what, raw, err)
		}
		if match(f) {
			return f
		}
	}
}

func isType(t string) func(frame) bool {
	return func(f frame) bool { return f.Type == t }
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
