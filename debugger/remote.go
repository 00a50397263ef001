/*
Copyright (C) 2024-2026  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package debugger

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// event is one JSON message broadcast to every connected observer.
type event struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
	Tick   uint64 `json:"tick,omitempty"`
}

// broadcaster serves a read-only websocket endpoint mirroring debugger
// events; the only event sent is "break", one per break Session.Break
// reports (Tick is never set). Per SPEC_FULL.md §4.5's remote-observation
// enrichment: no inbound command ever reaches the debugger through it, so
// the REPL on stdin remains the sole control surface.
type broadcaster struct {
	upgrader websocket.Upgrader
	server   *http.Server

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newBroadcaster(addr string) (*broadcaster, error) {
	b := &broadcaster{
		clients: make(map[*websocket.Conn]struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", b.handle)
	b.server = &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := b.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("debugger: remote observer server exited: %v", err)
		}
	}()
	return b, nil
}

func (b *broadcaster) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.clients[conn] = struct{}{}
	b.mu.Unlock()

	// This connection is write-only from the server's side; read and
	// discard until the client disconnects so the socket's read buffer
	// doesn't back up, matching the package's read-only contract.
	go func() {
		defer func() {
			b.mu.Lock()
			delete(b.clients, conn)
			b.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (b *broadcaster) broadcast(e event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		_ = c.WriteMessage(websocket.TextMessage, data)
	}
}

func (b *broadcaster) close() error {
	return b.server.Close()
}
