package ws

import (
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/voxchat/voxchat/globals"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ClientAddress derives the client address from the first hop of the x-forwarded-for
// header when present, else from the transport peer address.
func ClientAddress(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ServeWs accepts one websocket connection and runs its session to completion. A
// connection from a banned address is refused before the upgrade, without emitting
// anything on the chat plane.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	clientAddr := ClientAddress(r)
	if hub.IsAddressBanned(clientAddr) {
		globals.AppLogger.Info("refusing banned address", "address", clientAddr)
		w.WriteHeader(http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		globals.AppLogger.Error("websocket upgrade error", "error", err)
		return
	}
	defer conn.Close()

	doneChan := make(chan struct{})
	c := NewClient(hub, conn, clientAddr, doneChan)

	// wait until the client is actually registered, so broadcasts triggered by its own
	// first events can reach it
	c.Add(1)
	hub.Register <- c
	c.Wait()

	c.Add(1)
	go c.WriteLoop()

	// the read loop runs on this goroutine and returns when the connection is gone
	c.ReadLoop()

	// let the write loop flush anything still queued (f.e. the ban notice) before the
	// disconnect sequence closes things down
	c.Wait()
	c.HandleDisconnect()
	hub.Unregister <- c
}
