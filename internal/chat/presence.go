package chat

import (
	"fmt"
	"sync"

	"github.com/indecryption/chat-node/internal/utils"
)

// Conn is a live client connection able to receive typed events.
// Implementations must tolerate Send after close by returning an error.
type Conn interface {
	Send(event string, payload interface{}) error
}

// StatusPayload announces a presence change to connected peers
type StatusPayload struct {
	Username string `json:"username"`
	IsOnline bool   `json:"isOnline"`
}

// Registry maps usernames to their single live connection. All maps
// are guarded by one mutex; every transition and its status broadcast
// happen under the lock, so observers never see presence and
// notifications disagree.
type Registry struct {
	mu     sync.Mutex
	byUser map[string]Conn
	byConn map[Conn]string
	logger *utils.LogsManager
}

func NewRegistry(logger *utils.LogsManager) *Registry {
	return &Registry{
		byUser: make(map[string]Conn),
		byConn: make(map[Conn]string),
		logger: logger,
	}
}

// Register binds a username to a connection. A second registration
// for the same username replaces the first, the stale connection is
// forgotten. Everyone else hears an online status event.
func (r *Registry) Register(username string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byUser[username]; ok && old != conn {
		delete(r.byConn, old)
	}
	r.byUser[username] = conn
	r.byConn[conn] = username

	r.logger.Info(fmt.Sprintf("User %s registered, %d online", username, len(r.byUser)), "presence")
	r.broadcastLocked(username, StatusPayload{Username: username, IsOnline: true})
}

// Unregister drops a connection. Unknown connections are ignored, a
// pump may unregister twice on shutdown. If the connection was the
// user's current one, everyone else hears an offline status event.
func (r *Registry) Unregister(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	username, ok := r.byConn[conn]
	if !ok {
		return
	}
	delete(r.byConn, conn)
	if r.byUser[username] == conn {
		delete(r.byUser, username)
		r.logger.Info(fmt.Sprintf("User %s unregistered, %d online", username, len(r.byUser)), "presence")
		r.broadcastLocked(username, StatusPayload{Username: username, IsOnline: false})
	}
}

// Lookup returns the live connection for a username
func (r *Registry) Lookup(username string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.byUser[username]
	return conn, ok
}

// IsOnline reports whether a username has a live connection
func (r *Registry) IsOnline(username string) bool {
	_, ok := r.Lookup(username)
	return ok
}

// Online returns the usernames of all connected users
func (r *Registry) Online() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make([]string, 0, len(r.byUser))
	for username := range r.byUser {
		users = append(users, username)
	}
	return users
}

// broadcastLocked sends a status event to every connection except the
// subject's own. Callers hold the mutex.
func (r *Registry) broadcastLocked(subject string, payload StatusPayload) {
	for username, conn := range r.byUser {
		if username == subject {
			continue
		}
		if err := conn.Send("user_status", payload); err != nil {
			r.logger.Debug(fmt.Sprintf("Status broadcast to %s failed: %v", username, err), "presence")
		}
	}
}
