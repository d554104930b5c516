// ABOUTME: In-memory cache of direct-message room IDs keyed by user ID
// ABOUTME: Avoids creating a fresh Matrix room for every private reply

package bridge

import (
	"sync"

	"maunium.net/go/mautrix/id"
)

// dmRooms remembers which direct room we already opened with a user.
// Entries are dropped when a send through them fails so the next message
// creates a fresh room.
type dmRooms struct {
	mu    sync.Mutex
	rooms map[string]id.RoomID
}

func newDMRooms() *dmRooms {
	return &dmRooms{
		rooms: make(map[string]id.RoomID),
	}
}

func (c *dmRooms) get(userID string) (id.RoomID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	roomID, ok := c.rooms[userID]
	return roomID, ok
}

func (c *dmRooms) put(userID string, roomID id.RoomID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[userID] = roomID
}

func (c *dmRooms) drop(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, userID)
}
