package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"peerchat/internal/peer"
	"peerchat/internal/protocol"
	"peerchat/internal/transfer"
)

// Console renders gateway events to the terminal and keeps the latest
// presence snapshots so commands can list users and rooms on demand.
type Console struct {
	mu       sync.Mutex
	users    []protocol.User
	rooms    []protocol.RoomInfo
	download string
}

func NewConsole(downloadDir string) *Console {
	return &Console{download: downloadDir}
}

func (c *Console) UserList(users []protocol.User) {
	c.mu.Lock()
	c.users = users
	c.mu.Unlock()
}

func (c *Console) RoomList(rooms []protocol.RoomInfo) {
	c.mu.Lock()
	c.rooms = rooms
	c.mu.Unlock()
}

func (c *Console) RoomJoined(room protocol.RoomInfo) {
	fmt.Printf("* joined room %s (%s), lead %s, %d member(s)\n",
		room.Name, room.ID, room.LeadUserID, len(room.Members))
}

func (c *Console) RoomUpdated(room protocol.RoomInfo) {
	fmt.Printf("* room %s now has %d member(s)\n", room.Name, len(room.Members))
}

func (c *Console) RoomKicked(roomID string) {
	fmt.Printf("* you were removed from room %s\n", roomID)
}

func (c *Console) RoomLeft(roomID string) {
	fmt.Printf("* left room %s\n", roomID)
}

func (c *Console) PeerState(remoteID string, state peer.State) {
	fmt.Printf("* peer %s: %s\n", remoteID, state)
}

func (c *Console) FileProgress(p transfer.Progress) {
	fmt.Printf("* receiving %s: %d/%d chunks\n", p.Name, p.Received, p.Total)
}

func (c *Console) FileReceived(done transfer.Completed) {
	path := filepath.Join(c.download, filepath.Base(done.Name))
	if err := os.WriteFile(path, done.Data, 0o644); err != nil {
		fmt.Printf("* received %s from %s but could not save it: %v\n", done.Name, done.SenderID, err)
		return
	}
	fmt.Printf("* received %s (%d bytes) from %s, saved to %s\n", done.Name, len(done.Data), done.SenderID, path)
}

func (c *Console) ServerError(code int, message string) {
	fmt.Printf("! server error %d: %s\n", code, message)
}

// PrintUsers lists the latest presence snapshot.
func (c *Console) PrintUsers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.users) == 0 {
		fmt.Println("no users online")
		return
	}
	for _, u := range c.users {
		fmt.Printf("  %s  %s\n", u.ID, u.Name)
	}
}

// PrintRooms lists the latest room snapshot.
func (c *Console) PrintRooms() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.rooms) == 0 {
		fmt.Println("no rooms")
		return
	}
	for _, r := range c.rooms {
		visibility := "public"
		if r.IsPrivate {
			visibility = "private"
		}
		fmt.Printf("  %s  %s (%s, %d member(s))\n", r.ID, r.Name, visibility, len(r.Members))
	}
}
