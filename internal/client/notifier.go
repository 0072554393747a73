package client

import (
	"peerchat/internal/peer"
	"peerchat/internal/protocol"
	"peerchat/internal/transfer"
)

// Notifier receives presence, room and transfer events the gateway cannot act
// on by itself. A UI implements it; Nop is used otherwise.
type Notifier interface {
	UserList(users []protocol.User)
	RoomList(rooms []protocol.RoomInfo)
	RoomJoined(room protocol.RoomInfo)
	RoomUpdated(room protocol.RoomInfo)
	RoomKicked(roomID string)
	RoomLeft(roomID string)
	PeerState(remoteID string, state peer.State)
	FileProgress(p transfer.Progress)
	FileReceived(c transfer.Completed)
	ServerError(code int, message string)
}

// NopNotifier discards every notification.
type NopNotifier struct{}

func (NopNotifier) UserList([]protocol.User)            {}
func (NopNotifier) RoomList([]protocol.RoomInfo)        {}
func (NopNotifier) RoomJoined(protocol.RoomInfo)        {}
func (NopNotifier) RoomUpdated(protocol.RoomInfo)       {}
func (NopNotifier) RoomKicked(string)                   {}
func (NopNotifier) RoomLeft(string)                     {}
func (NopNotifier) PeerState(string, peer.State)        {}
func (NopNotifier) FileProgress(transfer.Progress)      {}
func (NopNotifier) FileReceived(transfer.Completed)     {}
func (NopNotifier) ServerError(int, string)             {}
