// Package paths maps game entities to store paths. Every component builds its
// paths here so the persisted layout lives in one place.
package paths

import "strings"

const (
	waitingList = "waitingList"
	rooms       = "rooms"
	profiles    = "profiles"
	backupRooms = "backup/rooms"
	roomEvents  = "room-events"
)

// WaitingList is the single node holding every WaitingEntry keyed by player id.
func WaitingList() string { return waitingList }

// WaitingEntry is the logical address of one player's entry inside WaitingList.
func WaitingEntry(playerID string) string { return waitingList + "/" + trim(playerID) }

// RoomsPrefix is the scan prefix for every room document.
func RoomsPrefix() string { return rooms + "/" }

func Room(roomID string) string         { return rooms + "/" + trim(roomID) }
func RoomPlayers(roomID string) string  { return Room(roomID) + "/players" }
func RoomMessages(roomID string) string { return Room(roomID) + "/chat/messages" }
func RoomAnswers(roomID string) string  { return Room(roomID) + "/answers" }
func RoomResult(roomID string) string   { return Room(roomID) + "/result" }

// RoomSubtree lists every path owned by a room, meta first.
func RoomSubtree(roomID string) []string {
	return []string{
		Room(roomID),
		RoomPlayers(roomID),
		RoomMessages(roomID),
		RoomAnswers(roomID),
		RoomResult(roomID),
	}
}

// RoomIDFromPath returns the id of a rooms/{id} meta path, or "" for any
// other path including room children.
func RoomIDFromPath(p string) string {
	p = strings.Trim(p, "/")
	if !strings.HasPrefix(p, rooms+"/") {
		return ""
	}
	rest := strings.TrimPrefix(p, rooms+"/")
	if rest == "" || strings.Contains(rest, "/") {
		return ""
	}
	return rest
}

func Profile(userID string) string       { return profiles + "/" + trim(userID) }
func ProfileRating(userID string) string { return Profile(userID) + "/rating" }

// BackupRoom is where a finished room snapshot is archived.
func BackupRoom(roomID string) string { return backupRooms + "/" + trim(roomID) }

// RoomEvents is the pub/sub channel for a room.
func RoomEvents(roomID string) string { return roomEvents + "/" + trim(roomID) }

func trim(s string) string { return strings.Trim(strings.TrimSpace(s), "/") }
