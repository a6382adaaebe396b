package presence

import (
	"net/http"

	"chat-relay/core"

	"github.com/go-chi/render"
)

type (
	// Snapshotter reports the users that currently have a live session.
	Snapshotter interface {
		Snapshot() []core.User
	}

	// RoomCounter reports live subscriber counts per conversation.
	RoomCounter interface {
		Counts() map[string]int
	}

	RoomsResponse struct {
		Rooms map[string]int `json:"rooms"`
		Total int            `json:"total"`
	}
)

func HandleOnlineUsers(presence Snapshotter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users := presence.Snapshot()
		if users == nil {
			users = []core.User{}
		}
		render.JSON(w, r, users)
	}
}

// HandleActiveRooms lists conversations with at least one subscribed session.
func HandleActiveRooms(rooms RoomCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts := rooms.Counts()
		total := 0
		for _, n := range counts {
			total += n
		}
		render.JSON(w, r, RoomsResponse{Rooms: counts, Total: total})
	}
}
