package conversations

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"chat-relay/core"
	"chat-relay/middleware"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

type (
	CreateDirectRequest struct {
		PeerID string `json:"peerId" validate:"required"`
	}

	CreateGroupRequest struct {
		Name         string   `json:"name" validate:"required,max=100"`
		Participants []string `json:"participants" validate:"required,min=1,dive,required"`
	}

	Store interface {
		core.UserStore
		core.ConversationStore
	}

	// Attacher subscribes live sessions to a newly created conversation.
	Attacher interface {
		AttachParticipants(conv *core.Conversation) int
	}
)

var validate = validator.New()

func HandleListConversations(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User not found in context"})
			return
		}

		convs, err := store.FindConversationsForUser(r.Context(), user.ID)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":  err,
				"userID": user.ID,
			}).Error("Failed to list conversations")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to list conversations"})
			return
		}
		if convs == nil {
			convs = []*core.Conversation{}
		}
		render.JSON(w, r, convs)
	}
}

// HandleCreateDirect finds or creates the direct conversation between the
// caller and peerId.
func HandleCreateDirect(store Store, hub Attacher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User not found in context"})
			return
		}

		var req CreateDirectRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.PeerID == user.ID {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Cannot start a conversation with yourself"})
			return
		}
		if !usersExist(w, r, store, req.PeerID) {
			return
		}

		conv, err := store.FindOrCreateDirect(r.Context(), user.ID, req.PeerID)
		if err != nil {
			writeStoreError(w, r, err, "Failed to create conversation")
			return
		}

		attached := hub.AttachParticipants(conv)
		logrus.WithFields(logrus.Fields{
			"conversationID": conv.ID,
			"attached":       attached,
		}).Debug("Direct conversation ready")

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, conv)
	}
}

// HandleCreateGroup creates a group administered by the caller.
func HandleCreateGroup(store Store, hub Attacher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User not found in context"})
			return
		}

		var req CreateGroupRequest
		if !decodeBody(w, r, &req) {
			return
		}
		others := lo.Without(core.NormalizeParticipants(req.Participants), user.ID)
		if len(others) == 0 {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "A group needs at least one other participant"})
			return
		}
		if !usersExist(w, r, store, others...) {
			return
		}

		conv, err := store.CreateGroup(r.Context(), req.Name, user.ID, others)
		if err != nil {
			writeStoreError(w, r, err, "Failed to create group")
			return
		}

		attached := hub.AttachParticipants(conv)
		logrus.WithFields(logrus.Fields{
			"conversationID": conv.ID,
			"participants":   len(conv.Participants),
			"attached":       attached,
		}).Info("Group conversation created")

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, conv)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": "Invalid request body"})
		return false
	}
	if err := validate.Struct(dst); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func usersExist(w http.ResponseWriter, r *http.Request, store core.UserStore, ids ...string) bool {
	for _, id := range ids {
		if _, err := store.FindUser(r.Context(), id); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, map[string]string{"error": "Unknown user " + id})
				return false
			}
			writeStoreError(w, r, err, "Failed to look up users")
			return false
		}
	}
	return true
}

func writeStoreError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	if errors.Is(err, core.ErrInvalidConversation) {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": err.Error()})
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	logrus.WithField("error", err).Error(msg)
	render.Status(r, http.StatusInternalServerError)
	render.JSON(w, r, map[string]string{"error": msg})
}
