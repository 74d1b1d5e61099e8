// Package events defines every realtime event as a closed set of Go types.
//
// Events travel in two wrappers: a client Frame ({"event": name, "data": ...})
// on a websocket, and an Envelope on the cross-process bridge. Both are
// decoded by looking the event name up in a fixed table, so an unrecognised
// name becomes an Unknown value instead of an error.
package events

import (
	"github.com/goccy/go-json"

	"chat-realtime/internal/models"
)

// Event is implemented only by the types in this package.
type Event interface {
	// Name is the event name written on the wire towards clients.
	Name() string
	sealed()
}

// Wire names. NameMyStoryCreated and NameMyStoryDeleted are what the acting
// client sends; friends receive NameStoryCreated and NameStoryDeleted.
const (
	NameJoinRoom    = "join_room"
	NameLeaveRoom   = "leave_room"
	NameSendMessage = "send_message"
	NameNewMessage  = "new_message"
	NameTyping      = "user_typing"
	NameStopTyping  = "user_stop_typing"
	NameStatus      = "message_status_update"

	NameChatUpdated        = "chat_name_icon_update"
	NameAdminToggled       = "toggle_admin"
	NameParticipantRemoved = "removed_participant"
	NameLeftGroup          = "leave_group"
	NameParticipantsAdded  = "create_or_add_participants"

	NameStoryCreated   = "friend_create_story"
	NameStorySeen      = "seen_friend_story"
	NameStoryReacted   = "reacted_on_friend_story"
	NameStoryDeleted   = "friend_deleted_story"
	NameMyStoryCreated = "i_create_story"
	NameMyStoryDeleted = "deleted_my_story"

	NameError = "error"
)

// --- room commands (client -> server only) ---

type JoinRoom struct {
	CurrRoomID string `json:"currRoomId" validate:"required"`
	PrevRoomID string `json:"prevRoomId,omitempty"`
}

type LeaveRoom struct {
	RoomID string `json:"roomId" validate:"required"`
}

type SendMessage struct {
	RoomID       string         `json:"roomId" validate:"required"`
	Message      models.Message `json:"message"`
	Participants []string       `json:"participants" validate:"required,min=1"`
	SenderID     string         `json:"senderId"`
}

// --- chat events ---

type NewMessage struct {
	RoomID  string         `json:"roomId"`
	Message models.Message `json:"message"`
}

type Typing struct {
	RoomID   string `json:"roomId" validate:"required"`
	UserID   string `json:"userId"`
	UserName string `json:"name,omitempty"`
}

type StopTyping struct {
	RoomID   string `json:"roomId" validate:"required"`
	UserID   string `json:"userId"`
	UserName string `json:"name,omitempty"`
}

// StatusBatch is a list of receipts. On the wire it is a bare JSON array.
type StatusBatch []models.StatusUpdate

type ChatUpdated struct {
	ChatID       string   `json:"chatId" validate:"required"`
	ChatName     string   `json:"name,omitempty"`
	Icon         string   `json:"icon,omitempty"`
	UpdatedBy    string   `json:"updatedBy,omitempty"`
	Participants []string `json:"participants,omitempty"`
}

type AdminToggled struct {
	ChatID       string   `json:"chatId" validate:"required"`
	UserID       string   `json:"userId" validate:"required"`
	IsAdmin      bool     `json:"isAdmin"`
	ToggledBy    string   `json:"toggledBy,omitempty"`
	Participants []string `json:"participants,omitempty"`
}

type ParticipantRemoved struct {
	ChatID       string   `json:"chatId" validate:"required"`
	UserID       string   `json:"userId" validate:"required"`
	RemovedBy    string   `json:"removedBy,omitempty"`
	Participants []string `json:"participants,omitempty"`
}

type LeftGroup struct {
	ChatID       string   `json:"chatId" validate:"required"`
	UserID       string   `json:"userId"`
	Participants []string `json:"participants,omitempty"`
}

type ParticipantsAdded struct {
	ChatID       string          `json:"chatId" validate:"required"`
	Added        []string        `json:"newParticipants,omitempty"`
	AddedBy      string          `json:"addedBy,omitempty"`
	Chat         json.RawMessage `json:"chat,omitempty"`
	Participants []string        `json:"participants,omitempty"`
}

// --- story events, fanned out to the actor's friends ---

type StoryCreated struct {
	UserID string          `json:"userId"`
	Story  json.RawMessage `json:"story"`
}

type StorySeen struct {
	StoryID  string `json:"storyId" validate:"required"`
	OwnerID  string `json:"ownerId"`
	ViewerID string `json:"viewerId"`
}

type StoryReacted struct {
	StoryID  string `json:"storyId" validate:"required"`
	OwnerID  string `json:"ownerId"`
	UserID   string `json:"userId"`
	Reaction string `json:"reaction" validate:"required"`
}

type StoryDeleted struct {
	StoryID string `json:"storyId" validate:"required"`
	UserID  string `json:"userId"`
}

// ErrorNotice is sent back to a single connection when its event was refused.
type ErrorNotice struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// Unknown carries an event whose name this build does not recognise.
// Receivers ignore it; it exists so a newer peer cannot crash an older one.
type Unknown struct {
	Kind string
	Data json.RawMessage
}

func (JoinRoom) Name() string           { return NameJoinRoom }
func (LeaveRoom) Name() string          { return NameLeaveRoom }
func (SendMessage) Name() string        { return NameSendMessage }
func (NewMessage) Name() string         { return NameNewMessage }
func (Typing) Name() string             { return NameTyping }
func (StopTyping) Name() string         { return NameStopTyping }
func (StatusBatch) Name() string        { return NameStatus }
func (ChatUpdated) Name() string        { return NameChatUpdated }
func (AdminToggled) Name() string       { return NameAdminToggled }
func (ParticipantRemoved) Name() string { return NameParticipantRemoved }
func (LeftGroup) Name() string          { return NameLeftGroup }
func (ParticipantsAdded) Name() string  { return NameParticipantsAdded }
func (StoryCreated) Name() string       { return NameStoryCreated }
func (StorySeen) Name() string          { return NameStorySeen }
func (StoryReacted) Name() string       { return NameStoryReacted }
func (StoryDeleted) Name() string       { return NameStoryDeleted }
func (ErrorNotice) Name() string        { return NameError }
func (u Unknown) Name() string          { return u.Kind }

func (JoinRoom) sealed()           {}
func (LeaveRoom) sealed()          {}
func (SendMessage) sealed()        {}
func (NewMessage) sealed()         {}
func (Typing) sealed()             {}
func (StopTyping) sealed()         {}
func (StatusBatch) sealed()        {}
func (ChatUpdated) sealed()        {}
func (AdminToggled) sealed()       {}
func (ParticipantRemoved) sealed() {}
func (LeftGroup) sealed()          {}
func (ParticipantsAdded) sealed()  {}
func (StoryCreated) sealed()       {}
func (StorySeen) sealed()          {}
func (StoryReacted) sealed()       {}
func (StoryDeleted) sealed()       {}
func (ErrorNotice) sealed()        {}
func (Unknown) sealed()            {}
func (CallSignal) sealed()         {}
