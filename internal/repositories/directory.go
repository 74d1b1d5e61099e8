package repositories

import (
	"context"
	"errors"
)

var ErrChatNotFound = errors.New("chat not found")

// Directory answers who belongs to a chat and who is friends with whom.
// Chat and friendship records are owned by the REST service; the realtime
// node only reads them.
type Directory interface {
	ChatParticipants(ctx context.Context, chatID string) ([]string, error)
	FriendIDs(ctx context.Context, userID string) ([]string, error)
}
