package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"chat-realtime/internal/models"
)

// PGDirectory is a sqlx implementation of Directory.
type PGDirectory struct {
	db *sqlx.DB
}

// NewPGDirectory constructs a PGDirectory.
func NewPGDirectory(db *sqlx.DB) *PGDirectory {
	return &PGDirectory{db: db}
}

// ChatParticipants returns the participant ids of a chat.
func (r *PGDirectory) ChatParticipants(ctx context.Context, chatID string) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM chat_participants WHERE chat_id=$1 ORDER BY joined_at`, chatID); err != nil {
		return nil, fmt.Errorf("select participants of chat %s: %w", chatID, err)
	}
	if len(ids) > 0 {
		return ids, nil
	}

	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM chats WHERE id=$1)`, chatID); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrChatNotFound
	}
	return ids, nil
}

// FriendIDs returns the users with an accepted friendship with userID.
func (r *PGDirectory) FriendIDs(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT CASE WHEN requester_id=$1 THEN recipient_id ELSE requester_id END
        FROM friendships
        WHERE status=$2 AND (requester_id=$1 OR recipient_id=$1)`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, userID, models.FriendshipAccepted); err != nil {
		return nil, fmt.Errorf("select friends of %s: %w", userID, err)
	}
	return ids, nil
}
