package repositories

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPGDirectory(t *testing.T) (*PGDirectory, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewPGDirectory(sqlx.NewDb(conn, "postgres")), mock
}

var (
	participantsQuery = regexp.QuoteMeta(`SELECT user_id FROM chat_participants WHERE chat_id=$1`)
	chatExistsQuery   = regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM chats WHERE id=$1)`)
	friendsQuery      = regexp.QuoteMeta(`SELECT CASE WHEN requester_id=$1 THEN recipient_id ELSE requester_id END`)
)

func TestPGChatParticipants(t *testing.T) {
	dir, mock := newPGDirectory(t)
	mock.ExpectQuery(participantsQuery).WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u1").AddRow("u2"))

	ids, err := dir.ChatParticipants(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGChatParticipantsMissingChat(t *testing.T) {
	dir, mock := newPGDirectory(t)
	mock.ExpectQuery(participantsQuery).WithArgs("c9").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))
	mock.ExpectQuery(chatExistsQuery).WithArgs("c9").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := dir.ChatParticipants(context.Background(), "c9")
	assert.ErrorIs(t, err, ErrChatNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGChatParticipantsEmptyChat(t *testing.T) {
	dir, mock := newPGDirectory(t)
	mock.ExpectQuery(participantsQuery).WithArgs("c2").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))
	mock.ExpectQuery(chatExistsQuery).WithArgs("c2").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ids, err := dir.ChatParticipants(context.Background(), "c2")
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGChatParticipantsQueryError(t *testing.T) {
	dir, mock := newPGDirectory(t)
	boom := errors.New("connection reset")
	mock.ExpectQuery(participantsQuery).WithArgs("c1").WillReturnError(boom)

	_, err := dir.ChatParticipants(context.Background(), "c1")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrChatNotFound)
}

func TestPGFriendIDs(t *testing.T) {
	dir, mock := newPGDirectory(t)
	mock.ExpectQuery(friendsQuery).WithArgs("u1", "accepted").
		WillReturnRows(sqlmock.NewRows([]string{"friend"}).AddRow("u2").AddRow("u3"))

	ids, err := dir.FriendIDs(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2", "u3"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}
