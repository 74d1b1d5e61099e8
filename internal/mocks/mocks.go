package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/calls"
	"chat-realtime/internal/repositories"
)

type DirectoryMock struct {
	mock.Mock
}

func (m *DirectoryMock) ChatParticipants(ctx context.Context, chatID string) ([]string, error) {
	args := m.Called(ctx, chatID)
	var ids []string
	if val := args.Get(0); val != nil {
		ids = val.([]string)
	}
	return ids, args.Error(1)
}

func (m *DirectoryMock) FriendIDs(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	var ids []string
	if val := args.Get(0); val != nil {
		ids = val.([]string)
	}
	return ids, args.Error(1)
}

type VerifierMock struct {
	mock.Mock
}

func (m *VerifierMock) Verify(token string) (auth.Identity, error) {
	args := m.Called(token)
	var id auth.Identity
	if val := args.Get(0); val != nil {
		id = val.(auth.Identity)
	}
	return id, args.Error(1)
}

type CallStateMock struct {
	mock.Mock
}

func (m *CallStateMock) State(ctx context.Context, userID string) (calls.Session, bool, error) {
	args := m.Called(ctx, userID)
	var s calls.Session
	if val := args.Get(0); val != nil {
		s = val.(calls.Session)
	}
	return s, args.Bool(1), args.Error(2)
}

var _ repositories.Directory = (*DirectoryMock)(nil)
var _ auth.Verifier = (*VerifierMock)(nil)
