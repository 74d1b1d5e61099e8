package calls

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const maxCASAttempts = 8

// KVStore keeps sessions in a NATS JetStream key-value bucket and uses
// revision checks for every transition.
type KVStore struct {
	kv jetstream.KeyValue
}

// NewKVStore opens or creates bucket. ttl bounds how long an abandoned
// record can survive a crashed node; zero disables expiry.
func NewKVStore(ctx context.Context, nc *nats.Conn, bucket string, ttl time.Duration) (*KVStore, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "active call sessions by user",
		History:     1,
		TTL:         ttl,
		Storage:     jetstream.MemoryStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("create kv bucket %s: %w", bucket, err)
	}
	return &KVStore{kv: kv}, nil
}

// user ids are encoded because KV keys allow a restricted alphabet
func sessionKey(userID string) string {
	return "u_" + base64.RawURLEncoding.EncodeToString([]byte(userID))
}

func (k *KVStore) load(ctx context.Context, userID string) (Session, uint64, error) {
	entry, err := k.kv.Get(ctx, sessionKey(userID))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return Session{}, 0, ErrNoActiveCall
		}
		return Session{}, 0, err
	}
	var s Session
	if err := json.Unmarshal(entry.Value(), &s); err != nil {
		return Session{}, 0, fmt.Errorf("decode session %s: %w", userID, err)
	}
	return s, entry.Revision(), nil
}

func (k *KVStore) Get(ctx context.Context, userID string) (Session, bool, error) {
	s, _, err := k.load(ctx, userID)
	if errors.Is(err, ErrNoActiveCall) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	return s, true, nil
}

func (k *KVStore) Claim(ctx context.Context, s Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if _, err := k.kv.Create(ctx, sessionKey(s.UserID), data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return ErrUserBusy
		}
		return fmt.Errorf("claim session %s: %w", s.UserID, err)
	}
	return nil
}

func (k *KVStore) Update(ctx context.Context, userID string, fn func(*Session) error) (Session, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		s, rev, err := k.load(ctx, userID)
		if err != nil {
			return Session{}, err
		}
		if err := fn(&s); err != nil {
			return Session{}, err
		}
		data, err := json.Marshal(s)
		if err != nil {
			return Session{}, err
		}
		if _, err := k.kv.Update(ctx, sessionKey(userID), data, rev); err == nil {
			return s, nil
		} else if !isRevisionConflict(err) {
			return Session{}, fmt.Errorf("update session %s: %w", userID, err)
		}
	}
	return Session{}, fmt.Errorf("update session %s: too many concurrent writers", userID)
}

func (k *KVStore) Release(ctx context.Context, userID, sessionID string) (Session, bool, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		s, rev, err := k.load(ctx, userID)
		if errors.Is(err, ErrNoActiveCall) {
			return Session{}, false, nil
		}
		if err != nil {
			return Session{}, false, err
		}
		if s.ID != sessionID {
			return Session{}, false, nil
		}
		err = k.kv.Delete(ctx, sessionKey(userID), jetstream.LastRevision(rev))
		if err == nil {
			return s, true, nil
		}
		if !isRevisionConflict(err) {
			return Session{}, false, fmt.Errorf("release session %s: %w", userID, err)
		}
	}
	return Session{}, false, fmt.Errorf("release session %s: too many concurrent writers", userID)
}

// JetStream reports a failed revision check as "wrong last sequence".
func isRevisionConflict(err error) bool {
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
	}
	return errors.Is(err, jetstream.ErrKeyExists)
}
