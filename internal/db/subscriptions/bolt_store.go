package subscriptionsdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/boltdb/bolt"

	"nutripay/internal/subscriptions"
)

var (
	subscriptionsBucket = []byte("subscriptions")
	activationsBucket   = []byte("activations")
)

var _ subscriptions.Store = (*BoltStore)(nil)

// BoltStore is an embedded subscriptions.Store for single-node deployments.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (or creates) the database file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(subscriptionsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(activationsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// Close releases the database file lock.
func (b *BoltStore) Close() error {
	return b.db.Close()
}

func activationKey(userID, source string) []byte {
	return []byte(userID + "\x00" + source)
}

func (b *BoltStore) Activate(ctx context.Context, rec subscriptions.ActivationRecord) (subscriptions.Subscription, bool, error) {
	if err := ctx.Err(); err != nil {
		return subscriptions.Subscription{}, false, err
	}

	var (
		sub     subscriptions.Subscription
		applied bool
	)
	err := b.db.Update(func(tx *bolt.Tx) error {
		activations := tx.Bucket(activationsBucket)
		key := activationKey(rec.UserID, rec.SourceTransactionID)
		if raw := activations.Get(key); raw != nil {
			return json.Unmarshal(raw, &sub)
		}

		sub = subscriptions.Subscription{
			UserID:              rec.UserID,
			PlanType:            rec.PlanType,
			StartDate:           rec.StartDate,
			EndDate:             rec.EndDate,
			SourceTransactionID: rec.SourceTransactionID,
		}
		raw, err := json.Marshal(sub)
		if err != nil {
			return err
		}
		if err := activations.Put(key, raw); err != nil {
			return err
		}
		applied = true

		current := tx.Bucket(subscriptionsBucket)
		if existing := current.Get([]byte(rec.UserID)); existing != nil {
			var prev subscriptions.Subscription
			if err := json.Unmarshal(existing, &prev); err != nil {
				return err
			}
			if !sub.EndDate.After(prev.EndDate) {
				return nil
			}
		}
		return current.Put([]byte(rec.UserID), raw)
	})
	if err != nil {
		return subscriptions.Subscription{}, false, err
	}
	return sub, applied, nil
}

func (b *BoltStore) Get(ctx context.Context, userID string) (subscriptions.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return subscriptions.Subscription{}, err
	}
	var sub subscriptions.Subscription
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(subscriptionsBucket).Get([]byte(userID))
		if raw == nil {
			return subscriptions.ErrNotFound
		}
		return json.Unmarshal(raw, &sub)
	})
	return sub, err
}
