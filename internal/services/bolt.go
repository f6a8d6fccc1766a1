package services

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MegaGrindStone/stream-chat-ui/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB archives the transcript in a BoltDB file so a restarted server can show the previous conversation.
// Only final messages are stored, in transcript order.
type BoltDB struct {
	db *bolt.DB
}

type storedMessage struct {
	ID     string    `json:"id"`
	Text   string    `json:"text"`
	IsUser bool      `json:"isUser"`
	Time   time.Time `json:"time"`
}

var transcriptBucket = []byte("transcript")

// NewBoltDB opens, or creates with 0600 permissions, the database at path and makes sure the transcript
// bucket exists.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(transcriptBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return BoltDB{}, fmt.Errorf("failed to create transcript bucket: %w", err)
	}

	return BoltDB{db: db}, nil
}

// Close releases the database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

// Messages returns the archived transcript in its stored order.
func (b BoltDB) Messages(context.Context) ([]models.Message, error) {
	var messages []models.Message
	err := b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(transcriptBucket)
		if bk == nil {
			return nil
		}

		return bk.ForEach(func(_, v []byte) error {
			var sm storedMessage
			if err := json.Unmarshal(v, &sm); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			messages = append(messages, models.Message{
				ID:     sm.ID,
				Text:   sm.Text,
				IsUser: sm.IsUser,
				Time:   sm.Time,
				State:  models.StateFinal,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// SaveMessages replaces the archived transcript with messages. Pending messages are skipped.
func (b BoltDB) SaveMessages(_ context.Context, messages []models.Message) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(transcriptBucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return fmt.Errorf("failed to drop transcript bucket: %w", err)
		}
		bk, err := tx.CreateBucket(transcriptBucket)
		if err != nil {
			return fmt.Errorf("failed to create transcript bucket: %w", err)
		}

		for _, msg := range messages {
			if msg.Pending() {
				continue
			}
			seq, err := bk.NextSequence()
			if err != nil {
				return fmt.Errorf("failed to get next sequence: %w", err)
			}

			v, err := json.Marshal(storedMessage{
				ID:     msg.ID,
				Text:   msg.Text,
				IsUser: msg.IsUser,
				Time:   msg.Time,
			})
			if err != nil {
				return fmt.Errorf("failed to marshal message: %w", err)
			}

			if err := bk.Put(sequenceKey(seq), v); err != nil {
				return fmt.Errorf("failed to put message: %w", err)
			}
		}
		return nil
	})
}

// sequenceKey encodes seq big-endian so that bolt's byte ordering matches insertion order.
func sequenceKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
