package persistence

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"teamly-chat/chatsync"
	"teamly-chat/models"
)

// Bucket radice: contiene un bucket per ogni conversazione.
// Le chiavi sono created_at in microsecondi (big endian) seguito dall'ID,
// così l'ordine delle chiavi è l'ordine dei messaggi.
var conversationsBucket = []byte("conversations")

// PersistenceManager è il backend locale dei messaggi su bbolt (demo, offline)
type PersistenceManager struct {
	db  *bbolt.DB
	now func() time.Time

	mu         sync.Mutex
	lastMicros int64
}

func NewPersistenceManager(path string) (*PersistenceManager, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(conversationsBucket)
		return err
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &PersistenceManager{db: db, now: time.Now}, nil
}

func (pm *PersistenceManager) FetchMessages(_ context.Context, q chatsync.FetchQuery) ([]models.Message, error) {
	var messages []models.Message

	err := pm.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(conversationsBucket).Bucket([]byte(q.ConversationID))
		if bucket == nil {
			return nil
		}
		cursor := bucket.Cursor()

		if q.CreatedAfter == nil {
			for k, v := cursor.Last(); k != nil; k, v = cursor.Prev() {
				if q.Limit > 0 && len(messages) >= q.Limit {
					break
				}
				var msg models.Message
				if err := decodeBinary(v, &msg); err != nil {
					return err
				}
				messages = append(messages, msg)
			}
			for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
				messages[i], messages[j] = messages[j], messages[i]
			}
			return nil
		}

		// il primo microsecondo strettamente successivo al cursore
		seek := timeKey(q.CreatedAfter.UnixMicro() + 1)
		for k, v := cursor.Seek(seek); k != nil; k, v = cursor.Next() {
			if q.Limit > 0 && len(messages) >= q.Limit {
				break
			}
			var msg models.Message
			if err := decodeBinary(v, &msg); err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lettura dei messaggi di %s: %w", q.ConversationID, err)
	}
	return messages, nil
}

// SendMessage salva un nuovo messaggio con ID e timestamp assegnati localmente
func (pm *PersistenceManager) SendMessage(_ context.Context, conversationID, senderID, body string) (models.Message, error) {
	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      time.UnixMicro(pm.nextMicros()).UTC(),
	}
	if err := pm.SaveMessage(msg); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// Salva un messaggio
func (pm *PersistenceManager) SaveMessage(message models.Message) error {
	message.CreatedAt = message.CreatedAt.Truncate(time.Microsecond).UTC()
	return pm.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.Bucket(conversationsBucket).CreateBucketIfNotExists([]byte(message.ConversationID))
		if err != nil {
			return err
		}
		data, err := encodeToBinary(message)
		if err != nil {
			return err
		}
		return bucket.Put(messageKey(message), data)
	})
}

// Conversations restituisce gli ID delle conversazioni salvate
func (pm *PersistenceManager) Conversations() ([]string, error) {
	var ids []string
	err := pm.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(conversationsBucket).ForEach(func(k, v []byte) error {
			// v è nil per i bucket annidati
			if v == nil {
				ids = append(ids, string(k))
			}
			return nil
		})
	})
	return ids, err
}

func (pm *PersistenceManager) Close() error {
	return pm.db.Close()
}

func (pm *PersistenceManager) nextMicros() int64 {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	micros := pm.now().UnixMicro()
	if micros <= pm.lastMicros {
		micros = pm.lastMicros + 1
	}
	pm.lastMicros = micros
	return micros
}

func timeKey(micros int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(micros))
	return key
}

func messageKey(msg models.Message) []byte {
	return append(timeKey(msg.CreatedAt.UnixMicro()), msg.ID...)
}

func encodeToBinary(data interface{}) ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(data)
	return buf.Bytes(), err
}

func decodeBinary(data []byte, target interface{}) error {
	buf := bytes.NewBuffer(data)
	return gob.NewDecoder(buf).Decode(target)
}
