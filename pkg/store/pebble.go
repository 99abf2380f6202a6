package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"publicsquare/pkg/logger"
	"publicsquare/pkg/models"
	"publicsquare/pkg/telemetry"
)

// Pebble is the persistent Storage backed by a pebble KV store.
//
// Key layout:
//
//	roommeta:<roomID>                         -> room JSON
//	room:<roomID>:msg:<padded created ts>:<id> -> message JSON
//	room:<roomID>:fc:<normalized claim>        -> fact-check JSON
//
// Message keys embed the creation timestamp so a plain prefix scan
// yields creation order; status rewrites land on the same key.
type Pebble struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) a pebble database at path.
func OpenPebble(path string) (*Pebble, error) {
	logger.Info("opening_pebble_db", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	return &Pebble{db: db}, nil
}

func (p *Pebble) Close() error {
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}

func roomMetaKey(roomID string) []byte {
	return []byte("roommeta:" + roomID)
}

func msgKey(roomID string, ts int64, msgID string) []byte {
	return []byte(fmt.Sprintf("room:%s:msg:%020d:%s", roomID, ts, msgID))
}

func msgPrefix(roomID string) []byte {
	return []byte("room:" + roomID + ":msg:")
}

func fcKey(roomID, claim string) []byte {
	return []byte("room:" + roomID + ":fc:" + claim)
}

func fcPrefix(roomID string) []byte {
	return []byte("room:" + roomID + ":fc:")
}

// prefixUpperBound returns the smallest key greater than every key
// with the given prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (p *Pebble) set(key []byte, v any, op string) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", op, err)
	}
	if err := p.db.Set(key, b, pebble.Sync); err != nil {
		logger.Error("pebble_set_failed", "op", op, "key", string(key), "error", err)
		return err
	}
	telemetry.StoreOps.WithLabelValues(op).Inc()
	return nil
}

func (p *Pebble) SaveRoom(room models.Room) error {
	return p.set(roomMetaKey(room.ID), room, "save_room")
}

func (p *Pebble) LoadRoom(roomID string) (models.Room, error) {
	v, closer, err := p.db.Get(roomMetaKey(roomID))
	if err == pebble.ErrNotFound {
		return models.Room{}, ErrNotFound
	}
	if err != nil {
		return models.Room{}, err
	}
	defer closer.Close()
	var r models.Room
	if err := json.Unmarshal(v, &r); err != nil {
		return models.Room{}, fmt.Errorf("invalid stored room %s: %w", roomID, err)
	}
	return r, nil
}

func (p *Pebble) LoadRooms() ([]models.Room, error) {
	prefix := []byte("roommeta:")
	iter, err := p.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Room
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var r models.Room
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			logger.Warn("skip_invalid_room_record", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, r)
	}
	return out, iter.Error()
}

func (p *Pebble) SaveMessage(msg models.Message) error {
	return p.set(msgKey(msg.Room, msg.CreatedTS, msg.ID), msg, "save_message")
}

func (p *Pebble) LoadMessages(roomID string) ([]models.Message, error) {
	prefix := msgPrefix(roomID)
	iter, err := p.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Message
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Warn("skip_invalid_message_record", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, m)
	}
	return out, iter.Error()
}

func (p *Pebble) SaveFactCheck(fc models.FactCheck) error {
	return p.set(fcKey(fc.Room, fc.Claim), fc, "save_factcheck")
}

func (p *Pebble) LoadFactChecks(roomID string) ([]models.FactCheck, error) {
	prefix := fcPrefix(roomID)
	iter, err := p.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.FactCheck
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var fc models.FactCheck
		if err := json.Unmarshal(iter.Value(), &fc); err != nil {
			logger.Warn("skip_invalid_factcheck_record", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, fc)
	}
	return out, iter.Error()
}

func (p *Pebble) PurgeRoom(roomID string) error {
	prefix := []byte("room:" + roomID + ":")
	if err := p.db.DeleteRange(prefix, prefixUpperBound(prefix), pebble.Sync); err != nil {
		return err
	}
	if err := p.db.Delete(roomMetaKey(roomID), pebble.Sync); err != nil {
		return err
	}
	telemetry.StoreOps.WithLabelValues("purge_room").Inc()
	return nil
}
