// Package room manages chat rooms: membership, message history, and the
// events other components consume to mirror room state to clients.
package room

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradesync/market-engine/internal/metrics"
	"github.com/tradesync/market-engine/internal/model"
	"github.com/tradesync/market-engine/internal/pubsub"
	"github.com/tradesync/market-engine/internal/store"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrEmptyMessage = errors.New("message text is empty")
	ErrEmptyName    = errors.New("room name is empty")
)

// Service owns the room registry. Membership lives in memory; messages go
// through the archive so history survives restarts when a durable store is
// configured.
type Service struct {
	bus     *pubsub.Broadcaster
	archive store.Store

	mu    sync.RWMutex
	rooms map[string]*model.Room
}

func NewService(bus *pubsub.Broadcaster, archive store.Store) *Service {
	s := &Service{
		bus:     bus,
		archive: archive,
		rooms:   make(map[string]*model.Room),
	}
	s.rooms["room-1"] = &model.Room{
		ID:           "room-1",
		Name:         "General Trading",
		Participants: []string{},
		CreatedAt:    time.Now().UTC(),
	}
	return s
}

// List returns all rooms sorted by id.
func (s *Service) List() []model.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, snapshot(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Service) Get(roomID string) (model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return model.Room{}, ErrRoomNotFound
	}
	return snapshot(r), nil
}

// Create registers a new room with a generated id.
func (s *Service) Create(name string) (model.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Room{}, ErrEmptyName
	}

	r := &model.Room{
		ID:           uuid.NewString(),
		Name:         name,
		Participants: []string{},
		CreatedAt:    time.Now().UTC(),
	}

	s.mu.Lock()
	s.rooms[r.ID] = r
	s.mu.Unlock()

	snap := snapshot(r)
	s.bus.Publish(model.RoomTopic(r.ID), model.RoomEvent{Room: snap})
	return snap, nil
}

// Join adds the user to the room's participant list. Joining a room the
// user is already in changes nothing and publishes nothing.
func (s *Service) Join(roomID, userID string) (model.Room, error) {
	s.mu.Lock()
	r, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return model.Room{}, ErrRoomNotFound
	}
	changed := false
	if !contains(r.Participants, userID) {
		r.Participants = append(r.Participants, userID)
		changed = true
	}
	snap := snapshot(r)
	s.mu.Unlock()

	if changed {
		s.bus.Publish(model.RoomTopic(roomID), model.RoomEvent{Room: snap})
	}
	return snap, nil
}

// Leave removes the user from the room. Leaving a room the user is not in
// is a no-op.
func (s *Service) Leave(roomID, userID string) (model.Room, error) {
	s.mu.Lock()
	r, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return model.Room{}, ErrRoomNotFound
	}
	changed := false
	for i, p := range r.Participants {
		if p == userID {
			r.Participants = append(r.Participants[:i], r.Participants[i+1:]...)
			changed = true
			break
		}
	}
	snap := snapshot(r)
	s.mu.Unlock()

	if changed {
		s.bus.Publish(model.RoomTopic(roomID), model.RoomEvent{Room: snap})
	}
	return snap, nil
}

// Post appends a message to the room and announces it. The author does not
// have to be a participant.
func (s *Service) Post(ctx context.Context, roomID, author, text string) (model.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.ChatMessage{}, ErrEmptyMessage
	}

	s.mu.RLock()
	_, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if !ok {
		return model.ChatMessage{}, ErrRoomNotFound
	}

	msg := model.ChatMessage{
		ID:     uuid.NewString(),
		RoomID: roomID,
		Author: author,
		Text:   text,
		SentAt: time.Now().UTC(),
	}

	if err := s.archive.InsertMessage(ctx, &msg); err != nil {
		// Chat stays usable when the archive is down; the message just
		// won't be in history.
		slog.Warn("archive message failed", "room", roomID, "error", err)
	}

	metrics.MessagesTotal.WithLabelValues(roomID).Inc()
	s.bus.Publish(model.RoomTopic(roomID), model.MessageEvent{Message: msg})
	return msg, nil
}

// Recent returns the last limit messages in arrival order. limit <= 0
// returns the full history. An unknown room has no history, so it yields
// an empty sequence rather than an error.
func (s *Service) Recent(ctx context.Context, roomID string, limit int) ([]model.ChatMessage, error) {
	return s.archive.ListMessagesByRoom(ctx, roomID, limit)
}

func snapshot(r *model.Room) model.Room {
	out := *r
	out.Participants = append([]string(nil), r.Participants...)
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
