package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tranvh/contextgate/internal/sharecache"
	"github.com/tranvh/contextgate/pkg/models"
)

var (
	// ErrPayloadTooLarge is returned when a publish request exceeds the
	// configured payload limit. Maps to a 413-equivalent at the transport.
	ErrPayloadTooLarge = errors.New("shared conversation too large")

	// ErrNotOwner is returned when unshare is attempted by someone other
	// than the publisher.
	ErrNotOwner = errors.New("only the owner can unshare this conversation")
)

// ShareRequest publishes a finished conversation.
type ShareRequest struct {
	Title         string                 `json:"title"`
	Messages      []models.SharedMessage `json:"messages"`
	ExpiresInDays int                    `json:"expires_in_days,omitempty"`
	OwnerID       string                 `json:"owner_id,omitempty"`
}

// ShareResult identifies a published conversation.
type ShareResult struct {
	ShareID  string `json:"share_id"`
	ShareURL string `json:"share_url"`
}

// Share publishes a conversation snapshot into the share cache and returns
// its public identifier. Payloads above MaxSharePayloadBytes are rejected.
func (s *Service) Share(ctx context.Context, req ShareRequest) (*ShareResult, error) {
	conv := &models.SharedConversation{
		ShareID:   newShareID(),
		Title:     req.Title,
		Messages:  req.Messages,
		CreatedAt: time.Now(),
		OwnerID:   req.OwnerID,
	}

	raw, err := json.Marshal(conv)
	if err != nil {
		return nil, fmt.Errorf("failed to encode shared conversation: %w", err)
	}
	if len(raw) > s.cfg.MaxSharePayloadBytes {
		s.countError("share", "too_large")
		return nil, fmt.Errorf("%w: %d bytes exceeds the %d byte limit",
			ErrPayloadTooLarge, len(raw), s.cfg.MaxSharePayloadBytes)
	}

	ttl := s.cfg.ShareTTL
	if req.ExpiresInDays > 0 {
		ttl = time.Duration(req.ExpiresInDays) * 24 * time.Hour
	}
	conv.ExpiresAt = conv.CreatedAt.Add(ttl)
	s.shares.Set(conv.ShareID, conv, ttl)

	s.logger.Info(ctx, "conversation shared",
		"share_id", conv.ShareID, "messages", len(conv.Messages), "ttl", ttl.String())
	return &ShareResult{
		ShareID:  conv.ShareID,
		ShareURL: s.cfg.ShareBaseURL + "/" + conv.ShareID,
	}, nil
}

// FetchShared returns a published conversation, incrementing its view count
// by exactly one. The returned value is a snapshot; mutating it does not
// affect the cached copy.
func (s *Service) FetchShared(shareID string) (*models.SharedConversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, err := s.shares.Get(shareID)
	if err != nil {
		return nil, err
	}
	conv.ViewCount++
	out := *conv
	out.Messages = append([]models.SharedMessage(nil), conv.Messages...)
	return &out, nil
}

// Unshare removes a published conversation. When the share carries an owner
// id, only that owner may remove it.
func (s *Service) Unshare(ctx context.Context, shareID, ownerID string) error {
	conv, err := s.shares.Get(shareID)
	if err != nil {
		return err
	}
	if conv.OwnerID != "" && conv.OwnerID != ownerID {
		return ErrNotOwner
	}
	s.shares.Delete(shareID)
	s.logger.Info(ctx, "conversation unshared", "share_id", shareID)
	return nil
}

// ShareStats reports the cache counters behind the share endpoints.
func (s *Service) ShareStats() sharecache.Stats {
	return s.shares.Stats()
}

// ShareHealth probes the share cache.
func (s *Service) ShareHealth() sharecache.Health {
	return s.shares.HealthCheck()
}

// newShareID generates an opaque public identifier.
func newShareID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
