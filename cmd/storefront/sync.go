package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mfshop/storefront/internal/domain/shared"
	"github.com/mfshop/storefront/internal/infrastructure/config"
	"github.com/mfshop/storefront/internal/infrastructure/messaging"
	"github.com/mfshop/storefront/internal/infrastructure/origin"
	"github.com/mfshop/storefront/internal/interfaces/http/handler"
	"go.uber.org/zap"
)

// basketSync owns the messengers of this process and their transports. The
// host serves a WebSocket hub its embedded remotes dial into; an embedded
// remote runs one client against its parent.
type basketSync struct {
	messengers []*messaging.Messenger
	hub        *messaging.WebSocketHub
	client     *messaging.WebSocketClient
	logger     *zap.Logger
}

func newSync(
	ctx context.Context,
	cfg *config.Config,
	store messaging.BasketStore,
	kv shared.KeyValueStore,
	allowlist *origin.Allowlist,
	log *zap.Logger,
) (*basketSync, error) {
	s := &basketSync{logger: log}
	role := cfg.App.Role
	storageKey := role.StorageKey()

	if cfg.App.Embedded {
		parent, err := origin.Normalize(cfg.App.ParentURL)
		if err != nil {
			return nil, fmt.Errorf("invalid parent URL: %w", err)
		}
		wsURL, err := messaging.WebSocketURL(cfg.App.ParentURL)
		if err != nil {
			return nil, err
		}
		s.client = messaging.NewWebSocketClient(messaging.WebSocketClientConfig{
			URL:          wsURL,
			Origin:       allowlist.Self(),
			PeerOrigin:   parent,
			MinBackoff:   cfg.Messaging.DialMinBackoff,
			MaxBackoff:   cfg.Messaging.DialMaxBackoff,
			WriteTimeout: cfg.Messaging.WriteTimeout,
		}, log)

		pending, err := messaging.NewPendingQueue(ctx, kv, storageKey+":pending", log)
		if err != nil {
			return nil, err
		}
		s.messengers = append(s.messengers, messaging.NewMessenger(store, s.client, allowlist, pending, messaging.Config{
			Counterpart:         shared.RoleHost,
			Embedded:            true,
			RequestStateOnStart: cfg.Messaging.RequestStateOnStart,
		}, log))
		return s, nil
	}

	if role != shared.RoleHost {
		log.Info("Running standalone, basket sync disabled")
		return s, nil
	}

	s.hub = messaging.NewWebSocketHub(allowlist, cfg.Messaging.WriteTimeout, log)
	for _, counterpart := range role.Counterparts() {
		peer := allowlist.CounterpartOrigin(counterpart)
		if peer == "" {
			log.Warn("No origin for counterpart, not syncing with it",
				zap.String("counterpart", string(counterpart)))
			continue
		}
		link, err := s.hub.Link(peer)
		if err != nil {
			return nil, err
		}
		pending, err := messaging.NewPendingQueue(ctx, kv, fmt.Sprintf("%s:%s:pending", storageKey, counterpart), log)
		if err != nil {
			return nil, err
		}
		s.messengers = append(s.messengers, messaging.NewMessenger(store, link, allowlist, pending, messaging.Config{
			Counterpart:         counterpart,
			RequestStateOnStart: cfg.Messaging.RequestStateOnStart,
			Relay:               cfg.Messaging.Relay,
		}, log))
	}
	return s, nil
}

// Start starts every messenger and, when embedded, the dial loop
func (s *basketSync) Start(ctx context.Context) error {
	for _, m := range s.messengers {
		if err := m.Start(ctx); err != nil {
			return err
		}
	}
	if s.client != nil {
		go s.client.Run(ctx)
	}
	return nil
}

// Statuses returns the messengers for the health endpoint
func (s *basketSync) Statuses() []handler.MessengerStatus {
	statuses := make([]handler.MessengerStatus, 0, len(s.messengers))
	for _, m := range s.messengers {
		statuses = append(statuses, m)
	}
	return statuses
}

// WebSocketHandler returns the hub, or nil when this process does not
// accept connections
func (s *basketSync) WebSocketHandler() http.Handler {
	if s.hub == nil {
		return nil
	}
	return s.hub
}

// Close closes the messengers and the hub
func (s *basketSync) Close() {
	for _, m := range s.messengers {
		if err := m.Close(); err != nil {
			s.logger.Warn("Error closing messenger",
				zap.String("counterpart", string(m.Counterpart())), zap.Error(err))
		}
	}
	if s.hub != nil {
		if err := s.hub.Close(); err != nil {
			s.logger.Warn("Error closing WebSocket hub", zap.Error(err))
		}
	}
}
