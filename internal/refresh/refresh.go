package refresh

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"danmu/internal/events"
	"danmu/internal/library"
	"danmu/internal/logging"
	"danmu/internal/matching"
	"danmu/internal/services"
)

// Request is one manual refresh. ProviderID alone restricts the automatic
// chain to that provider; ProviderID with ID is an explicit match.
type Request struct {
	ItemID     string `json:"itemId"`
	ProviderID string `json:"providerId,omitempty"`
	ID         string `json:"id,omitempty"`
	All        bool   `json:"all,omitempty"`
}

// Token encodes r as a base64 JSON refresh token.
func (r Request) Token() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode refresh token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeToken parses a base64 JSON refresh token. Standard and URL-safe
// alphabets are accepted, with or without padding.
func DecodeToken(token string) (Request, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Request{}, services.Wrap(services.ErrValidation, "refresh", "decode token", "token is empty", nil)
	}
	var data []byte
	var err error
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err = enc.DecodeString(token); err == nil {
			break
		}
	}
	if err != nil {
		return Request{}, services.Wrap(services.ErrValidation, "refresh", "decode token", "token is not base64", err)
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, services.Wrap(services.ErrValidation, "refresh", "decode token", "token is not a refresh request", err)
	}
	return req, nil
}

// Injector receives the produced events.
type Injector interface {
	Enqueue(ev events.Event)
}

// Service validates refresh requests against the library and providers.
type Service struct {
	store  library.Store
	chain  *matching.Chain
	queue  Injector
	logger *slog.Logger
}

// NewService constructs a refresh service.
func NewService(store library.Store, chain *matching.Chain, queue Injector, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		chain:  chain,
		queue:  queue,
		logger: logging.NewComponentLogger(logger, "refresh"),
	}
}

// Refresh validates req and enqueues a Force event for the item.
func (s *Service) Refresh(ctx context.Context, req Request) (events.Event, error) {
	req.ItemID = strings.TrimSpace(req.ItemID)
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.ID = strings.TrimSpace(req.ID)
	if req.ItemID == "" {
		return events.Event{}, services.Wrap(services.ErrValidation, "refresh", "validate request", "item id is required", nil)
	}
	if req.ID != "" && req.ProviderID == "" {
		return events.Event{}, services.Wrap(services.ErrValidation, "refresh", "validate request", "an explicit id needs a provider", nil)
	}
	ctx = services.WithItemID(ctx, req.ItemID)

	var providerName string
	if req.ProviderID != "" {
		p, err := s.chain.Resolve(req.ProviderID)
		if err != nil {
			return events.Event{}, err
		}
		providerName = p.Name()
	}

	item, err := s.store.GetItem(ctx, req.ItemID)
	if err != nil {
		if errors.Is(err, library.ErrNotFound) {
			return events.Event{}, services.Wrap(services.ErrNotFound, "refresh", "load item",
				fmt.Sprintf("item %q not found", req.ItemID), err)
		}
		return events.Event{}, services.Wrap(services.ErrExternalTool, "refresh", "load item", "library store failed", err)
	}
	switch item.Kind {
	case library.KindMovie, library.KindSeason, library.KindEpisode:
	default:
		return events.Event{}, services.Wrap(services.ErrValidation, "refresh", "validate request",
			fmt.Sprintf("%s items cannot be refreshed", item.Kind), nil)
	}

	ev := events.Event{
		Item:       item,
		Type:       events.TypeForce,
		ProviderID: req.ProviderID,
		ID:         req.ID,
		Refresh:    true,
		Force:      true,
		All:        req.All && item.Kind == library.KindEpisode,
	}
	s.queue.Enqueue(ev)

	logging.WithContext(ctx, s.logger).Info("manual refresh queued",
		logging.String(logging.FieldEventType, "refresh_queued"),
		logging.String("kind", item.Kind.String()),
		logging.String(logging.FieldProvider, providerName),
		logging.String("provider_item_id", req.ID),
		logging.Bool("all", ev.All),
	)
	return ev, nil
}

// RefreshToken decodes token and refreshes it.
func (s *Service) RefreshToken(ctx context.Context, token string) (events.Event, error) {
	req, err := DecodeToken(token)
	if err != nil {
		return events.Event{}, err
	}
	return s.Refresh(ctx, req)
}
