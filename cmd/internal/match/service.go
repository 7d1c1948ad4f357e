package match

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"betabae/cmd/identity"
	"betabae/cmd/identity/ids"
)

// Service implements the match state machine on top of a Store.
type Service struct {
	log           *slog.Logger
	users         identity.Store
	matches       Store
	conversations ConversationCreator

	// defaultConversationType is assigned to the conversation created on
	// acceptance. Which of the two recognized types it is, is configuration,
	// not semantics.
	defaultConversationType string
}

// Option configures the Service.
type Option func(*Service) error

// WithDefaultConversationType overrides the conversation type created on accept.
func WithDefaultConversationType(typ string) Option {
	return func(s *Service) error {
		typ = strings.TrimSpace(typ)
		if typ == "" {
			return ErrInvalidInput
		}
		s.defaultConversationType = typ
		return nil
	}
}

// NewService constructs a match Service.
func NewService(log *slog.Logger, users identity.Store, matches Store, conversations ConversationCreator, opts ...Option) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	if users == nil || matches == nil || conversations == nil {
		return nil, ErrInvalidInput
	}

	s := &Service{
		log:                     log,
		users:                   users,
		matches:                 matches,
		conversations:           conversations,
		defaultConversationType: "REAL_BAE",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Create opens a PENDING match from requester to requested.
//
// Duplicate pairs are rejected explicitly in either direction; the check is a
// lookup rather than a uniqueness constraint because the pair is unordered.
func (s *Service) Create(ctx context.Context, requesterID, requestedID string, now time.Time) (Match, error) {
	requesterID = strings.TrimSpace(requesterID)
	requestedID = strings.TrimSpace(requestedID)
	if requesterID == "" || requestedID == "" || requesterID == requestedID {
		return Match{}, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	for _, userID := range []string{requesterID, requestedID} {
		if _, err := s.users.GetByID(ctx, userID); err != nil {
			if identity.IsNotFound(err) {
				return Match{}, ErrUserNotFound
			}
			return Match{}, err
		}
	}

	if _, err := s.matches.FindByPair(ctx, requesterID, requestedID); err == nil {
		return Match{}, ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return Match{}, err
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Match{}, err
	}

	m, err := s.matches.Create(ctx, Match{
		ID:               id,
		RequesterID:      requesterID,
		RequestedID:      requestedID,
		Status:           StatusPending,
		RequesterConsent: true,
		RequestedConsent: false,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		return Match{}, err
	}

	s.log.Info("match.create", "match_id", m.ID, "requester_id", requesterID, "requested_id", requestedID)
	return m, nil
}

// Accept moves a PENDING match to ACCEPTED and creates its conversation.
// Only the requested party may accept.
//
// The transition and the conversation insert are two writes against two
// stores, so a crash or store failure between them can leave an ACCEPTED
// match without its conversation. CreateForMatch is idempotent per match,
// and Accept re-runs it whenever it sees an already-ACCEPTED match, so a
// retried accept heals the gap before the state conflict is reported.
func (s *Service) Accept(ctx context.Context, actingUserID, matchID string, now time.Time) (Match, error) {
	m, err := s.loadForActor(ctx, actingUserID, matchID)
	if err != nil {
		return Match{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if m.Status != StatusPending {
		if m.Status == StatusAccepted {
			if _, cerr := s.conversations.CreateForMatch(ctx, m.ID, s.defaultConversationType, now); cerr != nil {
				s.log.Warn("match.accept.conversation.retry_fail", "match_id", m.ID, "err", cerr)
			}
		}
		return Match{}, ErrInvalidStatus
	}

	m, err = s.matches.TransitionFromPending(ctx, m.ID, StatusAccepted, true, now)
	if err != nil {
		return Match{}, err
	}

	convID, err := s.conversations.CreateForMatch(ctx, m.ID, s.defaultConversationType, now)
	if err != nil {
		s.log.Error("match.accept.conversation.fail", "match_id", m.ID, "err", err)
		return Match{}, err
	}

	s.log.Info("match.accept", "match_id", m.ID, "conversation_id", convID)
	return m, nil
}

// Reject moves a PENDING match to REJECTED. No conversation is created.
func (s *Service) Reject(ctx context.Context, actingUserID, matchID string, now time.Time) (Match, error) {
	m, err := s.loadForActor(ctx, actingUserID, matchID)
	if err != nil {
		return Match{}, err
	}
	if m.Status != StatusPending {
		return Match{}, ErrInvalidStatus
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	m, err = s.matches.TransitionFromPending(ctx, m.ID, StatusRejected, false, now)
	if err != nil {
		return Match{}, err
	}

	s.log.Info("match.reject", "match_id", m.ID)
	return m, nil
}

// Received returns the caller's incoming PENDING matches.
func (s *Service) Received(ctx context.Context, userID string) ([]Match, error) {
	return s.matches.ListReceived(ctx, userID)
}

// All returns every match the caller is a party to, any status.
func (s *Service) All(ctx context.Context, userID string) ([]Match, error) {
	return s.matches.ListAll(ctx, userID)
}

// loadForActor loads the match and enforces the actor precondition. Status
// checks stay with the callers, which gives each a precise error; the store's
// conditional write is what actually closes the race window.
func (s *Service) loadForActor(ctx context.Context, actingUserID, matchID string) (Match, error) {
	actingUserID = strings.TrimSpace(actingUserID)
	matchID = strings.TrimSpace(matchID)
	if actingUserID == "" || matchID == "" {
		return Match{}, ErrInvalidInput
	}

	m, err := s.matches.GetByID(ctx, matchID)
	if err != nil {
		return Match{}, err
	}
	if m.RequestedID != actingUserID {
		return Match{}, ErrUnauthorized
	}
	return m, nil
}
