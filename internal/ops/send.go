package ops

import (
	"context"
	"encoding/json"
	"math"
	"strings"

	"github.com/hpungsan/outpost/internal/errors"
	"github.com/hpungsan/outpost/internal/timeline"
)

// Defaults applied when the caller leaves a subtype empty.
const (
	DefaultMessageType     = "text"
	DefaultTransactionType = "transfer"
)

// SendMessageInput contains parameters for SendMessage.
type SendMessageInput struct {
	InteractionID string          // required
	ProfileID     string          // required
	FromEntityID  string          // required
	ToEntityID    *string         // optional
	Content       string          // required, non-blank
	MessageType   string          // default: "text"
	Metadata      json.RawMessage // optional, must be valid JSON
}

// SendTransactionInput contains parameters for SendTransaction.
type SendTransactionInput struct {
	InteractionID   string  // required
	ProfileID       string  // required
	FromEntityID    string  // required
	ToEntityID      string  // required
	Amount          float64 // required, > 0
	CurrencyID      string
	CurrencyCode    string
	CurrencySymbol  string
	TransactionType string // default: "transfer"
	FromWalletID    string // required
	ToWalletID      *string
	Metadata        json.RawMessage
}

// SendOutput is the result of a send. On failure LocalID is empty and Error
// holds a VALIDATION, STALE_CONTEXT, DUPLICATE_ID or STORAGE error.
type SendOutput struct {
	LocalID string `json:"local_id"`
	Success bool   `json:"success"`
	Error   error  `json:"-"`
}

// ErrorMessage returns the failure text, or "" on success.
func (o SendOutput) ErrorMessage() string {
	if o.Error == nil {
		return ""
	}
	return o.Error.Error()
}

func failed(err error) SendOutput {
	return SendOutput{Error: err}
}

type envelope struct {
	interactionID string
	profileID     string
	fromEntityID  string
	toEntityID    *string
	metadata      json.RawMessage
}

func (e *envelope) validate() error {
	e.interactionID = strings.TrimSpace(e.interactionID)
	e.profileID = strings.TrimSpace(e.profileID)
	e.fromEntityID = strings.TrimSpace(e.fromEntityID)
	e.toEntityID = timeline.CleanOptional(e.toEntityID)

	switch {
	case e.interactionID == "":
		return errors.NewValidation("interaction_id is required")
	case e.profileID == "":
		return errors.NewValidation("profile_id is required")
	case e.fromEntityID == "":
		return errors.NewValidation("from_entity_id is required")
	}
	if len(e.metadata) > 0 && !json.Valid(e.metadata) {
		return errors.NewValidation("timeline_metadata must be valid JSON")
	}
	return nil
}

// SendMessage validates and writes a message to the outbox.
func (s *Service) SendMessage(ctx context.Context, input SendMessageInput) SendOutput {
	env := envelope{
		interactionID: input.InteractionID,
		profileID:     input.ProfileID,
		fromEntityID:  input.FromEntityID,
		toEntityID:    input.ToEntityID,
		metadata:      input.Metadata,
	}
	if err := env.validate(); err != nil {
		return failed(err)
	}
	if strings.TrimSpace(input.Content) == "" {
		return failed(errors.NewValidation("content is required"))
	}
	messageType := strings.TrimSpace(input.MessageType)
	if messageType == "" {
		messageType = DefaultMessageType
	}

	return s.write(ctx, env, &timeline.Message{
		Content:     input.Content,
		MessageType: messageType,
	})
}

// SendTransaction validates and writes a transaction to the outbox.
func (s *Service) SendTransaction(ctx context.Context, input SendTransactionInput) SendOutput {
	to := input.ToEntityID
	env := envelope{
		interactionID: input.InteractionID,
		profileID:     input.ProfileID,
		fromEntityID:  input.FromEntityID,
		toEntityID:    &to,
		metadata:      input.Metadata,
	}
	if err := env.validate(); err != nil {
		return failed(err)
	}
	if env.toEntityID == nil {
		return failed(errors.NewValidation("to_entity_id is required"))
	}
	if math.IsNaN(input.Amount) || math.IsInf(input.Amount, 0) || input.Amount <= 0 {
		return failed(errors.NewValidation("amount must be greater than 0"))
	}
	fromWallet := strings.TrimSpace(input.FromWalletID)
	if fromWallet == "" {
		return failed(errors.NewValidation("from_wallet_id is required"))
	}
	txType := strings.TrimSpace(input.TransactionType)
	if txType == "" {
		txType = DefaultTransactionType
	}

	return s.write(ctx, env, &timeline.Transaction{
		Amount:          input.Amount,
		CurrencyID:      strings.TrimSpace(input.CurrencyID),
		CurrencyCode:    strings.TrimSpace(input.CurrencyCode),
		CurrencySymbol:  input.CurrencySymbol,
		TransactionType: txType,
		FromWalletID:    fromWallet,
		ToWalletID:      timeline.CleanOptional(input.ToWalletID),
	})
}

// write builds a pending item and stores it. It returns before any remote call.
func (s *Service) write(ctx context.Context, env envelope, body timeline.Body) SendOutput {
	if s.isStale(env.profileID) {
		s.log.Debug().Str("profile_id", env.profileID).Msg("write for inactive profile rejected")
		return failed(errors.NewStaleContext(env.profileID))
	}

	now := s.now()
	id, err := timeline.NewID(body.Type(), now)
	if err != nil {
		return failed(errors.NewInternal(err))
	}

	ms := now.UnixMilli()
	item := &timeline.Item{
		ID:            id,
		InteractionID: env.interactionID,
		ProfileID:     env.profileID,
		FromEntityID:  env.fromEntityID,
		ToEntityID:    env.toEntityID,
		SyncStatus:    timeline.SyncPending,
		LocalStatus:   timeline.LocalPending,
		RetryCount:    0,
		Metadata:      env.metadata,
		CreatedAt:     ms,
		UpdatedAt:     ms,
		Body:          body,
	}
	if err := s.store.AddItem(ctx, item); err != nil {
		s.log.Error().Err(err).Str("id", id).Msg("outbox write failed")
		return failed(err)
	}

	s.log.Debug().
		Str("id", id).
		Str("item_type", string(body.Type())).
		Str("profile_id", env.profileID).
		Msg("queued")
	s.notify()
	return SendOutput{LocalID: id, Success: true}
}
