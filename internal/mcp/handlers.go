package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/outpost/internal/engine"
	"github.com/hpungsan/outpost/internal/errors"
	"github.com/hpungsan/outpost/internal/ops"
	"github.com/hpungsan/outpost/internal/profile"
	"github.com/hpungsan/outpost/internal/syncworker"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	eng *engine.Engine
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(eng *engine.Engine) *Handlers {
	return &Handlers{eng: eng}
}

// Request types for each tool

// SendMessageRequest represents the arguments for timeline_send_message.
type SendMessageRequest struct {
	InteractionID string          `json:"interaction_id"`
	ProfileID     string          `json:"profile_id"`
	FromEntityID  string          `json:"from_entity_id"`
	ToEntityID    *string         `json:"to_entity_id,omitempty"`
	Content       string          `json:"content"`
	MessageType   string          `json:"message_type,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// SendTransactionRequest represents the arguments for timeline_send_transaction.
type SendTransactionRequest struct {
	InteractionID   string          `json:"interaction_id"`
	ProfileID       string          `json:"profile_id"`
	FromEntityID    string          `json:"from_entity_id"`
	ToEntityID      string          `json:"to_entity_id"`
	Amount          float64         `json:"amount"`
	FromWalletID    string          `json:"from_wallet_id"`
	ToWalletID      *string         `json:"to_wallet_id,omitempty"`
	CurrencyID      string          `json:"currency_id,omitempty"`
	CurrencyCode    string          `json:"currency_code,omitempty"`
	CurrencySymbol  string          `json:"currency_symbol,omitempty"`
	TransactionType string          `json:"transaction_type,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
}

// ItemRequest identifies one outbox item.
type ItemRequest struct {
	ID        string `json:"id"`
	ProfileID string `json:"profile_id,omitempty"`
}

// RecentRequest represents the arguments for timeline_recent.
type RecentRequest struct {
	ProfileID     string `json:"profile_id"`
	AccountID     string `json:"account_id,omitempty"`
	InteractionID string `json:"interaction_id,omitempty"`
	Status        string `json:"status,omitempty"`
	Limit         int    `json:"limit,omitempty"`
}

// ProfileSwitchRequest represents the arguments for profile_switch.
type ProfileSwitchRequest struct {
	ProfileID   string       `json:"profile_id"`
	EntityID    string       `json:"entity_id,omitempty"`
	ProfileType profile.Type `json:"profile_type,omitempty"`
}

// PollRequest represents the arguments for poll_start and poll_stop.
type PollRequest struct {
	TransactionID string `json:"transaction_id,omitempty"`
	InteractionID string `json:"interaction_id,omitempty"`
	All           bool   `json:"all,omitempty"`
}

// StatusOutput reports whether a retry or cancel took effect.
type StatusOutput struct {
	ID      string `json:"id"`
	Applied bool   `json:"applied"`
}

// CurrentOutput is the profile_current result.
type CurrentOutput struct {
	Profile     profile.Context  `json:"profile"`
	State       string           `json:"state"`
	Generation  uint64           `json:"generation"`
	SyncEnabled bool             `json:"sync_enabled"`
	SyncPaused  bool             `json:"sync_paused"`
	Stats       syncworker.Stats `json:"stats"`
	ActivePolls int              `json:"active_polls"`
}

// PollOutput is the poll_start / poll_stop result.
type PollOutput struct {
	TransactionID string `json:"transaction_id,omitempty"`
	Polling       bool   `json:"polling"`
	Stopped       int    `json:"stopped,omitempty"`
	ActivePolls   int    `json:"active_polls"`
}

// decode unmarshals MCP request arguments into a typed struct via a JSON
// round trip, so malformed arguments surface as VALIDATION errors.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var result T
	b, err := json.Marshal(req.GetArguments())
	if err != nil {
		return result, errors.NewValidation(fmt.Sprintf("invalid arguments: %v", err))
	}
	if err := json.Unmarshal(b, &result); err != nil {
		return result, errors.NewValidation(fmt.Sprintf("invalid arguments: %v", err))
	}
	return result, nil
}

// HandleSendMessage handles the timeline_send_message tool.
func (h *Handlers) HandleSendMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[SendMessageRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	out := h.eng.Writer.SendMessage(ctx, ops.SendMessageInput{
		InteractionID: r.InteractionID,
		ProfileID:     r.ProfileID,
		FromEntityID:  r.FromEntityID,
		ToEntityID:    r.ToEntityID,
		Content:       r.Content,
		MessageType:   r.MessageType,
		Metadata:      r.Metadata,
	})
	if !out.Success {
		return errorResult(out.Error), nil
	}
	return successResult(out)
}

// HandleSendTransaction handles the timeline_send_transaction tool.
func (h *Handlers) HandleSendTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[SendTransactionRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	out := h.eng.Writer.SendTransaction(ctx, ops.SendTransactionInput{
		InteractionID:   r.InteractionID,
		ProfileID:       r.ProfileID,
		FromEntityID:    r.FromEntityID,
		ToEntityID:      r.ToEntityID,
		Amount:          r.Amount,
		FromWalletID:    r.FromWalletID,
		ToWalletID:      r.ToWalletID,
		CurrencyID:      r.CurrencyID,
		CurrencyCode:    r.CurrencyCode,
		CurrencySymbol:  r.CurrencySymbol,
		TransactionType: r.TransactionType,
		Metadata:        r.Metadata,
	})
	if !out.Success {
		return errorResult(out.Error), nil
	}
	return successResult(out)
}

// HandleRetry handles the timeline_retry tool.
func (h *Handlers) HandleRetry(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[ItemRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if r.ID == "" || r.ProfileID == "" {
		return errorResult(errors.NewValidation("id and profile_id are required")), nil
	}
	if h.eng.Coordinator.IsProfileStale(r.ProfileID) {
		return errorResult(errors.NewStaleContext(r.ProfileID)), nil
	}
	return successResult(StatusOutput{ID: r.ID, Applied: h.eng.Writer.RetryItem(ctx, r.ID, r.ProfileID)})
}

// HandleCancel handles the timeline_cancel tool.
func (h *Handlers) HandleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[ItemRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if r.ID == "" || r.ProfileID == "" {
		return errorResult(errors.NewValidation("id and profile_id are required")), nil
	}
	if h.eng.Coordinator.IsProfileStale(r.ProfileID) {
		return errorResult(errors.NewStaleContext(r.ProfileID)), nil
	}
	return successResult(StatusOutput{ID: r.ID, Applied: h.eng.Writer.CancelItem(ctx, r.ID, r.ProfileID)})
}

// HandleFetch handles the timeline_fetch tool.
func (h *Handlers) HandleFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[ItemRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if r.ID == "" || r.ProfileID == "" {
		return errorResult(errors.NewValidation("id and profile_id are required")), nil
	}

	item, err := h.eng.Writer.Fetch(ctx, r.ID, r.ProfileID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(item)
}

// HandleCounts handles the timeline_counts tool.
func (h *Handlers) HandleCounts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[RecentRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if r.ProfileID == "" {
		return errorResult(errors.NewValidation("profile_id is required")), nil
	}
	if h.eng.Coordinator.IsProfileStale(r.ProfileID) {
		return errorResult(errors.NewStaleContext(r.ProfileID)), nil
	}
	return successResult(h.eng.Counts(ctx, r.ProfileID))
}

// HandleRecent handles the timeline_recent tool.
func (h *Handlers) HandleRecent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[RecentRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if r.ProfileID == "" {
		return errorResult(errors.NewValidation("profile_id is required")), nil
	}
	if h.eng.Coordinator.IsProfileStale(r.ProfileID) {
		return errorResult(errors.NewStaleContext(r.ProfileID)), nil
	}

	w := h.eng.Writer
	var out *ops.ListOutput
	switch {
	case r.Status == "pending":
		out, err = w.ListPending(ctx, r.ProfileID)
	case r.Status == "failed":
		out, err = w.ListFailed(ctx, r.ProfileID)
	case r.Status != "":
		err = errors.NewValidation("status must be pending or failed")
	case r.InteractionID != "":
		out, err = w.Timeline(ctx, r.ProfileID, r.InteractionID, r.Limit)
	case r.AccountID != "":
		out, err = w.TransactionsByAccount(ctx, r.ProfileID, r.AccountID, r.Limit)
	default:
		out, err = w.RecentTransactions(ctx, r.ProfileID, r.Limit)
	}
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleProfileSwitch handles the profile_switch tool.
func (h *Handlers) HandleProfileSwitch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[ProfileSwitchRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if r.ProfileID == "" {
		return errorResult(errors.NewValidation("profile_id is required")), nil
	}
	switch r.ProfileType {
	case "", profile.TypePersonal, profile.TypeBusiness:
	default:
		return errorResult(errors.NewValidation("profile_type must be personal or business")), nil
	}

	target := profile.Context{ProfileID: r.ProfileID, EntityID: r.EntityID, ProfileType: r.ProfileType}
	if err := h.eng.SwitchProfile(target, nil); err != nil {
		return errorResult(err), nil
	}
	return successResult(h.current())
}

// HandleProfileCurrent handles the profile_current tool.
func (h *Handlers) HandleProfileCurrent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(h.current())
}

func (h *Handlers) current() CurrentOutput {
	snap := h.eng.Coordinator.Current()
	return CurrentOutput{
		Profile:     snap.Context,
		State:       snap.State.String(),
		Generation:  snap.Token.Generation(),
		SyncEnabled: h.eng.SyncEnabled(),
		SyncPaused:  h.eng.Worker.Paused(),
		Stats:       h.eng.Worker.Stats(),
		ActivePolls: h.eng.Poller.ActivePollsCount(),
	}
}

// HandlePollStart handles the poll_start tool.
func (h *Handlers) HandlePollStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[PollRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if r.TransactionID == "" {
		return errorResult(errors.NewValidation("transaction_id is required")), nil
	}

	p := h.eng.Poller
	p.StartPolling(r.TransactionID, r.InteractionID)
	return successResult(PollOutput{
		TransactionID: r.TransactionID,
		Polling:       p.IsPolling(r.TransactionID),
		ActivePolls:   p.ActivePollsCount(),
	})
}

// HandlePollStop handles the poll_stop tool.
func (h *Handlers) HandlePollStop(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[PollRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	p := h.eng.Poller
	if r.All {
		n := p.StopAllPolls()
		return successResult(PollOutput{Stopped: n, ActivePolls: p.ActivePollsCount()})
	}
	if r.TransactionID == "" {
		return errorResult(errors.NewValidation("transaction_id or all is required")), nil
	}

	stopped := 0
	if p.IsPolling(r.TransactionID) {
		stopped = 1
	}
	p.StopPolling(r.TransactionID)
	return successResult(PollOutput{
		TransactionID: r.TransactionID,
		Stopped:       stopped,
		ActivePolls:   p.ActivePollsCount(),
	})
}

// errorResult creates an MCP error result from an error.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var oe *errors.OutpostError
	if stderrors.As(err, &oe) {
		// Keep wrapper context such as "switch to p2: " in the message
		message := oe.Message
		if prefix := strings.TrimSuffix(err.Error(), oe.Error()); prefix != err.Error() {
			message = prefix + oe.Message
		}
		internal := oe.Code == errors.ErrInternal || oe.Code == errors.ErrStorage
		// Driver and OS messages carry file paths and SQL
		if internal {
			message = "an internal error occurred"
		}
		errorObj := map[string]any{
			"code":    oe.Code,
			"message": message,
			"status":  oe.Status,
		}
		if !internal && oe.Details != nil {
			errorObj["details"] = oe.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
