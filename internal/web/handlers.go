package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/hpungsan/outpost/internal/engine"
	"github.com/hpungsan/outpost/internal/errors"
	"github.com/hpungsan/outpost/internal/ops"
)

// Handlers contains HTTP route handlers for the outbox inspector.
type Handlers struct {
	eng      *engine.Engine
	renderer *Renderer
}

// HandleList handles GET /items: the active profile's transactions, one
// conversation, one wallet, or the pending/failed queues. A profile_id other
// than the active one is rejected.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	current := h.eng.Coordinator.Current().Context

	profileID := q.Get("profile_id")
	if profileID == "" {
		profileID = current.ProfileID
	}
	if profileID == "" {
		h.renderer.renderError(w, r, errors.NewValidation("profile_id is required"))
		return
	}
	if h.eng.Coordinator.IsProfileStale(profileID) {
		h.renderer.renderError(w, r, errors.NewStaleContext(profileID))
		return
	}

	status := q.Get("status")
	interactionID := q.Get("interaction_id")
	accountID := q.Get("account_id")
	limit := parseIntParam(r, "limit", ops.DefaultListLimit)

	ctx := r.Context()
	svc := h.eng.Writer
	var (
		out *ops.ListOutput
		err error
	)
	title, nav := "Transactions", "items"
	switch {
	case status == "pending":
		title, nav = "Pending", "pending"
		out, err = svc.ListPending(ctx, profileID)
	case status == "failed":
		title, nav = "Failed", "failed"
		out, err = svc.ListFailed(ctx, profileID)
	case status != "":
		err = errors.NewValidation("status must be pending or failed")
	case interactionID != "":
		title = "Timeline " + interactionID
		out, err = svc.Timeline(ctx, profileID, interactionID, limit)
	case accountID != "":
		title = "Wallet " + accountID
		out, err = svc.TransactionsByAccount(ctx, profileID, accountID, limit)
	default:
		out, err = svc.RecentTransactions(ctx, profileID, limit)
	}
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, out)
		return
	}

	h.renderer.renderPage(w, r, "list", ListPageData{
		PageData: PageData{
			Title:   title,
			Version: h.renderer.version,
			Nav:     nav,
			Profile: current,
		},
		Items:         out.Items,
		Counts:        h.eng.Counts(ctx, profileID),
		Status:        status,
		InteractionID: interactionID,
		AccountID:     accountID,
		Limit:         limit,
	})
}

// HandleDetail handles GET /items/{id}: one item with its message rendered.
func (h *Handlers) HandleDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewValidation("item id is required"))
		return
	}

	current := h.eng.Coordinator.Current().Context
	item, err := h.eng.Writer.Fetch(r.Context(), id, current.ProfileID)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, item)
		return
	}

	data := DetailPageData{
		PageData: PageData{
			Title:   item.ID,
			Version: h.renderer.version,
			Nav:     "items",
			Profile: current,
		},
		Item: item,
	}
	if m, ok := item.Message(); ok {
		data.RenderedHTML = renderMarkdown(m.Content)
	}
	if len(item.Metadata) > 0 {
		var buf bytes.Buffer
		if json.Indent(&buf, item.Metadata, "", "  ") == nil {
			data.Metadata = buf.String()
		}
	}
	h.renderer.renderPage(w, r, "detail", data)
}

// HandleRetry handles POST /items/{id}/retry for an item of the active profile.
func (h *Handlers) HandleRetry(w http.ResponseWriter, r *http.Request) {
	id, profileID, ok := h.itemAction(w, r)
	if !ok {
		return
	}
	h.statusResult(w, r, id, h.eng.Writer.RetryItem(r.Context(), id, profileID))
}

// HandleCancel handles POST /items/{id}/cancel for an item of the active profile.
func (h *Handlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id, profileID, ok := h.itemAction(w, r)
	if !ok {
		return
	}
	h.statusResult(w, r, id, h.eng.Writer.CancelItem(r.Context(), id, profileID))
}

// itemAction resolves the item id and the active profile for a POST action.
func (h *Handlers) itemAction(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewValidation("item id is required"))
		return "", "", false
	}
	profileID := h.eng.Coordinator.Current().Context.ProfileID
	if profileID == "" {
		h.renderer.renderError(w, r, errors.NewValidation("no active profile"))
		return "", "", false
	}
	return id, profileID, true
}

func (h *Handlers) statusResult(w http.ResponseWriter, r *http.Request, id string, applied bool) {
	// HTMX request: redirect via HX-Redirect header
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/items/"+id)
		w.WriteHeader(http.StatusOK)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{
			"id":      id,
			"applied": applied,
		})
		return
	}

	http.Redirect(w, r, "/items/"+id, http.StatusFound)
}

// HandleStatus handles GET /status: engine state as JSON.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.eng.Coordinator.Current()
	out := map[string]any{
		"profile":      snap.Context,
		"state":        snap.State.String(),
		"sync_enabled": h.eng.SyncEnabled(),
		"sync_paused":  h.eng.Worker.Paused(),
		"stats":        h.eng.Worker.Stats(),
		"active_polls": h.eng.Poller.ActivePollsCount(),
	}
	if snap.Context.ProfileID != "" {
		out["counts"] = h.eng.Counts(r.Context(), snap.Context.ProfileID)
	}
	renderJSON(w, http.StatusOK, out)
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := strings.TrimSpace(r.URL.Query().Get(name))
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
