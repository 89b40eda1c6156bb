package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/outpost/internal/errors"
	"github.com/hpungsan/outpost/internal/timeline"
)

// ListOutput is a page of timeline items.
type ListOutput struct {
	Items []*timeline.Item `json:"items"`
	Count int              `json:"count"`
}

func listOutput(items []*timeline.Item) *ListOutput {
	if items == nil {
		items = []*timeline.Item{}
	}
	return &ListOutput{Items: items, Count: len(items)}
}

// Fetch returns one item by its local id. The item must belong to profileID,
// and profileID must be the active profile; items of other profiles are
// reported as not found.
func (s *Service) Fetch(ctx context.Context, localID, profileID string) (*timeline.Item, error) {
	localID = strings.TrimSpace(localID)
	if localID == "" {
		return nil, errors.NewValidation("id is required")
	}
	return s.ownedItem(ctx, localID, profileID)
}

// ownedItem loads localID on behalf of profileID.
func (s *Service) ownedItem(ctx context.Context, localID, profileID string) (*timeline.Item, error) {
	profileID = strings.TrimSpace(profileID)
	if profileID == "" {
		return nil, errors.NewValidation("profile_id is required")
	}
	if s.isStale(profileID) {
		return nil, errors.NewStaleContext(profileID)
	}

	item, err := s.store.GetItemByID(ctx, localID)
	if err != nil {
		return nil, err
	}
	if item.ProfileID != profileID {
		return nil, errors.NewNotFound(localID)
	}
	return item, nil
}

// ListPending returns items the sync worker still has to push.
func (s *Service) ListPending(ctx context.Context, profileID string) (*ListOutput, error) {
	items, err := s.store.GetPendingItems(ctx, profileID)
	if err != nil {
		return nil, err
	}
	return listOutput(items), nil
}

// ListFailed returns items waiting for a user retry.
func (s *Service) ListFailed(ctx context.Context, profileID string) (*ListOutput, error) {
	items, err := s.store.GetFailedItems(ctx, profileID)
	if err != nil {
		return nil, err
	}
	return listOutput(items), nil
}

// RecentTransactions returns the newest transactions for a profile.
func (s *Service) RecentTransactions(ctx context.Context, profileID string, limit int) (*ListOutput, error) {
	items, err := s.store.GetRecentTransactions(ctx, profileID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return listOutput(items), nil
}

// TransactionsByAccount returns transactions where accountID is either wallet.
func (s *Service) TransactionsByAccount(ctx context.Context, profileID, accountID string, limit int) (*ListOutput, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, errors.NewValidation("account_id is required")
	}
	items, err := s.store.GetTransactionsByAccount(ctx, profileID, accountID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return listOutput(items), nil
}

// Timeline returns one interaction's items in chronological order.
func (s *Service) Timeline(ctx context.Context, profileID, interactionID string, limit int) (*ListOutput, error) {
	interactionID = strings.TrimSpace(interactionID)
	if interactionID == "" {
		return nil, errors.NewValidation("interaction_id is required")
	}
	items, err := s.store.ListByInteraction(ctx, profileID, interactionID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return listOutput(items), nil
}

// GetPendingCount counts items still waiting to sync. Storage failures are
// logged and reported as zero.
func (s *Service) GetPendingCount(ctx context.Context, profileID string) int {
	n, err := s.store.CountPending(ctx, profileID)
	if err != nil {
		s.log.Error().Err(err).Str("profile_id", profileID).Msg("count pending failed")
		return 0
	}
	return n
}

// GetFailedCount counts items waiting for a user retry. Storage failures are
// logged and reported as zero.
func (s *Service) GetFailedCount(ctx context.Context, profileID string) int {
	n, err := s.store.CountFailed(ctx, profileID)
	if err != nil {
		s.log.Error().Err(err).Str("profile_id", profileID).Msg("count failed items failed")
		return 0
	}
	return n
}
