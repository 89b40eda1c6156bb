package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/outpost/internal/errors"
	"github.com/hpungsan/outpost/internal/timeline"
)

// RetryItem puts an item that is still owed to the server back into the
// drain queue with a fresh retry budget. The item must belong to profileID
// and profileID must be active. Items that are synced or cancelled are left
// untouched and false is returned.
func (s *Service) RetryItem(ctx context.Context, localID, profileID string) bool {
	localID = strings.TrimSpace(localID)
	if localID == "" {
		return false
	}

	item, err := s.ownedItem(ctx, localID, profileID)
	if err != nil {
		s.log.Debug().Err(err).Str("id", localID).Str("profile_id", profileID).Msg("retry rejected")
		return false
	}
	if item.SyncStatus != timeline.SyncPending {
		s.log.Debug().Str("id", localID).Str("sync_status", string(item.SyncStatus)).Msg("retry ignored")
		return false
	}

	if err := s.store.ResetForRetry(ctx, localID); err != nil {
		s.log.Warn().Err(err).Str("id", localID).Msg("retry failed")
		return false
	}
	s.log.Debug().Str("id", localID).Int("previous_retries", item.RetryCount).Msg("retry queued")
	s.notify()
	return true
}

// CancelItem cancels a pending item owned by profileID. It succeeds only when
// profileID is active and the item's sync status is pending.
func (s *Service) CancelItem(ctx context.Context, localID, profileID string) bool {
	localID = strings.TrimSpace(localID)
	profileID = strings.TrimSpace(profileID)
	if localID == "" || profileID == "" {
		return false
	}
	if s.isStale(profileID) {
		s.log.Debug().Str("id", localID).Str("profile_id", profileID).Msg("cancel for inactive profile rejected")
		return false
	}

	if err := s.store.CancelPending(ctx, localID, profileID); err != nil {
		if errors.Is(err, errors.ErrStorage) {
			s.log.Error().Err(err).Str("id", localID).Msg("cancel failed")
		} else {
			s.log.Debug().Err(err).Str("id", localID).Msg("cancel rejected")
		}
		return false
	}
	s.log.Debug().Str("id", localID).Msg("cancelled")
	return true
}
