package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hpungsan/outpost/internal/errors"
	"github.com/hpungsan/outpost/internal/logging"
	"github.com/hpungsan/outpost/internal/timeline"
)

// DefaultListLimit applies when a read path is called with limit <= 0.
const DefaultListLimit = 50

// MaxListLimit caps any single read.
const MaxListLimit = 500

const itemColumns = `
	id, server_id, interaction_id, profile_id, item_type,
	from_entity_id, to_entity_id, content, message_type,
	amount, currency_id, currency_code, currency_symbol, transaction_type,
	from_wallet_id, to_wallet_id, sync_status, local_status,
	retry_count, last_error, next_attempt_at, timeline_metadata,
	created_at, updated_at`

// Store is the local outbox: durable, keyed storage for timeline items.
// Every read path is scoped by profile id.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

// NewStore wraps an initialized database.
func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: logging.Component(log, "outbox"),
		now: time.Now,
	}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB { return s.db }

// AddItem inserts a new timeline item. A duplicate id is a caller bug and
// returns ErrDuplicateID.
func (s *Store) AddItem(ctx context.Context, item *timeline.Item) error {
	if err := checkItem(item); err != nil {
		return err
	}

	var (
		content, messageType                                     sql.NullString
		amount                                                   sql.NullFloat64
		currencyID, currencyCode, currencySymbol, txType, fromWl sql.NullString
		toWallet                                                 sql.NullString
	)
	switch b := item.Body.(type) {
	case *timeline.Message:
		content = sql.NullString{String: b.Content, Valid: true}
		messageType = sql.NullString{String: b.MessageType, Valid: b.MessageType != ""}
	case *timeline.Transaction:
		amount = sql.NullFloat64{Float64: b.Amount, Valid: true}
		currencyID = nullString(b.CurrencyID)
		currencyCode = nullString(b.CurrencyCode)
		currencySymbol = nullString(b.CurrencySymbol)
		txType = nullString(b.TransactionType)
		fromWl = sql.NullString{String: b.FromWalletID, Valid: true}
		toWallet = toNullString(b.ToWalletID)
	}

	var metadata sql.NullString
	if len(item.Metadata) > 0 {
		metadata = sql.NullString{String: string(item.Metadata), Valid: true}
	}

	query := `INSERT INTO timeline_items (` + itemColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		item.ID, toNullString(item.ServerID), item.InteractionID, item.ProfileID, string(item.Type()),
		item.FromEntityID, toNullString(item.ToEntityID), content, messageType,
		amount, currencyID, currencyCode, currencySymbol, txType,
		fromWl, toWallet, string(item.SyncStatus), string(item.LocalStatus),
		item.RetryCount, toNullString(item.LastError), toNullInt64(item.NextAttemptAt), metadata,
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewDuplicateID(item.ID)
		}
		return errors.NewStorage(err)
	}
	return nil
}

// checkItem enforces the envelope invariants before anything reaches SQL.
func checkItem(item *timeline.Item) error {
	if item == nil || item.ID == "" {
		return errors.NewValidation("item id is required")
	}
	if item.Body == nil {
		return errors.NewValidation("item body is required")
	}
	if strings.TrimSpace(item.ProfileID) == "" {
		return errors.NewValidation("profile_id is required")
	}
	if !item.SyncStatus.Valid() || !item.LocalStatus.Valid() ||
		!timeline.Consistent(item.SyncStatus, item.LocalStatus) {
		return errors.NewValidation("inconsistent sync/local status")
	}
	return nil
}

// UpdateSyncStatus sets both statuses. Repeating the current sync status is a
// no-op success; moving out of a terminal sync status is rejected. A locally
// cancelled item stays cancelled: it never left the device.
func (s *Store) UpdateSyncStatus(ctx context.Context, id string, syncStatus timeline.SyncStatus, localStatus timeline.LocalStatus) error {
	if !syncStatus.Valid() || !localStatus.Valid() || !timeline.Consistent(syncStatus, localStatus) {
		return errors.NewValidation("inconsistent sync/local status")
	}

	query := `
		UPDATE timeline_items
		SET sync_status = ?, local_status = ?, updated_at = ?
		WHERE id = ? AND (sync_status = ? OR sync_status = 'pending')
			AND (local_status <> 'cancelled' OR ? = 'cancelled')
	`
	return s.execGuarded(ctx, id, query,
		string(syncStatus), string(localStatus), s.now().UnixMilli(), id, string(syncStatus), string(localStatus))
}

// MarkSynced records the server-assigned id and moves the item to synced/sent.
func (s *Store) MarkSynced(ctx context.Context, id, serverID string) error {
	query := `
		UPDATE timeline_items
		SET sync_status = 'synced', local_status = 'sent', server_id = ?,
			last_error = NULL, next_attempt_at = NULL, updated_at = ?
		WHERE id = ? AND sync_status = 'pending'
	`
	return s.execGuarded(ctx, id, query, nullString(serverID), s.now().UnixMilli(), id)
}

// RecordFailure bumps retry_count and stores the error. When exhausted the
// item becomes local_status=failed and stays sync_status=pending so a user
// retry can pick it up again.
func (s *Store) RecordFailure(ctx context.Context, id, lastError string, nextAttemptAt *int64, exhausted bool) error {
	local := timeline.LocalPending
	if exhausted {
		local = timeline.LocalFailed
		nextAttemptAt = nil
	}

	query := `
		UPDATE timeline_items
		SET retry_count = retry_count + 1, last_error = ?, next_attempt_at = ?,
			local_status = ?, updated_at = ?
		WHERE id = ? AND sync_status = 'pending'
	`
	return s.execGuarded(ctx, id, query,
		timeline.Truncate(lastError, 500), toNullInt64(nextAttemptAt), string(local), s.now().UnixMilli(), id)
}

// ResetForRetry returns a still-pending item to pending/pending with a fresh
// retry budget.
func (s *Store) ResetForRetry(ctx context.Context, id string) error {
	query := `
		UPDATE timeline_items
		SET local_status = 'pending', retry_count = 0, last_error = NULL,
			next_attempt_at = NULL, updated_at = ?
		WHERE id = ? AND sync_status = 'pending'
	`
	return s.execGuarded(ctx, id, query, s.now().UnixMilli(), id)
}

// CancelPending moves a pending item owned by profileID to synced/cancelled.
func (s *Store) CancelPending(ctx context.Context, id, profileID string) error {
	query := `
		UPDATE timeline_items
		SET sync_status = 'synced', local_status = 'cancelled',
			next_attempt_at = NULL, updated_at = ?
		WHERE id = ? AND profile_id = ? AND sync_status = 'pending'
	`
	result, err := s.db.ExecContext(ctx, query, s.now().UnixMilli(), id, profileID)
	if err != nil {
		return errors.NewStorage(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.NewStorage(err)
	}
	if n > 0 {
		return nil
	}

	item, err := s.GetItemByID(ctx, id)
	if err != nil {
		return err
	}
	if item.ProfileID != profileID {
		return errors.NewNotFound(id)
	}
	return errors.NewConflict("only pending items can be cancelled")
}

// execGuarded runs a single-row UPDATE and turns zero affected rows into
// NotFound or Conflict.
func (s *Store) execGuarded(ctx context.Context, id, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.NewStorage(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.NewStorage(err)
	}
	if n > 0 {
		return nil
	}

	if _, err := s.GetItemByID(ctx, id); err != nil {
		return err
	}
	return errors.NewConflict("sync status cannot leave a terminal state")
}

// GetItemByID retrieves a timeline item by its client id.
func (s *Store) GetItemByID(ctx context.Context, id string) (*timeline.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM timeline_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	return item, nil
}

// GetPendingItems returns items still owed to the server (excluding ones
// marked failed), oldest first.
func (s *Store) GetPendingItems(ctx context.Context, profileID string) ([]*timeline.Item, error) {
	return s.list(ctx, profileID, `
		WHERE profile_id = ? AND sync_status = 'pending' AND local_status = 'pending'
		ORDER BY created_at ASC, id ASC LIMIT ?`, MaxListLimit)
}

// ListDue returns pending items whose next attempt time has passed.
func (s *Store) ListDue(ctx context.Context, profileID string, now time.Time, limit int) ([]*timeline.Item, error) {
	return s.list(ctx, profileID, `
		WHERE profile_id = ? AND sync_status = 'pending' AND local_status = 'pending'
			AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY created_at ASC, id ASC LIMIT ?`, now.UnixMilli(), clampLimit(limit))
}

// GetFailedItems returns items that exhausted their retries and wait for a user retry.
func (s *Store) GetFailedItems(ctx context.Context, profileID string) ([]*timeline.Item, error) {
	return s.list(ctx, profileID, `
		WHERE profile_id = ? AND sync_status = 'pending' AND local_status = 'failed'
		ORDER BY created_at ASC, id ASC LIMIT ?`, MaxListLimit)
}

// GetRecentTransactions returns the newest transactions first.
func (s *Store) GetRecentTransactions(ctx context.Context, profileID string, limit int) ([]*timeline.Item, error) {
	return s.list(ctx, profileID, `
		WHERE profile_id = ? AND item_type = 'transaction'
		ORDER BY created_at DESC, id DESC LIMIT ?`, clampLimit(limit))
}

// GetTransactionsByAccount returns transactions touching a wallet, newest first.
func (s *Store) GetTransactionsByAccount(ctx context.Context, profileID, accountID string, limit int) ([]*timeline.Item, error) {
	return s.list(ctx, profileID, `
		WHERE profile_id = ? AND item_type = 'transaction'
			AND (from_wallet_id = ? OR to_wallet_id = ?)
		ORDER BY created_at DESC, id DESC LIMIT ?`, accountID, accountID, clampLimit(limit))
}

// ListByInteraction returns an interaction's timeline in chronological order.
func (s *Store) ListByInteraction(ctx context.Context, profileID, interactionID string, limit int) ([]*timeline.Item, error) {
	return s.list(ctx, profileID, `
		WHERE profile_id = ? AND interaction_id = ?
		ORDER BY created_at ASC, id ASC LIMIT ?`, interactionID, clampLimit(limit))
}

// CountPending counts items still waiting on the sync worker.
func (s *Store) CountPending(ctx context.Context, profileID string) (int, error) {
	return s.count(ctx, profileID, `sync_status = 'pending' AND local_status = 'pending'`)
}

// CountFailed counts items waiting for a user retry.
func (s *Store) CountFailed(ctx context.Context, profileID string) (int, error) {
	return s.count(ctx, profileID, `sync_status = 'pending' AND local_status = 'failed'`)
}

// list runs a profile-scoped SELECT. The first argument is always the profile id.
func (s *Store) list(ctx context.Context, profileID, where string, args ...any) ([]*timeline.Item, error) {
	if strings.TrimSpace(profileID) == "" {
		s.log.Warn().Msg("unscoped read refused: empty profile id")
		return []*timeline.Item{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM timeline_items `+where,
		append([]any{profileID}, args...)...)
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	defer rows.Close()

	items := make([]*timeline.Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, errors.NewStorage(err)
		}
		// Second check in case a query above ever loses its profile filter.
		if item.ProfileID != profileID {
			s.log.Error().Str("item_id", item.ID).Msg("cross-profile row dropped")
			continue
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage(err)
	}
	return items, nil
}

func (s *Store) count(ctx context.Context, profileID, where string) (int, error) {
	if strings.TrimSpace(profileID) == "" {
		s.log.Warn().Msg("unscoped count refused: empty profile id")
		return 0, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM timeline_items WHERE profile_id = ? AND `+where, profileID).Scan(&n)
	if err != nil {
		return 0, errors.NewStorage(err)
	}
	return n, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanItem scans a single row into an Item with the body matching item_type.
func scanItem(row rowScanner) (*timeline.Item, error) {
	var (
		item                                                      timeline.Item
		itemType, syncStatus, localStatus                         string
		serverID, toEntity, content, messageType                  sql.NullString
		amount                                                    sql.NullFloat64
		currencyID, currencyCode, currencySymbol, txType, fromWal sql.NullString
		toWallet, lastError, metadata                             sql.NullString
		nextAttemptAt                                             sql.NullInt64
	)

	err := row.Scan(
		&item.ID, &serverID, &item.InteractionID, &item.ProfileID, &itemType,
		&item.FromEntityID, &toEntity, &content, &messageType,
		&amount, &currencyID, &currencyCode, &currencySymbol, &txType,
		&fromWal, &toWallet, &syncStatus, &localStatus,
		&item.RetryCount, &lastError, &nextAttemptAt, &metadata,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.ServerID = fromNullString(serverID)
	item.ToEntityID = fromNullString(toEntity)
	item.LastError = fromNullString(lastError)
	item.SyncStatus = timeline.SyncStatus(syncStatus)
	item.LocalStatus = timeline.LocalStatus(localStatus)
	if nextAttemptAt.Valid {
		item.NextAttemptAt = &nextAttemptAt.Int64
	}
	if metadata.Valid && metadata.String != "" {
		item.Metadata = []byte(metadata.String)
	}

	switch timeline.ItemType(itemType) {
	case timeline.TypeMessage:
		item.Body = &timeline.Message{
			Content:     content.String,
			MessageType: messageType.String,
		}
	case timeline.TypeTransaction:
		item.Body = &timeline.Transaction{
			Amount:          amount.Float64,
			CurrencyID:      currencyID.String,
			CurrencyCode:    currencyCode.String,
			CurrencySymbol:  currencySymbol.String,
			TransactionType: txType.String,
			FromWalletID:    fromWal.String,
			ToWalletID:      fromNullString(toWallet),
		}
	}

	return &item, nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE or PRIMARY KEY violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func toNullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// fromNullString converts a sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
