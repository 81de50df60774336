package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heraldhq/herald/internal/ruleengine"
)

// Compile-time check to verify that PostgresStore implements Repository.
// If the interface changes and the struct doesn't, the build fails here.
var _ Repository = (*PostgresStore)(nil)

// PostgreSQL error codes mapped to store errors.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgInvalidTextRepr     = "22P02"
)

// PostgresStore is the implementation of Repository backed by PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new repository instance with the given connection pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	return &PostgresStore{db: db}
}

// mapError translates driver errors into store sentinels.
// A malformed UUID can never match a row, so it is reported as not found.
func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %s", ErrInvalidReference, pgErr.ConstraintName)
		case pgInvalidTextRepr:
			return ErrNotFound
		}
	}
	return err
}

// --- Accounts ---

func (s *PostgresStore) CreateAccount(ctx context.Context, a *Account) error {
	query := `
		INSERT INTO accounts (name, api_key_hash)
		VALUES ($1, $2)
		RETURNING id, created_at
	`
	if err := s.db.QueryRow(ctx, query, a.Name, a.APIKeyHash).Scan(&a.ID, &a.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert account: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	query := `SELECT id, name, api_key_hash, created_at FROM accounts WHERE id = $1`

	var a Account
	if err := s.db.QueryRow(ctx, query, id).Scan(&a.ID, &a.Name, &a.APIKeyHash, &a.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to get account: %w", mapError(err))
	}
	return &a, nil
}

func (s *PostgresStore) GetAccountByAPIKeyHash(ctx context.Context, hash string) (*Account, error) {
	query := `SELECT id, name, api_key_hash, created_at FROM accounts WHERE api_key_hash = $1`

	var a Account
	if err := s.db.QueryRow(ctx, query, hash).Scan(&a.ID, &a.Name, &a.APIKeyHash, &a.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to get account by api key: %w", mapError(err))
	}
	return &a, nil
}

// --- Segments ---

// CreateSegment inserts the segment and its ordered rules in a single transaction.
func (s *PostgresStore) CreateSegment(ctx context.Context, seg *Segment) error {
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		query := `
			INSERT INTO segments (account_id, name)
			VALUES ($1, $2)
			RETURNING id, created_at, updated_at
		`
		if err := tx.QueryRow(ctx, query, seg.AccountID, seg.Name).Scan(&seg.ID, &seg.CreatedAt, &seg.UpdatedAt); err != nil {
			return err
		}
		return insertRules(ctx, tx, seg.ID, seg.Rules)
	})
	if err != nil {
		return fmt.Errorf("failed to insert segment: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStore) GetSegment(ctx context.Context, accountID, id string) (*Segment, error) {
	query := `
		SELECT id, account_id, name, created_at, updated_at
		FROM segments
		WHERE id = $1 AND account_id = $2
	`
	var seg Segment
	err := s.db.QueryRow(ctx, query, id, accountID).Scan(&seg.ID, &seg.AccountID, &seg.Name, &seg.CreatedAt, &seg.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get segment: %w", mapError(err))
	}

	rules, err := s.loadRules(ctx, []string{seg.ID})
	if err != nil {
		return nil, err
	}
	seg.Rules = nonNilRules(rules[seg.ID])
	return &seg, nil
}

func (s *PostgresStore) ListSegments(ctx context.Context, accountID string) ([]*Segment, error) {
	query := `
		SELECT id, account_id, name, created_at, updated_at
		FROM segments
		WHERE account_id = $1
		ORDER BY created_at DESC, id
	`
	rows, err := s.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", mapError(err))
	}
	defer rows.Close()

	segments := make([]*Segment, 0)
	ids := make([]string, 0)
	for rows.Next() {
		var seg Segment
		if err := rows.Scan(&seg.ID, &seg.AccountID, &seg.Name, &seg.CreatedAt, &seg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan segment row: %w", err)
		}
		segments = append(segments, &seg)
		ids = append(ids, seg.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	if len(ids) == 0 {
		return segments, nil
	}

	rules, err := s.loadRules(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, seg := range segments {
		seg.Rules = nonNilRules(rules[seg.ID])
	}
	return segments, nil
}

// ReplaceSegment renames the segment and rewrites its rules in one transaction.
func (s *PostgresStore) ReplaceSegment(ctx context.Context, seg *Segment) error {
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		query := `
			UPDATE segments
			SET name = $3, updated_at = now()
			WHERE id = $1 AND account_id = $2
			RETURNING created_at, updated_at
		`
		if err := tx.QueryRow(ctx, query, seg.ID, seg.AccountID, seg.Name).Scan(&seg.CreatedAt, &seg.UpdatedAt); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM segment_rules WHERE segment_id = $1`, seg.ID); err != nil {
			return err
		}
		return insertRules(ctx, tx, seg.ID, seg.Rules)
	})
	if err != nil {
		return fmt.Errorf("failed to replace segment: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStore) DeleteSegment(ctx context.Context, accountID, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM segments WHERE id = $1 AND account_id = $2`, id, accountID)
	if err != nil {
		return fmt.Errorf("failed to delete segment: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to delete segment: %w", ErrNotFound)
	}
	return nil
}

func insertRules(ctx context.Context, tx pgx.Tx, segmentID string, rules []ruleengine.FilterRule) error {
	if len(rules) == 0 {
		return nil
	}

	query := `
		INSERT INTO segment_rules (segment_id, position, field, operator, value)
		VALUES ($1, $2, $3, $4, $5)
	`
	batch := &pgx.Batch{}
	for i, r := range rules {
		value := r.Value
		if value == nil {
			value = []string{}
		}
		batch.Queue(query, segmentID, i, r.Field, string(r.Operator), value)
	}
	return tx.SendBatch(ctx, batch).Close()
}

// loadRules fetches the ordered rules of several segments in one round trip.
func (s *PostgresStore) loadRules(ctx context.Context, segmentIDs []string) (map[string][]ruleengine.FilterRule, error) {
	query := `
		SELECT segment_id, field, operator, value
		FROM segment_rules
		WHERE segment_id = ANY($1::uuid[])
		ORDER BY segment_id, position
	`
	rows, err := s.db.Query(ctx, query, segmentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load segment rules: %w", mapError(err))
	}
	defer rows.Close()

	out := make(map[string][]ruleengine.FilterRule, len(segmentIDs))
	for rows.Next() {
		var (
			segmentID string
			r         ruleengine.FilterRule
			op        string
		)
		if err := rows.Scan(&segmentID, &r.Field, &op, &r.Value); err != nil {
			return nil, fmt.Errorf("failed to scan rule row: %w", err)
		}
		r.Operator = ruleengine.Operator(op)
		out[segmentID] = append(out[segmentID], r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

func nonNilRules(rules []ruleengine.FilterRule) []ruleengine.FilterRule {
	if rules == nil {
		return []ruleengine.FilterRule{}
	}
	return rules
}

// --- Notifications ---

const notificationColumns = `
	id, account_id, name, lang, type, position, status, title, body,
	cta_text, cta_url, image_url, background_color, text_color, cta_color,
	auto_dismiss_seconds, is_dismissable, is_sticky, starts_at, ends_at,
	max_views_per_user, repeat_policy, created_at, updated_at
`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(
		&n.ID, &n.AccountID, &n.Name, &n.Lang, &n.Type, &n.Position, &n.Status, &n.Title, &n.Body,
		&n.CTAText, &n.CTAURL, &n.ImageURL, &n.BackgroundColor, &n.TextColor, &n.CTAColor,
		&n.AutoDismissSeconds, &n.IsDismissable, &n.IsSticky, &n.StartsAt, &n.EndsAt,
		&n.MaxViewsPerUser, &n.RepeatPolicy, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *PostgresStore) queryNotifications(ctx context.Context, query string, args ...any) ([]*Notification, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make([]*Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification row: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

// CreateNotification inserts the notification and links its segments in one transaction.
func (s *PostgresStore) CreateNotification(ctx context.Context, n *Notification) error {
	n.ApplyDefaults()

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		query := `
			INSERT INTO notifications (
				account_id, name, lang, type, position, status, title, body,
				cta_text, cta_url, image_url, background_color, text_color, cta_color,
				auto_dismiss_seconds, is_dismissable, is_sticky, starts_at, ends_at,
				max_views_per_user, repeat_policy
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
			RETURNING id, created_at, updated_at
		`
		err := tx.QueryRow(ctx, query,
			n.AccountID, n.Name, n.Lang, n.Type, n.Position, n.Status, n.Title, n.Body,
			n.CTAText, n.CTAURL, n.ImageURL, n.BackgroundColor, n.TextColor, n.CTAColor,
			n.AutoDismissSeconds, n.IsDismissable, n.IsSticky, n.StartsAt, n.EndsAt,
			n.MaxViewsPerUser, n.RepeatPolicy,
		).Scan(&n.ID, &n.CreatedAt, &n.UpdatedAt)
		if err != nil {
			return err
		}
		return linkSegments(ctx, tx, n)
	})
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", mapError(err))
	}
	return s.resolveTargeting(ctx, []*Notification{n})
}

func (s *PostgresStore) GetNotification(ctx context.Context, accountID, id string) (*Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1 AND account_id = $2`

	n, err := scanNotification(s.db.QueryRow(ctx, query, id, accountID))
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", mapError(err))
	}
	if err := s.resolveTargeting(ctx, []*Notification{n}); err != nil {
		return nil, err
	}
	return n, nil
}

// ListNotifications retrieves a page of notifications.
// It executes two queries: one for the total count and one for the data.
func (s *PostgresStore) ListNotifications(ctx context.Context, accountID string, filter NotificationFilter) ([]*Notification, int64, error) {
	var total int64
	countQuery := `SELECT count(*) FROM notifications WHERE account_id = $1 AND ($2 = '' OR status = $2)`
	if err := s.db.QueryRow(ctx, countQuery, accountID, string(filter.Status)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", mapError(err))
	}

	if total == 0 {
		return []*Notification{}, 0, nil
	}

	query := `SELECT ` + notificationColumns + `
		FROM notifications
		WHERE account_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4
	`
	list, err := s.queryNotifications(ctx, query, accountID, string(filter.Status), filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	if err := s.resolveTargeting(ctx, list); err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// ListCandidateNotifications drops what can never be live again in SQL.
// Scheduled rows are kept before their start, so a cached list stays valid
// as time passes. The delivery pipeline applies the full window in Go.
func (s *PostgresStore) ListCandidateNotifications(ctx context.Context, accountID string, now time.Time) ([]*Notification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM notifications
		WHERE account_id = $1
		  AND (
		        status = 'active'
		     OR (status = 'scheduled' AND starts_at IS NOT NULL)
		  )
		  AND (ends_at IS NULL OR ends_at >= $2)
		ORDER BY created_at, id
	`
	list, err := s.queryNotifications(ctx, query, accountID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidate notifications: %w", err)
	}
	if err := s.resolveTargeting(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

// UpdateNotification overwrites the notification and relinks its segments in one transaction.
func (s *PostgresStore) UpdateNotification(ctx context.Context, n *Notification) error {
	n.ApplyDefaults()

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		query := `
			UPDATE notifications SET
				name = $3, lang = $4, type = $5, position = $6, status = $7, title = $8, body = $9,
				cta_text = $10, cta_url = $11, image_url = $12, background_color = $13, text_color = $14,
				cta_color = $15, auto_dismiss_seconds = $16, is_dismissable = $17, is_sticky = $18,
				starts_at = $19, ends_at = $20, max_views_per_user = $21, repeat_policy = $22,
				updated_at = now()
			WHERE id = $1 AND account_id = $2
			RETURNING created_at, updated_at
		`
		err := tx.QueryRow(ctx, query,
			n.ID, n.AccountID,
			n.Name, n.Lang, n.Type, n.Position, n.Status, n.Title, n.Body,
			n.CTAText, n.CTAURL, n.ImageURL, n.BackgroundColor, n.TextColor,
			n.CTAColor, n.AutoDismissSeconds, n.IsDismissable, n.IsSticky,
			n.StartsAt, n.EndsAt, n.MaxViewsPerUser, n.RepeatPolicy,
		).Scan(&n.CreatedAt, &n.UpdatedAt)
		if err != nil {
			return err
		}

		for _, table := range []string{"notification_segments", "notification_exclusions"} {
			if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE notification_id = $1`, n.ID); err != nil {
				return err
			}
		}
		return linkSegments(ctx, tx, n)
	})
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", mapError(err))
	}
	return s.resolveTargeting(ctx, []*Notification{n})
}

func (s *PostgresStore) UpdateNotificationStatus(ctx context.Context, accountID, id string, status NotificationStatus) (*Notification, error) {
	query := `
		UPDATE notifications
		SET status = $3, updated_at = now()
		WHERE id = $1 AND account_id = $2
		RETURNING ` + notificationColumns

	n, err := scanNotification(s.db.QueryRow(ctx, query, id, accountID, status))
	if err != nil {
		return nil, fmt.Errorf("failed to update notification status: %w", mapError(err))
	}
	if err := s.resolveTargeting(ctx, []*Notification{n}); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *PostgresStore) DeleteNotification(ctx context.Context, accountID, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM notifications WHERE id = $1 AND account_id = $2`, id, accountID)
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to delete notification: %w", ErrNotFound)
	}
	return nil
}

// linkSegments writes the include/exclude join rows.
// Segments are joined through the account so a foreign id links nothing and is rejected.
func linkSegments(ctx context.Context, tx pgx.Tx, n *Notification) error {
	links := []struct {
		table string
		ids   []string
	}{
		{"notification_segments", uniqueIDs(n.IncludeSegments)},
		{"notification_exclusions", uniqueIDs(n.ExcludeSegments)},
	}

	for _, link := range links {
		if len(link.ids) == 0 {
			continue
		}
		query := `
			INSERT INTO ` + link.table + ` (notification_id, segment_id)
			SELECT $1, s.id FROM segments s
			WHERE s.id = ANY($2::uuid[]) AND s.account_id = $3
		`
		tag, err := tx.Exec(ctx, query, n.ID, link.ids, n.AccountID)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgInvalidTextRepr {
				return fmt.Errorf("%w: malformed segment id", ErrInvalidReference)
			}
			return err
		}
		if tag.RowsAffected() != int64(len(link.ids)) {
			return fmt.Errorf("%w: unknown segment in %s", ErrInvalidReference, link.table)
		}
	}
	return nil
}

func uniqueIDs(segs []ruleengine.Segment) []string {
	seen := make(map[string]struct{}, len(segs))
	ids := make([]string, 0, len(segs))
	for _, s := range segs {
		if _, ok := seen[s.ID]; ok {
			continue
		}
		seen[s.ID] = struct{}{}
		ids = append(ids, s.ID)
	}
	return ids
}

// resolveTargeting loads the include/exclude segments, with rules, of the given notifications.
func (s *PostgresStore) resolveTargeting(ctx context.Context, list []*Notification) error {
	if len(list) == 0 {
		return nil
	}

	byID := make(map[string]*Notification, len(list))
	ids := make([]string, 0, len(list))
	for _, n := range list {
		n.IncludeSegments = []ruleengine.Segment{}
		n.ExcludeSegments = []ruleengine.Segment{}
		byID[n.ID] = n
		ids = append(ids, n.ID)
	}

	query := `
		SELECT l.notification_id, l.exclude, s.id, s.name
		FROM (
			SELECT notification_id, segment_id, false AS exclude FROM notification_segments WHERE notification_id = ANY($1::uuid[])
			UNION ALL
			SELECT notification_id, segment_id, true AS exclude FROM notification_exclusions WHERE notification_id = ANY($1::uuid[])
		) l
		JOIN segments s ON s.id = l.segment_id
		ORDER BY s.created_at, s.id
	`
	rows, err := s.db.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("failed to load targeting: %w", mapError(err))
	}
	defer rows.Close()

	type link struct {
		notificationID string
		exclude        bool
		segment        ruleengine.Segment
	}
	links := make([]link, 0)
	segmentIDs := make([]string, 0)
	seen := make(map[string]struct{})
	for rows.Next() {
		var l link
		if err := rows.Scan(&l.notificationID, &l.exclude, &l.segment.ID, &l.segment.Name); err != nil {
			return fmt.Errorf("failed to scan targeting row: %w", err)
		}
		links = append(links, l)
		if _, ok := seen[l.segment.ID]; !ok {
			seen[l.segment.ID] = struct{}{}
			segmentIDs = append(segmentIDs, l.segment.ID)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows iteration error: %w", err)
	}
	rows.Close()

	if len(segmentIDs) == 0 {
		return nil
	}

	rules, err := s.loadRules(ctx, segmentIDs)
	if err != nil {
		return err
	}

	for _, l := range links {
		seg := l.segment
		seg.Rules = nonNilRules(rules[seg.ID])
		n := byID[l.notificationID]
		if l.exclude {
			n.ExcludeSegments = append(n.ExcludeSegments, seg)
		} else {
			n.IncludeSegments = append(n.IncludeSegments, seg)
		}
	}
	return nil
}

// --- End users ---

// EnsureEndUser upserts on (account_id, external_id).
func (s *PostgresStore) EnsureEndUser(ctx context.Context, accountID, externalID string, attrs *ruleengine.UserAttributes) (*EndUser, error) {
	var (
		email   *string
		payload = []byte("{}")
		refresh = attrs != nil
	)
	if attrs != nil {
		email = attrs.Email
		raw, err := json.Marshal(attrs)
		if err != nil {
			return nil, fmt.Errorf("failed to encode end user attributes: %w", err)
		}
		payload = raw
	}

	query := `
		INSERT INTO end_users (account_id, external_id, email, attributes)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, external_id) DO UPDATE SET
			email      = CASE WHEN $5 THEN COALESCE(EXCLUDED.email, end_users.email) ELSE end_users.email END,
			attributes = CASE WHEN $5 THEN EXCLUDED.attributes ELSE end_users.attributes END,
			updated_at = now()
		RETURNING id, account_id, external_id, email, attributes, created_at, updated_at
	`
	var u EndUser
	err := s.db.QueryRow(ctx, query, accountID, externalID, email, payload, refresh).Scan(
		&u.ID, &u.AccountID, &u.ExternalID, &u.Email, &u.Attributes, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert end user: %w", mapError(err))
	}
	return &u, nil
}

// --- Impressions & clicks ---

const impressionColumns = `notification_id, user_id, view_count, is_dismissed, first_seen_at, last_seen_at`

func scanImpression(row pgx.Row) (*ImpressionRecord, error) {
	var r ImpressionRecord
	if err := row.Scan(&r.NotificationID, &r.UserID, &r.ViewCount, &r.IsDismissed, &r.FirstSeenAt, &r.LastSeenAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) ListImpressions(ctx context.Context, userID string, notificationIDs []string) (map[string]*ImpressionRecord, error) {
	out := make(map[string]*ImpressionRecord, len(notificationIDs))
	if len(notificationIDs) == 0 {
		return out, nil
	}

	query := `SELECT ` + impressionColumns + `
		FROM notification_impressions
		WHERE user_id = $1 AND notification_id = ANY($2::uuid[])
	`
	rows, err := s.db.Query(ctx, query, userID, notificationIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list impressions: %w", mapError(err))
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanImpression(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan impression row: %w", err)
		}
		out[r.NotificationID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

// IncrementView is a single INSERT ... ON CONFLICT statement, so concurrent
// first views of the same pair create exactly one row and lose no increment.
func (s *PostgresStore) IncrementView(ctx context.Context, notificationID, userID string, now time.Time) (*ImpressionRecord, error) {
	query := `
		INSERT INTO notification_impressions (notification_id, user_id, view_count, first_seen_at, last_seen_at)
		VALUES ($1, $2, 1, $3, $3)
		ON CONFLICT (notification_id, user_id) DO UPDATE SET
			view_count   = notification_impressions.view_count + 1,
			last_seen_at = EXCLUDED.last_seen_at
		RETURNING ` + impressionColumns

	r, err := scanImpression(s.db.QueryRow(ctx, query, notificationID, userID, now))
	if err != nil {
		return nil, fmt.Errorf("failed to record view: %w", mapError(err))
	}
	return r, nil
}

func (s *PostgresStore) MarkDismissed(ctx context.Context, notificationID, userID string, now time.Time) (*ImpressionRecord, error) {
	query := `
		INSERT INTO notification_impressions (notification_id, user_id, view_count, is_dismissed, first_seen_at, last_seen_at)
		VALUES ($1, $2, 0, true, $3, $3)
		ON CONFLICT (notification_id, user_id) DO UPDATE SET
			is_dismissed = true
		RETURNING ` + impressionColumns

	r, err := scanImpression(s.db.QueryRow(ctx, query, notificationID, userID, now))
	if err != nil {
		return nil, fmt.Errorf("failed to record dismissal: %w", mapError(err))
	}
	return r, nil
}

func (s *PostgresStore) AppendClick(ctx context.Context, c *ClickRecord) error {
	query := `
		INSERT INTO notification_clicks (notification_id, user_id, cta_url_snapshot, clicked_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
		RETURNING id, clicked_at
	`
	var clickedAt *time.Time
	if !c.ClickedAt.IsZero() {
		clickedAt = &c.ClickedAt
	}
	if err := s.db.QueryRow(ctx, query, c.NotificationID, c.UserID, c.CTAURLSnapshot, clickedAt).Scan(&c.ID, &c.ClickedAt); err != nil {
		return fmt.Errorf("failed to record click: %w", mapError(err))
	}
	return nil
}

// --- Analytics ---

func (s *PostgresStore) NotificationStats(ctx context.Context, notificationID string, since time.Time) (*NotificationStats, error) {
	stats := &NotificationStats{
		Impressions: []ImpressionRecord{},
		ClickTimes:  []time.Time{},
	}

	impQuery := `SELECT ` + impressionColumns + `
		FROM notification_impressions
		WHERE notification_id = $1 AND first_seen_at >= $2
	`
	rows, err := s.db.Query(ctx, impQuery, notificationID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load impressions: %w", mapError(err))
	}
	for rows.Next() {
		r, err := scanImpression(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan impression row: %w", err)
		}
		stats.Impressions = append(stats.Impressions, *r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	clickRows, err := s.db.Query(ctx,
		`SELECT clicked_at FROM notification_clicks WHERE notification_id = $1 AND clicked_at >= $2`,
		notificationID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load clicks: %w", mapError(err))
	}
	stats.ClickTimes, err = pgx.CollectRows(clickRows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, fmt.Errorf("failed to scan click rows: %w", err)
	}

	dismissQuery := `SELECT count(*) FROM notification_impressions WHERE notification_id = $1 AND is_dismissed`
	if err := s.db.QueryRow(ctx, dismissQuery, notificationID).Scan(&stats.Dismissals); err != nil {
		return nil, fmt.Errorf("failed to count dismissals: %w", mapError(err))
	}

	return stats, nil
}
