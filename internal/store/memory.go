package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/heraldhq/herald/internal/ruleengine"
)

var _ Repository = (*MemoryStore)(nil)

type impressionKey struct {
	notificationID string
	userID         string
}

// notificationRow keeps targeting by reference so segment edits are visible to readers.
type notificationRow struct {
	n          Notification
	includeIDs []string
	excludeIDs []string
	seq        int64
}

type segmentRow struct {
	s   Segment
	seq int64
}

// MemoryStore is a goroutine-safe Repository kept entirely in process memory.
// Impression upserts go through xsync.Map.Compute, which runs the update
// under the bucket lock, so increment-or-create is atomic per key.
type MemoryStore struct {
	accounts      *xsync.Map[string, Account]
	apiKeys       *xsync.Map[string, string]
	segments      *xsync.Map[string, segmentRow]
	notifications *xsync.Map[string, notificationRow]
	endUsers      *xsync.Map[string, EndUser]
	impressions   *xsync.Map[impressionKey, ImpressionRecord]
	clicks        *xsync.Map[string, []ClickRecord]

	seq atomic.Int64
	now func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source used for server-assigned timestamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		m.now = now
	}
}

// NewMemoryStore creates an empty in-memory repository.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		accounts:      xsync.NewMap[string, Account](),
		apiKeys:       xsync.NewMap[string, string](),
		segments:      xsync.NewMap[string, segmentRow](),
		notifications: xsync.NewMap[string, notificationRow](),
		endUsers:      xsync.NewMap[string, EndUser](),
		impressions:   xsync.NewMap[impressionKey, ImpressionRecord](),
		clicks:        xsync.NewMap[string, []ClickRecord](),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryStore) nextSeq() int64 {
	return m.seq.Add(1)
}

// --- Accounts ---

func (m *MemoryStore) CreateAccount(_ context.Context, a *Account) error {
	id := uuid.NewString()
	if _, loaded := m.apiKeys.LoadOrStore(a.APIKeyHash, id); loaded {
		return fmt.Errorf("failed to insert account: %w: api key", ErrConflict)
	}
	a.ID = id
	a.CreatedAt = m.now()
	m.accounts.Store(id, *a)
	return nil
}

func (m *MemoryStore) GetAccount(_ context.Context, id string) (*Account, error) {
	a, ok := m.accounts.Load(id)
	if !ok {
		return nil, fmt.Errorf("failed to get account: %w", ErrNotFound)
	}
	return &a, nil
}

func (m *MemoryStore) GetAccountByAPIKeyHash(ctx context.Context, hash string) (*Account, error) {
	id, ok := m.apiKeys.Load(hash)
	if !ok {
		return nil, fmt.Errorf("failed to get account by api key: %w", ErrNotFound)
	}
	return m.GetAccount(ctx, id)
}

// --- Segments ---

func cloneRules(rules []ruleengine.FilterRule) []ruleengine.FilterRule {
	out := make([]ruleengine.FilterRule, len(rules))
	for i, r := range rules {
		out[i] = ruleengine.FilterRule{
			Field:    r.Field,
			Operator: r.Operator,
			Value:    append([]string{}, r.Value...),
		}
	}
	return out
}

func (m *MemoryStore) CreateSegment(_ context.Context, s *Segment) error {
	if _, ok := m.accounts.Load(s.AccountID); !ok {
		return fmt.Errorf("failed to insert segment: %w: account", ErrInvalidReference)
	}
	now := m.now()
	s.ID = uuid.NewString()
	s.CreatedAt = now
	s.UpdatedAt = now
	s.Rules = cloneRules(s.Rules)

	row := segmentRow{s: *s, seq: m.nextSeq()}
	row.s.Rules = cloneRules(s.Rules)
	m.segments.Store(s.ID, row)
	return nil
}

func (m *MemoryStore) GetSegment(_ context.Context, accountID, id string) (*Segment, error) {
	row, ok := m.segments.Load(id)
	if !ok || row.s.AccountID != accountID {
		return nil, fmt.Errorf("failed to get segment: %w", ErrNotFound)
	}
	out := row.s
	out.Rules = cloneRules(row.s.Rules)
	return &out, nil
}

func (m *MemoryStore) ListSegments(_ context.Context, accountID string) ([]*Segment, error) {
	rows := make([]segmentRow, 0)
	m.segments.Range(func(_ string, row segmentRow) bool {
		if row.s.AccountID == accountID {
			rows = append(rows, row)
		}
		return true
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq > rows[j].seq })

	out := make([]*Segment, len(rows))
	for i, row := range rows {
		s := row.s
		s.Rules = cloneRules(row.s.Rules)
		out[i] = &s
	}
	return out, nil
}

func (m *MemoryStore) ReplaceSegment(_ context.Context, s *Segment) error {
	var found bool
	m.segments.Compute(s.ID, func(old segmentRow, loaded bool) (segmentRow, xsync.ComputeOp) {
		if !loaded || old.s.AccountID != s.AccountID {
			return old, xsync.CancelOp
		}
		found = true
		old.s.Name = s.Name
		old.s.Rules = cloneRules(s.Rules)
		old.s.UpdatedAt = m.now()

		s.CreatedAt = old.s.CreatedAt
		s.UpdatedAt = old.s.UpdatedAt
		return old, xsync.UpdateOp
	})
	if !found {
		return fmt.Errorf("failed to replace segment: %w", ErrNotFound)
	}
	s.Rules = cloneRules(s.Rules)
	return nil
}

// DeleteSegment removes the segment and unlinks it from every notification.
func (m *MemoryStore) DeleteSegment(_ context.Context, accountID, id string) error {
	var found bool
	m.segments.Compute(id, func(old segmentRow, loaded bool) (segmentRow, xsync.ComputeOp) {
		if !loaded || old.s.AccountID != accountID {
			return old, xsync.CancelOp
		}
		found = true
		return old, xsync.DeleteOp
	})
	if !found {
		return fmt.Errorf("failed to delete segment: %w", ErrNotFound)
	}

	m.notifications.Range(func(key string, row notificationRow) bool {
		if row.n.AccountID != accountID {
			return true
		}
		m.notifications.Compute(key, func(old notificationRow, loaded bool) (notificationRow, xsync.ComputeOp) {
			if !loaded {
				return old, xsync.CancelOp
			}
			old.includeIDs = without(old.includeIDs, id)
			old.excludeIDs = without(old.excludeIDs, id)
			return old, xsync.UpdateOp
		})
		return true
	})
	return nil
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// --- Notifications ---

func (m *MemoryStore) checkSegments(accountID string, segs []ruleengine.Segment) ([]string, error) {
	ids := uniqueIDs(segs)
	for _, id := range ids {
		row, ok := m.segments.Load(id)
		if !ok || row.s.AccountID != accountID {
			return nil, fmt.Errorf("%w: unknown segment %q", ErrInvalidReference, id)
		}
	}
	return ids, nil
}

func (m *MemoryStore) resolve(ids []string) []ruleengine.Segment {
	out := make([]ruleengine.Segment, 0, len(ids))
	for _, id := range ids {
		row, ok := m.segments.Load(id)
		if !ok {
			continue
		}
		out = append(out, ruleengine.Segment{ID: row.s.ID, Name: row.s.Name, Rules: cloneRules(row.s.Rules)})
	}
	return out
}

func (m *MemoryStore) materialize(row notificationRow) *Notification {
	n := row.n
	n.IncludeSegments = m.resolve(row.includeIDs)
	n.ExcludeSegments = m.resolve(row.excludeIDs)
	return &n
}

func (m *MemoryStore) CreateNotification(_ context.Context, n *Notification) error {
	if _, ok := m.accounts.Load(n.AccountID); !ok {
		return fmt.Errorf("failed to insert notification: %w: account", ErrInvalidReference)
	}
	include, err := m.checkSegments(n.AccountID, n.IncludeSegments)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	exclude, err := m.checkSegments(n.AccountID, n.ExcludeSegments)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}

	n.ApplyDefaults()
	now := m.now()
	n.ID = uuid.NewString()
	n.CreatedAt = now
	n.UpdatedAt = now

	row := notificationRow{n: *n, includeIDs: include, excludeIDs: exclude, seq: m.nextSeq()}
	row.n.IncludeSegments = nil
	row.n.ExcludeSegments = nil
	m.notifications.Store(n.ID, row)

	resolved := m.materialize(row)
	n.IncludeSegments = resolved.IncludeSegments
	n.ExcludeSegments = resolved.ExcludeSegments
	return nil
}

func (m *MemoryStore) GetNotification(_ context.Context, accountID, id string) (*Notification, error) {
	row, ok := m.notifications.Load(id)
	if !ok || row.n.AccountID != accountID {
		return nil, fmt.Errorf("failed to get notification: %w", ErrNotFound)
	}
	return m.materialize(row), nil
}

func (m *MemoryStore) accountRows(accountID string, keep func(*Notification) bool) []notificationRow {
	rows := make([]notificationRow, 0)
	m.notifications.Range(func(_ string, row notificationRow) bool {
		if row.n.AccountID == accountID && keep(&row.n) {
			rows = append(rows, row)
		}
		return true
	})
	return rows
}

func (m *MemoryStore) ListNotifications(_ context.Context, accountID string, filter NotificationFilter) ([]*Notification, int64, error) {
	rows := m.accountRows(accountID, func(n *Notification) bool {
		return filter.Status == "" || n.Status == filter.Status
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq > rows[j].seq })

	total := int64(len(rows))
	start := min(max(filter.Offset, 0), len(rows))
	end := len(rows)
	if filter.Limit > 0 {
		end = min(start+filter.Limit, len(rows))
	}

	out := make([]*Notification, 0, end-start)
	for _, row := range rows[start:end] {
		out = append(out, m.materialize(row))
	}
	return out, total, nil
}

// ListCandidateNotifications mirrors the SQL pre-filter of the Postgres store.
func (m *MemoryStore) ListCandidateNotifications(_ context.Context, accountID string, now time.Time) ([]*Notification, error) {
	rows := m.accountRows(accountID, func(n *Notification) bool {
		if n.EndsAt != nil && n.EndsAt.Before(now) {
			return false
		}
		switch n.Status {
		case StatusActive:
			return true
		case StatusScheduled:
			return n.StartsAt != nil
		}
		return false
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	out := make([]*Notification, len(rows))
	for i, row := range rows {
		out[i] = m.materialize(row)
	}
	return out, nil
}

func (m *MemoryStore) UpdateNotification(_ context.Context, n *Notification) error {
	include, err := m.checkSegments(n.AccountID, n.IncludeSegments)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	exclude, err := m.checkSegments(n.AccountID, n.ExcludeSegments)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	n.ApplyDefaults()

	var (
		found   bool
		updated notificationRow
	)
	m.notifications.Compute(n.ID, func(old notificationRow, loaded bool) (notificationRow, xsync.ComputeOp) {
		if !loaded || old.n.AccountID != n.AccountID {
			return old, xsync.CancelOp
		}
		found = true
		next := *n
		next.CreatedAt = old.n.CreatedAt
		next.UpdatedAt = m.now()
		next.IncludeSegments = nil
		next.ExcludeSegments = nil
		updated = notificationRow{n: next, includeIDs: include, excludeIDs: exclude, seq: old.seq}
		return updated, xsync.UpdateOp
	})
	if !found {
		return fmt.Errorf("failed to update notification: %w", ErrNotFound)
	}

	resolved := m.materialize(updated)
	*n = *resolved
	return nil
}

func (m *MemoryStore) UpdateNotificationStatus(_ context.Context, accountID, id string, status NotificationStatus) (*Notification, error) {
	var (
		found   bool
		updated notificationRow
	)
	m.notifications.Compute(id, func(old notificationRow, loaded bool) (notificationRow, xsync.ComputeOp) {
		if !loaded || old.n.AccountID != accountID {
			return old, xsync.CancelOp
		}
		found = true
		old.n.Status = status
		old.n.UpdatedAt = m.now()
		updated = old
		return old, xsync.UpdateOp
	})
	if !found {
		return nil, fmt.Errorf("failed to update notification status: %w", ErrNotFound)
	}
	return m.materialize(updated), nil
}

func (m *MemoryStore) DeleteNotification(_ context.Context, accountID, id string) error {
	var found bool
	m.notifications.Compute(id, func(old notificationRow, loaded bool) (notificationRow, xsync.ComputeOp) {
		if !loaded || old.n.AccountID != accountID {
			return old, xsync.CancelOp
		}
		found = true
		return old, xsync.DeleteOp
	})
	if !found {
		return fmt.Errorf("failed to delete notification: %w", ErrNotFound)
	}

	m.impressions.Range(func(key impressionKey, _ ImpressionRecord) bool {
		if key.notificationID == id {
			m.impressions.Delete(key)
		}
		return true
	})
	m.clicks.Delete(id)
	return nil
}

// --- End users ---

func endUserKey(accountID, externalID string) string {
	return accountID + "\x00" + externalID
}

func (m *MemoryStore) EnsureEndUser(_ context.Context, accountID, externalID string, attrs *ruleengine.UserAttributes) (*EndUser, error) {
	var payload []byte
	if attrs != nil {
		raw, err := json.Marshal(attrs)
		if err != nil {
			return nil, fmt.Errorf("failed to encode end user attributes: %w", err)
		}
		payload = raw
	}

	now := m.now()
	u, _ := m.endUsers.Compute(endUserKey(accountID, externalID), func(old EndUser, loaded bool) (EndUser, xsync.ComputeOp) {
		if !loaded {
			old = EndUser{
				ID:         uuid.NewString(),
				AccountID:  accountID,
				ExternalID: externalID,
				Attributes: []byte("{}"),
				CreatedAt:  now,
			}
		}
		if attrs != nil {
			if attrs.Email != nil {
				email := *attrs.Email
				old.Email = &email
			}
			old.Attributes = payload
		}
		old.UpdatedAt = now
		return old, xsync.UpdateOp
	})
	return &u, nil
}

// --- Impressions & clicks ---

func (m *MemoryStore) ListImpressions(_ context.Context, userID string, notificationIDs []string) (map[string]*ImpressionRecord, error) {
	out := make(map[string]*ImpressionRecord, len(notificationIDs))
	for _, id := range notificationIDs {
		if r, ok := m.impressions.Load(impressionKey{notificationID: id, userID: userID}); ok {
			out[id] = &r
		}
	}
	return out, nil
}

func (m *MemoryStore) IncrementView(_ context.Context, notificationID, userID string, now time.Time) (*ImpressionRecord, error) {
	key := impressionKey{notificationID: notificationID, userID: userID}
	r, _ := m.impressions.Compute(key, func(old ImpressionRecord, loaded bool) (ImpressionRecord, xsync.ComputeOp) {
		if !loaded {
			return ImpressionRecord{
				NotificationID: notificationID,
				UserID:         userID,
				ViewCount:      1,
				FirstSeenAt:    now,
				LastSeenAt:     now,
			}, xsync.UpdateOp
		}
		old.ViewCount++
		old.LastSeenAt = now
		return old, xsync.UpdateOp
	})
	return &r, nil
}

func (m *MemoryStore) MarkDismissed(_ context.Context, notificationID, userID string, now time.Time) (*ImpressionRecord, error) {
	key := impressionKey{notificationID: notificationID, userID: userID}
	r, _ := m.impressions.Compute(key, func(old ImpressionRecord, loaded bool) (ImpressionRecord, xsync.ComputeOp) {
		if !loaded {
			return ImpressionRecord{
				NotificationID: notificationID,
				UserID:         userID,
				IsDismissed:    true,
				FirstSeenAt:    now,
				LastSeenAt:     now,
			}, xsync.UpdateOp
		}
		old.IsDismissed = true
		return old, xsync.UpdateOp
	})
	return &r, nil
}

func (m *MemoryStore) AppendClick(_ context.Context, c *ClickRecord) error {
	c.ID = uuid.NewString()
	if c.ClickedAt.IsZero() {
		c.ClickedAt = m.now()
	}
	record := *c
	m.clicks.Compute(c.NotificationID, func(old []ClickRecord, _ bool) ([]ClickRecord, xsync.ComputeOp) {
		next := make([]ClickRecord, len(old), len(old)+1)
		copy(next, old)
		return append(next, record), xsync.UpdateOp
	})
	return nil
}

// --- Analytics ---

func (m *MemoryStore) NotificationStats(_ context.Context, notificationID string, since time.Time) (*NotificationStats, error) {
	stats := &NotificationStats{
		Impressions: []ImpressionRecord{},
		ClickTimes:  []time.Time{},
	}

	m.impressions.Range(func(key impressionKey, r ImpressionRecord) bool {
		if key.notificationID != notificationID {
			return true
		}
		if r.IsDismissed {
			stats.Dismissals++
		}
		if !r.FirstSeenAt.Before(since) {
			stats.Impressions = append(stats.Impressions, r)
		}
		return true
	})

	clicks, _ := m.clicks.Load(notificationID)
	for _, c := range clicks {
		if !c.ClickedAt.Before(since) {
			stats.ClickTimes = append(stats.ClickTimes, c.ClickedAt)
		}
	}
	return stats, nil
}
