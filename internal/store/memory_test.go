package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldhq/herald/internal/ruleengine"
)

func newSeededStore(t *testing.T) (*MemoryStore, *Account) {
	t.Helper()

	m := NewMemoryStore()
	acc := &Account{Name: "Acme", APIKeyHash: "hash-acme"}
	require.NoError(t, m.CreateAccount(context.Background(), acc))
	return m, acc
}

func TestMemoryStore_Accounts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m, acc := newSeededStore(t)

	got, err := m.GetAccountByAPIKeyHash(ctx, "hash-acme")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, got.ID)

	_, err = m.GetAccountByAPIKeyHash(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	dup := &Account{Name: "Other", APIKeyHash: "hash-acme"}
	assert.ErrorIs(t, m.CreateAccount(ctx, dup), ErrConflict)
}

func TestMemoryStore_SegmentLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m, acc := newSeededStore(t)

	seg := &Segment{
		AccountID: acc.ID,
		Name:      "Pro users",
		Rules:     []ruleengine.FilterRule{{Field: "plan", Operator: ruleengine.OpIn, Value: []string{"pro"}}},
	}
	require.NoError(t, m.CreateSegment(ctx, seg))
	require.NotEmpty(t, seg.ID)

	t.Run("Should isolate segments by account", func(t *testing.T) {
		_, err := m.GetSegment(ctx, "other-account", seg.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Should rewrite rules wholesale and keep identity", func(t *testing.T) {
		replacement := &Segment{
			ID:        seg.ID,
			AccountID: acc.ID,
			Name:      "Admins",
			Rules:     []ruleengine.FilterRule{{Field: "role", Operator: ruleengine.OpEq, Value: []string{"admin"}}},
		}
		require.NoError(t, m.ReplaceSegment(ctx, replacement))

		got, err := m.GetSegment(ctx, acc.ID, seg.ID)
		require.NoError(t, err)
		assert.Equal(t, "Admins", got.Name)
		require.Len(t, got.Rules, 1)
		assert.Equal(t, "role", got.Rules[0].Field)
		assert.Equal(t, seg.CreatedAt, got.CreatedAt)
	})

	t.Run("Should not leak internal rule slices to callers", func(t *testing.T) {
		got, err := m.GetSegment(ctx, acc.ID, seg.ID)
		require.NoError(t, err)
		got.Rules[0].Value[0] = "mutated"

		again, err := m.GetSegment(ctx, acc.ID, seg.ID)
		require.NoError(t, err)
		assert.Equal(t, "admin", again.Rules[0].Value[0])
	})

	t.Run("Should unlink deleted segment from notifications", func(t *testing.T) {
		n := &Notification{
			AccountID:       acc.ID,
			Name:            "n",
			Title:           "t",
			Status:          StatusActive,
			IncludeSegments: []ruleengine.Segment{{ID: seg.ID}},
		}
		require.NoError(t, m.CreateNotification(ctx, n))
		require.Len(t, n.IncludeSegments, 1)

		require.NoError(t, m.DeleteSegment(ctx, acc.ID, seg.ID))

		got, err := m.GetNotification(ctx, acc.ID, n.ID)
		require.NoError(t, err)
		assert.Empty(t, got.IncludeSegments)

		assert.ErrorIs(t, m.DeleteSegment(ctx, acc.ID, seg.ID), ErrNotFound)
	})
}

func TestMemoryStore_CreateNotification(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m, acc := newSeededStore(t)

	t.Run("Should apply presentation defaults", func(t *testing.T) {
		n := &Notification{AccountID: acc.ID, Name: "Welcome", Title: "Hi"}
		require.NoError(t, m.CreateNotification(ctx, n))

		assert.Equal(t, StatusDraft, n.Status)
		assert.Equal(t, RepeatOnce, n.RepeatPolicy)
		assert.Equal(t, TypeBanner, n.Type)
		assert.Equal(t, PositionTop, n.Position)
		assert.Equal(t, "en", n.Lang)
		assert.Equal(t, DefaultBackgroundColor, n.BackgroundColor)
		assert.Equal(t, DefaultTextColor, n.TextColor)
		assert.Equal(t, DefaultCTAColor, n.CTAColor)
	})

	t.Run("Should reject segments owned by another account", func(t *testing.T) {
		other := &Account{Name: "Other", APIKeyHash: "hash-other"}
		require.NoError(t, m.CreateAccount(ctx, other))
		foreign := &Segment{AccountID: other.ID, Name: "foreign"}
		require.NoError(t, m.CreateSegment(ctx, foreign))

		n := &Notification{
			AccountID:       acc.ID,
			Name:            "x",
			Title:           "x",
			ExcludeSegments: []ruleengine.Segment{{ID: foreign.ID}},
		}
		assert.ErrorIs(t, m.CreateNotification(ctx, n), ErrInvalidReference)
	})
}

func TestMemoryStore_ListCandidateNotifications(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m, acc := newSeededStore(t)
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	yesterday := now.Add(-24 * time.Hour)
	tomorrow := now.Add(24 * time.Hour)

	create := func(name string, status NotificationStatus, startsAt, endsAt *time.Time) {
		t.Helper()
		n := &Notification{AccountID: acc.ID, Name: name, Title: name, Status: status, StartsAt: startsAt, EndsAt: endsAt}
		require.NoError(t, m.CreateNotification(ctx, n))
	}

	create("active", StatusActive, nil, nil)
	create("active-expired", StatusActive, nil, &yesterday)
	create("scheduled-open", StatusScheduled, &yesterday, &tomorrow)
	create("scheduled-future", StatusScheduled, &tomorrow, nil)
	create("scheduled-no-start", StatusScheduled, nil, nil)
	create("draft", StatusDraft, &yesterday, nil)
	create("ended", StatusEnded, nil, nil)

	candidates, err := m.ListCandidateNotifications(ctx, acc.ID, now)
	require.NoError(t, err)

	names := make([]string, len(candidates))
	for i, n := range candidates {
		names[i] = n.Name
	}
	assert.Equal(t, []string{"active", "scheduled-open", "scheduled-future"}, names, "must be in creation order")
}

func TestMemoryStore_ListNotifications_Pagination(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m, acc := newSeededStore(t)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		status := StatusDraft
		if name == "c" {
			status = StatusActive
		}
		require.NoError(t, m.CreateNotification(ctx, &Notification{AccountID: acc.ID, Name: name, Title: name, Status: status}))
	}

	page, total, err := m.ListNotifications(ctx, acc.ID, NotificationFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, page, 2)
	assert.Equal(t, "d", page[0].Name, "newest first")
	assert.Equal(t, "c", page[1].Name)

	active, total, err := m.ListNotifications(ctx, acc.ID, NotificationFilter{Status: StatusActive, Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, active, 1)
	assert.Equal(t, "c", active[0].Name)

	empty, _, err := m.ListNotifications(ctx, acc.ID, NotificationFilter{Limit: 20, Offset: 50})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryStore_IncrementView_Concurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("Should create exactly one record with viewCount=2 for two concurrent first views", func(t *testing.T) {
		m := NewMemoryStore()
		now := time.Now()

		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := m.IncrementView(ctx, "n1", "u1", now)
				assert.NoError(t, err)
			}()
		}
		close(start)
		wg.Wait()

		recs, err := m.ListImpressions(ctx, "u1", []string{"n1"})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, 2, recs["n1"].ViewCount)
		assert.Equal(t, 1, m.impressions.Size())
	})

	t.Run("Should not lose increments under a burst", func(t *testing.T) {
		m := NewMemoryStore()
		const workers = 64

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = m.IncrementView(ctx, "n1", "u1", time.Now())
			}()
		}
		wg.Wait()

		recs, err := m.ListImpressions(ctx, "u1", []string{"n1"})
		require.NoError(t, err)
		assert.Equal(t, workers, recs["n1"].ViewCount)
	})
}

func TestMemoryStore_MarkDismissed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Now()

	t.Run("Should create dismissed record with zero views", func(t *testing.T) {
		m := NewMemoryStore()

		r, err := m.MarkDismissed(ctx, "n1", "u1", now)
		require.NoError(t, err)
		assert.True(t, r.IsDismissed)
		assert.Equal(t, 0, r.ViewCount)
	})

	t.Run("Should keep viewCount on dismiss and stay dismissed after more views", func(t *testing.T) {
		m := NewMemoryStore()

		_, _ = m.IncrementView(ctx, "n1", "u1", now)
		_, _ = m.IncrementView(ctx, "n1", "u1", now)
		r, err := m.MarkDismissed(ctx, "n1", "u1", now)
		require.NoError(t, err)
		assert.Equal(t, 2, r.ViewCount)

		r, err = m.IncrementView(ctx, "n1", "u1", now)
		require.NoError(t, err)
		assert.Equal(t, 3, r.ViewCount)
		assert.True(t, r.IsDismissed, "dismissal is monotonic")
	})
}

func TestMemoryStore_EnsureEndUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m, acc := newSeededStore(t)
	email := "jane@acme.io"

	first, err := m.EnsureEndUser(ctx, acc.ID, "ext-1", &ruleengine.UserAttributes{ID: "ext-1", Email: &email})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"ext-1","email":"jane@acme.io"}`, string(first.Attributes))

	second, err := m.EnsureEndUser(ctx, acc.ID, "ext-1", nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "same identity on repeat")
	require.NotNil(t, second.Email)
	assert.Equal(t, email, *second.Email, "nil attrs must not clear stored data")

	other, err := m.EnsureEndUser(ctx, "another-account", "ext-1", nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID, "external ids are scoped per account")
}

func TestMemoryStore_NotificationStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := NewMemoryStore()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	old := now.AddDate(0, 0, -40)
	since := now.AddDate(0, 0, -30)

	_, _ = m.IncrementView(ctx, "n1", "u1", now)
	_, _ = m.IncrementView(ctx, "n1", "u1", now)
	_, _ = m.IncrementView(ctx, "n1", "u2", old)
	_, _ = m.MarkDismissed(ctx, "n1", "u2", now)
	_, _ = m.IncrementView(ctx, "n2", "u1", now)

	require.NoError(t, m.AppendClick(ctx, &ClickRecord{NotificationID: "n1", UserID: "u1", ClickedAt: now}))
	require.NoError(t, m.AppendClick(ctx, &ClickRecord{NotificationID: "n1", UserID: "u1", ClickedAt: now}))
	require.NoError(t, m.AppendClick(ctx, &ClickRecord{NotificationID: "n1", UserID: "u1", ClickedAt: old}))

	stats, err := m.NotificationStats(ctx, "n1", since)
	require.NoError(t, err)

	require.Len(t, stats.Impressions, 1, "records first seen before the window are excluded")
	assert.Equal(t, 2, stats.Impressions[0].ViewCount)
	assert.Len(t, stats.ClickTimes, 2, "clicks are never deduplicated")
	assert.Equal(t, int64(1), stats.Dismissals, "dismissals are counted regardless of the window")
}
