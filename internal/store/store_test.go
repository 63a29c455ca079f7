package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tzomaik-art/form-builder/internal/model"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "forms.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedTenantAndForm(t *testing.T, s *SQLiteStore) (*model.Tenant, *model.Form) {
	t.Helper()
	ctx := context.Background()

	tenant := &model.Tenant{
		ID:          "tenant-1",
		Shop:        "demo.myshopify.com",
		AccessToken: "shpat_test",
		Settings: model.TenantSettings{
			BestellIDLength: 6,
			BestellIDPrefix: "BN-",
			RateLimit:       5,
			Locale:          "de",
		},
	}
	require.NoError(t, s.UpsertTenant(ctx, tenant))

	form := &model.Form{
		ID:       "form-1",
		TenantID: tenant.ID,
		Name:     "Registration",
		Slug:     "register",
		Fields: []model.Field{
			{ID: "email", Type: model.FieldEmail, Label: "Email", Required: true},
			{ID: "social_name", Type: model.FieldText, Label: "Display name", Required: true},
		},
		Settings: model.FormSettings{Honeypot: true},
		Active:   true,
	}
	require.NoError(t, s.UpsertForm(ctx, form))
	return tenant, form
}

func TestSQLiteStore_TenantAndFormRoundTrip(t *testing.T) {
	s := openTestSQLite(t)
	tenant, form := seedTenantAndForm(t, s)
	ctx := context.Background()

	gotTenant, err := s.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, tenant.Shop, gotTenant.Shop)
	assert.Equal(t, "shpat_test", gotTenant.AccessToken)
	assert.Equal(t, 6, gotTenant.Settings.BestellIDLength)
	assert.Equal(t, "BN-", gotTenant.Settings.BestellIDPrefix)
	assert.False(t, gotTenant.CreatedAt.IsZero())

	gotForm, err := s.GetFormBySlug(ctx, tenant.ID, "register")
	require.NoError(t, err)
	assert.Equal(t, form.ID, gotForm.ID)
	assert.Len(t, gotForm.Fields, 2)
	assert.True(t, gotForm.Settings.Honeypot)
	assert.True(t, gotForm.Active)
}

func TestSQLiteStore_NotFound(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	_, err := s.GetTenant(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetFormBySlug(ctx, "missing", "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetSubmissionByBestellID(ctx, "missing", "BN-123456")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_Submissions(t *testing.T) {
	s := openTestSQLite(t)
	tenant, form := seedTenantAndForm(t, s)
	ctx := context.Background()

	customerID := "gid://shopify/Customer/1"
	sub := &model.Submission{
		ID:         "sub-1",
		FormID:     form.ID,
		TenantID:   tenant.ID,
		CustomerID: &customerID,
		Email:      "anna@example.com",
		SocialName: "anna",
		BestellID:  "BN-482913",
		Payload:    map[string]any{"email": "anna@example.com", "social_name": "anna"},
		IPAddress:  "203.0.113.7",
		CreatedAt:  time.Now(),
	}
	require.NoError(t, s.CreateSubmission(ctx, sub))

	got, err := s.GetSubmissionByBestellID(ctx, tenant.ID, "BN-482913")
	require.NoError(t, err)
	assert.Equal(t, "sub-1", got.ID)
	require.NotNil(t, got.CustomerID)
	assert.Equal(t, customerID, *got.CustomerID)
	assert.Equal(t, "anna", got.Payload["social_name"])

	dup := *sub
	dup.ID = "sub-2"
	err = s.CreateSubmission(ctx, &dup)
	assert.ErrorIs(t, err, ErrDuplicateIdentifier)

	count, err := s.CountSubmissions(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestOpenSQLiteStore_EmptyPath(t *testing.T) {
	_, err := OpenSQLiteStore("  ", zap.NewNop())
	assert.Error(t, err)
}

func newTestRedisCache(t *testing.T) (*RedisReservationCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedisReservationCache(RedisOptions{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisReservationCache_SetNX(t *testing.T) {
	c, mr := newTestRedisCache(t)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "bestell:t1:12345", 300*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "bestell:t1:12345", 300*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 300*time.Second, mr.TTL("bestell:t1:12345"))

	mr.FastForward(301 * time.Second)
	assert.False(t, mr.Exists("bestell:t1:12345"))

	ok, err = c.SetNX(ctx, "bestell:t1:12345", 300*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Del(ctx, "bestell:t1:12345"))
	assert.False(t, mr.Exists("bestell:t1:12345"))
	// deleting again is harmless
	require.NoError(t, c.Del(ctx, "bestell:t1:12345"))
}

func TestRedisReservationCache_IncrExpire(t *testing.T) {
	c, mr := newTestRedisCache(t)
	ctx := context.Background()

	n, err := c.Incr(ctx, "ratelimit:t1:1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, c.Expire(ctx, "ratelimit:t1:1.2.3.4", time.Minute))

	n, err = c.Incr(ctx, "ratelimit:t1:1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, time.Minute, mr.TTL("ratelimit:t1:1.2.3.4"))

	require.NoError(t, c.Expire(ctx, "ratelimit:missing", time.Minute))
	require.NoError(t, c.Ping(ctx))
}

func TestRedisReservationCache_ConnectFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisReservationCache(RedisOptions{Addr: addr}, zap.NewNop())
	assert.Error(t, err)
}

func TestInMemoryReservationCache_Expiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	c := NewInMemoryReservationCacheWithClock(clock, zap.NewNop())
	defer c.Close()
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "k", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "k", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(10 * time.Second)
	assert.False(t, c.Exists("k"))

	ok, err = c.SetNX(ctx, "k", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInMemoryReservationCache_Counter(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewInMemoryReservationCacheWithClock(func() time.Time { return now }, zap.NewNop())
	defer c.Close()
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := c.Incr(ctx, "ctr")
		require.NoError(t, err)
		assert.Equal(t, i, n)
		if n == 1 {
			require.NoError(t, c.Expire(ctx, "ctr", time.Minute))
		}
	}

	now = now.Add(time.Minute)
	n, err := c.Incr(ctx, "ctr")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, c.Size())
}

func TestInMemoryReservationCache_CancelledContext(t *testing.T) {
	c := NewInMemoryReservationCache(zap.NewNop())
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.SetNX(ctx, "k", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = c.Incr(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigCache(t *testing.T) {
	c := NewConfigCache(2, zap.NewNop())
	defer c.Close()
	ctx := context.Background()

	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Set(ctx, "a", 1, time.Minute))
	require.NoError(t, c.Set(ctx, "b", 2, 2*time.Minute))
	require.NoError(t, c.Set(ctx, "c", 3, 3*time.Minute))
	assert.Equal(t, 2, c.Size())

	// the entry closest to expiry is evicted first
	_, err = c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	v, err := c.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	require.NoError(t, c.Delete(ctx, "c"))
	_, err = c.Get(ctx, "c")
	assert.ErrorIs(t, err, ErrNotFound)
}
