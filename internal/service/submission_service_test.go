package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/tzomaik-art/form-builder/internal/client"
	apierrors "github.com/tzomaik-art/form-builder/internal/errors"
	"github.com/tzomaik-art/form-builder/internal/metrics"
	"github.com/tzomaik-art/form-builder/internal/model"
	"github.com/tzomaik-art/form-builder/internal/notification"
	"github.com/tzomaik-art/form-builder/internal/store"
	"github.com/tzomaik-art/form-builder/internal/validation"
)

// MockDirectory is a mock implementation of Directory
type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) Exists(ctx context.Context, bestellID string) (bool, error) {
	args := m.Called(ctx, bestellID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDirectory) Upsert(ctx context.Context, customer client.Customer) (string, error) {
	args := m.Called(ctx, customer)
	return args.String(0), args.Error(1)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification.Notification
}

func (r *recordingNotifier) Notify(n notification.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

// failingSubmissionStore fails every write
type failingSubmissionStore struct {
	store.SubmissionStore
}

func (failingSubmissionStore) CreateSubmission(context.Context, *model.Submission) error {
	return errors.New("disk full")
}

type pipeline struct {
	svc      *SubmissionService
	db       *store.SQLiteStore
	cache    store.ReservationCache
	dir      *MockDirectory
	notifier *recordingNotifier
	metrics  *metrics.Metrics
}

type pipelineOptions struct {
	cache         store.ReservationCache
	withAuthority bool
	settings      model.TenantSettings
	formActive    *bool
	submissions   store.SubmissionStore
}

const testTenantID = "tenant-1"

func newPipeline(t *testing.T, opts pipelineOptions) *pipeline {
	t.Helper()
	ctx := context.Background()

	db, err := store.OpenSQLiteStore(filepath.Join(t.TempDir(), "pipeline.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	tenant := &model.Tenant{ID: testTenantID, Shop: "demo.myshopify.com", Settings: opts.settings}
	if opts.withAuthority {
		tenant.AccessToken = "shpat_test"
	}
	require.NoError(t, db.UpsertTenant(ctx, tenant))

	active := true
	if opts.formActive != nil {
		active = *opts.formActive
	}
	require.NoError(t, db.UpsertForm(ctx, &model.Form{
		ID:       "form-1",
		TenantID: testTenantID,
		Name:     "Registration",
		Slug:     "register",
		Fields: []model.Field{
			{ID: "social_name", Type: model.FieldSocialName, Label: "Social Name"},
			{ID: "email", Type: model.FieldEmail, Label: "Email"},
			{ID: "firstName", Type: model.FieldText, Label: "First name"},
			{ID: "bestell", Type: model.FieldBestellnummerID, Label: "Bestellnummer"},
		},
		Settings: model.FormSettings{Honeypot: true},
		Active:   active,
	}))

	cache := opts.cache
	if cache == nil {
		cache = newMemoryCache(t, newFakeClock())
	}

	var submissions store.SubmissionStore = db
	if opts.submissions != nil {
		submissions = opts.submissions
	}

	m := newTestMetrics()
	configCache := store.NewConfigCache(100, zap.NewNop())
	t.Cleanup(configCache.Close)

	dir := &MockDirectory{}
	notifier := &recordingNotifier{}
	svc := NewSubmissionService(
		NewFormService(db, configCache, time.Minute, m, zap.NewNop()),
		NewRateLimiter(cache, time.Minute, zap.NewNop()),
		NewAllocator(cache, DefaultReservationTTL, DefaultMaxAttempts, m, zap.NewNop()),
		validation.NewValidator(),
		submissions,
		func(tenant *model.Tenant) Directory {
			if !tenant.HasExternalAuthority() {
				return nil
			}
			return dir
		},
		notifier,
		SubmissionConfig{},
		m,
		noop.NewTracerProvider().Tracer("test"),
		zap.NewNop(),
	)

	return &pipeline{svc: svc, db: db, cache: cache, dir: dir, notifier: notifier, metrics: m}
}

func (p *pipeline) submit(fields map[string]any, client string) (*model.SubmissionResult, error) {
	return p.svc.Submit(context.Background(), SubmitRequest{
		TenantID:      testTenantID,
		FormSlug:      "register",
		Fields:        fields,
		ClientAddress: client,
	})
}

func (p *pipeline) reserved(t *testing.T, identifier string) bool {
	t.Helper()
	// a fresh SETNX succeeds only if the key is absent; undo it right away
	ok, err := p.cache.SetNX(context.Background(), "bestell:"+testTenantID+":"+identifier, time.Second)
	require.NoError(t, err)
	if ok {
		require.NoError(t, p.cache.Del(context.Background(), "bestell:"+testTenantID+":"+identifier))
	}
	return !ok
}

func adaFields() map[string]any {
	return map[string]any{"social_name": "Ada", "email": "ada@example.com"}
}

var fiveDigits = regexp.MustCompile(`^[1-9][0-9]{4}$`)

func TestSubmit_Success(t *testing.T) {
	p := newPipeline(t, pipelineOptions{settings: model.TenantSettings{BestellIDLength: 5, RateLimit: 10}})

	result, err := p.submit(adaFields(), "203.0.113.7")
	require.NoError(t, err)
	assert.Regexp(t, fiveDigits, result.BestellID)
	assert.Equal(t, "Ada", result.SocialName)
	assert.Equal(t, "ada@example.com", result.Email)

	sub, err := p.db.GetSubmissionByBestellID(context.Background(), testTenantID, result.BestellID)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", sub.Email)
	assert.Equal(t, result.SubmissionID, sub.ID)
	assert.Nil(t, sub.CustomerID)
	assert.Equal(t, "203.0.113.7", sub.IPAddress)

	p.dir.AssertNotCalled(t, "Exists", mock.Anything, mock.Anything)
	require.Len(t, p.notifier.sent, 1)
	assert.Equal(t, sub.ID, p.notifier.sent[0].Submission.ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.SubmissionsTotal.WithLabelValues(testTenantID, "OK")))
}

func TestSubmit_RateLimited(t *testing.T) {
	p := newPipeline(t, pipelineOptions{settings: model.TenantSettings{BestellIDLength: 5, RateLimit: 10}})

	for i := 0; i < 10; i++ {
		_, err := p.submit(adaFields(), "203.0.113.7")
		require.NoError(t, err, "submission %d", i+1)
	}

	_, err := p.submit(adaFields(), "203.0.113.7")
	assert.Equal(t, apierrors.ErrCodeRateLimited, apierrors.GetCode(err))

	count, err := p.db.CountSubmissions(context.Background(), testTenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), count)

	// another client is unaffected
	_, err = p.submit(adaFields(), "198.51.100.1")
	assert.NoError(t, err)
}

func TestSubmit_MissingEmail(t *testing.T) {
	p := newPipeline(t, pipelineOptions{settings: model.TenantSettings{BestellIDLength: 5}})

	_, err := p.submit(map[string]any{"social_name": "Ada"}, "203.0.113.7")
	se, ok := apierrors.AsSubmissionError(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.ErrCodeValidation, se.Code)
	assert.Equal(t, map[string]string{"email": "Email is required"}, se.Details)

	// only the rate counter was written
	assert.Equal(t, 1, p.cache.(*store.InMemoryReservationCache).Size())
	count, _ := p.db.CountSubmissions(context.Background(), testTenantID)
	assert.Zero(t, count)
}

func TestSubmit_Honeypot(t *testing.T) {
	p := newPipeline(t, pipelineOptions{})

	fields := adaFields()
	fields["honeypot"] = "I am a bot"
	_, err := p.submit(fields, "203.0.113.7")
	assert.Equal(t, apierrors.ErrCodeValidation, apierrors.GetCode(err))
}

func TestSubmit_FormNotFound(t *testing.T) {
	inactive := false
	p := newPipeline(t, pipelineOptions{formActive: &inactive})

	_, err := p.submit(adaFields(), "203.0.113.7")
	assert.Equal(t, apierrors.ErrCodeNotFound, apierrors.GetCode(err))

	_, err = p.svc.Submit(context.Background(), SubmitRequest{TenantID: testTenantID, FormSlug: "missing"})
	assert.Equal(t, apierrors.ErrCodeNotFound, apierrors.GetCode(err))

	_, err = p.svc.Submit(context.Background(), SubmitRequest{TenantID: "nobody", FormSlug: "register"})
	assert.Equal(t, apierrors.ErrCodeNotFound, apierrors.GetCode(err))
}

func TestSubmit_WithAuthority(t *testing.T) {
	p := newPipeline(t, pipelineOptions{withAuthority: true, settings: model.TenantSettings{BestellIDPrefix: "BN-"}})

	p.dir.On("Exists", mock.Anything, mock.AnythingOfType("string")).Return(false, nil)
	p.dir.On("Upsert", mock.Anything, mock.MatchedBy(func(c client.Customer) bool {
		return c.Email == "ada@example.com" && c.SocialName == "Ada" && c.FirstName == "Ada"
	})).Return("gid://shopify/Customer/1", nil)

	fields := adaFields()
	fields["firstName"] = "Ada"
	result, err := p.submit(fields, "203.0.113.7")
	require.NoError(t, err)
	assert.Regexp(t, `^BN-[1-9][0-9]{4}$`, result.BestellID)

	sub, err := p.db.GetSubmissionByBestellID(context.Background(), testTenantID, result.BestellID)
	require.NoError(t, err)
	require.NotNil(t, sub.CustomerID)
	assert.Equal(t, "gid://shopify/Customer/1", *sub.CustomerID)
	p.dir.AssertExpectations(t)
}

func TestSubmit_AuthorityWriteFailureReleasesReservation(t *testing.T) {
	p := newPipeline(t, pipelineOptions{withAuthority: true})

	var identifier string
	p.dir.On("Exists", mock.Anything, mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) { identifier = args.String(1) }).
		Return(false, nil)
	p.dir.On("Upsert", mock.Anything, mock.Anything).
		Return("", &client.UserError{Messages: []string{"Email is invalid"}})

	_, err := p.submit(adaFields(), "203.0.113.7")
	se, ok := apierrors.AsSubmissionError(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.ErrCodeExternalService, se.Code)
	assert.Equal(t, []string{"Email is invalid"}, se.Details)

	require.NotEmpty(t, identifier)
	assert.False(t, p.reserved(t, identifier))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.ReservationReleases.WithLabelValues("authority_upsert_failed", "ok")))
	assert.Empty(t, p.notifier.sent)
}

func TestSubmit_CrossSystemCollision(t *testing.T) {
	p := newPipeline(t, pipelineOptions{withAuthority: true})

	var identifier string
	p.dir.On("Exists", mock.Anything, mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) { identifier = args.String(1) }).
		Return(true, nil)

	_, err := p.submit(adaFields(), "203.0.113.7")
	assert.Equal(t, apierrors.ErrCodeInternal, apierrors.GetCode(err))
	assert.False(t, p.reserved(t, identifier))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.CrossSystemCollisions.WithLabelValues(testTenantID)))
	p.dir.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestSubmit_AuthorityLookupError(t *testing.T) {
	p := newPipeline(t, pipelineOptions{withAuthority: true})

	var identifier string
	p.dir.On("Exists", mock.Anything, mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) { identifier = args.String(1) }).
		Return(false, errors.New("directory returned 502"))

	_, err := p.submit(adaFields(), "203.0.113.7")
	assert.Equal(t, apierrors.ErrCodeExternalService, apierrors.GetCode(err))
	assert.False(t, p.reserved(t, identifier))
}

func TestSubmit_CancelledClientStillReleases(t *testing.T) {
	cache, mr := newRedisCache(t)
	p := newPipeline(t, pipelineOptions{cache: cache, withAuthority: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var identifier string
	p.dir.On("Exists", mock.Anything, mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) { identifier = args.String(1) }).
		Return(false, nil)
	p.dir.On("Upsert", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return("", context.Canceled)

	_, err := p.svc.Submit(ctx, SubmitRequest{
		TenantID:      testTenantID,
		FormSlug:      "register",
		Fields:        adaFields(),
		ClientAddress: "203.0.113.7",
	})
	require.Error(t, err)
	assert.False(t, mr.Exists(fmt.Sprintf("bestell:%s:%s", testTenantID, identifier)))
}

func TestSubmit_PersistFailureAfterAuthorityWrite(t *testing.T) {
	p := newPipeline(t, pipelineOptions{withAuthority: true, submissions: failingSubmissionStore{}})

	var identifier string
	p.dir.On("Exists", mock.Anything, mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) { identifier = args.String(1) }).
		Return(false, nil)
	p.dir.On("Upsert", mock.Anything, mock.Anything).Return("gid://shopify/Customer/5", nil)

	_, err := p.submit(adaFields(), "203.0.113.7")
	assert.Equal(t, apierrors.ErrCodeInternal, apierrors.GetCode(err))
	assert.False(t, p.reserved(t, identifier))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.ReconciliationGaps.WithLabelValues(testTenantID)))
	assert.Empty(t, p.notifier.sent)
}

func TestSubmit_AllocationExhausted(t *testing.T) {
	p := newPipeline(t, pipelineOptions{})
	p.svc.allocator = NewAllocator(&collidingCache{}, 0, 0, p.metrics, zap.NewNop())

	_, err := p.submit(adaFields(), "203.0.113.7")
	se, ok := apierrors.AsSubmissionError(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.ErrCodeInternal, se.Code)
	assert.ErrorIs(t, err, ErrAllocationExhausted)
}
