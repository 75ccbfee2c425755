package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	wizard "github.com/goliatone/go-wizard"
	"github.com/goliatone/go-wizard/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func signupRegistry(t *testing.T) *wizard.Registry {
	t.Helper()
	reg, err := wizard.Register(
		wizard.StepDefinition{ID: "profile", Validate: wizard.Required()},
		wizard.StepDefinition{ID: "confirm"},
	)
	require.NoError(t, err)
	return reg
}

func newTestManager(t *testing.T, st store.Store, clock *testClock) *Manager {
	t.Helper()
	m, err := NewManager(st,
		StaticRegistries(map[string]*wizard.Registry{"signup": signupRegistry(t)}),
		WithLogger(wizard.NewFmtLogger(io.Discard)),
		WithClock(clock.Now),
	)
	require.NoError(t, err)
	return m
}

func TestManagerStartPersistsInitialSnapshot(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	m := newTestManager(t, st, newTestClock())

	s, err := m.Start(ctx, "signup")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, s.ID(), s.Wizard().ID())
	assert.Equal(t, 1, s.Version())

	rec, err := st.Load(ctx, s.ID())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "signup", rec.WizardType)
	assert.Equal(t, []string{"profile", "confirm"}, rec.Snapshot.StepOrder)
	assert.Equal(t, wizard.StatusInProgress, rec.Snapshot.Status)
	assert.Equal(t, []string{s.ID()}, m.Active())
}

func TestManagerPersistsEveryChange(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	m := newTestManager(t, st, newTestClock())

	s, err := m.Start(ctx, "signup")
	require.NoError(t, err)

	require.NoError(t, s.Wizard().SetPayload("profile", "ada"))
	require.NoError(t, s.Wizard().GoNext())
	require.NoError(t, s.Err())
	assert.Equal(t, 3, s.Version())

	rec, err := st.Load(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Version)
	assert.Equal(t, 1, rec.Snapshot.CurrentIndex)
	assert.Equal(t, map[string]any{"profile": "ada"}, rec.Snapshot.Composite)
}

func TestManagerFailedOperationDoesNotPersist(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	m := newTestManager(t, st, newTestClock())

	s, err := m.Start(ctx, "signup")
	require.NoError(t, err)

	err = s.Wizard().GoNext()
	require.Error(t, err)
	assert.True(t, wizard.HasCode(err, wizard.ErrCodeValidationFailed))
	assert.Equal(t, 1, s.Version())
}

func TestManagerResumeRestoresFromStore(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	clock := newTestClock()

	first := newTestManager(t, st, clock)
	s, err := first.Start(ctx, "signup")
	require.NoError(t, err)
	require.NoError(t, s.Wizard().SetPayload("profile", "ada"))
	require.NoError(t, s.Wizard().GoNext())

	second := newTestManager(t, st, clock)
	resumed, err := second.Resume(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, "signup", resumed.Type())
	assert.Equal(t, 1, resumed.Wizard().CurrentIndex())
	assert.Equal(t, map[string]any{"profile": "ada"}, resumed.Wizard().Composite())
	assert.Equal(t, s.Version(), resumed.Version())

	again, err := second.Resume(ctx, s.ID())
	require.NoError(t, err)
	assert.Same(t, resumed, again)
}

func TestManagerResumeUnknownSession(t *testing.T) {
	m := newTestManager(t, store.NewInMemoryStore(), newTestClock())

	_, err := m.Resume(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, wizard.HasCode(err, ErrCodeSessionNotFound))
}

func TestManagerStartUnknownType(t *testing.T) {
	m := newTestManager(t, store.NewInMemoryStore(), newTestClock())

	_, err := m.Start(context.Background(), "checkout")
	require.Error(t, err)
	assert.True(t, wizard.HasCode(err, ErrCodeUnknownType))
}

func TestManagerDeletesRecordAfterSubmit(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	m := newTestManager(t, st, newTestClock())

	s, err := m.Start(ctx, "signup")
	require.NoError(t, err)
	w := s.Wizard()
	require.NoError(t, w.SetPayload("profile", "ada"))
	require.NoError(t, w.GoNext())

	_, err = w.Submit(ctx, wizard.SubmitFunc(func(context.Context, map[string]any) (any, error) {
		return "ok", nil
	}))
	require.NoError(t, err)

	rec, err := st.Load(ctx, s.ID())
	require.NoError(t, err)
	assert.Nil(t, rec)
	_, live := m.Get(s.ID())
	assert.False(t, live)
}

func TestManagerKeepsRecordAfterFailedSubmit(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	m := newTestManager(t, st, newTestClock())

	s, err := m.Start(ctx, "signup")
	require.NoError(t, err)
	w := s.Wizard()
	require.NoError(t, w.SetPayload("profile", "ada"))
	require.NoError(t, w.GoNext())

	_, err = w.Submit(ctx, wizard.SubmitFunc(func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("gateway down")
	}))
	require.Error(t, err)

	rec, err := st.Load(ctx, s.ID())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, wizard.StatusFailed, rec.Snapshot.Status)
}

func TestManagerClose(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	m := newTestManager(t, st, newTestClock())

	s, err := m.Start(ctx, "signup")
	require.NoError(t, err)
	require.NoError(t, m.Close(ctx, s.ID()))

	rec, err := st.Load(ctx, s.ID())
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Empty(t, m.Active())

	// detached sessions stop writing
	require.NoError(t, s.Wizard().SetPayload("profile", "late"))
	rec, err = st.Load(ctx, s.ID())
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestManagerSweepClosesIdleSessions(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	clock := newTestClock()
	m := newTestManager(t, st, clock)

	stale, err := m.Start(ctx, "signup")
	require.NoError(t, err)
	active, err := m.Start(ctx, "signup")
	require.NoError(t, err)

	clock.Advance(45 * time.Minute)
	require.NoError(t, active.Wizard().SetPayload("profile", "ada"))
	clock.Advance(20 * time.Minute)

	closed, err := m.Sweep(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{stale.ID()}, closed)
	assert.Equal(t, []string{active.ID()}, m.Active())

	_, err = m.Sweep(ctx, 0)
	assert.Error(t, err)
}

func TestManagerConcurrentWriterConflict(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	clock := newTestClock()

	first := newTestManager(t, st, clock)
	s, err := first.Start(ctx, "signup")
	require.NoError(t, err)

	second := newTestManager(t, st, clock)
	other, err := second.Resume(ctx, s.ID())
	require.NoError(t, err)

	require.NoError(t, s.Wizard().SetPayload("profile", "ada"))
	require.NoError(t, s.Err())

	require.NoError(t, other.Wizard().SetPayload("profile", "grace"))
	require.Error(t, other.Err())
	assert.ErrorIs(t, other.Err(), store.ErrVersionConflict)

	rec, err := st.Load(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, "ada", rec.Snapshot.Payloads["profile"])
}

func TestNewManagerRequiresRegistryFactory(t *testing.T) {
	_, err := NewManager(nil, nil)
	assert.Error(t, err)
}
