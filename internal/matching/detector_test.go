package matching_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"matchgogo/backend/internal/apperr"
	"matchgogo/backend/internal/matching"
	"matchgogo/backend/internal/models"
	"matchgogo/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent map[string][]models.Envelope
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{sent: make(map[string][]models.Envelope)}
}

func (n *recordingNotifier) Send(identity string, env models.Envelope) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent[identity] = append(n.sent[identity], env)
	return 1
}

func (n *recordingNotifier) count(identity, eventType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, env := range n.sent[identity] {
		if env.Type == eventType {
			c++
		}
	}
	return c
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) UpsertInterestEdge(ctx context.Context, from, to string) (bool, error) {
	args := m.Called(ctx, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) EdgeExists(ctx context.Context, from, to string) (bool, error) {
	args := m.Called(ctx, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) CreateMatchIfAbsent(ctx context.Context, x, y string) (*models.Match, bool, error) {
	args := m.Called(ctx, x, y)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.Match), args.Bool(1), args.Error(2)
}

func (m *MockStore) MarkMatchNotified(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

// flakyCreateStore commits the match and then reports a failure, as a
// connection dropped after the INSERT would.
type flakyCreateStore struct {
	*storage.MemoryStore
	failures int
}

func (s *flakyCreateStore) CreateMatchIfAbsent(ctx context.Context, x, y string) (*models.Match, bool, error) {
	m, created, err := s.MemoryStore.CreateMatchIfAbsent(ctx, x, y)
	if err == nil && s.failures > 0 {
		s.failures--
		return nil, false, errors.New("connection reset by peer")
	}
	return m, created, err
}

func TestRecordInterest_ReciprocalLikesCreateOneMatch(t *testing.T) {
	ctx := context.Background()
	notifier := newRecordingNotifier()
	d := matching.NewDetector(storage.NewMemoryStore(), notifier, nil)

	first, err := d.RecordInterest(ctx, "A", "B")
	require.NoError(t, err)
	assert.True(t, first.EdgeCreated)
	assert.Nil(t, first.Match)

	second, err := d.RecordInterest(ctx, "B", "A")
	require.NoError(t, err)
	assert.True(t, second.EdgeCreated)
	require.NotNil(t, second.Match)
	assert.Equal(t, "A", second.Match.UserA)
	assert.Equal(t, "B", second.Match.UserB)

	assert.Equal(t, 1, notifier.count("A", models.EventMatchCreated))
	assert.Equal(t, 1, notifier.count("B", models.EventMatchCreated))
}

func TestRecordInterest_RepeatIsNoOp(t *testing.T) {
	ctx := context.Background()
	notifier := newRecordingNotifier()
	d := matching.NewDetector(storage.NewMemoryStore(), notifier, nil)

	_, err := d.RecordInterest(ctx, "A", "B")
	require.NoError(t, err)

	again, err := d.RecordInterest(ctx, "A", "B")
	require.NoError(t, err)
	assert.False(t, again.EdgeCreated)
	assert.Nil(t, again.Match)
	assert.Equal(t, 0, notifier.count("A", models.EventMatchCreated))
}

func TestRecordInterest_RelikeMatchedPairReturnsExisting(t *testing.T) {
	ctx := context.Background()
	notifier := newRecordingNotifier()
	d := matching.NewDetector(storage.NewMemoryStore(), notifier, nil)

	_, _ = d.RecordInterest(ctx, "A", "B")
	created, err := d.RecordInterest(ctx, "B", "A")
	require.NoError(t, err)

	relike, err := d.RecordInterest(ctx, "A", "B")
	require.NoError(t, err)
	assert.False(t, relike.EdgeCreated)
	require.NotNil(t, relike.Match)
	assert.Equal(t, created.Match.ID, relike.Match.ID)
	assert.Equal(t, 1, notifier.count("A", models.EventMatchCreated), "no second notification")
}

func TestRecordInterest_Rejections(t *testing.T) {
	d := matching.NewDetector(storage.NewMemoryStore(), newRecordingNotifier(), nil)

	tests := []struct {
		name     string
		from, to string
	}{
		{"self", "A", "A"},
		{"empty from", "", "B"},
		{"empty to", "A", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.RecordInterest(context.Background(), tt.from, tt.to)
			assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
		})
	}
}

func TestRecordInterest_ConcurrentReciprocalLikes(t *testing.T) {
	for round := 0; round < 20; round++ {
		ctx := context.Background()
		notifier := newRecordingNotifier()
		d := matching.NewDetector(storage.NewMemoryStore(), notifier, nil)

		var wg sync.WaitGroup
		var mu sync.Mutex
		matchIDs := map[string]bool{}
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				from, to := "A", "B"
				if i%2 == 1 {
					from, to = "B", "A"
				}
				res, err := d.RecordInterest(ctx, from, to)
				if !assert.NoError(t, err) {
					return
				}
				if res.Match != nil {
					mu.Lock()
					matchIDs[res.Match.ID] = true
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		assert.Len(t, matchIDs, 1, "exactly one match for the pair")
		assert.Equal(t, 1, notifier.count("A", models.EventMatchCreated))
		assert.Equal(t, 1, notifier.count("B", models.EventMatchCreated))
	}
}

func TestRecordInterest_StorageFailure(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	store.On("UpsertInterestEdge", mock.Anything, "A", "B").Return(false, errors.New("connection reset"))

	d := matching.NewDetector(store, newRecordingNotifier(), nil)
	_, err := d.RecordInterest(ctx, "A", "B")

	assert.ErrorIs(t, err, apperr.ErrStorage)
	store.AssertNotCalled(t, "EdgeExists", mock.Anything, mock.Anything, mock.Anything)
}

func TestRecordInterestWithRetry_RecoversFromTransientFailure(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	match := &models.Match{ID: "m1", UserA: "A", UserB: "B"}

	store.On("UpsertInterestEdge", mock.Anything, "B", "A").Return(true, nil)
	store.On("EdgeExists", mock.Anything, "A", "B").Return(true, nil)
	store.On("CreateMatchIfAbsent", mock.Anything, "B", "A").Return(nil, false, errors.New("timeout")).Once()
	store.On("CreateMatchIfAbsent", mock.Anything, "B", "A").Return(match, true, nil).Once()
	store.On("MarkMatchNotified", mock.Anything, "m1").Return(nil).Once()

	notifier := newRecordingNotifier()
	d := matching.NewDetector(store, notifier, nil)

	res, err := d.RecordInterestWithRetry(ctx, "B", "A")
	require.NoError(t, err)
	assert.Equal(t, "m1", res.Match.ID)
	assert.Equal(t, 1, notifier.count("A", models.EventMatchCreated))
	store.AssertNumberOfCalls(t, "CreateMatchIfAbsent", 2)
}

func TestRecordInterestWithRetry_NotifiesMatchCommittedBeforeFailure(t *testing.T) {
	ctx := context.Background()
	store := &flakyCreateStore{MemoryStore: storage.NewMemoryStore(), failures: 1}
	notifier := newRecordingNotifier()
	d := matching.NewDetector(store, notifier, nil)

	_, err := d.RecordInterestWithRetry(ctx, "A", "B")
	require.NoError(t, err)
	res, err := d.RecordInterestWithRetry(ctx, "B", "A")
	require.NoError(t, err)
	require.NotNil(t, res.Match)

	assert.Equal(t, 1, notifier.count("A", models.EventMatchCreated))
	assert.Equal(t, 1, notifier.count("B", models.EventMatchCreated))

	// Later likes find the notification recorded.
	_, err = d.RecordInterest(ctx, "A", "B")
	require.NoError(t, err)
	assert.Equal(t, 1, notifier.count("A", models.EventMatchCreated))
}

func TestRecordInterest_UnrecordedNotificationIsNotAnError(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	match := &models.Match{ID: "m1", UserA: "A", UserB: "B"}
	store.On("UpsertInterestEdge", mock.Anything, "B", "A").Return(true, nil)
	store.On("EdgeExists", mock.Anything, "A", "B").Return(true, nil)
	store.On("CreateMatchIfAbsent", mock.Anything, "B", "A").Return(match, true, nil)
	store.On("MarkMatchNotified", mock.Anything, "m1").Return(errors.New("timeout"))

	notifier := newRecordingNotifier()
	d := matching.NewDetector(store, notifier, nil)

	res, err := d.RecordInterest(ctx, "B", "A")
	require.NoError(t, err)
	assert.Equal(t, "m1", res.Match.ID)
	assert.Equal(t, 1, notifier.count("B", models.EventMatchCreated))
}

func TestRecordInterestWithRetry_DoesNotRetryValidationErrors(t *testing.T) {
	store := new(MockStore)
	d := matching.NewDetector(store, newRecordingNotifier(), nil)

	_, err := d.RecordInterestWithRetry(context.Background(), "A", "A")

	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
	store.AssertNotCalled(t, "UpsertInterestEdge", mock.Anything, mock.Anything, mock.Anything)
}

func TestPairLocks_ReleasesEntries(t *testing.T) {
	locks := matching.NewPairLocks()

	unlock := locks.Lock("A|B")
	assert.Equal(t, 1, locks.Len())
	unlock()
	assert.Equal(t, 0, locks.Len())

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u := locks.Lock("A|B")
			counter++
			u()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, locks.Len())
}
