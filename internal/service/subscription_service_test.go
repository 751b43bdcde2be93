package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	dapr "github.com/dapr/go-sdk/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsletter-go/internal/events"
	"newsletter-go/internal/logging"
	"newsletter-go/internal/models"
	"newsletter-go/internal/repository"
)

type fakeContacts struct {
	calls    atomic.Int32
	mu       sync.Mutex
	contacts []*models.Contact
	err      error
	release  chan struct{}
	started  chan struct{}
}

func (f *fakeContacts) CreateContact(ctx context.Context, contact *models.Contact) (map[string]any, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.contacts = append(f.contacts, contact)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return map[string]any{"id": 1}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.SubscribedEvent
	err    error
}

func (p *recordingPublisher) PublishSubscribed(ctx context.Context, event events.SubscribedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

var formKey = models.FormKey{Session: "visitor-1", Page: "index.html", Form: "footer"}

func newTestService(client ContactsClient, publisher events.Publisher, dismiss, fade time.Duration) (*SubscriptionService, *repository.InMemoryFormRepository) {
	repo := repository.NewInMemoryFormRepository(100, time.Minute)
	svc := NewSubscriptionService(client, repo, publisher, logging.Discard(), Options{
		ListID:       2,
		Source:       "Website Newsletter",
		Messages:     models.DefaultMessages(),
		DismissDelay: dismiss,
		FadeDuration: fade,
	})
	return svc, repo
}

func TestSubmitFormRejectsInvalidEmailWithoutRemoteCall(t *testing.T) {
	client := &fakeContacts{}
	svc, _ := newTestService(client, nil, time.Minute, 0)

	for _, email := range []string{"", "   ", "jane", "jane@", "jane@example", "jane example@x.io", "@example.com"} {
		state, err := svc.SubmitForm(context.Background(), formKey, email)
		require.NoError(t, err)
		require.NotNil(t, state.Message)
		assert.Equal(t, models.KindError, state.Message.Kind)
		assert.Equal(t, models.DefaultMessages().InvalidEmail, state.Message.Text)
		assert.Equal(t, email, state.Email, "typed value stays in the field")
		assert.False(t, state.Submitting)
	}

	assert.Equal(t, int32(0), client.calls.Load())
}

func TestSubmitFormSuccess(t *testing.T) {
	client := &fakeContacts{}
	publisher := &recordingPublisher{}
	svc, _ := newTestService(client, publisher, time.Minute, 0)

	state, err := svc.SubmitForm(context.Background(), formKey, "  jane@example.com ")
	require.NoError(t, err)

	assert.Equal(t, int32(1), client.calls.Load())
	assert.Equal(t, "jane@example.com", client.contacts[0].Email)
	assert.Equal(t, []int64{2}, client.contacts[0].ListIDs)
	assert.True(t, client.contacts[0].UpdateEnabled)
	assert.Equal(t, "Website Newsletter", client.contacts[0].Attributes.Source)

	assert.Empty(t, state.Email, "email field is cleared")
	assert.False(t, state.Submitting)
	require.NotNil(t, state.Message)
	assert.Equal(t, models.KindSuccess, state.Message.Kind)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, "footer", publisher.events[0].Form)
	assert.Equal(t, events.EventNameContactSubscribed, publisher.events[0].EventName)
}

func TestSubmitFormAlreadySubscribed(t *testing.T) {
	client := &fakeContacts{err: models.ErrContactAlreadyExists}
	publisher := &recordingPublisher{}
	svc, _ := newTestService(client, publisher, time.Minute, 0)

	state, err := svc.SubmitForm(context.Background(), formKey, "jane@example.com")
	require.NoError(t, err)

	require.NotNil(t, state.Message)
	assert.Equal(t, models.KindInfo, state.Message.Kind)
	assert.Equal(t, "You are already subscribed to our newsletter!", state.Message.Text)
	assert.Equal(t, "jane@example.com", state.Email)
	assert.False(t, state.Submitting)
	assert.Empty(t, publisher.events)
}

func TestSubmitFormRemoteFailureIsGeneric(t *testing.T) {
	client := &fakeContacts{err: &models.RemoteCallError{StatusCode: 500}}
	svc, _ := newTestService(client, nil, time.Minute, 0)

	state, err := svc.SubmitForm(context.Background(), formKey, "jane@example.com")
	require.NoError(t, err)

	require.NotNil(t, state.Message)
	assert.Equal(t, models.KindError, state.Message.Kind)
	assert.Equal(t, models.DefaultMessages().Failure, state.Message.Text)
	assert.NotContains(t, state.Message.Text, "500")
	assert.False(t, state.Submitting)
	assert.Equal(t, int32(1), client.calls.Load())
}

func TestSubmitFormPublishFailureDoesNotAffectOutcome(t *testing.T) {
	publisher := &recordingPublisher{err: assert.AnError}
	svc, _ := newTestService(&fakeContacts{}, publisher, time.Minute, 0)

	state, err := svc.SubmitForm(context.Background(), formKey, "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.KindSuccess, state.Message.Kind)
}

func TestSubmitFormRejectsDuplicateWhileInFlight(t *testing.T) {
	client := &fakeContacts{release: make(chan struct{}), started: make(chan struct{}, 1)}
	svc, _ := newTestService(client, nil, time.Minute, 0)
	ctx := context.Background()

	done := make(chan *models.FormState)
	go func() {
		state, err := svc.SubmitForm(ctx, formKey, "jane@example.com")
		assert.NoError(t, err)
		done <- state
	}()
	<-client.started

	inFlight, err := svc.FormState(ctx, formKey)
	require.NoError(t, err)
	assert.True(t, inFlight.Submitting, "submit control is disabled while the call is pending")

	_, err = svc.SubmitForm(ctx, formKey, "jane@example.com")
	assert.ErrorIs(t, err, models.ErrSubmissionInFlight)
	_, err = svc.SubmitForm(ctx, formKey, "not-an-email")
	assert.ErrorIs(t, err, models.ErrSubmissionInFlight)

	other := formKey
	other.Form = "hero"
	go func() {
		_, err := svc.SubmitForm(ctx, other, "john@example.com")
		assert.NoError(t, err)
		done <- nil
	}()
	<-client.started

	close(client.release)
	<-done
	<-done

	assert.Equal(t, int32(2), client.calls.Load(), "other form instances submit independently")

	state, err := svc.FormState(ctx, formKey)
	require.NoError(t, err)
	assert.False(t, state.Submitting)
}

func TestSubmitFormRestoresControlWhenCallerCancels(t *testing.T) {
	client := &fakeContacts{release: make(chan struct{}), started: make(chan struct{}, 1)}
	svc, _ := newTestService(client, nil, time.Minute, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.SubmitForm(ctx, formKey, "jane@example.com")
	}()
	<-client.started
	cancel()
	close(client.release)
	<-done

	state, err := svc.FormState(context.Background(), formKey)
	require.NoError(t, err)
	assert.False(t, state.Submitting)
	require.NotNil(t, state.Message)
	assert.Equal(t, models.KindSuccess, state.Message.Kind)
}

func TestStatusMessageIsRemovedAfterDismissAndFade(t *testing.T) {
	svc, _ := newTestService(&fakeContacts{}, nil, 40*time.Millisecond, 10*time.Millisecond)
	ctx := context.Background()

	shown := time.Now()
	state, err := svc.SubmitForm(ctx, formKey, "jane@example.com")
	require.NoError(t, err)
	require.NotNil(t, state.Message)

	assert.Eventually(t, func() bool {
		st, err := svc.FormState(ctx, formKey)
		return err == nil && st.Message == nil
	}, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(shown), 50*time.Millisecond)
}

func TestNewMessageReplacesPreviousAndSurvivesItsTimer(t *testing.T) {
	svc, repo := newTestService(&fakeContacts{}, nil, 200*time.Millisecond, 0)
	ctx := context.Background()

	first, err := svc.SubmitForm(ctx, formKey, "bad")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	second, err := svc.SubmitForm(ctx, formKey, "jane@example.com")
	require.NoError(t, err)
	require.NotEqual(t, first.Message.ID, second.Message.ID)

	// The first message's removal fires now and must leave the second alone.
	time.Sleep(150 * time.Millisecond)
	stored, err := repo.Get(ctx, formKey)
	require.NoError(t, err)
	require.NotNil(t, stored.Message)
	assert.Equal(t, second.Message.ID, stored.Message.ID)
	assert.Equal(t, models.KindSuccess, stored.Message.Kind)

	assert.Eventually(t, func() bool {
		st, err := repo.Get(ctx, formKey)
		return err == nil && st.Message == nil
	}, time.Second, 5*time.Millisecond)
}

func TestSubscribeStateless(t *testing.T) {
	tests := []struct {
		name      string
		email     string
		clientErr error
		kind      models.MessageKind
		err       error
		calls     int32
	}{
		{"invalid", "jane@", nil, models.KindError, models.ErrInvalidEmailFormat, 0},
		{"success", "jane@example.com", nil, models.KindSuccess, nil, 1},
		{"exists", "jane@example.com", models.ErrContactAlreadyExists, models.KindInfo, models.ErrContactAlreadyExists, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeContacts{err: tt.clientErr}
			svc, _ := newTestService(client, nil, time.Minute, 0)

			msg, err := svc.Subscribe(context.Background(), tt.email)
			require.NotNil(t, msg)
			assert.Equal(t, tt.kind, msg.Kind)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.calls, client.calls.Load())
		})
	}

	client := &fakeContacts{err: &models.RemoteCallError{StatusCode: 503}}
	svc, _ := newTestService(client, nil, time.Minute, 0)
	msg, err := svc.Subscribe(context.Background(), "jane@example.com")
	var remoteErr *models.RemoteCallError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, models.KindError, msg.Kind)
	assert.Equal(t, models.DefaultMessages().Failure, msg.Text)
}

// conflictingStateStore is a Dapr state store where another replica always
// wins the write.
type conflictingStateStore struct {
	dapr.Client
	saves atomic.Int32
}

var errStateConflict = errors.New("possible etag mismatch. error from state store")

func (s *conflictingStateStore) GetState(ctx context.Context, storeName, key string, meta map[string]string) (*dapr.StateItem, error) {
	return &dapr.StateItem{Key: key}, nil
}

func (s *conflictingStateStore) SaveState(ctx context.Context, storeName, key string, data []byte, meta map[string]string, so ...dapr.StateOption) error {
	s.saves.Add(1)
	return errStateConflict
}

func (s *conflictingStateStore) SaveStateWithETag(ctx context.Context, storeName, key string, data []byte, etag string, meta map[string]string, so ...dapr.StateOption) error {
	s.saves.Add(1)
	return errStateConflict
}

func TestSubmitFormSurfacesSharedStoreConflict(t *testing.T) {
	client := &fakeContacts{}
	store := &conflictingStateStore{}
	repo := repository.NewDaprFormRepository(store, "statestore", time.Minute)
	svc := NewSubscriptionService(client, repo, nil, logging.Discard(), Options{
		ListID:       2,
		Messages:     models.DefaultMessages(),
		DismissDelay: time.Minute,
	})
	ctx := context.Background()

	state, err := svc.SubmitForm(ctx, formKey, "jane@example.com")
	assert.Nil(t, state)
	assert.ErrorIs(t, err, errStateConflict)
	assert.Equal(t, int32(0), client.calls.Load(), "no call without owning the submission")
	assert.Equal(t, int32(1), store.saves.Load())

	current, err := svc.FormState(ctx, formKey)
	require.NoError(t, err)
	assert.False(t, current.Submitting)
}
