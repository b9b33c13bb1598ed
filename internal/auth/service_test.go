package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/authgate/internal/metrics"
	"github.com/iliyamo/authgate/internal/model"
	"github.com/iliyamo/authgate/internal/repository"
)

// memStore is an in-memory UserStore. Insert enforces uniqueness under a
// lock, like the unique indexes of the real stores.
type memStore struct {
	mu     sync.Mutex
	users  []model.User
	nextID uint64

	findErr   error
	insertErr error

	// hideOnFind makes lookups miss so Insert sees a concurrent duplicate.
	hideOnFind bool
	inserts    int
}

func (m *memStore) FindByUsernameOrEmail(_ context.Context, username, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	if m.hideOnFind {
		return nil, repository.ErrNotFound
	}
	for _, u := range m.users {
		if u.Username == username || u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) FindByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, u := range m.users {
		if u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) Insert(_ context.Context, username, email, hash string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	for _, u := range m.users {
		if u.Username == username || u.Email == email {
			return 0, repository.ErrDuplicate
		}
	}
	m.nextID++
	m.users = append(m.users, model.User{ID: m.nextID, Username: username, Email: email, PasswordHash: hash, CreatedAt: time.Now()})
	return m.nextID, nil
}

// countingHasher wraps a real hasher and counts Verify calls.
type countingHasher struct {
	PasswordHasher
	mu       sync.Mutex
	verifies int
	hashErr  error
}

func (h *countingHasher) Hash(plain string) (string, error) {
	if h.hashErr != nil {
		return "", h.hashErr
	}
	return h.PasswordHasher.Hash(plain)
}

func (h *countingHasher) Verify(plain, digest string) bool {
	h.mu.Lock()
	h.verifies++
	h.mu.Unlock()
	return h.PasswordHasher.Verify(plain, digest)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

type fixture struct {
	svc    *Service
	store  *memStore
	hasher *countingHasher
	events *recordingPublisher
	tokens *TokenService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bh, err := NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	tokens, err := NewTokenService(testSecret, testIssuer, time.Hour)
	require.NoError(t, err)

	f := &fixture{
		store:  &memStore{},
		hasher: &countingHasher{PasswordHasher: bh},
		events: &recordingPublisher{},
		tokens: tokens,
	}
	f.svc, err = NewService(f.store, f.hasher, tokens, WithEvents(f.events))
	require.NoError(t, err)
	return f
}

func TestNewService_RequiresCollaborators(t *testing.T) {
	bh, err := NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	tokens, err := NewTokenService(testSecret, testIssuer, time.Hour)
	require.NoError(t, err)

	_, err = NewService(nil, bh, tokens)
	assert.Error(t, err)
	_, err = NewService(&memStore{}, nil, tokens)
	assert.Error(t, err)
	_, err = NewService(&memStore{}, bh, nil)
	assert.Error(t, err)
}

func TestRegister_ThenLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Register(ctx, " alice ", " Alice@Example.COM ", "s3cret"))
	require.Len(t, f.store.users, 1)
	stored := f.store.users[0]
	assert.Equal(t, "alice", stored.Username)
	assert.Equal(t, "alice@example.com", stored.Email)
	assert.NotEqual(t, "s3cret", stored.PasswordHash)

	token, err := f.svc.Login(ctx, "ALICE@example.com", "s3cret")
	require.NoError(t, err)

	id, err := f.svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, model.Identity{ID: stored.ID, Username: "alice"}, id)

	require.Len(t, f.events.events, 2)
	assert.Equal(t, EventUserRegistered, f.events.events[0].Type)
	assert.Equal(t, EventUserLoggedIn, f.events.events[1].Type)
	assert.Equal(t, stored.ID, f.events.events[1].UserID)
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)
	cases := [][3]string{
		{"", "a@example.com", "pw"},
		{"alice", "", "pw"},
		{"alice", "a@example.com", ""},
		{"  ", "a@example.com", "pw"},
		{"alice", "a@example.com", "   "},
	}
	for _, c := range cases {
		err := f.svc.Register(context.Background(), c[0], c[1], c[2])
		assert.ErrorIs(t, err, ErrValidation)
	}
	assert.Zero(t, f.store.inserts)
	assert.Empty(t, f.events.events)
}

func TestRegister_TooLong(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name, username, email, password, field string
	}{
		{"username", strings.Repeat("u", MaxUsernameLen+1), "a@example.com", "pw", "username"},
		{"multibyte username", strings.Repeat("ü", MaxUsernameLen+1), "a@example.com", "pw", "username"},
		{"email", "alice", strings.Repeat("e", MaxEmailLen) + "@x", "pw", "email"},
		{"password", "alice", "a@example.com", strings.Repeat("p", MaxPasswordBytes+1), "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.svc.Register(context.Background(), tt.username, tt.email, tt.password)
			require.ErrorIs(t, err, ErrTooLong)
			assert.NotErrorIs(t, err, ErrValidation)
			var tooLong *TooLongError
			require.ErrorAs(t, err, &tooLong)
			assert.Equal(t, tt.field, tooLong.Field)
		})
	}
	assert.Zero(t, f.store.inserts)

	// limits are inclusive; 64 multibyte characters fit the column
	require.NoError(t, f.svc.Register(context.Background(), strings.Repeat("ü", MaxUsernameLen), "b@example.com", strings.Repeat("p", MaxPasswordBytes)))
	assert.Equal(t, 1, f.store.inserts)
}

func TestRegister_Duplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Register(ctx, "alice", "alice@example.com", "pw"))

	err := f.svc.Register(ctx, "alice", "other@example.com", "pw")
	assert.ErrorIs(t, err, ErrDuplicate)
	err = f.svc.Register(ctx, "other", "ALICE@example.com", "pw")
	assert.ErrorIs(t, err, ErrDuplicate)

	assert.Equal(t, 1, f.store.inserts, "duplicates are caught before insert")
	assert.Len(t, f.store.users, 1)
}

func TestRegister_DuplicateRaceAtInsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Register(ctx, "alice", "alice@example.com", "pw"))
	f.store.hideOnFind = true

	dup := metrics.Registrations.WithLabelValues("duplicate")
	before := testutil.ToFloat64(dup)

	err := f.svc.Register(ctx, "alice", "alice@example.com", "pw")
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Len(t, f.store.users, 1)
	assert.Equal(t, before+1, testutil.ToFloat64(dup))
}

func TestRegister_ConcurrentSameUsername(t *testing.T) {
	f := newFixture(t)
	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.svc.Register(context.Background(), "alice", "alice@example.com", "pw")
		}()
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrDuplicate):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, dup)
	assert.Len(t, f.store.users, 1)
}

func TestRegister_StorageFailures(t *testing.T) {
	t.Run("lookup", func(t *testing.T) {
		f := newFixture(t)
		f.store.findErr = errors.New("connection refused")
		err := f.svc.Register(context.Background(), "alice", "alice@example.com", "pw")
		assert.ErrorIs(t, err, ErrStorage)
		assert.NotErrorIs(t, err, ErrDuplicate)
		assert.Zero(t, f.store.inserts)
	})

	t.Run("insert", func(t *testing.T) {
		f := newFixture(t)
		f.store.insertErr = errors.New("disk full")
		err := f.svc.Register(context.Background(), "alice", "alice@example.com", "pw")
		assert.ErrorIs(t, err, ErrStorage)
		assert.Empty(t, f.events.events)
	})

	t.Run("hash", func(t *testing.T) {
		f := newFixture(t)
		f.hasher.hashErr = errors.New("entropy exhausted")
		err := f.svc.Register(context.Background(), "alice", "alice@example.com", "pw")
		assert.ErrorIs(t, err, ErrStorage)
		assert.Zero(t, f.store.inserts)
	})

	t.Run("carries oops code", func(t *testing.T) {
		f := newFixture(t)
		f.store.insertErr = errors.New("disk full")
		err := f.svc.Register(context.Background(), "alice", "alice@example.com", "pw")
		oopsErr, ok := oops.AsOops(err)
		require.True(t, ok)
		assert.Equal(t, "AUTH_STORAGE", oopsErr.Code())
	})
}

func TestRegister_PublishFailureIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.events.err = errors.New("broker down")

	require.NoError(t, f.svc.Register(context.Background(), "alice", "alice@example.com", "pw"))
	_, err := f.svc.Login(context.Background(), "alice@example.com", "pw")
	require.NoError(t, err)
}

func TestLogin_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Login(context.Background(), "", "pw")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.Login(context.Background(), "alice@example.com", "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestLogin_UnknownEmailAndWrongPasswordAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Register(ctx, "alice", "alice@example.com", "right"))

	_, errUnknown := f.svc.Login(ctx, "nobody@example.com", "right")
	verifiesAfterUnknown := f.hasher.verifies
	_, errWrong := f.svc.Login(ctx, "alice@example.com", "wrong")

	require.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	require.ErrorIs(t, errWrong, ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrong.Error())
	assert.Equal(t, 1, verifiesAfterUnknown, "unknown email still runs one hash comparison")
	assert.Equal(t, 2, f.hasher.verifies)

	a, _ := oops.AsOops(errUnknown)
	b, _ := oops.AsOops(errWrong)
	assert.Equal(t, a.Code(), b.Code())
}

func TestLogin_StorageFailure(t *testing.T) {
	f := newFixture(t)
	f.store.findErr = errors.New("timeout")
	_, err := f.svc.Login(context.Background(), "alice@example.com", "pw")
	assert.ErrorIs(t, err, ErrStorage)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}
