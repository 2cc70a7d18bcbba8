package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skilllink/internal/apperr"
	"skilllink/internal/authclient"
	"skilllink/internal/domain"
)

// fakeAuth is an in-memory AuthService. Setting meGate makes Me block until
// the gate is closed, and meStarted is signalled when Me is entered.
type fakeAuth struct {
	mu sync.Mutex

	users     map[string]*domain.User // token -> user
	passwords map[string]string       // email -> password
	byEmail   map[string]*domain.User

	meGate    chan struct{}
	meStarted chan struct{}
	meErr     error
	logoutErr error

	calls map[string]int
}

func newFakeAuth() *fakeAuth {
	ada := &domain.User{ID: "u-ada", Email: "ada@example.com", Name: "Ada", Role: domain.RoleFreelancer}
	bo := &domain.User{ID: "u-bo", Email: "bo@example.com", Name: "Bo", Role: domain.RoleClient}
	return &fakeAuth{
		users:     map[string]*domain.User{"tok-ada": ada, "tok-bo": bo},
		passwords: map[string]string{"ada@example.com": "correct-horse", "bo@example.com": "battery-staple"},
		byEmail:   map[string]*domain.User{"ada@example.com": ada, "bo@example.com": bo},
		calls:     map[string]int{},
	}
}

func (f *fakeAuth) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeAuth) record(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func (f *fakeAuth) Me(ctx context.Context, token string) (*domain.User, error) {
	f.record("me")
	if f.meStarted != nil {
		f.meStarted <- struct{}{}
	}
	if f.meGate != nil {
		select {
		case <-f.meGate:
		case <-ctx.Done():
			return nil, apperr.Wrap(apperr.KindNetwork, "cancelled", ctx.Err())
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.meErr != nil {
		return nil, f.meErr
	}
	u, ok := f.users[token]
	if !ok {
		return nil, &apperr.Error{Kind: apperr.KindRejected, Status: 401, Message: "invalid token"}
	}
	return u.Clone(), nil
}

func (f *fakeAuth) Login(_ context.Context, creds authclient.Credentials) (authclient.AuthResult, error) {
	f.record("login")
	f.mu.Lock()
	defer f.mu.Unlock()
	pw, ok := f.passwords[creds.Email]
	if !ok {
		return authclient.AuthResult{}, &apperr.Error{Kind: apperr.KindUnknownUser, Status: 404, Message: "User does not exist"}
	}
	if pw != creds.Password {
		return authclient.AuthResult{}, &apperr.Error{Kind: apperr.KindWrongPass, Status: 401, Message: "Wrong password"}
	}
	u := f.byEmail[creds.Email]
	return authclient.AuthResult{User: u.Clone(), Token: "tok-" + u.Name}, nil
}

func (f *fakeAuth) Signup(_ context.Context, in authclient.SignupInput) (authclient.AuthResult, error) {
	f.record("signup")
	u := &domain.User{ID: "u-new", Email: in.Email, Name: in.Name, Role: domain.Role(in.Role)}
	return authclient.AuthResult{User: u, Token: "tok-new"}, nil
}

func (f *fakeAuth) Logout(context.Context, string) error {
	f.record("logout")
	return f.logoutErr
}

func (f *fakeAuth) ForgotPassword(context.Context, string) error {
	f.record("forgot")
	return nil
}

func (f *fakeAuth) ResetPassword(context.Context, string, string) error {
	f.record("reset")
	return apperr.New(apperr.KindValidation, "invalid or expired reset token")
}

func waitReady(t *testing.T, s *Store) {
	t.Helper()
	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("store never became ready")
	}
}

func TestStore_InitializeWithValidToken(t *testing.T) {
	s := NewStore(newFakeAuth(), WithToken("tok-ada"))
	assert.True(t, s.Snapshot().Initializing)

	res := s.Initialize(context.Background())
	require.True(t, res.OK)
	waitReady(t, s)

	snap := s.Snapshot()
	assert.False(t, snap.Initializing)
	assert.True(t, snap.Authenticated)
	assert.Equal(t, domain.RoleFreelancer, snap.Role())
}

func TestStore_InitializeFailureLeavesAnonymous(t *testing.T) {
	t.Run("rejected token is forgotten", func(t *testing.T) {
		var notified []string
		s := NewStore(newFakeAuth(), WithToken("stale"), WithTokenListener(func(tok string) { notified = append(notified, tok) }))

		res := s.Initialize(context.Background())
		assert.False(t, res.OK)
		assert.Equal(t, apperr.KindRejected, res.Kind)
		assert.False(t, s.Snapshot().Authenticated)
		assert.Empty(t, s.Token())
		assert.Equal(t, []string{""}, notified)
	})

	t.Run("network failure keeps the token", func(t *testing.T) {
		auth := newFakeAuth()
		auth.meErr = apperr.New(apperr.KindNetwork, "unreachable")
		s := NewStore(auth, WithToken("tok-ada"))

		res := s.Initialize(context.Background())
		assert.Equal(t, apperr.KindNetwork, res.Kind)
		assert.Nil(t, s.Snapshot().User)
		assert.False(t, s.Snapshot().Authenticated)
		assert.Equal(t, "tok-ada", s.Token())
	})
}

func TestStore_LoginSuccess(t *testing.T) {
	var notified []string
	s := NewStore(newFakeAuth(), WithTokenListener(func(tok string) { notified = append(notified, tok) }))

	res := s.Login(context.Background(), authclient.Credentials{Email: "ada@example.com", Password: "correct-horse"})
	require.True(t, res.OK)
	assert.Equal(t, "u-ada", res.User.ID)

	snap := s.Snapshot()
	assert.True(t, snap.Authenticated)
	assert.Equal(t, snap.User, res.User)
	assert.False(t, snap.Initializing)
	assert.Equal(t, "tok-Ada", s.Token())
	assert.Equal(t, []string{"tok-Ada"}, notified)
}

func TestStore_LoginFailureClearsSession(t *testing.T) {
	s := NewStore(newFakeAuth())
	require.True(t, s.Login(context.Background(), authclient.Credentials{Email: "ada@example.com", Password: "correct-horse"}).OK)

	res := s.Login(context.Background(), authclient.Credentials{Email: "ada@example.com", Password: "nope"})
	assert.False(t, res.OK)
	assert.Equal(t, apperr.KindWrongPass, res.Kind)
	assert.Equal(t, "Wrong password", res.Reason)

	snap := s.Snapshot()
	assert.False(t, snap.Authenticated)
	assert.Nil(t, snap.User)

	res = s.Login(context.Background(), authclient.Credentials{Email: "zed@example.com", Password: "whatever"})
	assert.Equal(t, apperr.KindUnknownUser, res.Kind)
	assert.Equal(t, "User does not exist", res.Reason)
}

func TestStore_ValidationFailsWithoutNetworkCall(t *testing.T) {
	auth := newFakeAuth()
	s := NewStore(auth)

	res := s.Login(context.Background(), authclient.Credentials{Email: "not-an-email", Password: ""})
	assert.False(t, res.OK)
	assert.Equal(t, apperr.KindValidation, res.Kind)
	assert.Contains(t, res.Reason, "email must be a valid email")
	assert.Contains(t, res.Reason, "password is required")

	res = s.Signup(context.Background(), authclient.SignupInput{Name: "A", Email: "a@b.co", Password: "short", Role: "admin"})
	assert.Equal(t, apperr.KindValidation, res.Kind)
	assert.Contains(t, res.Reason, "password must be at least 8 characters")
	assert.Contains(t, res.Reason, "role must be one of: client freelancer")

	assert.Equal(t, apperr.KindValidation, s.ForgotPassword(context.Background(), "").Kind)
	assert.Equal(t, apperr.KindValidation, s.ResetPassword(context.Background(), "tok", "short").Kind)

	assert.Zero(t, auth.count("login"))
	assert.Zero(t, auth.count("signup"))
	assert.Zero(t, auth.count("forgot"))
	assert.Zero(t, auth.count("reset"))
}

func TestStore_Signup(t *testing.T) {
	s := NewStore(newFakeAuth())
	res := s.Signup(context.Background(), authclient.SignupInput{Name: "Cy", Email: "cy@example.com", Password: "long-enough", Role: "client"})
	require.True(t, res.OK)
	assert.Equal(t, domain.RoleClient, s.Snapshot().Role())
	assert.Equal(t, "tok-new", s.Token())
}

func TestStore_LogoutClearsStateEvenWhenRemoteFails(t *testing.T) {
	auth := newFakeAuth()
	auth.logoutErr = apperr.Wrap(apperr.KindNetwork, "auth service unreachable", errors.New("connection refused"))
	var notified []string
	s := NewStore(auth, WithToken("tok-ada"), WithTokenListener(func(tok string) { notified = append(notified, tok) }))
	require.True(t, s.Initialize(context.Background()).OK)

	res := s.Logout(context.Background())
	assert.False(t, res.OK)
	assert.Equal(t, apperr.KindNetwork, res.Kind)

	snap := s.Snapshot()
	assert.False(t, snap.Authenticated)
	assert.Nil(t, snap.User)
	assert.Empty(t, s.Token())
	assert.Equal(t, []string{""}, notified)
	assert.Equal(t, 1, auth.count("logout"))
}

func TestStore_LogoutSuccess(t *testing.T) {
	s := NewStore(newFakeAuth(), WithToken("tok-bo"))
	require.True(t, s.Initialize(context.Background()).OK)

	assert.True(t, s.Logout(context.Background()).OK)
	assert.False(t, s.Snapshot().Authenticated)
}

// startBlockedInitialize runs Initialize in the background and returns once
// the who-am-I call is in flight.
func startBlockedInitialize(t *testing.T, s *Store, auth *fakeAuth) <-chan Result {
	t.Helper()
	done := make(chan Result, 1)
	go func() { done <- s.Initialize(context.Background()) }()
	select {
	case <-auth.meStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("who-am-I was never called")
	}
	return done
}

func TestStore_StaleInitializeDiscardedAfterClose(t *testing.T) {
	auth := newFakeAuth()
	auth.meGate = make(chan struct{})
	auth.meStarted = make(chan struct{}, 1)
	s := NewStore(auth, WithToken("tok-ada"))

	done := startBlockedInitialize(t, s, auth)
	s.Close()
	waitReady(t, s)
	close(auth.meGate)

	res := <-done
	assert.True(t, res.Discarded)
	assert.False(t, s.Snapshot().Authenticated)
}

func TestStore_StaleInitializeDiscardedAfterLogin(t *testing.T) {
	auth := newFakeAuth()
	auth.meGate = make(chan struct{})
	auth.meStarted = make(chan struct{}, 1)
	s := NewStore(auth, WithToken("tok-ada"))

	done := startBlockedInitialize(t, s, auth)

	require.True(t, s.Login(context.Background(), authclient.Credentials{Email: "bo@example.com", Password: "battery-staple"}).OK)
	waitReady(t, s)
	close(auth.meGate)

	res := <-done
	assert.True(t, res.Discarded)
	snap := s.Snapshot()
	require.True(t, snap.Authenticated)
	assert.Equal(t, "u-bo", snap.User.ID, "late refresh must not overwrite the newer login")
}

func TestStore_InitializeAfterCloseIsDiscarded(t *testing.T) {
	auth := newFakeAuth()
	s := NewStore(auth, WithToken("tok-ada"))
	s.Close()

	res := s.Initialize(context.Background())
	assert.True(t, res.Discarded)
	assert.Zero(t, auth.count("me"))
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	s := NewStore(newFakeAuth(), WithToken("tok-ada"))
	require.True(t, s.Initialize(context.Background()).OK)

	snap := s.Snapshot()
	snap.User.Name = "mutated"
	assert.Equal(t, "Ada", s.Snapshot().User.Name)
}

func TestStore_ForgotAndReset(t *testing.T) {
	auth := newFakeAuth()
	s := NewStore(auth)

	assert.True(t, s.ForgotPassword(context.Background(), "ada@example.com").OK)
	res := s.ResetPassword(context.Background(), "raw", "long-enough")
	assert.False(t, res.OK)
	assert.Equal(t, "invalid or expired reset token", res.Reason)
	assert.Equal(t, 1, auth.count("reset"))
}
