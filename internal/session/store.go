// Package session holds the authentication state of one portal visitor.
//
// A Store has a single writer per visitor: every transition replaces the
// whole {user, token} value under one lock, so the authenticated flag, which
// is derived from the user, can never be observed out of step with it.
package session

import (
	"context"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"skilllink/internal/apperr"
	"skilllink/internal/authclient"
	"skilllink/internal/domain"
)

// AuthService is the remote side of the session.
type AuthService interface {
	Me(ctx context.Context, token string) (*domain.User, error)
	Login(ctx context.Context, creds authclient.Credentials) (authclient.AuthResult, error)
	Signup(ctx context.Context, in authclient.SignupInput) (authclient.AuthResult, error)
	Logout(ctx context.Context, token string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, password string) error
}

// Result reports the outcome of a store operation. Failures carry a kind
// and a reason fit for display; raw errors never leave the store.
type Result struct {
	OK     bool
	User   *domain.User
	Kind   apperr.Kind
	Reason string
	// Discarded is set when the outcome arrived after the store moved on
	// and was therefore not applied.
	Discarded bool
}

// Snapshot is a read-only copy of the session state.
type Snapshot struct {
	User          *domain.User
	Authenticated bool
	Initializing  bool
}

// Role returns the user's role or RoleNone.
func (s Snapshot) Role() domain.Role {
	if s.User == nil {
		return domain.RoleNone
	}
	return s.User.Role
}

type state struct {
	user  *domain.User
	token string
}

// Store is the session of one visitor.
type Store struct {
	auth     AuthService
	logger   *logrus.Entry
	validate *validator.Validate
	onToken  func(string)

	mu           sync.RWMutex
	state        state
	gen          uint64
	initializing bool
	closed       bool

	ready     chan struct{}
	readyOnce sync.Once
}

// Option customizes a Store.
type Option func(*Store)

// WithToken seeds the store with a previously issued token.
func WithToken(token string) Option {
	return func(s *Store) { s.state.token = token }
}

func WithLogger(logger *logrus.Entry) Option {
	return func(s *Store) { s.logger = logger }
}

// WithTokenListener registers fn to be called, outside the lock, whenever
// the token changes. An empty token means the session ended.
func WithTokenListener(fn func(token string)) Option {
	return func(s *Store) { s.onToken = fn }
}

func NewStore(auth AuthService, opts ...Option) *Store {
	s := &Store{
		auth:         auth,
		validate:     validator.New(),
		initializing: true,
		ready:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logrus.NewEntry(logrus.New())
	}
	return s
}

// Initialize asks the auth service who owns the current token. A failure of
// any kind leaves the store anonymous. The answer is dropped if the store
// was closed or another transition finished while the call was in flight.
func (s *Store) Initialize(ctx context.Context) Result {
	s.mu.RLock()
	gen, token, closed := s.gen, s.state.token, s.closed
	s.mu.RUnlock()
	if closed {
		s.finishInit()
		return Result{Discarded: true, Reason: "session closed"}
	}

	user, err := s.auth.Me(ctx, token)

	s.mu.Lock()
	if s.closed || s.gen != gen {
		s.initializing = false
		s.mu.Unlock()
		s.markReady()
		s.logger.Debug("discarding stale session refresh")
		return Result{Discarded: true, Reason: "session changed during refresh"}
	}
	tokenChanged := false
	if err != nil {
		// rejected tokens are forgotten, transient failures keep the token
		// so that a later refresh can succeed
		if apperr.KindOf(err).Rejection() {
			tokenChanged = s.state.token != ""
			s.state = state{}
		} else {
			s.state.user = nil
		}
	} else {
		s.state.user = user.Clone()
	}
	s.initializing = false
	s.mu.Unlock()
	s.markReady()

	if tokenChanged {
		s.notify("")
	}
	if err != nil {
		s.logger.WithField("kind", apperr.KindOf(err)).Debugf("session refresh failed: %v", err)
		return failure(err)
	}
	return Result{OK: true, User: user.Clone()}
}

// Login authenticates with the auth service and replaces the session.
func (s *Store) Login(ctx context.Context, creds authclient.Credentials) Result {
	if err := s.validate.Struct(creds); err != nil {
		return validationFailure(err)
	}
	gen := s.begin()
	res, err := s.auth.Login(ctx, creds)
	return s.complete(gen, res, err, "login")
}

// Signup registers a new account and replaces the session with it.
func (s *Store) Signup(ctx context.Context, in authclient.SignupInput) Result {
	if err := s.validate.Struct(in); err != nil {
		return validationFailure(err)
	}
	gen := s.begin()
	res, err := s.auth.Signup(ctx, in)
	return s.complete(gen, res, err, "signup")
}

// Logout ends the session. Local state is cleared before the remote call,
// so the store is anonymous afterwards whatever the remote outcome.
func (s *Store) Logout(ctx context.Context) Result {
	s.mu.Lock()
	token := s.state.token
	s.gen++
	s.state = state{}
	s.initializing = false
	s.mu.Unlock()
	s.markReady()
	s.notify("")

	if err := s.auth.Logout(ctx, token); err != nil {
		s.logger.Warnf("remote logout failed: %v", err)
		return failure(err)
	}
	return Result{OK: true}
}

func (s *Store) ForgotPassword(ctx context.Context, email string) Result {
	if err := s.validate.Var(email, "required,email"); err != nil {
		return Result{Kind: apperr.KindValidation, Reason: "a valid email is required"}
	}
	if err := s.auth.ForgotPassword(ctx, email); err != nil {
		return failure(err)
	}
	return Result{OK: true}
}

func (s *Store) ResetPassword(ctx context.Context, token, password string) Result {
	if err := s.validate.Var(token, "required"); err != nil {
		return Result{Kind: apperr.KindValidation, Reason: "reset token is missing"}
	}
	if err := s.validate.Var(password, "required,min=8"); err != nil {
		return Result{Kind: apperr.KindValidation, Reason: "password must be at least 8 characters"}
	}
	if err := s.auth.ResetPassword(ctx, token, password); err != nil {
		return failure(err)
	}
	return Result{OK: true}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		User:          s.state.user.Clone(),
		Authenticated: s.state.user != nil,
		Initializing:  s.initializing,
	}
}

func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.token
}

// Ready is closed once the store has left its initializing state.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// Close marks the store as discarded. Results of calls still in flight are
// ignored.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.gen++
	s.initializing = false
	s.mu.Unlock()
	s.markReady()
}

func (s *Store) begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	return s.gen
}

func (s *Store) complete(gen uint64, res authclient.AuthResult, err error, op string) Result {
	logger := s.logger.WithField("op", op)

	s.mu.Lock()
	if s.closed || s.gen != gen {
		s.mu.Unlock()
		logger.Debug("discarding superseded result")
		return Result{Discarded: true, Reason: "superseded by a newer request"}
	}
	hadToken := s.state.token != ""
	if err != nil {
		s.state = state{}
	} else {
		s.state = state{user: res.User.Clone(), token: res.Token}
	}
	// a refresh that started before this point carries an outdated token
	s.gen++
	s.initializing = false
	s.mu.Unlock()
	s.markReady()

	if err != nil {
		if hadToken {
			s.notify("")
		}
		logger.WithField("kind", apperr.KindOf(err)).Infof("%s failed: %s", op, apperr.Message(err))
		return failure(err)
	}
	s.notify(res.Token)
	logger.WithField("user_id", res.User.ID).Info(op + " succeeded")
	return Result{OK: true, User: res.User.Clone()}
}

func (s *Store) finishInit() {
	s.mu.Lock()
	s.initializing = false
	s.mu.Unlock()
	s.markReady()
}

func (s *Store) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *Store) notify(token string) {
	if s.onToken != nil {
		s.onToken(token)
	}
}

func failure(err error) Result {
	return Result{Kind: apperr.KindOf(err), Reason: reasonFor(err)}
}

// reasonFor picks the message shown to the visitor.
func reasonFor(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindWrongPass:
		return "Wrong password"
	case apperr.KindUnknownUser:
		return "User does not exist"
	case apperr.KindNetwork:
		return "Could not reach the server, please try again"
	default:
		if msg := apperr.Message(err); msg != "" {
			return msg
		}
		return "Request failed"
	}
}
