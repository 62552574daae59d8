package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"cmsapi/internal/auth"
	"cmsapi/internal/logging"
	"cmsapi/internal/mail"
	"cmsapi/internal/model"
)

// MockUsers is a mock implementation of Users.
type MockUsers struct {
	mock.Mock
}

func (m *MockUsers) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *MockUsers) UpdatePassword(ctx context.Context, id uint, hash string) error {
	args := m.Called(ctx, id, hash)
	return args.Error(0)
}

// MockMailer is a mock implementation of mail.Mailer that remembers the last code.
type MockMailer struct {
	mock.Mock
	lastCode string
}

func (m *MockMailer) SendRecoveryCode(ctx context.Context, toEmail, code string, expiresIn time.Duration) error {
	m.lastCode = code
	args := m.Called(ctx, toEmail, code, expiresIn)
	return args.Error(0)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type flowFixture struct {
	flow   *Flow
	store  *MemoryStore
	users  *MockUsers
	mailer *MockMailer
	clock  *fakeClock
}

func newFlowFixture() *flowFixture {
	store := NewMemoryStore(CodeTTL, RequestCooldown)
	users := new(MockUsers)
	mailer := new(MockMailer)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	flow := NewFlow(store, users, mailer, logging.Discard()).WithClock(clock.Now)
	return &flowFixture{flow: flow, store: store, users: users, mailer: mailer, clock: clock}
}

func (f *flowFixture) knownUser(email string, id uint) {
	f.users.On("FindByEmail", mock.Anything, email).Return(&model.User{ID: id, Email: email}, nil)
}

func TestFlow_EndToEnd(t *testing.T) {
	f := newFlowFixture()
	ctx := context.Background()
	f.knownUser("user@x.com", 7)
	f.mailer.On("SendRecoveryCode", mock.Anything, "user@x.com", mock.AnythingOfType("string"), CodeTTL).Return(nil)
	f.users.On("UpdatePassword", mock.Anything, uint(7), mock.MatchedBy(func(hash string) bool {
		ok, _ := auth.CheckPassword(hash, "n3w-passw0rd")
		return ok
	})).Return(nil).Once()

	require.NoError(t, f.flow.RequestCode(ctx, "User@X.com "))
	code := f.mailer.lastCode
	require.Len(t, code, 6)

	f.clock.Advance(10 * time.Second)
	assert.ErrorIs(t, f.flow.ResendCode(ctx, "user@x.com"), ErrThrottled)

	_, err := f.flow.VerifyCode(ctx, "user@x.com", wrongCode(code))
	assert.ErrorIs(t, err, ErrInvalidCode)
	session, err := f.store.GetSession(ctx, "user@x.com")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, code, session.Code)

	token, err := f.flow.VerifyCode(ctx, "user@x.com", code)
	require.NoError(t, err)
	assert.Len(t, token, 64)

	f.clock.Advance(9 * time.Minute)
	require.NoError(t, f.flow.ResetPassword(ctx, "user@x.com", token, "n3w-passw0rd"))

	session, err = f.store.GetSession(ctx, "user@x.com")
	require.NoError(t, err)
	assert.Nil(t, session)
	f.users.AssertExpectations(t)
}

func TestFlow_ResetAfterTokenExpiry(t *testing.T) {
	f := newFlowFixture()
	ctx := context.Background()
	f.knownUser("user@x.com", 7)
	f.mailer.On("SendRecoveryCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, f.flow.RequestCode(ctx, "user@x.com"))
	token, err := f.flow.VerifyCode(ctx, "user@x.com", f.mailer.lastCode)
	require.NoError(t, err)

	f.clock.Advance(ResetTokenTTL)
	err = f.flow.ResetPassword(ctx, "user@x.com", token, "whatever1")
	assert.ErrorIs(t, err, ErrSessionExpired)
	f.users.AssertNotCalled(t, "UpdatePassword", mock.Anything, mock.Anything, mock.Anything)
}

func TestFlow_ResetRejectsUnverifiedAndWrongToken(t *testing.T) {
	f := newFlowFixture()
	ctx := context.Background()
	f.knownUser("user@x.com", 7)
	f.mailer.On("SendRecoveryCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	assert.ErrorIs(t, f.flow.ResetPassword(ctx, "user@x.com", "anything", "pw123456"), ErrInvalidResetToken)

	require.NoError(t, f.flow.RequestCode(ctx, "user@x.com"))
	assert.ErrorIs(t, f.flow.ResetPassword(ctx, "user@x.com", "anything", "pw123456"), ErrInvalidResetToken)

	_, err := f.flow.VerifyCode(ctx, "user@x.com", f.mailer.lastCode)
	require.NoError(t, err)
	assert.ErrorIs(t, f.flow.ResetPassword(ctx, "user@x.com", "not-the-token", "pw123456"), ErrInvalidResetToken)
}

func TestFlow_VerifyExpiredCode(t *testing.T) {
	f := newFlowFixture()
	ctx := context.Background()
	f.knownUser("user@x.com", 7)
	f.mailer.On("SendRecoveryCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, f.flow.RequestCode(ctx, "user@x.com"))
	f.clock.Advance(CodeTTL)

	_, err := f.flow.VerifyCode(ctx, "user@x.com", f.mailer.lastCode)
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestFlow_Cooldowns(t *testing.T) {
	f := newFlowFixture()
	ctx := context.Background()
	f.knownUser("user@x.com", 7)
	f.mailer.On("SendRecoveryCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, f.flow.RequestCode(ctx, "user@x.com"))

	f.clock.Advance(45 * time.Second)
	assert.ErrorIs(t, f.flow.RequestCode(ctx, "user@x.com"), ErrThrottled)

	f.clock.Advance(time.Second)
	require.NoError(t, f.flow.ResendCode(ctx, "user@x.com"))
	session, err := f.store.GetSession(ctx, "user@x.com")
	require.NoError(t, err)
	assert.Equal(t, f.mailer.lastCode, session.Code)
}

func TestFlow_UnknownEmailLooksTheSame(t *testing.T) {
	f := newFlowFixture()
	ctx := context.Background()
	f.knownUser("user@x.com", 7)
	f.users.On("FindByEmail", mock.Anything, "ghost@x.com").Return(nil, gorm.ErrRecordNotFound)
	f.mailer.On("SendRecoveryCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	known := f.flow.RequestCode(ctx, "user@x.com")
	unknown := f.flow.RequestCode(ctx, "ghost@x.com")

	assert.Equal(t, known, unknown)
	assert.NoError(t, unknown)
	f.mailer.AssertNumberOfCalls(t, "SendRecoveryCode", 1)

	f.clock.Advance(10 * time.Second)
	assert.ErrorIs(t, f.flow.ResendCode(ctx, "ghost@x.com"), ErrThrottled)
}

func TestFlow_MailFailureIsNotSurfaced(t *testing.T) {
	f := newFlowFixture()
	f.knownUser("user@x.com", 7)
	f.mailer.On("SendRecoveryCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("smtp down"))

	assert.NoError(t, f.flow.RequestCode(context.Background(), "user@x.com"))
}

func TestFlow_LookupErrorPropagates(t *testing.T) {
	f := newFlowFixture()
	f.users.On("FindByEmail", mock.Anything, "user@x.com").Return(nil, errors.New("db down"))

	err := f.flow.RequestCode(context.Background(), "user@x.com")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrThrottled)
}

func TestGenerateCode_Range(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		assert.GreaterOrEqual(t, code, "100000")
		assert.LessOrEqual(t, code, "999999")
	}
}

func wrongCode(code string) string {
	if code == "123456" {
		return "654321"
	}
	return "123456"
}

// stalledMailer blocks until release is closed, like an SMTP relay that stops answering.
type stalledMailer struct {
	release chan struct{}
	sent    chan string
}

func (s *stalledMailer) SendRecoveryCode(ctx context.Context, _, code string, _ time.Duration) error {
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.sent <- code
	return nil
}

func TestFlow_SlowMailDoesNotDelayRequest(t *testing.T) {
	relay := &stalledMailer{release: make(chan struct{}), sent: make(chan string, 1)}
	queue := mail.NewMemoryQueue(relay, 4, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go queue.Run(ctx)

	users := new(MockUsers)
	users.On("FindByEmail", mock.Anything, "user@x.com").Return(&model.User{ID: 7, Email: "user@x.com"}, nil)
	store := NewMemoryStore(CodeTTL, RequestCooldown)
	flow := NewFlow(store, users, queue, logging.Discard())

	done := make(chan error, 1)
	go func() { done <- flow.RequestCode(ctx, "user@x.com") }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("RequestCode waited on the mail relay")
	}

	close(relay.release)
	select {
	case code := <-relay.sent:
		session, err := store.GetSession(ctx, "user@x.com")
		require.NoError(t, err)
		require.NotNil(t, session)
		assert.Equal(t, session.Code, code)
	case <-time.After(3 * time.Second):
		t.Fatal("queued code was not delivered")
	}
}
