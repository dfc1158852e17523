package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"otpgate/internal/entity"
	"otpgate/internal/repository"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentEmail struct {
	address string
	code    string
	purpose entity.Purpose
}

type fakeEmail struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (f *fakeEmail) SendCode(ctx context.Context, address string, code string, purpose entity.Purpose) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEmail{address: address, code: code, purpose: purpose})
	return f.err
}

func (f *fakeEmail) lastCode(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent, "no email was sent")
	return f.sent[len(f.sent)-1].code
}

// fakeVendor approves exactly one code per phone, like a delegated verify service.
type fakeVendor struct {
	mu       sync.Mutex
	codes    map[string]string
	sendErr  error
	checkErr error
	sent     []PhoneVia
}

func newFakeVendor() *fakeVendor {
	return &fakeVendor{codes: make(map[string]string)}
}

func (f *fakeVendor) Delegated() bool { return true }

func (f *fakeVendor) SendCode(ctx context.Context, phone string, via PhoneVia) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, via)
	if f.sendErr != nil {
		return f.sendErr
	}
	f.codes[phone] = "246810"
	return nil
}

func (f *fakeVendor) VerifyCode(ctx context.Context, phone string, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checkErr != nil {
		return false, f.checkErr
	}
	if want, ok := f.codes[phone]; ok && want == code {
		delete(f.codes, phone)
		return true, nil
	}
	return false, nil
}

// fakeLocalPhone is a phone dispatcher without a vendor that still delivers
// engine-generated codes.
type fakeLocalPhone struct {
	mu    sync.Mutex
	codes map[string]string
}

func (f *fakeLocalPhone) Delegated() bool { return false }

func (f *fakeLocalPhone) SendCode(ctx context.Context, phone string, via PhoneVia) error {
	return ErrDispatcherNotConfigured
}

func (f *fakeLocalPhone) VerifyCode(ctx context.Context, phone string, code string) (bool, error) {
	return false, nil
}

func (f *fakeLocalPhone) SendLocalCode(ctx context.Context, phone string, code string, purpose entity.Purpose, via PhoneVia) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.codes == nil {
		f.codes = make(map[string]string)
	}
	f.codes[phone] = code
	return nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []entity.VerificationEvent
}

func (r *eventRecorder) Log(ctx context.Context, event *entity.VerificationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *event)
	return nil
}

func (r *eventRecorder) actions() []entity.VerificationAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entity.VerificationAction, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

type fixture struct {
	svc     *VerificationService
	tickets *repository.MemoryTicketRepository
	users   *repository.MemoryUserRepository
	events  *eventRecorder
	email   *fakeEmail
	clock   *fakeClock
	logs    *logtest.Hook
	codes   []string
}

func newFixture(t *testing.T, phone PhoneDispatcher, config VerificationConfig) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	f := &fixture{
		tickets: repository.NewMemoryTicketRepository(clock.Now),
		users:   repository.NewMemoryUserRepository(),
		events:  &eventRecorder{},
		email:   &fakeEmail{},
		clock:   clock,
		logs:    hook,
	}
	f.svc = NewVerificationService(
		f.tickets,
		f.users,
		f.events,
		f.email,
		phone,
		BcryptPasswordHasher{Cost: bcrypt.MinCost},
		clock,
		logger,
		config,
	)
	return f
}

// queueCodes makes the engine hand out the given codes in order.
func (f *fixture) queueCodes(t *testing.T, codes ...string) {
	t.Helper()
	f.codes = append(f.codes, codes...)
	f.svc.generateCode = func() (string, error) {
		if len(f.codes) == 0 {
			t.Fatal("unexpected code generation")
		}
		code := f.codes[0]
		f.codes = f.codes[1:]
		return code, nil
	}
}

func (f *fixture) ticketsFor(identifier string) []entity.VerificationTicket {
	var out []entity.VerificationTicket
	for _, t := range f.tickets.Snapshot() {
		if t.Identifier == identifier {
			out = append(out, t)
		}
	}
	return out
}

func emailIssue(identifier string, purpose entity.Purpose) IssueInput {
	return IssueInput{Channel: entity.ChannelEmail, Identifier: identifier, Purpose: purpose}
}

func emailVerify(identifier, code string, purpose entity.Purpose) VerifyInput {
	return VerifyInput{Channel: entity.ChannelEmail, Identifier: identifier, Code: code, Purpose: purpose}
}

func TestIssue_RateLimitedOnFourthWithinWindow(t *testing.T) {
	f := newFixture(t, nil, VerificationConfig{})
	ctx := context.Background()
	input := emailIssue("alice@example.com", entity.PurposeAccountVerification)

	for i := 0; i < RateLimitMaxIssues; i++ {
		_, err := f.svc.Issue(ctx, input)
		require.NoError(t, err, "issue %d", i+1)
		f.clock.Advance(time.Minute)
	}

	_, err := f.svc.Issue(ctx, input)
	assert.ErrorIs(t, err, ErrRateLimited)

	other := emailIssue("alice@example.com", entity.PurposePasswordReset)
	_, err = f.svc.Issue(ctx, other)
	assert.NoError(t, err, "other purpose has its own window")

	f.clock.Advance(RateLimitWindow)
	_, err = f.svc.Issue(ctx, input)
	assert.NoError(t, err, "window has passed")
}

func TestIssue_ReturnsGenericResult(t *testing.T) {
	f := newFixture(t, nil, VerificationConfig{})
	f.queueCodes(t, "482913")

	result, err := f.svc.Issue(context.Background(), emailIssue("Alice@Example.com", entity.PurposeAccountVerification))
	require.NoError(t, err)
	assert.Equal(t, int64(300), result.ExpiresIn)
	assert.NotContains(t, result.Message, "482913")

	tickets := f.ticketsFor("alice@example.com")
	require.Len(t, tickets, 1)
	assert.NotEqual(t, "482913", tickets[0].Code, "code must be stored hashed")
	assert.Equal(t, f.clock.Now().Add(EmailCodeTTL), tickets[0].ExpiresAt)
	assert.Equal(t, "alice@example.com", f.email.sent[0].address)
	assert.Equal(t, []entity.VerificationAction{entity.ActionCodeIssued}, f.events.actions())
}

func TestIssue_InvalidInput(t *testing.T) {
	f := newFixture(t, nil, VerificationConfig{})
	ctx := context.Background()

	cases := []IssueInput{
		{Channel: "fax", Identifier: "alice@example.com", Purpose: entity.PurposeAccountVerification},
		{Channel: entity.ChannelEmail, Identifier: "alice@example.com", Purpose: "login"},
		{Channel: entity.ChannelEmail, Identifier: "+995500000000", Purpose: entity.PurposeAccountVerification},
		{Channel: entity.ChannelEmail, Identifier: "@example.com", Purpose: entity.PurposeAccountVerification},
		{Channel: entity.ChannelPhone, Identifier: "not-a-phone", Purpose: entity.PurposeAccountVerification},
		{Channel: entity.ChannelPhone, Identifier: "", Purpose: entity.PurposeAccountVerification},
	}
	for _, input := range cases {
		_, err := f.svc.Issue(ctx, input)
		assert.ErrorIs(t, err, ErrInvalidInput, "input %+v", input)
	}
	assert.Empty(t, f.tickets.Snapshot())
}

func TestIssue_NewCodeInvalidatesPrevious(t *testing.T) {
	f := newFixture(t, nil, VerificationConfig{})
	ctx := context.Background()
	f.queueCodes(t, "111111", "222222")
	purpose := entity.PurposeAccountVerification

	_, err := f.svc.Issue(ctx, emailIssue("alice@example.com", purpose))
	require.NoError(t, err)
	_, err = f.svc.Issue(ctx, emailIssue("alice@example.com", purpose))
	require.NoError(t, err)

	_, err = f.svc.Verify(ctx, emailVerify("alice@example.com", "111111", purpose))
	assert.ErrorIs(t, err, ErrInvalidOrExpired)

	result, err := f.svc.Verify(ctx, emailVerify("alice@example.com", "222222", purpose))
	require.NoError(t, err)
	assert.True(t, result.Verified)
}

func TestVerify_WrongThenCorrectThenReplay(t *testing.T) {
	f := newFixture(t, nil, VerificationConfig{})
	ctx := context.Background()
	f.queueCodes(t, "482913")
	purpose := entity.PurposeAccountVerification

	_, err := f.svc.Issue(ctx, emailIssue("alice@example.com", purpose))
	require.NoError(t, err)

	_, err = f.svc.Verify(ctx, emailVerify("alice@example.com", "000000", purpose))
	assert.ErrorIs(t, err, ErrInvalidOrExpired)
	tickets := f.ticketsFor("alice@example.com")
	require.Len(t, tickets, 1)
	assert.Equal(t, 1, tickets[0].Attempts)

	result, err := f.svc.Verify(ctx, emailVerify("alice@example.com", "482913", purpose))
	require.NoError(t, err)
	assert.True(t, result.Verified)
	assert.True(t, f.ticketsFor("alice@example.com")[0].IsUsed)

	_, err = f.svc.Verify(ctx, emailVerify("alice@example.com", "482913", purpose))
	assert.ErrorIs(t, err, ErrInvalidOrExpired)
}

func TestVerify_LocksAfterFiveWrongAttempts(t *testing.T) {
	f := newFixture(t, nil, VerificationConfig{})
	ctx := context.Background()
	f.queueCodes(t, "482913")
	purpose := entity.PurposeAccountVerification

	_, err := f.svc.Issue(ctx, emailIssue("alice@example.com", purpose))
	require.NoError(t, err)

	for i := 1; i < entity.MaxVerificationAttempts; i++ {
		_, err := f.svc.Verify(ctx, emailVerify("alice@example.com", "000000", purpose))
		assert.ErrorIs(t, err, ErrInvalidOrExpired, "attempt %d", i)
	}
	_, err = f.svc.Verify(ctx, emailVerify("alice@example.com", "000000", purpose))
	assert.ErrorIs(t, err, ErrTooManyAttempts)

	_, err = f.svc.Verify(ctx, emailVerify("alice@example.com", "482913", purpose))
	assert.ErrorIs(t, err, ErrTooManyAttempts, "correct code after lockout")
	assert.Contains(t, f.events.actions(), entity.ActionTicketLocked)
}

func TestVerify_ExpiredCodeNeverMatches(t *testing.T) {
	f := newFixture(t, nil, VerificationConfig{})
	ctx := context.Background()
	f.queueCodes(t, "482913")
	purpose := entity.PurposeAccountVerification

	_, err := f.svc.Issue(ctx, emailIssue("alice@example.com", purpose))
	require.NoError(t, err)

	f.clock.Advance(EmailCodeTTL)
	_, err = f.svc.Verify(ctx, emailVerify("alice@example.com", "482913", purpose))
	assert.ErrorIs(t, err, ErrInvalidOrExpired)
}

func TestVerify_PurposesDoNotCrossOver(t *testing.T) {
	f := newFixture(t, nil, VerificationConfig{})
	ctx := context.Background()
	f.queueCodes(t, "482913")

	_, err := f.svc.Issue(ctx, emailIssue("alice@example.com", entity.PurposeAccountVerification))
	require.NoError(t, err)

	_, err = f.svc.Verify(ctx, emailVerify("alice@example.com", "482913", entity.PurposePasswordReset))
	assert.ErrorIs(t, err, ErrInvalidOrExpired)
}

func TestVerify_EmptyCode(t *testing.T) {
	f := newFixture(t, nil, VerificationConfig{})
	_, err := f.svc.Verify(context.Background(), emailVerify("alice@example.com", "  ", entity.PurposeAccountVerification))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestVerify_MarksAccountVerified(t *testing.T) {
	f := newFixture(t, nil, VerificationConfig{})
	ctx := context.Background()
	email := "alice@example.com"
	user := &entity.User{Email: &email}
	require.NoError(t, f.users.Create(ctx, user))
	f.queueCodes(t, "482913")

	_, err := f.svc.Issue(ctx, emailIssue(email, entity.PurposeAccountVerification))
	require.NoError(t, err)
	_, err = f.svc.Verify(ctx, emailVerify(email, "482913", entity.PurposeAccountVerification))
	require.NoError(t, err)

	stored, err := f.users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.EmailVerifiedAt)
	assert.Nil(t, stored.PhoneVerifiedAt)
}

func TestIssue_EmailDeliveryFailureStillSucceeds(t *testing.T) {
	f := newFixture(t, nil, VerificationConfig{})
	f.email.err = errors.New("smtp down")

	result, err := f.svc.Issue(context.Background(), emailIssue("alice@example.com", entity.PurposeAccountVerification))
	require.NoError(t, err)
	assert.Equal(t, issuedMessage, result.Message)
	assert.Len(t, f.ticketsFor("alice@example.com"), 1)
	assert.Contains(t, f.events.actions(), entity.ActionDeliveryFailed)
}

func TestIssue_PhoneDelegatedCreatesTrackingTicket(t *testing.T) {
	vendor := newFakeVendor()
	f := newFixture(t, vendor, VerificationConfig{})
	ctx := context.Background()
	f.svc.generateCode = func() (string, error) {
		t.Fatal("delegated phone codes are never generated locally")
		return "", nil
	}

	result, err := f.svc.Issue(ctx, IssueInput{
		Channel:    entity.ChannelPhone,
		Identifier: "+995 500 000 000",
		Purpose:    entity.PurposeAccountVerification,
		Via:        ViaWhatsApp,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(600), result.ExpiresIn)
	assert.Equal(t, []PhoneVia{ViaWhatsApp}, vendor.sent)

	tickets := f.ticketsFor("+995500000000")
	require.Len(t, tickets, 1)
	assert.Equal(t, entity.CodeDelegated, tickets[0].Code)

	_, err = f.svc.Verify(ctx, VerifyInput{
		Channel: entity.ChannelPhone, Identifier: "+995500000000", Code: "999999", Purpose: entity.PurposeAccountVerification,
	})
	assert.ErrorIs(t, err, ErrInvalidOrExpired)

	verified, err := f.svc.Verify(ctx, VerifyInput{
		Channel: entity.ChannelPhone, Identifier: "+995500000000", Code: "246810", Purpose: entity.PurposeAccountVerification,
	})
	require.NoError(t, err)
	assert.True(t, verified.Verified)
	assert.True(t, f.ticketsFor("+995500000000")[0].IsUsed, "tracking ticket closed")
}

func TestVerify_DelegatedApprovalBoundToPurpose(t *testing.T) {
	vendor := newFakeVendor()
	f := newFixture(t, vendor, VerificationConfig{})
	ctx := context.Background()
	user := seedUser(t, f, "", "+995500000000")
	before := passwordOf(t, f, user)

	_, err := f.svc.Issue(ctx, IssueInput{
		Channel: entity.ChannelPhone, Identifier: "+995500000000", Purpose: entity.PurposeAccountVerification,
	})
	require.NoError(t, err)

	_, err = f.svc.VerifyResetCode(ctx, VerifyResetInput{Identifier: "+995500000000", Code: "246810"})
	assert.ErrorIs(t, err, ErrInvalidOrExpired)
	err = f.svc.ResetPassword(ctx, ResetPasswordInput{Identifier: "+995500000000", NewPassword: "hunter22"})
	assert.ErrorIs(t, err, ErrInvalidOrExpired)
	assert.Equal(t, before, passwordOf(t, f, user))

	verified, err := f.svc.Verify(ctx, VerifyInput{
		Channel: entity.ChannelPhone, Identifier: "+995500000000", Code: "246810", Purpose: entity.PurposeAccountVerification,
	})
	require.NoError(t, err, "the vendor code is still pending for its own purpose")
	assert.True(t, verified.Verified)
}

func TestIssue_PhoneDeliveryFailedLeavesNoTicket(t *testing.T) {
	vendor := newFakeVendor()
	vendor.sendErr = errors.New("vendor unavailable")
	f := newFixture(t, vendor, VerificationConfig{})

	_, err := f.svc.Issue(context.Background(), IssueInput{
		Channel: entity.ChannelPhone, Identifier: "+995500000000", Purpose: entity.PurposeAccountVerification,
	})
	assert.ErrorIs(t, err, ErrDeliveryFailed)
	assert.Empty(t, f.tickets.Snapshot())
	assert.Equal(t, []PhoneVia{ViaSMS}, vendor.sent)
}

func TestVerify_PhoneVendorErrorFallsBackToLocal(t *testing.T) {
	vendor := newFakeVendor()
	f := newFixture(t, vendor, VerificationConfig{})
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, IssueInput{
		Channel: entity.ChannelPhone, Identifier: "+995500000000", Purpose: entity.PurposeAccountVerification,
	})
	require.NoError(t, err)

	vendor.checkErr = errors.New("timeout")
	_, err = f.svc.Verify(ctx, VerifyInput{
		Channel: entity.ChannelPhone, Identifier: "+995500000000", Code: "246810", Purpose: entity.PurposeAccountVerification,
	})
	assert.ErrorIs(t, err, ErrInvalidOrExpired, "tracking ticket never matches a code")
}

func TestIssue_PhoneWithoutVendorUsesLocalCode(t *testing.T) {
	phone := &fakeLocalPhone{}
	f := newFixture(t, phone, VerificationConfig{})
	ctx := context.Background()
	f.queueCodes(t, "135790")

	result, err := f.svc.Issue(ctx, IssueInput{
		Channel: entity.ChannelPhone, Identifier: "00995500000000", Purpose: entity.PurposeAccountVerification,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(600), result.ExpiresIn)
	assert.Equal(t, "135790", phone.codes["+995500000000"])

	_, err = f.svc.Verify(ctx, VerifyInput{
		Channel: entity.ChannelPhone, Identifier: "+995500000000", Code: "135790", Purpose: entity.PurposeAccountVerification,
	})
	assert.NoError(t, err)
}

func TestEngine_NeverLogsCodes(t *testing.T) {
	f := newFixture(t, nil, VerificationConfig{})
	ctx := context.Background()
	f.email.err = errors.New("smtp down")
	f.queueCodes(t, "482913")
	purpose := entity.PurposeAccountVerification

	_, err := f.svc.Issue(ctx, emailIssue("alice@example.com", purpose))
	require.NoError(t, err)
	for i := 0; i < entity.MaxVerificationAttempts; i++ {
		_, _ = f.svc.Verify(ctx, emailVerify("alice@example.com", "000000", purpose))
	}

	require.NotEmpty(t, f.logs.AllEntries())
	for _, entry := range f.logs.AllEntries() {
		line, err := entry.String()
		require.NoError(t, err)
		assert.NotContains(t, line, "482913")
		assert.NotContains(t, line, "alice@example.com", "identifiers are masked")
	}
	for _, event := range f.events.events {
		assert.False(t, strings.Contains(string(event.Metadata), "482913"))
	}
}
