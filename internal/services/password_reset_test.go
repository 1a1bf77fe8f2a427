package services

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sampleapp/apiserver/internal/resettoken"
	"github.com/sampleapp/apiserver/internal/services/servicestest"
	"github.com/sampleapp/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	resetSecret = []byte("0123456789abcdef0123456789abcdef")
	t0          = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tokenRe     = regexp.MustCompile(`reset-password\?token=([0-9a-zA-Z.\-_]+)`)
)

type resetFixture struct {
	users  *servicestest.Users
	mailer *servicestest.Mailer
	clock  *servicestest.Clock
	svc    *PasswordResetService
	alice  types.User
}

func newResetFixture(t *testing.T, cooldown, validity time.Duration) *resetFixture {
	t.Helper()
	f := &resetFixture{
		users:  servicestest.NewUsers(),
		mailer: &servicestest.Mailer{},
		clock:  servicestest.NewClock(t0),
	}
	f.alice = f.users.Add(types.User{Email: "alice@example.com", PasswordHash: "plain:old", Active: true})
	f.svc = NewPasswordResetService(f.users, f.mailer, servicestest.PlainHasher{}, ResetConfig{
		Secret:   resetSecret,
		Cooldown: cooldown,
		Validity: validity,
		BaseURL:  "http://localhost:8080/",
		Now:      f.clock.Now,
	}, zap.NewNop())
	return f
}

func tokenFromMail(t *testing.T, body string) string {
	t.Helper()
	m := tokenRe.FindStringSubmatch(body)
	require.Len(t, m, 2, "no reset link in %q", body)
	return m[1]
}

func TestMayIssue(t *testing.T) {
	sent := t0
	user := types.User{SentResetPasswordAt: &sent}

	assert.False(t, MayIssue(user, 600*time.Second, t0.Add(599*time.Second)))
	assert.True(t, MayIssue(user, 600*time.Second, t0.Add(600*time.Second)))
	assert.True(t, MayIssue(user, 600*time.Second, t0.Add(601*time.Second)))
	assert.False(t, MayIssue(user, 600*time.Second, t0))

	assert.True(t, MayIssue(types.User{}, 600*time.Second, t0), "never sent")
	assert.True(t, MayIssue(user, 0, t0), "cooldown disabled")
	assert.True(t, MayIssue(user, -time.Second, t0), "negative cooldown")
}

func TestRecordIssuance(t *testing.T) {
	var user types.User
	RecordIssuance(&user, t0)
	require.NotNil(t, user.SentResetPasswordAt)
	assert.True(t, t0.Equal(*user.SentResetPasswordAt))
	assert.False(t, MayIssue(user, time.Minute, t0.Add(59*time.Second)))
}

func TestRequestResetSendsLink(t *testing.T) {
	f := newResetFixture(t, 600*time.Second, 3600*time.Second)

	outcome, err := f.svc.RequestReset(context.Background(), "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, ResetSent, outcome)

	sent := f.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "alice@example.com", sent[0].To)
	assert.Contains(t, sent[0].Body, "http://localhost:8080/reset-password?token=")

	token := tokenFromMail(t, sent[0].Body)
	userID, err := resettoken.Verify(token, resetSecret, t0)
	require.NoError(t, err)
	assert.Equal(t, f.alice.ID, userID)

	stored, err := f.users.GetByID(context.Background(), f.alice.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.SentResetPasswordAt)
	assert.True(t, t0.Equal(*stored.SentResetPasswordAt))

	// The link expires exactly validity after the recorded send time.
	_, err = resettoken.Verify(token, resetSecret, stored.SentResetPasswordAt.Add(3599*time.Second))
	require.NoError(t, err)
	_, err = resettoken.Verify(token, resetSecret, stored.SentResetPasswordAt.Add(3600*time.Second))
	require.ErrorIs(t, err, resettoken.ErrExpired)
}

func TestRequestResetCooldown(t *testing.T) {
	f := newResetFixture(t, 600*time.Second, time.Hour)
	ctx := context.Background()

	outcome, err := f.svc.RequestReset(ctx, "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, ResetSent, outcome)

	f.clock.Set(t0.Add(599 * time.Second))
	outcome, err = f.svc.RequestReset(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, ResetCooldown, outcome)
	assert.Len(t, f.mailer.Sent(), 1)

	stored, err := f.users.GetByID(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.True(t, t0.Equal(*stored.SentResetPasswordAt), "cooldown hit must not move the window")

	f.clock.Set(t0.Add(600 * time.Second))
	outcome, err = f.svc.RequestReset(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, ResetSent, outcome)
	assert.Len(t, f.mailer.Sent(), 2)
}

func TestRequestResetUnknownOrInactive(t *testing.T) {
	f := newResetFixture(t, 600*time.Second, time.Hour)
	f.users.Add(types.User{Email: "bob@example.com", Active: false})

	outcome, err := f.svc.RequestReset(context.Background(), "ghost@example.com")
	require.NoError(t, err)
	assert.Equal(t, ResetUnknownEmail, outcome)

	outcome, err = f.svc.RequestReset(context.Background(), "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, ResetUnknownEmail, outcome)

	assert.Empty(t, f.mailer.Sent())
}

func TestRequestResetDeliveryFailureDoesNotRecord(t *testing.T) {
	f := newResetFixture(t, 600*time.Second, time.Hour)
	f.mailer.Err = errors.New("smtp: connection refused")

	_, err := f.svc.RequestReset(context.Background(), "alice@example.com")
	require.ErrorIs(t, err, ErrDelivery)

	stored, err := f.users.GetByID(context.Background(), f.alice.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.SentResetPasswordAt)

	// A retry right away is not blocked by the failed attempt.
	f.mailer.Err = nil
	outcome, err := f.svc.RequestReset(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, ResetSent, outcome)
}

func TestRequestResetConcurrentSendsOnce(t *testing.T) {
	f := newResetFixture(t, 600*time.Second, time.Hour)

	const workers = 8
	outcomes := make([]ResetOutcome, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome, err := f.svc.RequestReset(context.Background(), "alice@example.com")
			assert.NoError(t, err)
			outcomes[i] = outcome
		}(i)
	}
	wg.Wait()

	assert.Len(t, f.mailer.Sent(), 1)
	sent := 0
	for _, o := range outcomes {
		if o == ResetSent {
			sent++
		} else {
			assert.Equal(t, ResetCooldown, o)
		}
	}
	assert.Equal(t, 1, sent)
}

func TestResetPassword(t *testing.T) {
	f := newResetFixture(t, 600*time.Second, 123*time.Second)
	ctx := context.Background()

	_, err := f.svc.RequestReset(ctx, "alice@example.com")
	require.NoError(t, err)
	token := tokenFromMail(t, f.mailer.Sent()[0].Body)

	userID, err := f.svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, f.alice.ID, userID)

	f.clock.Set(t0.Add(122 * time.Second))
	user, err := f.svc.ResetPassword(ctx, token, "new-password")
	require.NoError(t, err)
	assert.Equal(t, f.alice.ID, user.ID)

	stored, err := f.users.GetByID(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "plain:new-password", stored.PasswordHash)
}

func TestResetPasswordRejectsBadTokens(t *testing.T) {
	f := newResetFixture(t, 600*time.Second, 123*time.Second)
	ctx := context.Background()

	_, err := f.svc.RequestReset(ctx, "alice@example.com")
	require.NoError(t, err)
	token := tokenFromMail(t, f.mailer.Sent()[0].Body)

	foreign, err := resettoken.Issue(f.alice.ID, time.Hour, []byte("another-secret-another-secret-00"), t0)
	require.NoError(t, err)

	f.clock.Set(t0.Add(123 * time.Second))
	for name, tok := range map[string]string{
		"expired":   token,
		"malformed": "not-a-token",
		"foreign":   foreign,
		"empty":     "",
	} {
		_, err := f.svc.ResetPassword(ctx, tok, "new-password")
		assert.ErrorIs(t, err, ErrInvalidResetToken, name)
	}
	assert.Zero(t, f.users.PasswordUpdates)
}

func TestResetPasswordVanishedUser(t *testing.T) {
	f := newResetFixture(t, 0, time.Hour)
	token, err := resettoken.Issue(uuid.New(), time.Hour, resetSecret, t0)
	require.NoError(t, err)

	_, err = f.svc.ResetPassword(context.Background(), token, "new-password")
	require.ErrorIs(t, err, ErrInvalidResetToken)
}
