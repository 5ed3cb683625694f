package challenge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mbd888/riskgate/internal/risk"
)

type fakeSender struct {
	mu    sync.Mutex
	codes []string
	err   error
}

func (f *fakeSender) SendCode(_ context.Context, _ Method, _ string, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.codes = append(f.codes, code)
	return nil
}

func (f *fakeSender) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.codes[len(f.codes)-1]
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.codes)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []*Event
}

func (r *recordingNotifier) Notify(ev *Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingNotifier) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func newTestOrchestrator(cfg Config, sender Sender, notifier Notifier) *Orchestrator {
	o := NewOrchestrator(cfg, sender, notifier, nil)
	o.hashCost = bcrypt.MinCost
	return o
}

func captchaRequest(attempt string) Request {
	return Request{
		AttemptID: attempt,
		UserID:    "u1",
		Method:    MethodCaptcha,
		RiskLevel: risk.LevelMedium,
		Reasons:   []string{"amount above usual maximum"},
	}
}

func TestStart_CreatesPendingSession(t *testing.T) {
	n := &recordingNotifier{}
	o := newTestOrchestrator(DefaultConfig(), nil, n)

	s, err := o.Start(context.Background(), captchaRequest("att_1"))
	require.NoError(t, err)

	assert.Equal(t, StatusPending, s.Status)
	assert.Equal(t, MethodCaptcha, s.Method)
	assert.Equal(t, risk.LevelMedium, s.RiskLevel)
	assert.Equal(t, DefaultTimeout, s.ExpiresAt.Sub(s.CreatedAt))
	assert.Equal(t, 1, o.Pending())
	assert.Equal(t, []EventType{EventStarted}, n.types())

	active, ok := o.ActiveFor("att_1")
	require.True(t, ok)
	assert.Equal(t, s.ID, active.ID)
}

func TestStart_Validation(t *testing.T) {
	o := newTestOrchestrator(DefaultConfig(), nil, nil)

	_, err := o.Start(context.Background(), Request{Method: MethodCaptcha})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = o.Start(context.Background(), Request{AttemptID: "a", Method: "carrier_pigeon"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = o.Start(context.Background(), Request{AttemptID: "a", Method: MethodSMS, Destination: "+81"})
	assert.ErrorIs(t, err, ErrInvalidRequest, "no sender configured")

	_, err = o.Start(context.Background(), Request{AttemptID: "a", Method: MethodEmail})
	assert.ErrorIs(t, err, ErrInvalidRequest, "missing destination")
}

func TestStart_OneActiveSessionPerAttempt(t *testing.T) {
	o := newTestOrchestrator(DefaultConfig(), nil, nil)

	s, err := o.Start(context.Background(), captchaRequest("att_1"))
	require.NoError(t, err)

	_, err = o.Start(context.Background(), captchaRequest("att_1"))
	assert.ErrorIs(t, err, ErrSessionActive)

	_, err = o.Start(context.Background(), captchaRequest("att_2"))
	assert.NoError(t, err, "other attempts unaffected")

	_, err = o.Cancel(s.ID)
	require.NoError(t, err)
	_, err = o.Start(context.Background(), captchaRequest("att_1"))
	assert.NoError(t, err, "new session allowed once the previous one is terminal")
}

func TestComplete(t *testing.T) {
	for _, success := range []bool{true, false} {
		o := newTestOrchestrator(DefaultConfig(), nil, nil)
		s, err := o.Start(context.Background(), captchaRequest("att_1"))
		require.NoError(t, err)

		resolved, err := o.Complete(s.ID, success)
		require.NoError(t, err)
		require.NotNil(t, resolved.ResolvedAt)

		ok, err := o.Await(context.Background(), s.ID)
		assert.NoError(t, err)
		assert.Equal(t, success, ok)
		if success {
			assert.Equal(t, StatusSuccess, resolved.Status)
		} else {
			assert.Equal(t, StatusFailed, resolved.Status)
			assert.Equal(t, ReasonRejected, resolved.FailureReason)
		}
		assert.Zero(t, o.Pending())
	}
}

func TestTimeout_ForcesFailedAndIsFinal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 30 * time.Millisecond
	o := newTestOrchestrator(cfg, nil, nil)

	s, err := o.Start(context.Background(), captchaRequest("att_1"))
	require.NoError(t, err)

	ok, err := o.Await(context.Background(), s.ID)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrTimeout)

	got, _ := o.Get(s.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, ReasonTimeout, got.FailureReason)

	for _, transition := range []func() (*Session, error){
		func() (*Session, error) { return o.Complete(s.ID, true) },
		func() (*Session, error) { return o.Cancel(s.ID) },
		func() (*Session, error) { return o.Timeout(s.ID) },
	} {
		after, err := transition()
		assert.ErrorIs(t, err, ErrNotPending)
		assert.Equal(t, StatusFailed, after.Status)
	}
}

func TestTimeout_ExplicitCallback(t *testing.T) {
	o := newTestOrchestrator(DefaultConfig(), nil, nil)
	s, _ := o.Start(context.Background(), captchaRequest("att_1"))

	got, err := o.Timeout(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)

	ok, err := Outcome(got)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestCancel(t *testing.T) {
	o := newTestOrchestrator(DefaultConfig(), nil, nil)
	s, _ := o.Start(context.Background(), captchaRequest("att_1"))

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = o.Cancel(s.ID)
	}()

	ok, err := o.Await(context.Background(), s.ID)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrCanceled)

	got, _ := o.Get(s.ID)
	assert.Equal(t, StatusCanceled, got.Status)
}

func TestAwait_ContextCancelCancelsSession(t *testing.T) {
	o := newTestOrchestrator(DefaultConfig(), nil, nil)
	s, _ := o.Start(context.Background(), captchaRequest("att_1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ok, err := o.Await(ctx, s.ID)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	got, _ := o.Get(s.ID)
	assert.Equal(t, StatusCanceled, got.Status)
	assert.Zero(t, o.Pending())
}

func TestAwait_UnknownSession(t *testing.T) {
	o := newTestOrchestrator(DefaultConfig(), nil, nil)
	_, err := o.Await(context.Background(), "chl_missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestChallenge_ResolvesOnCompletion(t *testing.T) {
	n := &recordingNotifier{}
	o := newTestOrchestrator(DefaultConfig(), nil, n)

	go func() {
		for {
			if s, ok := o.ActiveFor("att_1"); ok {
				_, _ = o.Complete(s.ID, true)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	ok, s, err := o.Challenge(context.Background(), captchaRequest("att_1"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StatusSuccess, s.Status)
	assert.ElementsMatch(t, []EventType{EventStarted, EventResolved}, n.types())
}

func TestVerifyCode(t *testing.T) {
	sender := &fakeSender{}
	o := newTestOrchestrator(DefaultConfig(), sender, nil)

	s, err := o.Start(context.Background(), Request{AttemptID: "att_1", Method: MethodSMS, Destination: "+81-90-0000-0000"})
	require.NoError(t, err)
	require.Equal(t, 1, sender.count())
	assert.Len(t, sender.last(), 6)

	_, err = o.VerifyCode(s.ID, "not-it")
	assert.ErrorIs(t, err, ErrInvalidCode)

	got, err := o.VerifyCode(s.ID, sender.last())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.Status)

	_, err = o.VerifyCode(s.ID, sender.last())
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestVerifyCode_TooManyAttempts(t *testing.T) {
	sender := &fakeSender{}
	o := newTestOrchestrator(DefaultConfig(), sender, nil)
	s, _ := o.Start(context.Background(), Request{AttemptID: "att_1", Method: MethodEmail, Destination: "a@example.com"})

	for i := 0; i < DefaultMaxCodeAttempts; i++ {
		_, err := o.VerifyCode(s.ID, "bad")
		assert.ErrorIs(t, err, ErrInvalidCode)
	}

	got, _ := o.Get(s.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, ReasonTooManyCodes, got.FailureReason)

	_, err := o.VerifyCode(s.ID, sender.last())
	assert.ErrorIs(t, err, ErrNotPending, "correct code after lockout is refused")
}

func TestVerifyCode_UnsupportedMethod(t *testing.T) {
	o := newTestOrchestrator(DefaultConfig(), nil, nil)
	s, _ := o.Start(context.Background(), captchaRequest("att_1"))

	_, err := o.VerifyCode(s.ID, "123456")
	assert.ErrorIs(t, err, ErrCodeUnsupported)
}

func TestResend_Cooldown(t *testing.T) {
	sender := &fakeSender{}
	o := newTestOrchestrator(DefaultConfig(), sender, nil)
	now := time.Now()
	o.now = func() time.Time { return now }

	s, err := o.Start(context.Background(), Request{AttemptID: "att_1", Method: MethodSMS, Destination: "+81"})
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	err = o.Resend(context.Background(), s.ID)
	assert.ErrorIs(t, err, ErrResendCooldown)
	assert.Contains(t, err.Error(), "30s")
	assert.Equal(t, 1, sender.count())

	now = now.Add(31 * time.Second)
	require.NoError(t, o.Resend(context.Background(), s.ID))
	assert.Equal(t, 2, sender.count())

	err = o.Resend(context.Background(), s.ID)
	assert.ErrorIs(t, err, ErrResendCooldown, "cooldown restarts after each send")

	got, err := o.VerifyCode(s.ID, sender.last())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.Status)
}

func TestResend_KeepsAttemptCount(t *testing.T) {
	sender := &fakeSender{}
	o := newTestOrchestrator(DefaultConfig(), sender, nil)
	now := time.Now()
	o.now = func() time.Time { return now }

	s, err := o.Start(context.Background(), Request{AttemptID: "att_1", Method: MethodSMS, Destination: "+81"})
	require.NoError(t, err)

	for i := 0; i < DefaultMaxCodeAttempts-1; i++ {
		_, err := o.VerifyCode(s.ID, "bad")
		require.ErrorIs(t, err, ErrInvalidCode)
	}

	now = now.Add(DefaultResendCooldown + time.Second)
	require.NoError(t, o.Resend(context.Background(), s.ID))

	got, err := o.VerifyCode(s.ID, "bad")
	assert.ErrorIs(t, err, ErrInvalidCode)
	assert.Equal(t, StatusFailed, got.Status, "the cap spans the whole session")
	assert.Equal(t, ReasonTooManyCodes, got.FailureReason)

	_, err = o.VerifyCode(s.ID, sender.last())
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestCompleteCaptcha_RejectsVerifiedMethods(t *testing.T) {
	o := newTestOrchestrator(DefaultConfig(), &fakeSender{}, nil)

	for _, req := range []Request{
		{AttemptID: "att_3ds", Method: Method3DS, AuthenticationURL: "https://acs.example/auth"},
		{AttemptID: "att_sms", Method: MethodSMS, Destination: "+81"},
		{AttemptID: "att_mail", Method: MethodEmail, Destination: "a@example.com"},
	} {
		s, err := o.Start(context.Background(), req)
		require.NoError(t, err)

		_, err = o.CompleteCaptcha(s.ID, true)
		assert.ErrorIs(t, err, ErrVerificationRequired, req.Method)

		got, err := o.Get(s.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, got.Status, req.Method)
	}

	c, err := o.Start(context.Background(), captchaRequest("att_captcha"))
	require.NoError(t, err)
	got, err := o.CompleteCaptcha(c.ID, true)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.Status)

	_, err = o.CompleteCaptcha("chl_missing", true)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStart_DeliveryFailureFailsSession(t *testing.T) {
	sender := &fakeSender{err: errors.New("sms provider down")}
	o := newTestOrchestrator(DefaultConfig(), sender, nil)

	_, err := o.Start(context.Background(), Request{AttemptID: "att_1", Method: MethodSMS, Destination: "+81"})
	require.Error(t, err)
	assert.Zero(t, o.Pending())

	_, err = o.Start(context.Background(), captchaRequest("att_1"))
	assert.NoError(t, err, "failed session does not block the attempt")
}

func TestPruneAndShutdown(t *testing.T) {
	o := newTestOrchestrator(DefaultConfig(), nil, nil)
	done, _ := o.Start(context.Background(), captchaRequest("att_1"))
	pending, _ := o.Start(context.Background(), captchaRequest("att_2"))
	_, _ = o.Complete(done.ID, true)

	assert.Equal(t, 1, o.Prune(time.Now().Add(time.Second)))
	_, err := o.Get(done.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = o.Get(pending.ID)
	assert.NoError(t, err, "pending sessions are never pruned")

	o.Shutdown()
	got, _ := o.Get(pending.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, ReasonShutdown, got.FailureReason)
}

func TestSweeper(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retention = time.Millisecond
	o := newTestOrchestrator(cfg, nil, nil)
	s, _ := o.Start(context.Background(), captchaRequest("att_1"))
	_, _ = o.Cancel(s.ID)

	sw := NewSweeper(o, nil).WithInterval(5 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sw.Start(ctx)

	require.Eventually(t, func() bool {
		_, err := o.Get(s.ID)
		return errors.Is(err, ErrSessionNotFound)
	}, time.Second, 5*time.Millisecond)
	assert.True(t, sw.Running())

	sw.Stop()
	assert.Eventually(t, func() bool { return !sw.Running() }, time.Second, 5*time.Millisecond)
}

func TestSelectMethod(t *testing.T) {
	tests := []struct {
		name string
		p    Profile
		want Method
	}{
		{"card with 3ds", Profile{CardPayment: true, ThreeDSEnabled: true, PhoneVerified: true}, Method3DS},
		{"card without 3ds", Profile{CardPayment: true, PhoneVerified: true}, MethodSMS},
		{"email only", Profile{EmailVerified: true}, MethodEmail},
		{"phone beats email", Profile{PhoneVerified: true, EmailVerified: true}, MethodSMS},
		{"nothing verified", Profile{}, MethodCaptcha},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectMethod(tt.p))
		})
	}
}
