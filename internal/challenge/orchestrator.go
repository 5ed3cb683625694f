package challenge

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/mbd888/riskgate/internal/idgen"
	"github.com/mbd888/riskgate/internal/metrics"
)

// Config tunes the orchestrator.
type Config struct {
	Timeout         time.Duration
	ResendCooldown  time.Duration
	MaxCodeAttempts int
	// Retention is how long terminal sessions stay queryable.
	Retention time.Duration
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		Timeout:         DefaultTimeout,
		ResendCooldown:  DefaultResendCooldown,
		MaxCodeAttempts: DefaultMaxCodeAttempts,
		Retention:       DefaultRetention,
	}
}

type entry struct {
	session     Session
	done        chan struct{}
	timer       *time.Timer
	destination string
	codeHash    []byte
	codeTries   int
	resend      *rate.Limiter
	lastSent    time.Time
}

// Orchestrator owns every challenge session in the process.
type Orchestrator struct {
	mu       sync.Mutex
	sessions map[string]*entry
	active   map[string]string // attemptID → sessionID
	cfg      Config
	sender   Sender
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
	hashCost int
}

// NewOrchestrator creates an orchestrator. sender and notifier may be nil;
// without a sender OTP methods are rejected.
func NewOrchestrator(cfg Config, sender Sender, notifier Notifier, logger *slog.Logger) *Orchestrator {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ResendCooldown <= 0 {
		cfg.ResendCooldown = def.ResendCooldown
	}
	if cfg.MaxCodeAttempts <= 0 {
		cfg.MaxCodeAttempts = def.MaxCodeAttempts
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		sessions: make(map[string]*entry),
		active:   make(map[string]string),
		cfg:      cfg,
		sender:   sender,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		hashCost: bcrypt.DefaultCost,
	}
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Start creates a pending session and arms its timeout. For OTP methods a
// fresh code is delivered through the Sender.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*Session, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.Method.UsesCode() && o.sender == nil {
		return nil, fmt.Errorf("%w: no code sender configured", ErrInvalidRequest)
	}

	var code string
	var hash []byte
	if req.Method.UsesCode() {
		var err error
		if code, hash, err = o.newCode(); err != nil {
			return nil, err
		}
	}

	o.mu.Lock()
	if _, busy := o.active[req.AttemptID]; busy {
		o.mu.Unlock()
		return nil, ErrSessionActive
	}

	now := o.now()
	e := &entry{
		session: Session{
			ID:                idgen.WithPrefix(idgen.PrefixChallenge),
			AttemptID:         req.AttemptID,
			UserID:            req.UserID,
			Method:            req.Method,
			RiskLevel:         req.RiskLevel,
			Reasons:           append([]string(nil), req.Reasons...),
			Status:            StatusPending,
			AuthenticationURL: req.AuthenticationURL,
			CreatedAt:         now,
			ExpiresAt:         now.Add(o.cfg.Timeout),
		},
		done:        make(chan struct{}),
		destination: req.Destination,
		codeHash:    hash,
	}
	if req.Method.UsesCode() {
		e.resend = rate.NewLimiter(rate.Every(o.cfg.ResendCooldown), 1)
		e.resend.AllowN(now, 1) // the initial send consumes the token
		e.lastSent = now
	}
	id := e.session.ID
	o.sessions[id] = e
	o.active[req.AttemptID] = id
	e.timer = time.AfterFunc(o.cfg.Timeout, func() {
		_, _ = o.Timeout(id)
	})
	snapshot := e.session.clone()
	o.mu.Unlock()

	metrics.ActiveChallenges.Inc()
	o.logger.Info("challenge started",
		"sessionId", id,
		"attemptId", req.AttemptID,
		"method", req.Method,
		"riskLevel", req.RiskLevel,
	)
	o.notify(EventStarted, snapshot)

	if req.Method.UsesCode() {
		if err := o.sender.SendCode(ctx, req.Method, req.Destination, code); err != nil {
			_, _ = o.resolve(id, StatusFailed, ReasonDeliveryFailed)
			return nil, fmt.Errorf("deliver challenge code: %w", err)
		}
	}
	return snapshot, nil
}

// Await blocks until the session is terminal or ctx is done. If ctx ends
// first the session is canceled. success is true only for StatusSuccess;
// timeouts return ErrTimeout and cancellations ErrCanceled.
func (o *Orchestrator) Await(ctx context.Context, id string) (bool, error) {
	o.mu.Lock()
	e, ok := o.sessions[id]
	if !ok {
		o.mu.Unlock()
		return false, ErrSessionNotFound
	}
	done := e.done
	o.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		_, _ = o.Cancel(id)
		<-done
		return false, fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
	}

	s, err := o.Get(id)
	if err != nil {
		return false, err
	}
	return Outcome(s)
}

// Outcome maps a terminal session to the Challenge result.
func Outcome(s *Session) (bool, error) {
	switch s.Status {
	case StatusSuccess:
		return true, nil
	case StatusCanceled:
		return false, ErrCanceled
	case StatusFailed:
		if s.FailureReason == ReasonTimeout {
			return false, ErrTimeout
		}
		return false, nil
	default:
		return false, ErrNotPending
	}
}

// Challenge starts a session and waits for its terminal state.
func (o *Orchestrator) Challenge(ctx context.Context, req Request) (bool, *Session, error) {
	s, err := o.Start(ctx, req)
	if err != nil {
		return false, nil, err
	}
	ok, err := o.Await(ctx, s.ID)
	final, getErr := o.Get(s.ID)
	if getErr != nil {
		final = s
	}
	return ok, final, err
}

// Complete records a verdict the caller has already verified, such as a
// 3-D Secure completion message whose origin and signature checked out.
func (o *Orchestrator) Complete(id string, success bool) (*Session, error) {
	if success {
		return o.resolve(id, StatusSuccess, "")
	}
	return o.resolve(id, StatusFailed, ReasonRejected)
}

// CompleteCaptcha records the front-end's self-reported verdict. Only
// captcha sessions accept one; 3-D Secure and OTP sessions return
// ErrVerificationRequired and stay pending.
func (o *Orchestrator) CompleteCaptcha(id string, success bool) (*Session, error) {
	o.mu.Lock()
	e, ok := o.sessions[id]
	if !ok {
		o.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	method := e.session.Method
	o.mu.Unlock()

	if method != MethodCaptcha {
		return nil, ErrVerificationRequired
	}
	return o.Complete(id, success)
}

// Timeout forces a pending session to failed.
func (o *Orchestrator) Timeout(id string) (*Session, error) {
	return o.resolve(id, StatusFailed, ReasonTimeout)
}

// Cancel ends a pending session on user request.
func (o *Orchestrator) Cancel(id string) (*Session, error) {
	return o.resolve(id, StatusCanceled, "")
}

// VerifyCode checks an OTP. After MaxCodeAttempts wrong codes the session
// fails; resends do not reset the count.
func (o *Orchestrator) VerifyCode(id, code string) (*Session, error) {
	o.mu.Lock()
	e, ok := o.sessions[id]
	if !ok {
		o.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if e.session.IsTerminal() {
		s := e.session.clone()
		o.mu.Unlock()
		return s, ErrNotPending
	}
	if !e.session.Method.UsesCode() {
		o.mu.Unlock()
		return nil, ErrCodeUnsupported
	}
	hash := e.codeHash
	o.mu.Unlock()

	if bcrypt.CompareHashAndPassword(hash, []byte(code)) == nil {
		return o.resolve(id, StatusSuccess, "")
	}

	o.mu.Lock()
	if e.session.IsTerminal() {
		s := e.session.clone()
		o.mu.Unlock()
		return s, ErrNotPending
	}
	e.codeTries++
	exhausted := e.codeTries >= o.cfg.MaxCodeAttempts
	s := e.session.clone()
	o.mu.Unlock()

	if exhausted {
		s, _ = o.resolve(id, StatusFailed, ReasonTooManyCodes)
	}
	return s, ErrInvalidCode
}

// Resend delivers a fresh code, at most once per ResendCooldown. The session
// timeout is unaffected.
func (o *Orchestrator) Resend(ctx context.Context, id string) error {
	o.mu.Lock()
	e, ok := o.sessions[id]
	if !ok {
		o.mu.Unlock()
		return ErrSessionNotFound
	}
	if e.session.IsTerminal() {
		o.mu.Unlock()
		return ErrNotPending
	}
	if !e.session.Method.UsesCode() {
		o.mu.Unlock()
		return ErrCodeUnsupported
	}
	now := o.now()
	if !e.resend.AllowN(now, 1) {
		wait := o.cfg.ResendCooldown - now.Sub(e.lastSent)
		o.mu.Unlock()
		return fmt.Errorf("%w: retry in %ds", ErrResendCooldown, int(math.Ceil(wait.Seconds())))
	}
	e.lastSent = now
	method, dest := e.session.Method, e.destination
	o.mu.Unlock()

	code, hash, err := o.newCode()
	if err != nil {
		return err
	}

	o.mu.Lock()
	if e.session.IsTerminal() {
		o.mu.Unlock()
		return ErrNotPending
	}
	e.codeHash = hash
	o.mu.Unlock()

	if err := o.sender.SendCode(ctx, method, dest, code); err != nil {
		return fmt.Errorf("deliver challenge code: %w", err)
	}
	o.logger.Info("challenge code resent", "sessionId", id)
	return nil
}

// Get returns a snapshot of a session.
func (o *Orchestrator) Get(id string) (*Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	e, ok := o.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e.session.clone(), nil
}

// ActiveFor returns the pending session for an attempt, if any.
func (o *Orchestrator) ActiveFor(attemptID string) (*Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id, ok := o.active[attemptID]
	if !ok {
		return nil, false
	}
	return o.sessions[id].session.clone(), true
}

// Pending returns the number of pending sessions.
func (o *Orchestrator) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// Prune forgets terminal sessions resolved before cutoff and returns how
// many were removed. Pending sessions are never pruned.
func (o *Orchestrator) Prune(cutoff time.Time) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := 0
	for id, e := range o.sessions {
		if e.session.ResolvedAt != nil && e.session.ResolvedAt.Before(cutoff) {
			delete(o.sessions, id)
			n++
		}
	}
	return n
}

// Shutdown fails every pending session so no waiter or timer outlives the
// process.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	ids := make([]string, 0, len(o.active))
	for _, id := range o.active {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		_, _ = o.resolve(id, StatusFailed, ReasonShutdown)
	}
}

// resolve performs the single terminal transition of a session.
func (o *Orchestrator) resolve(id string, status Status, reason string) (*Session, error) {
	o.mu.Lock()
	e, ok := o.sessions[id]
	if !ok {
		o.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if e.session.IsTerminal() {
		s := e.session.clone()
		o.mu.Unlock()
		return s, ErrNotPending
	}

	now := o.now()
	e.session.Status = status
	e.session.FailureReason = reason
	e.session.ResolvedAt = &now
	if e.timer != nil {
		e.timer.Stop()
	}
	e.codeHash = nil
	close(e.done)
	if o.active[e.session.AttemptID] == id {
		delete(o.active, e.session.AttemptID)
	}
	snapshot := e.session.clone()
	o.mu.Unlock()

	metrics.ActiveChallenges.Dec()
	metrics.ChallengesTotal.WithLabelValues(string(snapshot.Method), string(status)).Inc()
	o.logger.Info("challenge resolved",
		"sessionId", id,
		"method", snapshot.Method,
		"status", status,
		"reason", reason,
	)
	o.notify(EventResolved, snapshot)
	return snapshot, nil
}

func (o *Orchestrator) notify(t EventType, s *Session) {
	if o.notifier == nil {
		return
	}
	o.notifier.Notify(&Event{Type: t, Timestamp: o.now(), Session: s})
}

func (o *Orchestrator) newCode() (string, []byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", nil, fmt.Errorf("generate code: %w", err)
	}
	code := fmt.Sprintf("%06d", n.Int64())
	hash, err := bcrypt.GenerateFromPassword([]byte(code), o.hashCost)
	if err != nil {
		return "", nil, fmt.Errorf("hash code: %w", err)
	}
	return code, hash, nil
}

