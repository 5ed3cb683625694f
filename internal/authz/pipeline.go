package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/mbd888/riskgate/internal/anomaly"
	"github.com/mbd888/riskgate/internal/challenge"
	"github.com/mbd888/riskgate/internal/device"
	"github.com/mbd888/riskgate/internal/geo"
	"github.com/mbd888/riskgate/internal/history"
	"github.com/mbd888/riskgate/internal/idgen"
	"github.com/mbd888/riskgate/internal/metrics"
	"github.com/mbd888/riskgate/internal/payment"
	"github.com/mbd888/riskgate/internal/profile"
	"github.com/mbd888/riskgate/internal/receipts"
	"github.com/mbd888/riskgate/internal/risk"
	"github.com/mbd888/riskgate/internal/syncutil"
	"github.com/mbd888/riskgate/internal/threeds"
	"github.com/mbd888/riskgate/internal/traces"
	"github.com/mbd888/riskgate/internal/velocity"
)

// historyWindow is how far back the pipeline reads a user's history.
const historyWindow = 30 * 24 * time.Hour

// Deps are the pipeline's collaborators. Executor and Challenges are
// required; everything else falls back to an in-memory or default value.
type Deps struct {
	Collector    *device.Collector
	Resolver     geo.Resolver
	Geo          geo.Config
	History      history.Store
	Velocity     *velocity.Checker
	Anomaly      *anomaly.Detector
	Consolidator *risk.Consolidator
	Audit        risk.AuditStore
	Challenges   *challenge.Orchestrator
	// ThreeDS may be nil when card authentication is not configured.
	ThreeDS  *threeds.Authenticator
	Executor *payment.Executor
	// Receipts may be nil; approvals then carry no signed receipt.
	Receipts *receipts.Service
	// Profiles hold registered locations and verified contacts. A stored
	// profile replaces whatever the request carries for those fields.
	Profiles profile.Store
}

// Pipeline authorizes payment attempts. Attempts by different users run in
// parallel; attempts by the same user are serialized from history read to
// history append.
type Pipeline struct {
	deps      Deps
	userLocks *syncutil.ExactMutex
	logger    *slog.Logger
	now       func() time.Time
}

// NewPipeline creates a pipeline.
func NewPipeline(deps Deps, logger *slog.Logger) (*Pipeline, error) {
	if deps.Executor == nil || deps.Challenges == nil {
		return nil, errors.New("authz: executor and challenge orchestrator are required")
	}
	if deps.Collector == nil {
		deps.Collector = device.NewCollector(nil, nil, logger)
	}
	if deps.Geo.MaxExpectedDistanceKm <= 0 {
		deps.Geo = geo.DefaultConfig()
	}
	if deps.History == nil {
		deps.History = history.NewMemoryStore()
	}
	if deps.Velocity == nil {
		deps.Velocity = velocity.NewChecker(velocity.DefaultConfig())
	}
	if deps.Anomaly == nil {
		deps.Anomaly = anomaly.NewDetector(anomaly.DefaultConfig(), nil)
	}
	if deps.Consolidator == nil {
		deps.Consolidator = risk.NewConsolidator(risk.DefaultConfig())
	}
	if deps.Audit == nil {
		deps.Audit = risk.NewMemoryStore()
	}
	if deps.Profiles == nil {
		deps.Profiles = profile.NewMemoryStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		deps:      deps,
		userLocks: syncutil.NewExactMutex(),
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Assessments returns the recent audit trail for a user.
func (p *Pipeline) Assessments(ctx context.Context, userID string, limit int) ([]*risk.Assessment, error) {
	return p.deps.Audit.ListByUser(ctx, userID, limit)
}

// Authorize runs every stage for req. It never returns an error: failures
// become a denial, and unexpected ones are logged and reported generically.
func (p *Pipeline) Authorize(ctx context.Context, req Request, opts Options) (res *Result) {
	start := p.now()
	if req.AttemptID == "" {
		req.AttemptID = idgen.WithPrefix(idgen.PrefixAttempt)
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = idgen.IdempotencyKey()
	}

	ctx, span := traces.StartSpan(ctx, "authz.Authorize",
		traces.UserID(req.UserID),
		traces.AttemptID(req.AttemptID),
		traces.Amount(req.Amount),
		traces.Method(string(req.Method)),
	)
	defer span.End()

	r := &run{
		p:      p,
		req:    req,
		opts:   opts,
		stage:  "validate",
		logger: p.logger.With("attemptId", req.AttemptID, "userId", req.UserID),
	}

	defer func() {
		if v := recover(); v != nil {
			r.logger.Error("authorization panicked",
				"stage", r.stage,
				"panic", v,
				"stack", string(debug.Stack()),
			)
			res = r.internal(fmt.Errorf("%w: panic in %s: %v", ErrInternal, r.stage, v))
		}
		span.SetAttributes(traces.Decision(res.Decision))
		metrics.AuthorizationsTotal.WithLabelValues(res.Decision).Inc()
		metrics.AuthorizationDuration.Observe(p.now().Sub(start).Seconds())
	}()

	if err := req.validate(); err != nil {
		return &Result{AttemptID: req.AttemptID, Error: err.Error(), Decision: DecisionInvalid}
	}

	r.stage = "lock"
	unlock, err := p.userLocks.Lock(ctx, "user:"+req.UserID)
	if err != nil {
		return r.deny(DecisionCanceled, msgNotAuthorized)
	}
	defer unlock()

	res, err = r.execute(ctx)
	if err != nil {
		return r.internal(err)
	}
	return res
}

// run carries one Authorize call through its stages.
type run struct {
	p      *Pipeline
	req    Request
	opts   Options
	stage  string
	logger *slog.Logger

	assessment *risk.Assessment
	deviceSig  risk.Signal
	challenge  string
}

func (r *run) result(decision string) *Result {
	res := &Result{
		AttemptID:   r.req.AttemptID,
		Decision:    decision,
		ChallengeID: r.challenge,
	}
	if a := r.assessment; a != nil {
		res.Assessment = a
		res.Reasons = a.Reasons
		res.SuggestedActions = a.SuggestedActions
	}
	return res
}

func (r *run) deny(decision, msg string) *Result {
	res := r.result(decision)
	res.Error = msg
	return res
}

func (r *run) requireAction(decision, action, msg string) *Result {
	res := r.deny(decision, msg)
	res.RequiresAction = true
	res.ActionType = action
	return res
}

func (r *run) internal(err error) *Result {
	if !errors.Is(err, ErrInternal) {
		err = fmt.Errorf("%w: %s: %w", ErrInternal, r.stage, err)
	}
	r.logger.Error("authorization failed", "stage", r.stage, "error", err)
	res := r.deny(DecisionError, msgInternal)
	res.Reasons = nil
	res.SuggestedActions = nil
	return res
}

// execute runs the stages in order. A returned error is unexpected.
func (r *run) execute(ctx context.Context) (*Result, error) {
	p := r.p
	now := p.now()

	r.stage = "profile"
	if err := r.loadProfile(ctx); err != nil {
		return nil, err
	}

	r.stage = "device"
	dev := r.collectDevice(ctx)

	r.stage = "history"
	entries, err := p.deps.History.Query(ctx, r.req.UserID, now.Add(-historyWindow))
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	vel := p.deps.Velocity.Check(r.req.UserID, r.req.Amount, string(r.req.Method), entries, now)

	r.deviceSig = risk.DeviceSignal(dev.Evidence())
	if r.opts.AssessRisk {
		r.stage = "score"
		r.assess(ctx, dev, entries, vel, now)

		r.stage = "audit"
		if err := p.deps.Audit.Record(ctx, r.assessment); err != nil {
			r.logger.Warn("failed to record assessment", "assessmentId", r.assessment.ID, "error", err)
		}

		if r.assessment.BlockTransaction {
			r.logger.Info("payment blocked", "score", r.assessment.OverallScore)
			return r.deny(DecisionBlocked, msgBlocked), nil
		}
		if r.assessment.RequiresManualReview {
			r.logger.Info("payment routed to manual review", "score", r.assessment.OverallScore)
			return r.requireAction(DecisionManualReview, ActionManualReview, msgManualReview), nil
		}
	}

	if !vel.Allow && vel.CooldownRemaining > 0 {
		r.logger.Info("payment in cooldown", "remaining", vel.CooldownRemaining)
		res := r.requireAction(DecisionCooldown, ActionWaitCooldown, msgCooldown)
		res.RetryAfterSeconds = vel.CooldownSeconds()
		return res, nil
	}

	r.stage = "challenge"
	if denied := r.stepUp(ctx); denied != nil {
		return denied, nil
	}

	r.stage = "payment"
	return r.pay(ctx)
}

// loadProfile replaces the registered location and contact channels with
// the stored profile, if there is one.
func (r *run) loadProfile(ctx context.Context) error {
	prof, err := r.p.deps.Profiles.Get(ctx, r.req.UserID)
	if errors.Is(err, profile.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	r.req.RegisteredLocation = prof.RegisteredLocation
	r.req.Contact = Contact{
		Phone:         prof.Phone,
		PhoneVerified: prof.PhoneVerified,
		Email:         prof.Email,
		EmailVerified: prof.EmailVerified,
	}
	return nil
}

func (r *run) collectDevice(ctx context.Context) device.Result {
	if !r.opts.CollectDevice {
		return device.Result{Signals: r.req.DeviceSignals, DeviceID: device.DeriveID(r.req.DeviceSignals)}
	}
	ctx, span := traces.StartSpan(ctx, "authz.device")
	defer span.End()

	res, err := r.p.deps.Collector.Collect(ctx, r.req.UserID, r.req.DeviceSignals)
	if err != nil {
		r.logger.Debug("device signals degraded", "error", err)
	}
	return res
}

func (r *run) location(ctx context.Context) geo.Location {
	if r.req.CurrentLocation != nil {
		return *r.req.CurrentLocation
	}
	if r.req.IP == "" || r.p.deps.Resolver == nil {
		return geo.Location{}
	}
	loc, err := r.p.deps.Resolver.ResolveIP(ctx, r.req.IP)
	if err != nil {
		r.logger.Debug("geolocation unavailable", "error", err)
		return geo.Location{}
	}
	return loc
}

func (r *run) assess(ctx context.Context, dev device.Result, entries []history.Entry, vel velocity.Result, now time.Time) {
	p := r.p
	ctx, span := traces.StartSpan(ctx, "authz.score")
	defer span.End()

	current := r.location(ctx)
	geoSig := geo.Analyze(current, r.req.RegisteredLocation, p.deps.Geo)

	features := risk.NewFeatures(r.req.UserID, r.req.Amount, string(r.req.Method), dev.DeviceID, r.req.IP,
		now, history.Summarize(entries, r.req.UserID, now))
	anomalySig := p.deps.Anomaly.Detect(features)

	a := p.deps.Consolidator.Consolidate(anomalySig, geoSig, vel.Signal, r.deviceSig)
	a.ID = idgen.WithPrefix(idgen.PrefixAssessment)
	a.UserID = r.req.UserID
	a.CreatedAt = now
	r.assessment = a

	metrics.RiskScore.Observe(a.OverallScore)
	span.SetAttributes(traces.RiskScore(a.OverallScore))
	r.logger.Debug("risk assessed",
		"assessmentId", a.ID,
		"score", a.OverallScore,
		"level", a.Level,
		"breakdown", a.Breakdown,
	)
}

func (r *run) needs3DS(ctx context.Context) bool {
	auth := r.p.deps.ThreeDS
	if auth == nil || !r.opts.ThreeDSEnabled || !r.req.Method.IsCard() || r.req.Card == nil {
		return false
	}
	required, err := auth.ShouldRequire3DSecure(ctx, threeds.Decision{
		Card:            *r.req.Card,
		Amount:          r.req.Amount,
		Currency:        r.req.Currency,
		DeviceRiskScore: r.deviceSig.Score,
	})
	if err != nil {
		r.logger.Warn("3-D Secure policy failed, requiring authentication", "error", err)
		return true
	}
	return required
}

// stepUp runs a challenge when the assessment or the 3-D Secure policy asks
// for one. It returns nil when the payment may proceed.
func (r *run) stepUp(ctx context.Context) *Result {
	verify := r.assessment != nil && r.assessment.RequiresAdditionalVerification
	card3DS := r.needs3DS(ctx)
	if !verify && !card3DS {
		return nil
	}
	if !r.opts.AllowChallenge {
		r.logger.Info("verification skipped by options")
		return nil
	}

	method := challenge.SelectMethod(challenge.Profile{
		CardPayment:    r.req.Method.IsCard() && r.req.Card != nil,
		ThreeDSEnabled: r.opts.ThreeDSEnabled && r.p.deps.ThreeDS != nil,
		PhoneVerified:  r.req.Contact.PhoneVerified && r.req.Contact.Phone != "",
		EmailVerified:  r.req.Contact.EmailVerified && r.req.Contact.Email != "",
	})

	ctx, span := traces.StartSpan(ctx, "authz.challenge", traces.Method(string(method)))
	defer span.End()

	var ok bool
	var session *challenge.Session
	var err error
	if method == challenge.Method3DS {
		var res threeds.Result
		res, err = r.p.deps.ThreeDS.Authenticate(ctx, r.threeDSRequest())
		ok = err == nil && res.Status == threeds.StatusSuccess
		session = res.Session
	} else {
		ok, session, err = r.p.deps.Challenges.Challenge(ctx, r.challengeRequest(method))
	}
	if session != nil {
		r.challenge = session.ID
		span.SetAttributes(traces.ChallengeID(session.ID))
	}

	switch {
	case ok:
		r.logger.Debug("challenge passed", "method", method)
		return nil
	case errors.Is(err, challenge.ErrTimeout):
		r.logger.Info("challenge timed out", "method", method)
		return r.deny(DecisionChallengeTimeout, msgTimedOut)
	case errors.Is(err, challenge.ErrCanceled):
		r.logger.Info("challenge canceled", "method", method)
		return r.deny(DecisionChallengeCanceled, msgNotAuthorized)
	case err != nil:
		r.logger.Warn("challenge could not run", "method", method, "error", err)
	default:
		r.logger.Info("challenge failed", "method", method)
	}
	return r.requireAction(DecisionChallengeFailed, string(method), msgNotVerified)
}

func (r *run) reasons() ([]string, risk.Level) {
	if r.assessment == nil {
		return nil, risk.LevelLow
	}
	return r.assessment.Reasons, r.assessment.Level
}

func (r *run) threeDSRequest() threeds.AuthRequest {
	reasons, level := r.reasons()
	return threeds.AuthRequest{
		AttemptID:       r.req.AttemptID,
		UserID:          r.req.UserID,
		Card:            *r.req.Card,
		Amount:          r.req.Amount,
		Currency:        r.req.Currency,
		OrderID:         r.req.IdempotencyKey,
		DeviceRiskScore: r.deviceSig.Score,
		RiskLevel:       level,
		Reasons:         reasons,
	}
}

func (r *run) challengeRequest(method challenge.Method) challenge.Request {
	reasons, level := r.reasons()
	req := challenge.Request{
		AttemptID: r.req.AttemptID,
		UserID:    r.req.UserID,
		Method:    method,
		RiskLevel: level,
		Reasons:   reasons,
	}
	switch method {
	case challenge.MethodSMS:
		req.Destination = r.req.Contact.Phone
	case challenge.MethodEmail:
		req.Destination = r.req.Contact.Email
	}
	return req
}

func (r *run) pay(ctx context.Context) (*Result, error) {
	p := r.p
	ctx, span := traces.StartSpan(ctx, "authz.payment")
	defer span.End()

	pres, err := p.deps.Executor.Execute(ctx, payment.Request{
		IdempotencyKey: r.req.IdempotencyKey,
		UserID:         r.req.UserID,
		Amount:         r.req.Amount,
		Currency:       r.req.Currency,
		Method:         r.req.Method,
		Details:        r.req.PaymentDetails,
	}, r.opts.Retry)

	charged := pres != nil && pres.TransactionID != ""
	if pres != nil && !pres.Replayed && len(pres.Attempts) > 0 {
		// History reflects funds movement even when the caller has gone.
		r.appendHistory(ctx, pres, charged)
	}

	switch {
	case errors.Is(err, payment.ErrCanceled):
		r.logger.Info("caller canceled during payment", "charged", charged)
		return r.deny(DecisionCanceled, msgNotAuthorized), nil
	case err != nil:
		var te *payment.TransientError
		var pe *payment.PermanentError
		switch {
		case errors.As(err, &te):
			r.logger.Warn("payment retries exhausted", "error", err)
			return r.deny(DecisionPaymentFailed, msgUnavailable), nil
		case errors.As(err, &pe):
			r.logger.Info("payment declined", "error", err)
			return r.deny(DecisionPaymentFailed, msgDeclined), nil
		default:
			return nil, fmt.Errorf("execute payment: %w", err)
		}
	}

	r.logger.Info("payment approved", "transactionId", pres.TransactionID, "replayed", pres.Replayed)
	res := r.result(DecisionApproved)
	res.Approved = true
	res.TransactionID = pres.TransactionID
	res.ReceiptRef = pres.ReceiptRef
	res.ReceiptID = r.issueReceipt(ctx, pres)
	return res, nil
}

func (r *run) issueReceipt(ctx context.Context, pres *payment.Result) string {
	if !r.p.deps.Receipts.Enabled() {
		return ""
	}
	req := receipts.IssueRequest{
		AttemptID:      r.req.AttemptID,
		IdempotencyKey: r.req.IdempotencyKey,
		UserID:         r.req.UserID,
		Amount:         r.req.Amount,
		Currency:       r.req.Currency,
		Method:         string(r.req.Method),
		TransactionID:  pres.TransactionID,
		GatewayRef:     pres.ReceiptRef,
	}
	if r.assessment != nil {
		score := r.assessment.OverallScore
		req.RiskScore = &score
	}
	// The charge has happened; the receipt must not depend on the caller.
	rcpt, err := r.p.deps.Receipts.Issue(context.WithoutCancel(ctx), req)
	if err != nil {
		r.logger.Warn("failed to issue receipt", "transactionId", pres.TransactionID, "error", err)
		return ""
	}
	return rcpt.ID
}

func (r *run) appendHistory(ctx context.Context, pres *payment.Result, charged bool) {
	e := history.Entry{
		ID:       idgen.WithPrefix(idgen.PrefixHistory),
		UserID:   r.req.UserID,
		Amount:   r.req.Amount,
		Currency: r.req.Currency,
		Method:   string(r.req.Method),
		Status:   history.StatusFailed,
		At:       r.p.now(),
	}
	if charged {
		e.Status = history.StatusSuccess
		e.TransactionID = pres.TransactionID
	}
	if err := r.p.deps.History.Append(context.WithoutCancel(ctx), e); err != nil {
		r.logger.Error("failed to append history", "status", e.Status, "error", err)
	}
}
