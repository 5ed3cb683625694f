package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/riskgate/internal/idgen"
	"github.com/mbd888/riskgate/internal/metrics"
	"github.com/mbd888/riskgate/internal/retry"
	"github.com/mbd888/riskgate/internal/syncutil"
)

// DefaultAttemptTimeout bounds a single gateway call.
const DefaultAttemptTimeout = 30 * time.Second

// Executor runs payments. Different logical requests run in parallel; two
// calls with the same idempotency key are serialized.
type Executor struct {
	gateway        Gateway
	log            AttemptLog
	classifier     *Classifier
	locks          *syncutil.KeyedMutex
	attemptTimeout time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

// NewExecutor creates an executor. A nil log uses an in-memory one.
func NewExecutor(gateway Gateway, log AttemptLog, logger *slog.Logger) *Executor {
	if log == nil {
		log = NewMemoryAttemptLog()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		gateway:        gateway,
		log:            log,
		classifier:     DefaultClassifier(),
		locks:          syncutil.NewKeyedMutex(),
		attemptTimeout: DefaultAttemptTimeout,
		logger:         logger,
		now:            time.Now,
	}
}

// WithClassifier replaces the error classifier.
func (e *Executor) WithClassifier(c *Classifier) *Executor {
	if c != nil {
		e.classifier = c
	}
	return e
}

// WithAttemptTimeout bounds each gateway call.
func (e *Executor) WithAttemptTimeout(d time.Duration) *Executor {
	if d > 0 {
		e.attemptTimeout = d
	}
	return e
}

// Attempts returns the recorded attempts for an idempotency key.
func (e *Executor) Attempts(ctx context.Context, idempotencyKey string) ([]*Attempt, error) {
	return e.log.ListByKey(ctx, idempotencyKey)
}

// Execute charges req, retrying transient failures per policy. A key that
// already succeeded is replayed without calling the gateway.
//
// Canceling ctx stops further retries but never interrupts a gateway call
// in flight; that call's attempt is still recorded and ErrCanceled is
// returned alongside whatever result was reached.
func (e *Executor) Execute(ctx context.Context, req Request, policy RetryPolicy) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = idgen.IdempotencyKey()
	}
	key := req.IdempotencyKey

	unlock, err := e.locks.Lock(ctx, "payment:"+key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	defer unlock()

	prior, err := e.log.ListByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load attempts: %w", err)
	}
	for _, a := range prior {
		if a.Outcome == OutcomeSuccess {
			e.logger.Info("payment replayed", "idempotencyKey", key, "transactionId", a.TransactionID)
			return &Result{
				IdempotencyKey: key,
				TransactionID:  a.TransactionID,
				ReceiptRef:     a.ReceiptRef,
				Attempts:       prior,
				Replayed:       true,
			}, nil
		}
	}

	res := &Result{IdempotencyKey: key}
	offset := len(prior)

	err = retry.Do(ctx, policy, func(n int) error {
		att, callErr := e.attempt(ctx, req, offset+n)
		res.Attempts = append(res.Attempts, att)
		if callErr == nil {
			res.TransactionID = att.TransactionID
			res.ReceiptRef = att.ReceiptRef
			return nil
		}
		if att.Outcome == OutcomePermanentFailure {
			return retry.Permanent(callErr)
		}
		return callErr
	})

	if ctx.Err() != nil {
		return res, fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
	}
	if err != nil {
		return res, fmt.Errorf("payment failed after %d attempts: %w", len(res.Attempts), err)
	}
	return res, nil
}

// attempt makes one gateway call detached from the caller's cancellation.
func (e *Executor) attempt(ctx context.Context, req Request, number int) (*Attempt, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.attemptTimeout)
	defer cancel()

	charge, err := e.gateway.Charge(callCtx, req.IdempotencyKey, req)

	att := &Attempt{
		ID:             idgen.WithPrefix(idgen.PrefixAttempt),
		IdempotencyKey: req.IdempotencyKey,
		Number:         number,
		UserID:         req.UserID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Method:         req.Method,
		Outcome:        OutcomeSuccess,
		CreatedAt:      e.now(),
	}
	if err == nil {
		att.TransactionID = charge.TransactionID
		att.ReceiptRef = charge.ReceiptRef
	} else {
		att.Outcome = e.classifier.Classify(err)
		att.Error = err.Error()
		err = typed(att.Outcome, err)
	}

	metrics.GatewayAttemptsTotal.WithLabelValues(string(att.Outcome)).Inc()
	if recErr := e.log.Record(context.WithoutCancel(ctx), att); recErr != nil {
		e.logger.Error("failed to record payment attempt",
			"idempotencyKey", req.IdempotencyKey, "attempt", number, "error", recErr)
	}

	if err != nil {
		e.logger.Warn("payment attempt failed",
			"idempotencyKey", req.IdempotencyKey,
			"attempt", number,
			"outcome", att.Outcome,
			"error", err,
		)
	}
	return att, err
}

// typed makes sure callers can branch on the error kind with errors.As.
func typed(outcome Outcome, err error) error {
	var te *TransientError
	var pe *PermanentError
	if errors.As(err, &te) || errors.As(err, &pe) {
		return err
	}
	if outcome == OutcomeTransientFailure {
		return &TransientError{Err: err}
	}
	return &PermanentError{Err: err}
}
