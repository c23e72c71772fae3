package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"marketplace-orders/client"
	"marketplace-orders/models"
)

type Outcome int

const (
	Success Outcome = iota
	Failed
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failed:
		return "failed"
	default:
		return "timed_out"
	}
}

const (
	DefaultPollInterval = 3 * time.Second
	DefaultMaxAttempts  = 20
)

const TimedOutMessage = "Payment confirmation is taking longer than expected. Your order is unchanged; check its status again shortly."

var errStillProcessing = errors.New("payment still processing")

// Result is the final answer of one Await call. For the Failed outcome Err is
// ErrPaymentFailed, or ErrRefundRequired when the order was cancelled before
// the money arrived; it is nil otherwise.
type Result struct {
	Outcome     Outcome
	Transaction *models.Transaction
	Attempts    int
	Message     string
	Err         error
}

// Listener waits for the confirmation of one payment attempt by polling
// the transaction status at a fixed interval.
type Listener struct {
	api         PaymentAPI
	Interval    time.Duration
	MaxAttempts int
}

func NewListener(api PaymentAPI, interval time.Duration, maxAttempts int) *Listener {
	l := &Listener{api: api, Interval: interval, MaxAttempts: maxAttempts}
	l.Interval, l.MaxAttempts = l.limits()
	return l
}

// limits returns the poll interval and attempt bound in effect. Unset or
// invalid fields fall back to the defaults, so polling is always bounded.
func (l *Listener) limits() (time.Duration, int) {
	interval, maxAttempts := l.Interval, l.MaxAttempts
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return interval, maxAttempts
}

// Await polls until the payment settles, fails, or MaxAttempts polls pass
// without a definitive answer. Running out of attempts is reported as
// TimedOut, not as an error. Only a cancelled ctx or a request the server
// refuses outright (unknown checkout id, lost authorization) returns an error.
func (l *Listener) Await(ctx context.Context, checkoutRequestID string) (Result, error) {
	var (
		last     *models.Transaction
		attempts int
		refused  error
	)
	interval, maxAttempts := l.limits()

	poll := func() (*models.Transaction, error) {
		attempts++
		txn, err := l.api.PaymentStatus(ctx, checkoutRequestID)
		if err != nil {
			switch client.StatusCode(err) {
			case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
				refused = err
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		last = txn

		switch txn.Status {
		case models.TxnSuccess:
			return txn, nil
		case models.TxnFailed, models.TxnCancelled:
			return txn, backoff.Permanent(ErrPaymentFailed)
		case models.TxnRefundRequired:
			return txn, backoff.Permanent(ErrRefundRequired)
		default:
			return txn, errStillProcessing
		}
	}

	_, err := backoff.Retry(ctx, poll,
		backoff.WithBackOff(backoff.NewConstantBackOff(interval)),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
	res := Result{Transaction: last, Attempts: attempts}

	switch {
	case err == nil:
		res.Outcome = Success
		res.Message = "Payment confirmed"
		return res, nil
	case errors.Is(err, ErrPaymentFailed), errors.Is(err, ErrRefundRequired):
		res.Outcome = Failed
		res.Err = ErrPaymentFailed
		res.Message = "Payment failed"
		if errors.Is(err, ErrRefundRequired) {
			res.Err = ErrRefundRequired
			res.Message = "Order was cancelled before the payment arrived; a refund is due"
		}
		if last != nil && last.ErrorMessage != "" {
			res.Message = last.ErrorMessage
		}
		return res, nil
	case ctx.Err() != nil:
		return res, ctx.Err()
	case refused != nil:
		return res, fmt.Errorf("poll payment %s: %w", checkoutRequestID, refused)
	default:
		res.Outcome = TimedOut
		res.Message = TimedOutMessage
		return res, nil
	}
}

// ConfirmPayment submits a confirmation through the simulated gateway. It
// exists for development and tests; production confirmations come from the
// payment provider.
func (l *Listener) ConfirmPayment(ctx context.Context, conf models.PaymentConfirmation) (*models.Transaction, error) {
	txn, err := l.api.SimulateConfirmation(ctx, conf)
	if err != nil {
		return nil, err
	}
	switch txn.Status {
	case models.TxnSuccess:
	case models.TxnRefundRequired:
		return txn, ErrRefundRequired
	default:
		return txn, ErrPaymentFailed
	}
	return txn, nil
}
