// Package mpesa provides a simulated STK push gateway. It issues checkout
// request ids the way the Daraja API does and answers status queries, but
// never moves money.
package mpesa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"marketplace-orders/models"
)

var (
	ErrRejected       = errors.New("stk push rejected")
	ErrUnknownRequest = errors.New("unknown checkout request")
)

type STKPushRequest struct {
	Phone            string
	Amount           decimal.Decimal
	AccountReference string
	Description      string
}

type STKPushResponse struct {
	CheckoutRequestID string
	MerchantRequestID string
	ResponseCode      string
	CustomerMessage   string
}

type StatusResult struct {
	ResultCode    int
	ResultDesc    string
	ReceiptNumber string
}

type pushRecord struct {
	req       STKPushRequest
	createdAt time.Time
	result    *StatusResult
}

// Simulator is an in-memory gateway. Requests stay "processing" (1032) until
// SettleAfter elapses, after which they resolve with ResultCode.
type Simulator struct {
	Shortcode   string
	SettleAfter time.Duration
	ResultCode  int

	mu       sync.Mutex
	requests map[string]*pushRecord
	now      func() time.Time
}

func NewSimulator(shortcode string, settleAfter time.Duration) *Simulator {
	return &Simulator{
		Shortcode:   shortcode,
		SettleAfter: settleAfter,
		ResultCode:  models.ResultCodeSuccess,
		requests:    make(map[string]*pushRecord),
		now:         time.Now,
	}
}

func (s *Simulator) InitiateSTKPush(ctx context.Context, req STKPushRequest) (STKPushResponse, error) {
	if err := ctx.Err(); err != nil {
		return STKPushResponse{}, err
	}
	msisdn := strings.TrimPrefix(req.Phone, "+")
	if len(msisdn) != 12 || !strings.HasPrefix(msisdn, "254") {
		return STKPushResponse{}, fmt.Errorf("%w: invalid PartyA %q", ErrRejected, msisdn)
	}
	if req.Amount.IntPart() < 1 {
		return STKPushResponse{}, fmt.Errorf("%w: amount must be at least 1", ErrRejected)
	}

	id := "ws_CO_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	s.mu.Lock()
	s.requests[id] = &pushRecord{req: req, createdAt: s.now()}
	s.mu.Unlock()

	return STKPushResponse{
		CheckoutRequestID: id,
		MerchantRequestID: uuid.NewString(),
		ResponseCode:      "0",
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil
}

func (s *Simulator) QueryStatus(ctx context.Context, checkoutRequestID string) (StatusResult, error) {
	if err := ctx.Err(); err != nil {
		return StatusResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.requests[checkoutRequestID]
	if !ok {
		return StatusResult{}, fmt.Errorf("%w: %s", ErrUnknownRequest, checkoutRequestID)
	}
	if rec.result != nil {
		return *rec.result, nil
	}
	if s.SettleAfter <= 0 || s.now().Sub(rec.createdAt) < s.SettleAfter {
		return StatusResult{ResultCode: models.ResultCodeProcessing, ResultDesc: "The transaction is being processed"}, nil
	}

	res := StatusResult{ResultCode: s.ResultCode, ResultDesc: "The service request is processed successfully."}
	if s.ResultCode == models.ResultCodeSuccess {
		res.ReceiptNumber = receiptNumber()
	} else {
		res.ResultDesc = "Request cancelled by user"
	}
	rec.result = &res
	return res, nil
}

// Record pins the outcome of a request, as a provider callback would.
func (s *Simulator) Record(checkoutRequestID string, res StatusResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.requests[checkoutRequestID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, checkoutRequestID)
	}
	rec.result = &res
	return nil
}

func receiptNumber() string {
	return "SIM" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:7])
}
