package mpesa

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-orders/models"
)

func push(t *testing.T, s *Simulator) string {
	t.Helper()
	resp, err := s.InitiateSTKPush(context.Background(), STKPushRequest{
		Phone:            "+254712345678",
		Amount:           decimal.NewFromInt(1000),
		AccountReference: "ORDER31",
	})
	require.NoError(t, err)
	return resp.CheckoutRequestID
}

func TestInitiateIssuesFreshIDs(t *testing.T) {
	s := NewSimulator("174379", 0)
	a, b := push(t, s), push(t, s)
	assert.True(t, strings.HasPrefix(a, "ws_CO_"))
	assert.NotEqual(t, a, b)
}

func TestInitiateRejects(t *testing.T) {
	s := NewSimulator("174379", 0)

	_, err := s.InitiateSTKPush(context.Background(), STKPushRequest{Phone: "0712345678", Amount: decimal.NewFromInt(10)})
	assert.ErrorIs(t, err, ErrRejected)

	_, err = s.InitiateSTKPush(context.Background(), STKPushRequest{Phone: "+254712345678", Amount: decimal.RequireFromString("0.5")})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestQueryStatusProcessingUntilSettled(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewSimulator("174379", time.Minute)
	s.now = func() time.Time { return now }

	id := push(t, s)

	res, err := s.QueryStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.ResultCodeProcessing, res.ResultCode)

	now = now.Add(2 * time.Minute)
	res, err = s.QueryStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.ResultCodeSuccess, res.ResultCode)
	assert.NotEmpty(t, res.ReceiptNumber)

	again, err := s.QueryStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, res, again)
}

func TestRecordAndUnknown(t *testing.T) {
	s := NewSimulator("174379", 0)
	id := push(t, s)

	require.NoError(t, s.Record(id, StatusResult{ResultCode: 1, ResultDesc: "insufficient funds"}))
	res, err := s.QueryStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ResultCode)

	_, err = s.QueryStatus(context.Background(), "ws_CO_nope")
	assert.ErrorIs(t, err, ErrUnknownRequest)
	assert.ErrorIs(t, s.Record("ws_CO_nope", StatusResult{}), ErrUnknownRequest)
}
