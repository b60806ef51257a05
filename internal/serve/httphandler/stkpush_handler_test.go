package httphandler_test

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/data"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve/asyncop"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve/httphandler"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/stkpending"
)

func stkHandler(world *testWorld, registry *stkpending.Registry) http.HandlerFunc {
	return asyncop.Handler[httphandler.STKPushRequest, httphandler.STKPushAck, httphandler.STKJob, httphandler.STKCallbackEnvelope](
		httphandler.STKPushHandler{
			Models:       world.Models,
			Project:      world.Project.ID,
			Registry:     registry,
			Notifier:     world.Notifier,
			SafetyWindow: time.Second,
		}, world.Orchestrator)
}

func stkRequest(callbackURL, amount, phone string) httphandler.STKPushRequest {
	return httphandler.STKPushRequest{
		BusinessShortCode: "174379",
		TransactionType:   "CustomerPayBillOnline",
		Amount:            httphandler.FlexString(amount),
		PartyA:            httphandler.FlexString(phone),
		PartyB:            "174379",
		PhoneNumber:       httphandler.FlexString(phone),
		CallBackURL:       callbackURL,
		AccountReference:  "INV-001",
		TransactionDesc:   "test payment",
	}
}

func decodeStkCallback(t *testing.T, body []byte) httphandler.STKCallback {
	t.Helper()
	var envelope httphandler.STKCallbackEnvelope
	require.NoError(t, json.Unmarshal(body, &envelope))
	return envelope.Body.StkCallback
}

func Test_STKPush_happyPath(t *testing.T) {
	world := newTestWorld(t, data.SimulationAlwaysSuccess, 0)
	sink := newCallbackSink(t, http.StatusOK)
	handler := stkHandler(world, stkpending.NewRegistry())

	rec := postJSON(t, handler, "/mpesa/stkpush/v1/processrequest", stkRequest(sink.Server.URL, "10", "254700000001"))
	require.Equal(t, http.StatusOK, rec.Code)

	var ack httphandler.STKPushAck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, "0", ack.ResponseCode)
	assert.Contains(t, ack.CheckoutRequestID, "ws_CO_")
	assert.NotEmpty(t, ack.MerchantRequestID)

	callback := decodeStkCallback(t, sink.wait(t))
	assert.Equal(t, 0, callback.ResultCode)
	assert.Equal(t, ack.CheckoutRequestID, callback.CheckoutRequestID)
	require.NotNil(t, callback.CallbackMetadata)

	items := map[string]any{}
	for _, item := range callback.CallbackMetadata.Item {
		items[item.Name] = item.Value
	}
	assert.EqualValues(t, 10, items["Amount"])
	assert.Len(t, items["MpesaReceiptNumber"], 10)
	assert.EqualValues(t, 254700000001, items["PhoneNumber"])

	assert.EqualValues(t, 90_00, world.balance(t, world.Payer.AccountID))
	assert.EqualValues(t, 10_00, world.balance(t, world.Utility.ID))
}

func Test_STKPush_insufficientFunds(t *testing.T) {
	world := newTestWorld(t, data.SimulationAlwaysSuccess, 0)
	data.SetAccountBalanceFixture(t, t.Context(), world.DBConnectionPool, world.Payer.AccountID, 5_00)

	sink := newCallbackSink(t, http.StatusOK)
	handler := stkHandler(world, stkpending.NewRegistry())

	rec := postJSON(t, handler, "/mpesa/stkpush/v1/processrequest", stkRequest(sink.Server.URL, "10", "254700000001"))
	require.Equal(t, http.StatusOK, rec.Code)

	var ack httphandler.STKPushAck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, "0", ack.ResponseCode) // the ack never anticipates the outcome

	callback := decodeStkCallback(t, sink.wait(t))
	assert.Equal(t, httphandler.ResultInsufficientBalance, callback.ResultCode)
	assert.Nil(t, callback.CallbackMetadata)

	assert.EqualValues(t, 5_00, world.balance(t, world.Payer.AccountID))
	assert.EqualValues(t, 0, world.balance(t, world.Utility.ID))
}

func Test_STKPush_rejectsBadRequests(t *testing.T) {
	world := newTestWorld(t, data.SimulationAlwaysSuccess, 0)
	sink := newCallbackSink(t, http.StatusOK)
	handler := stkHandler(world, stkpending.NewRegistry())

	t.Run("unknown subscriber", func(t *testing.T) {
		rec := postJSON(t, handler, "/mpesa/stkpush/v1/processrequest", stkRequest(sink.Server.URL, "10", "254799999999"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("non-Kenyan MSISDN", func(t *testing.T) {
		rec := postJSON(t, handler, "/mpesa/stkpush/v1/processrequest", stkRequest(sink.Server.URL, "10", "14155552671"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("zero amount", func(t *testing.T) {
		rec := postJSON(t, handler, "/mpesa/stkpush/v1/processrequest", stkRequest(sink.Server.URL, "0", "254700000001"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	sink.expectNone(t, 200*time.Millisecond)
}

func Test_STKPush_realisticMode(t *testing.T) {
	t.Run("accepted with the right pin commits the transfer", func(t *testing.T) {
		world := newTestWorld(t, data.SimulationRealistic, 5_000)
		sink := newCallbackSink(t, http.StatusOK)
		registry := stkpending.NewRegistry()
		handler := stkHandler(world, registry)

		rec := postJSON(t, handler, "/mpesa/stkpush/v1/processrequest", stkRequest(sink.Server.URL, "10", "254700000001"))
		require.Equal(t, http.StatusOK, rec.Code)

		var ack httphandler.STKPushAck
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))

		require.Eventually(t, func() bool {
			return registry.Resolve(ack.CheckoutRequestID, stkpending.UserResponse{
				Kind: stkpending.ResponseAccepted,
				PIN:  "1234",
			})
		}, 2*time.Second, 10*time.Millisecond)

		callback := decodeStkCallback(t, sink.wait(t))
		assert.Equal(t, httphandler.ResultSuccess, callback.ResultCode)
		assert.EqualValues(t, 90_00, world.balance(t, world.Payer.AccountID))
	})

	t.Run("wrong pin resolves to 2001", func(t *testing.T) {
		world := newTestWorld(t, data.SimulationRealistic, 5_000)
		sink := newCallbackSink(t, http.StatusOK)
		registry := stkpending.NewRegistry()
		handler := stkHandler(world, registry)

		rec := postJSON(t, handler, "/mpesa/stkpush/v1/processrequest", stkRequest(sink.Server.URL, "10", "254700000001"))
		require.Equal(t, http.StatusOK, rec.Code)

		var ack httphandler.STKPushAck
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))

		require.Eventually(t, func() bool {
			return registry.Resolve(ack.CheckoutRequestID, stkpending.UserResponse{
				Kind: stkpending.ResponseAccepted,
				PIN:  "9999",
			})
		}, 2*time.Second, 10*time.Millisecond)

		callback := decodeStkCallback(t, sink.wait(t))
		assert.Equal(t, httphandler.ResultInvalidInitiator, callback.ResultCode)
		assert.EqualValues(t, 100_00, world.balance(t, world.Payer.AccountID))
	})

	t.Run("cancellation resolves to 1032", func(t *testing.T) {
		world := newTestWorld(t, data.SimulationRealistic, 5_000)
		sink := newCallbackSink(t, http.StatusOK)
		registry := stkpending.NewRegistry()
		handler := stkHandler(world, registry)

		rec := postJSON(t, handler, "/mpesa/stkpush/v1/processrequest", stkRequest(sink.Server.URL, "10", "254700000001"))
		require.Equal(t, http.StatusOK, rec.Code)

		var ack httphandler.STKPushAck
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))

		require.Eventually(t, func() bool {
			return registry.Resolve(ack.CheckoutRequestID, stkpending.UserResponse{Kind: stkpending.ResponseCancelled})
		}, 2*time.Second, 10*time.Millisecond)

		callback := decodeStkCallback(t, sink.wait(t))
		assert.Equal(t, httphandler.ResultCancelledByUser, callback.ResultCode)
	})
}

func Test_STKPush_alwaysFailMode(t *testing.T) {
	world := newTestWorld(t, data.SimulationAlwaysFail, 0)
	sink := newCallbackSink(t, http.StatusOK)
	handler := stkHandler(world, stkpending.NewRegistry())

	rec := postJSON(t, handler, "/mpesa/stkpush/v1/processrequest", stkRequest(sink.Server.URL, "10", "254700000001"))
	require.Equal(t, http.StatusOK, rec.Code)

	callback := decodeStkCallback(t, sink.wait(t))
	assert.NotEqual(t, httphandler.ResultSuccess, callback.ResultCode)
	assert.EqualValues(t, 100_00, world.balance(t, world.Payer.AccountID))
}
