package httphandler

import "math/rand"

// Canonical Safaricom result codes shared by STK Push and B2C.
const (
	ResultSuccess             = 0
	ResultInsufficientBalance = 1
	ResultUnableToLock        = 1001
	ResultTransactionExpired  = 1019
	ResultPushRequestError    = 1025
	ResultCancelledByUser     = 1032
	ResultDSTimeout           = 1037
	ResultInvalidInitiator    = 2001
	ResultRequestFailed       = 9999
)

var resultDescriptions = map[int]string{
	ResultSuccess:             "The service request is processed successfully.",
	ResultInsufficientBalance: "The balance is insufficient for the transaction.",
	ResultUnableToLock:        "Unable to lock subscriber, a transaction is already in process for the current subscriber.",
	ResultTransactionExpired:  "Transaction expired. No MO has been received.",
	ResultPushRequestError:    "An error occurred while sending a push request.",
	ResultCancelledByUser:     "Request cancelled by user.",
	ResultDSTimeout:           "DS timeout user cannot be reached.",
	ResultInvalidInitiator:    "The initiator information is invalid.",
	ResultRequestFailed:       "Request failed.",
}

var failureCodes = []int{
	ResultUnableToLock,
	ResultTransactionExpired,
	ResultPushRequestError,
	ResultCancelledByUser,
	ResultDSTimeout,
	ResultInvalidInitiator,
	ResultRequestFailed,
}

func resultDescription(code int) string {
	if desc, ok := resultDescriptions[code]; ok {
		return desc
	}
	return resultDescriptions[ResultRequestFailed]
}

func randomFailureCode() int {
	return failureCodes[rand.Intn(len(failureCodes))]
}

// randomOutcomeCode draws uniformly over success plus every failure code.
func randomOutcomeCode() int {
	i := rand.Intn(len(failureCodes) + 1)
	if i == len(failureCodes) {
		return ResultSuccess
	}
	return failureCodes[i]
}
