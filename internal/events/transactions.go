package events

import (
	"github.com/sirupsen/logrus"

	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/data"
)

// TransactionNotifier emits new_transaction whenever the ledger commits.
type TransactionNotifier struct {
	Emitter Emitter
}

type NewTransactionPayload struct {
	ProjectID   int64            `json:"project_id"`
	Transaction data.Transaction `json:"transaction"`
}

// NotifyCommitted is called after the enclosing database transaction has
// committed; emission failures are logged, never propagated, so a deaf host
// cannot fail a payment.
func (n *TransactionNotifier) NotifyCommitted(projectID int64, txn data.Transaction) {
	if n == nil || n.Emitter == nil {
		return
	}
	err := n.Emitter.EmitAll(NewTransactionEvent, NewTransactionPayload{ProjectID: projectID, Transaction: txn})
	if err != nil {
		logrus.WithField("transaction_id", txn.ID).Errorf("emitting %s: %s", NewTransactionEvent, err)
	}
}
