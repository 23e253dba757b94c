package testinfra

import (
	"context"
	"testing"

	"gar"
)

// AssertTransactionStatus asserts that a transaction has the expected status
func AssertTransactionStatus(t testing.TB, store gar.TxStore, reference string, expected gar.Status) *gar.Transaction {
	t.Helper()
	tx, err := store.Get(context.Background(), reference)
	if err != nil {
		t.Fatalf("Failed to get transaction %s: %v", reference, err)
	}
	if tx.Status != expected {
		t.Errorf("Transaction %s status: expected %s, got %s", reference, expected, tx.Status)
	}
	return tx
}

// AssertTimelineConsistent checks the audit trail invariants: the status
// equals the last entry, the version counts the recorded transitions, and
// timestamps never go backwards.
func AssertTimelineConsistent(t testing.TB, tx *gar.Transaction) {
	t.Helper()
	last := tx.LastEvent()
	if last == nil {
		t.Fatalf("Transaction %s has an empty timeline", tx.Reference)
	}
	if last.Status != tx.Status {
		t.Errorf("Transaction %s status %s differs from last timeline entry %s", tx.Reference, tx.Status, last.Status)
	}
	for i := 1; i < len(tx.Timeline); i++ {
		if tx.Timeline[i].Timestamp.Before(tx.Timeline[i-1].Timestamp) {
			t.Errorf("Transaction %s timeline goes backwards at entry %d", tx.Reference, i)
		}
	}
}

// AssertNoPendingNotifications asserts every requested notification was delivered.
func AssertNoPendingNotifications(t testing.TB, tx *gar.Transaction) {
	t.Helper()
	if pending := tx.PendingNotifications(); len(pending) > 0 {
		t.Errorf("Transaction %s has undelivered notifications at %v", tx.Reference, pending)
	}
}

// Contains reports whether refs holds ref.
func Contains(refs []string, ref string) bool {
	for _, r := range refs {
		if r == ref {
			return true
		}
	}
	return false
}
