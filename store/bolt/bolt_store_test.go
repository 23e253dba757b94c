package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gar"
)

var t0 = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "gar.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTx(ref string, createdAt time.Time) *gar.Transaction {
	return gar.NewTransaction(ref, gar.CreateParams{
		Amount:   15000,
		Currency: "XOF",
		UserID:   "user-1",
		Client:   gar.ClientSnapshot{Name: "Awa", Phone: "+221770000000"},
	}, createdAt)
}

func TestBoltStore_CreateGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tx := newTx("GAR-0115-ABC123", t0)

	if err := s.Create(ctx, tx); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := s.Create(ctx, tx); !errors.Is(err, gar.ErrDuplicateReference) {
		t.Errorf("expected ErrDuplicateReference, got %v", err)
	}

	got, err := s.Get(ctx, tx.Reference)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Amount != 15000 || len(got.Guarantees) != 3 || !got.CreatedAt.Equal(t0) {
		t.Errorf("unexpected transaction %+v", got)
	}

	if _, err := s.Get(ctx, "GAR-0115-NOPE00"); !errors.Is(err, gar.ErrTransactionNotFound) {
		t.Errorf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestBoltStore_UpdateVersionCheck(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Create(ctx, newTx("GAR-0115-ABC123", t0))

	a, _ := s.Get(ctx, "GAR-0115-ABC123")
	b, _ := s.Get(ctx, "GAR-0115-ABC123")

	a.Status = gar.StatusPaymentReceived
	a.IncrementVersion(t0.Add(time.Minute))
	if err := s.Update(ctx, a); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	b.IncrementVersion(t0.Add(time.Minute))
	if err := s.Update(ctx, b); !errors.Is(err, gar.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}

	got, _ := s.Get(ctx, "GAR-0115-ABC123")
	if got.Status != gar.StatusPaymentReceived || got.Version != 1 {
		t.Errorf("expected the first update to stick, got %s v%d", got.Status, got.Version)
	}
}

func TestBoltStore_FindAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gar.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	ctx := context.Background()

	delivered := newTx("GAR-0115-AAAAAA", t0)
	ends := t0.Add(-time.Hour)
	delivered.Status = gar.StatusDelivered
	delivered.VerificationEndsAt = &ends
	s.Create(ctx, delivered)
	s.Create(ctx, newTx("GAR-0115-BBBBBB", t0.Add(time.Second)))
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	all, err := s.Find(ctx, nil)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(all) != 2 || all[0].Reference != "GAR-0115-AAAAAA" {
		t.Fatalf("expected 2 transactions oldest first, got %v", all)
	}

	due, _ := s.Find(ctx, gar.SweepFilter(t0, 10))
	if len(due) != 1 || due[0].Reference != "GAR-0115-AAAAAA" {
		t.Errorf("expected the delivered transaction to be due, got %v", due)
	}
}
