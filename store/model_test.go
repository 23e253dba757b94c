package store

import (
	"reflect"
	"testing"
	"time"

	"gar"
)

func sampleTransaction() *gar.Transaction {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	tx := gar.NewTransaction("GAR-0115-ABC123", gar.CreateParams{
		Amount:   15000,
		Currency: "XOF",
		UserID:   "user-1",
		Client:   gar.ClientSnapshot{Name: "Awa", Phone: "+221770000000", Email: "awa@example.com"},
	}, now)
	return tx
}

func TestToRow_DerivedColumns(t *testing.T) {
	tx := sampleTransaction()
	ends := tx.CreatedAt.Add(48 * time.Hour)
	tx.VerificationEndsAt = &ends
	tx.Dispute = &gar.Dispute{OpenedAt: tx.CreatedAt, Reason: "damaged"}
	tx.Timeline[0].NotifyRequested = true

	row, err := ToRow(tx)
	if err != nil {
		t.Fatalf("ToRow failed: %v", err)
	}
	if row.Reference != tx.Reference || row.Status != "pending_payment" || row.Amount != 15000 {
		t.Errorf("unexpected scalar columns: %+v", row)
	}
	if !row.Disputed {
		t.Error("expected disputed column to be set")
	}
	if !row.PendingNotify {
		t.Error("expected pending_notify column to be set")
	}
	if row.VerificationEndsAt == nil || !row.VerificationEndsAt.Equal(ends) {
		t.Errorf("expected verification_ends_at %v, got %v", ends, row.VerificationEndsAt)
	}
	if len(row.Args()) != len(Columns) {
		t.Errorf("Args has %d values for %d columns", len(row.Args()), len(Columns))
	}
}

func TestRow_TransactionRoundTrip(t *testing.T) {
	tx := sampleTransaction()
	row, err := ToRow(tx)
	if err != nil {
		t.Fatalf("ToRow failed: %v", err)
	}
	row.Version = 7

	got, err := row.Transaction()
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if got.Version != 7 {
		t.Errorf("expected the version column to win, got %d", got.Version)
	}
	got.Version = tx.Version
	if !reflect.DeepEqual(got, tx) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, tx)
	}
}

func TestRow_TransactionBadDocument(t *testing.T) {
	row := &Row{Reference: "GAR-0115-ABC123", Document: []byte("{")}
	if _, err := row.Transaction(); err == nil {
		t.Error("expected an error for a corrupt document")
	}
}

func TestWhere(t *testing.T) {
	cut := time.Date(2024, 1, 17, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		filter   *gar.Filter
		ph       Placeholder
		wantSQL  string
		wantArgs []any
	}{
		{"nil filter", nil, Question, "", nil},
		{"empty filter", gar.NewFilter(), Question, "", nil},
		{
			"user",
			gar.NewFilter().WithUserID("user-1"),
			Question,
			"WHERE user_id = ?",
			[]any{"user-1"},
		},
		{
			"sweep candidates mysql",
			gar.SweepFilter(cut, 100),
			Question,
			"WHERE status IN (?,?) AND verification_ends_at IS NOT NULL AND verification_ends_at < ? AND disputed = ?",
			[]any{"delivered", "verification", cut, false},
		},
		{
			"sweep candidates postgres",
			gar.SweepFilter(cut, 100),
			Dollar,
			"WHERE status IN ($1,$2) AND verification_ends_at IS NOT NULL AND verification_ends_at < $3 AND disputed = $4",
			[]any{"delivered", "verification", cut, false},
		},
		{
			"pending notification",
			gar.NewFilter().WithPendingNotification(),
			Dollar,
			"WHERE pending_notify = $1",
			[]any{true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := Where(tt.filter, tt.ph)
			if sql != tt.wantSQL {
				t.Errorf("sql:\n got %q\nwant %q", sql, tt.wantSQL)
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Errorf("args: got %v, want %v", args, tt.wantArgs)
			}
		})
	}
}
