package gar

import (
	"time"
)

// ClientSnapshot is the client identity captured when the transaction was created.
type ClientSnapshot struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

// TimelineEvent is one immutable entry of the audit trail.
// Only NotifiedClient changes after creation, once the client was notified.
type TimelineEvent struct {
	Status          Status    `json:"status"`
	Timestamp       time.Time `json:"timestamp"`
	Note            string    `json:"note,omitempty"`
	NotifiedClient  bool      `json:"notified_client"`
	NotifyRequested bool      `json:"notify_requested,omitempty"`
	AdminID         string    `json:"admin_id,omitempty"`
}

// DeliveryInfo holds carrier and tracking metadata.
type DeliveryInfo struct {
	Carrier        string     `json:"carrier,omitempty"`
	TrackingNumber string     `json:"tracking_number,omitempty"`
	Address        string     `json:"address,omitempty"`
	EstimatedAt    *time.Time `json:"estimated_at,omitempty"`
	Notes          string     `json:"notes,omitempty"`
}

// merge copies the non-empty fields of other into d.
func (d *DeliveryInfo) merge(other *DeliveryInfo) {
	if other.Carrier != "" {
		d.Carrier = other.Carrier
	}
	if other.TrackingNumber != "" {
		d.TrackingNumber = other.TrackingNumber
	}
	if other.Address != "" {
		d.Address = other.Address
	}
	if other.EstimatedAt != nil {
		t := *other.EstimatedAt
		d.EstimatedAt = &t
	}
	if other.Notes != "" {
		d.Notes = other.Notes
	}
}

// Dispute is the client claim opened during the verification window.
type Dispute struct {
	OpenedAt    time.Time          `json:"opened_at"`
	Reason      string             `json:"reason"`
	Description string             `json:"description,omitempty"`
	Evidence    []string           `json:"evidence,omitempty"`
	Resolution  *DisputeResolution `json:"resolution,omitempty"`
	ResolvedAt  *time.Time         `json:"resolved_at,omitempty"`
}

// IsOpen returns true while the dispute awaits a decision.
func (d *Dispute) IsOpen() bool {
	return d != nil && d.Resolution == nil
}

// DisputeResolution records the admin decision on a dispute.
type DisputeResolution struct {
	Decision     Decision `json:"decision"`
	Note         string   `json:"note,omitempty"`
	RefundAmount int64    `json:"refund_amount,omitempty"`
	AdminID      string   `json:"admin_id,omitempty"`
}

// Refund is created once, by dispute resolution.
type Refund struct {
	Amount        int64      `json:"amount"`
	Reason        string     `json:"reason"`
	Method        string     `json:"method"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	TransactionID string     `json:"transaction_id,omitempty"`
}

// Transaction is the aggregate tracking one guaranteed purchase.
type Transaction struct {
	// Reference is the customer-facing identifier (GAR-YYMM-XXXXXX).
	Reference string `json:"reference"`

	// Status is the current lifecycle state. It always equals the status of
	// the last timeline entry.
	Status Status `json:"status"`

	// Amount and PaidAmount are expressed in minor units of Currency.
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	PaidAmount int64  `json:"paid_amount"`

	UserID  string         `json:"user_id,omitempty"`
	OrderID string         `json:"order_id,omitempty"`
	Client  ClientSnapshot `json:"client"`

	Timeline   []TimelineEvent `json:"timeline"`
	Guarantees []Guarantee     `json:"guarantees"`

	PaymentReceivedAt  *time.Time `json:"payment_received_at,omitempty"`
	OrderPlacedAt      *time.Time `json:"order_placed_at,omitempty"`
	DeliveredAt        *time.Time `json:"delivered_at,omitempty"`
	VerificationEndsAt *time.Time `json:"verification_ends_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`

	Delivery *DeliveryInfo `json:"delivery,omitempty"`
	Dispute  *Dispute      `json:"dispute,omitempty"`
	Refund   *Refund       `json:"refund,omitempty"`

	// Version is used for optimistic locking.
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateParams holds the facts supplied by the order/payment workflow.
type CreateParams struct {
	Amount   int64
	Currency string
	UserID   string
	OrderID  string
	Client   ClientSnapshot
	Note     string
}

func (p CreateParams) validate() error {
	if p.Amount <= 0 || p.Currency == "" || p.Client.Name == "" || p.Client.Phone == "" {
		return ErrInvalidTransactionInput
	}
	return nil
}

// NewTransaction builds a pending_payment transaction with its creation entry
// and default guarantees.
func NewTransaction(reference string, p CreateParams, now time.Time) *Transaction {
	note := p.Note
	if note == "" {
		note = "transaction created"
	}
	tx := &Transaction{
		Reference:  reference,
		Status:     StatusPendingPayment,
		Amount:     p.Amount,
		Currency:   p.Currency,
		UserID:     p.UserID,
		OrderID:    p.OrderID,
		Client:     p.Client,
		Guarantees: DefaultGuarantees(now),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return AppendEvent(tx, TimelineEvent{Status: StatusPendingPayment, Timestamp: now, Note: note})
}

// AppendEvent returns a copy of tx with e appended to the timeline and the
// status moved to e.Status. tx itself is left untouched.
func AppendEvent(tx *Transaction, e TimelineEvent) *Transaction {
	out := tx.Clone()
	out.Timeline = append(out.Timeline, e)
	out.Status = e.Status
	return out
}

// LastEvent returns the most recent timeline entry, or nil for an empty timeline.
func (t *Transaction) LastEvent() *TimelineEvent {
	if len(t.Timeline) == 0 {
		return nil
	}
	return &t.Timeline[len(t.Timeline)-1]
}

// HasOpenDispute returns true if a dispute exists and is not resolved.
func (t *Transaction) HasOpenDispute() bool {
	return t.Dispute.IsOpen()
}

// HasClientEmail returns true if notifications can reach the client.
func (t *Transaction) HasClientEmail() bool {
	return t.Client.Email != ""
}

// PendingNotifications returns the indexes of timeline entries whose
// notification was requested but not delivered.
func (t *Transaction) PendingNotifications() []int {
	var out []int
	for i, e := range t.Timeline {
		if e.NotifyRequested && !e.NotifiedClient {
			out = append(out, i)
		}
	}
	return out
}

// IncrementVersion increments the version for optimistic locking.
func (t *Transaction) IncrementVersion(now time.Time) {
	t.Version++
	t.UpdatedAt = now
}

// Clone returns a deep copy of the transaction.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	out := *t
	out.Timeline = append([]TimelineEvent(nil), t.Timeline...)
	out.Guarantees = append([]Guarantee(nil), t.Guarantees...)
	out.PaymentReceivedAt = cloneTime(t.PaymentReceivedAt)
	out.OrderPlacedAt = cloneTime(t.OrderPlacedAt)
	out.DeliveredAt = cloneTime(t.DeliveredAt)
	out.VerificationEndsAt = cloneTime(t.VerificationEndsAt)
	out.CompletedAt = cloneTime(t.CompletedAt)
	if t.Delivery != nil {
		d := *t.Delivery
		d.EstimatedAt = cloneTime(t.Delivery.EstimatedAt)
		out.Delivery = &d
	}
	if t.Dispute != nil {
		d := *t.Dispute
		d.Evidence = append([]string(nil), t.Dispute.Evidence...)
		d.ResolvedAt = cloneTime(t.Dispute.ResolvedAt)
		if t.Dispute.Resolution != nil {
			r := *t.Dispute.Resolution
			d.Resolution = &r
		}
		out.Dispute = &d
	}
	if t.Refund != nil {
		r := *t.Refund
		r.ProcessedAt = cloneTime(t.Refund.ProcessedAt)
		out.Refund = &r
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
