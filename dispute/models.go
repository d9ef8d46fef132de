package dispute

import (
	"time"

	"github.com/shopspring/decimal"

	"craftmart/auth"
	"craftmart/order"
	"craftmart/settlement"
)

// Status models the lifecycle of a dispute.
type Status string

const (
	StatusOpen        Status = "open"
	StatusUnderReview Status = "under_review"
	StatusResolved    Status = "resolved"
)

// Active reports whether the dispute still accepts responses.
func (s Status) Active() bool {
	return s == StatusOpen || s == StatusUnderReview
}

// Reason classifies the customer's complaint.
type Reason string

const (
	ReasonItemNotReceived Reason = "item_not_received"
	ReasonNotAsDescribed  Reason = "not_as_described"
	ReasonDamaged         Reason = "damaged"
	ReasonWrongItem       Reason = "wrong_item"
	ReasonOther           Reason = "other"
)

func (r Reason) Valid() bool {
	switch r {
	case ReasonItemNotReceived, ReasonNotAsDescribed, ReasonDamaged, ReasonWrongItem, ReasonOther:
		return true
	}
	return false
}

// Decision and Action are shared with settlement.
type (
	Decision = settlement.Decision
	Action   = settlement.Action
)

const (
	ActionFullRefund    = settlement.ActionFullRefund
	ActionPartialRefund = settlement.ActionPartialRefund
	ActionDenyClaim     = settlement.ActionDenyClaim
)

// Evidence references a file uploaded elsewhere.
type Evidence struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// Dispute is the header row. Responses and the decision are projections of
// its event log.
type Dispute struct {
	ID                string
	OrderID           string
	CustomerID        string
	VendorID          string
	Reason            Reason
	Description       string
	Evidence          []Evidence
	Status            Status
	OrderStatusBefore order.Status
	LastSeq           int
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ResolvedAt        *time.Time
}

// EventType enumerates dispute_events rows.
type EventType string

const (
	EventOpened        EventType = "opened"
	EventResponse      EventType = "response"
	EventReviewStarted EventType = "review_started"
	EventResolved      EventType = "resolved"
)

// Event is one entry of the append-only dispute log. Seq and CreatedAt are
// assigned by the database.
type Event struct {
	DisputeID string
	Seq       int
	Type      EventType
	AuthorID  string
	Role      auth.Role
	Message   string
	ClientKey string
	Decision  *Decision
	CreatedAt time.Time
}

// Response is a message in the dispute thread.
type Response struct {
	Seq       int
	AuthorID  string
	Role      auth.Role
	Message   string
	CreatedAt time.Time
}

func responseFrom(ev Event) Response {
	return Response{
		Seq:       ev.Seq,
		AuthorID:  ev.AuthorID,
		Role:      ev.Role,
		Message:   ev.Message,
		CreatedAt: ev.CreatedAt,
	}
}

// ReviewPanel carries the settlement context shown to admins only.
type ReviewPanel struct {
	OrderTotal       decimal.Decimal
	OrderStatus      order.Status
	PaymentReference string
	RefundableAmount decimal.Decimal
	AllowedActions   []Action
}

// View is the role-filtered read model of a dispute.
type View struct {
	Dispute     Dispute
	Responses   []Response
	Decision    *Decision
	ReviewPanel *ReviewPanel
}

// CreateRequest opens a dispute.
type CreateRequest struct {
	OrderID     string     `json:"orderId"`
	Reason      Reason     `json:"reason"`
	Description string     `json:"description"`
	Evidence    []Evidence `json:"evidence"`
}

// ResolveRequest carries the admin decision before validation.
type ResolveRequest struct {
	Action       Action           `json:"action"`
	Note         string           `json:"note"`
	RefundAmount *decimal.Decimal `json:"refundAmount,omitempty"`
}

// Resolution is the outcome of a successful resolve.
type Resolution struct {
	Dispute  Dispute
	Decision Decision
	Refund   settlement.RefundInstruction
}
