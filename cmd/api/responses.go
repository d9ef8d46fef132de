package main

import (
	"time"

	"github.com/shopspring/decimal"

	"craftmart/auth"
	"craftmart/catalog"
	"craftmart/dispute"
	"craftmart/order"
)

// Money is rendered as a fixed two-decimal string so clients never see
// binary floating point.
func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func moneyPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := money(*d)
	return &s
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func timestampPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := timestamp(*t)
	return &s
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"fullName"`
	Role      auth.Role `json:"role"`
	CreatedAt string    `json:"createdAt"`
}

func newUserResponse(u auth.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Role:      u.Role,
		CreatedAt: timestamp(u.CreatedAt),
	}
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type vendorResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Verified  bool   `json:"verified"`
	CreatedAt string `json:"createdAt"`
}

func newVendorResponse(v catalog.Vendor) vendorResponse {
	return vendorResponse{
		ID:        v.ID,
		Name:      v.Name,
		Verified:  v.Verified,
		CreatedAt: timestamp(v.CreatedAt),
	}
}

type lineItemResponse struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	LineTotal string `json:"lineTotal"`
}

type discountResponse struct {
	Percentage     int    `json:"percentage"`
	Type           string `json:"type"`
	Reason         string `json:"reason"`
	DiscountAmount string `json:"discountAmount"`
}

type orderResponse struct {
	ID          string             `json:"id"`
	CustomerID  string             `json:"customerId"`
	VendorID    string             `json:"vendorId"`
	Items       []lineItemResponse `json:"items"`
	ItemCount   int                `json:"itemCount"`
	Subtotal    string             `json:"subtotal"`
	Discount    discountResponse   `json:"discount"`
	ShippingFee string             `json:"shippingFee"`
	Total       string             `json:"total"`
	Status      order.Status       `json:"status"`
	PaidAt      *string            `json:"paidAt,omitempty"`
	CreatedAt   string             `json:"createdAt"`
	UpdatedAt   string             `json:"updatedAt"`
}

func newOrderResponse(o order.Order) orderResponse {
	items := make([]lineItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, lineItemResponse{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: money(it.UnitPrice),
			LineTotal: money(it.LineTotal),
		})
	}
	return orderResponse{
		ID:         o.ID,
		CustomerID: o.CustomerID,
		VendorID:   o.VendorID,
		Items:      items,
		ItemCount:  o.ItemCount,
		Subtotal:   money(o.Subtotal),
		Discount: discountResponse{
			Percentage:     o.Discount.Percentage,
			Type:           o.Discount.Type,
			Reason:         o.Discount.Reason,
			DiscountAmount: money(o.Discount.DiscountAmount),
		},
		ShippingFee: money(o.ShippingFee),
		Total:       money(o.Total),
		Status:      o.Status,
		PaidAt:      timestampPtr(o.PaidAt),
		CreatedAt:   timestamp(o.CreatedAt),
		UpdatedAt:   timestamp(o.UpdatedAt),
	}
}

type paymentResponse struct {
	ID             string              `json:"id"`
	OrderID        string              `json:"orderId"`
	Reference      string              `json:"reference"`
	Amount         string              `json:"amount"`
	Status         order.PaymentStatus `json:"status"`
	RefundedAmount *string             `json:"refundedAmount,omitempty"`
	Replayed       bool                `json:"replayed"`
}

func newPaymentResponse(res order.PaymentResult) paymentResponse {
	p := res.Payment
	return paymentResponse{
		ID:             p.ID,
		OrderID:        p.OrderID,
		Reference:      p.Reference,
		Amount:         money(p.Amount),
		Status:         p.Status,
		RefundedAmount: moneyPtr(p.RefundedAmount),
		Replayed:       res.Replayed,
	}
}

type evidenceResponse struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

type disputeResponse struct {
	ID                string             `json:"id"`
	OrderID           string             `json:"orderId"`
	CustomerID        string             `json:"customerId"`
	VendorID          string             `json:"vendorId"`
	Reason            dispute.Reason     `json:"reason"`
	Description       string             `json:"description"`
	Evidence          []evidenceResponse `json:"evidence"`
	Status            dispute.Status     `json:"status"`
	OrderStatusBefore order.Status       `json:"orderStatusBefore"`
	CreatedAt         string             `json:"createdAt"`
	UpdatedAt         string             `json:"updatedAt"`
	ResolvedAt        *string            `json:"resolvedAt,omitempty"`
}

func newDisputeResponse(d dispute.Dispute) disputeResponse {
	evidence := make([]evidenceResponse, 0, len(d.Evidence))
	for _, e := range d.Evidence {
		evidence = append(evidence, evidenceResponse{Filename: e.Filename, URL: e.URL})
	}
	return disputeResponse{
		ID:                d.ID,
		OrderID:           d.OrderID,
		CustomerID:        d.CustomerID,
		VendorID:          d.VendorID,
		Reason:            d.Reason,
		Description:       d.Description,
		Evidence:          evidence,
		Status:            d.Status,
		OrderStatusBefore: d.OrderStatusBefore,
		CreatedAt:         timestamp(d.CreatedAt),
		UpdatedAt:         timestamp(d.UpdatedAt),
		ResolvedAt:        timestampPtr(d.ResolvedAt),
	}
}

type threadEntryResponse struct {
	Seq       int       `json:"seq"`
	AuthorID  string    `json:"authorId"`
	Role      auth.Role `json:"role"`
	Message   string    `json:"message"`
	CreatedAt string    `json:"createdAt"`
}

func newThreadEntryResponse(r dispute.Response) threadEntryResponse {
	return threadEntryResponse{
		Seq:       r.Seq,
		AuthorID:  r.AuthorID,
		Role:      r.Role,
		Message:   r.Message,
		CreatedAt: timestamp(r.CreatedAt),
	}
}

type decisionResponse struct {
	Action       dispute.Action `json:"action"`
	Note         string         `json:"note"`
	RefundAmount *string        `json:"refundAmount,omitempty"`
	DecidedBy    string         `json:"decidedBy"`
	DecidedAt    string         `json:"decidedAt"`
}

func newDecisionResponse(d dispute.Decision) decisionResponse {
	return decisionResponse{
		Action:       d.Action,
		Note:         d.Note,
		RefundAmount: moneyPtr(d.RefundAmount),
		DecidedBy:    d.DecidedBy,
		DecidedAt:    timestamp(d.DecidedAt),
	}
}

type reviewPanelResponse struct {
	OrderTotal       string           `json:"orderTotal"`
	OrderStatus      order.Status     `json:"orderStatus"`
	PaymentReference string           `json:"paymentReference,omitempty"`
	RefundableAmount string           `json:"refundableAmount"`
	AllowedActions   []dispute.Action `json:"allowedActions"`
}

type disputeViewResponse struct {
	Dispute     disputeResponse       `json:"dispute"`
	Responses   []threadEntryResponse `json:"responses"`
	Decision    *decisionResponse     `json:"decision,omitempty"`
	ReviewPanel *reviewPanelResponse  `json:"reviewPanel,omitempty"`
}

func newDisputeViewResponse(v dispute.View) disputeViewResponse {
	out := disputeViewResponse{
		Dispute:   newDisputeResponse(v.Dispute),
		Responses: make([]threadEntryResponse, 0, len(v.Responses)),
	}
	for _, r := range v.Responses {
		out.Responses = append(out.Responses, newThreadEntryResponse(r))
	}
	if v.Decision != nil {
		d := newDecisionResponse(*v.Decision)
		out.Decision = &d
	}
	if p := v.ReviewPanel; p != nil {
		out.ReviewPanel = &reviewPanelResponse{
			OrderTotal:       money(p.OrderTotal),
			OrderStatus:      p.OrderStatus,
			PaymentReference: p.PaymentReference,
			RefundableAmount: money(p.RefundableAmount),
			AllowedActions:   p.AllowedActions,
		}
	}
	return out
}

type refundResponse struct {
	PaymentReference string         `json:"paymentReference,omitempty"`
	Action           dispute.Action `json:"action"`
	Amount           string         `json:"amount"`
}

type resolutionResponse struct {
	Dispute  disputeResponse  `json:"dispute"`
	Decision decisionResponse `json:"decision"`
	Refund   refundResponse   `json:"refund"`
}

func newResolutionResponse(res dispute.Resolution) resolutionResponse {
	return resolutionResponse{
		Dispute:  newDisputeResponse(res.Dispute),
		Decision: newDecisionResponse(res.Decision),
		Refund: refundResponse{
			PaymentReference: res.Refund.PaymentReference,
			Action:           res.Refund.Action,
			Amount:           money(res.Refund.Amount),
		},
	}
}
