package main

import (
	"errors"
	"net/http"

	"craftmart/auth"
	"craftmart/authz"
	"craftmart/catalog"
	"craftmart/dispute"
	"craftmart/lock"
	"craftmart/order"
	"craftmart/pricing"
	"craftmart/settlement"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// errorTable is checked in order; the first match wins.
var errorTable = []errorMapping{
	{errMalformedBody, http.StatusBadRequest, "invalid_input"},
	{order.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{dispute.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{dispute.ErrInvalidReason, http.StatusBadRequest, "invalid_reason"},
	{dispute.ErrInvalidAction, http.StatusBadRequest, "invalid_action"},
	{pricing.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{catalog.ErrUnknownProduct, http.StatusBadRequest, "invalid_input"},
	{catalog.ErrProductUnavailable, http.StatusBadRequest, "invalid_input"},
	{settlement.ErrInvalidDecision, http.StatusBadRequest, "invalid_input"},
	{auth.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{auth.ErrWeakPassword, http.StatusBadRequest, "weak_password"},

	{errUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
	{errBadSignature, http.StatusUnauthorized, "invalid_signature"},
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{auth.ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},

	{order.ErrForbidden, http.StatusForbidden, "forbidden"},
	{dispute.ErrForbidden, http.StatusForbidden, "forbidden"},
	{authz.ErrForbidden, http.StatusForbidden, "forbidden"},
	{auth.ErrRoleNotAllowed, http.StatusForbidden, "forbidden"},

	{order.ErrNotFound, http.StatusNotFound, "not_found"},
	{order.ErrPaymentNotFound, http.StatusNotFound, "not_found"},
	{dispute.ErrNotFound, http.StatusNotFound, "not_found"},
	{catalog.ErrNotFound, http.StatusNotFound, "not_found"},
	{auth.ErrUserNotFound, http.StatusNotFound, "not_found"},

	{dispute.ErrAlreadyResolved, http.StatusConflict, "already_resolved"},
	{settlement.ErrAlreadySettled, http.StatusConflict, "already_resolved"},
	{dispute.ErrActiveDisputeExists, http.StatusConflict, "active_dispute_exists"},
	{dispute.ErrDisputeClosed, http.StatusConflict, "dispute_closed"},
	{dispute.ErrOrderNotDisputable, http.StatusConflict, "order_not_disputable"},
	{dispute.ErrBadStatus, http.StatusConflict, "invalid_transition"},
	{order.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{order.ErrIdempotencyConflict, http.StatusConflict, "idempotency_conflict"},
	{dispute.ErrIdempotencyConflict, http.StatusConflict, "idempotency_conflict"},
	{order.ErrOrderNotPayable, http.StatusConflict, "order_not_payable"},
	{auth.ErrDuplicateEmail, http.StatusConflict, "duplicate_email"},
	{lock.ErrLockBusy, http.StatusConflict, "busy"},

	{dispute.ErrRefundExceedsOrderTotal, http.StatusUnprocessableEntity, "refund_exceeds_total"},
	{order.ErrRefundExceedsTotal, http.StatusUnprocessableEntity, "refund_exceeds_total"},
	{order.ErrAmountMismatch, http.StatusUnprocessableEntity, "amount_mismatch"},
}

func classify(err error) (int, string) {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.log().ErrorContext(r.Context(), "request failed",
			"module", "http",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		message = "internal server error"
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}
