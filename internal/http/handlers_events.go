package http

import (
	"net/http"

	"dompet/internal/core"
	"dompet/internal/ledger"
)

// transactionRequest is the wire form of ledger.TransactionInput. Amounts may
// use a comma as the decimal separator.
type transactionRequest struct {
	Type            core.Kind   `json:"type"`
	Date            core.Date   `json:"date"`
	CategoryID      string      `json:"category_id"`
	SubcategoryID   string      `json:"subcategory_id"`
	PaymentMethodID string      `json:"payment_method_id"`
	Amount          core.Amount `json:"amount"`
	Description     string      `json:"description"`
}

func (req transactionRequest) input() ledger.TransactionInput {
	return ledger.TransactionInput{
		Type:            req.Type,
		Date:            req.Date,
		CategoryID:      req.CategoryID,
		SubcategoryID:   req.SubcategoryID,
		PaymentMethodID: req.PaymentMethodID,
		Amount:          req.Amount.Decimal(),
		Description:     req.Description,
	}
}

type transferRequest struct {
	Date                core.Date   `json:"date"`
	FromPaymentMethodID string      `json:"from_payment_method_id"`
	ToPaymentMethodID   string      `json:"to_payment_method_id"`
	Amount              core.Amount `json:"amount"`
	Description         string      `json:"description"`
}

func (req transferRequest) input() ledger.TransferInput {
	return ledger.TransferInput{
		Date:                req.Date,
		FromPaymentMethodID: req.FromPaymentMethodID,
		ToPaymentMethodID:   req.ToPaymentMethodID,
		Amount:              req.Amount.Decimal(),
		Description:         req.Description,
	}
}

// listTransactions serves GET /api/transactions?month=YYYY-MM&type=.
func (s *Server) listTransactions(r *http.Request, user core.UserID) (int, any, error) {
	month, err := monthParam(r, s.now())
	if err != nil {
		return 0, nil, err
	}
	txs, err := s.svc.ListTransactions(r.Context(), user, kindParam(r, "type"), month)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, orEmpty(txs), nil
}

func (s *Server) getTransaction(r *http.Request, user core.UserID) (int, any, error) {
	tx, err := s.svc.GetTransaction(r.Context(), user, r.PathValue("id"))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, tx, nil
}

func (s *Server) createTransaction(r *http.Request, user core.UserID) (int, any, error) {
	var req transactionRequest
	if err := decodeJSON(r, &req); err != nil {
		return 0, nil, err
	}
	tx, err := s.svc.CreateTransaction(r.Context(), user, req.input())
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, tx, nil
}

func (s *Server) updateTransaction(r *http.Request, user core.UserID) (int, any, error) {
	var req transactionRequest
	if err := decodeJSON(r, &req); err != nil {
		return 0, nil, err
	}
	tx, err := s.svc.UpdateTransaction(r.Context(), user, r.PathValue("id"), req.input())
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, tx, nil
}

func (s *Server) deleteTransaction(r *http.Request, user core.UserID) (int, any, error) {
	if err := s.svc.DeleteTransaction(r.Context(), user, r.PathValue("id")); err != nil {
		return 0, nil, err
	}
	return http.StatusNoContent, nil, nil
}

// listTransfers serves GET /api/transfers?month=YYYY-MM.
func (s *Server) listTransfers(r *http.Request, user core.UserID) (int, any, error) {
	month, err := monthParam(r, s.now())
	if err != nil {
		return 0, nil, err
	}
	trs, err := s.svc.ListTransfers(r.Context(), user, month)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, orEmpty(trs), nil
}

func (s *Server) getTransfer(r *http.Request, user core.UserID) (int, any, error) {
	tr, err := s.svc.GetTransfer(r.Context(), user, r.PathValue("id"))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, tr, nil
}

func (s *Server) createTransfer(r *http.Request, user core.UserID) (int, any, error) {
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		return 0, nil, err
	}
	tr, err := s.svc.CreateTransfer(r.Context(), user, req.input())
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, tr, nil
}

func (s *Server) updateTransfer(r *http.Request, user core.UserID) (int, any, error) {
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		return 0, nil, err
	}
	tr, err := s.svc.UpdateTransfer(r.Context(), user, r.PathValue("id"), req.input())
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, tr, nil
}

func (s *Server) deleteTransfer(r *http.Request, user core.UserID) (int, any, error) {
	if err := s.svc.DeleteTransfer(r.Context(), user, r.PathValue("id")); err != nil {
		return 0, nil, err
	}
	return http.StatusNoContent, nil, nil
}
