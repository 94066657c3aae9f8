package http

import (
	"net/http"

	"dompet/internal/core"
	"dompet/internal/ledger"
)

type methodRequest struct {
	Name    string       `json:"name"`
	Balance *core.Amount `json:"balance,omitempty"`
}

func (req methodRequest) input() ledger.PaymentMethodInput {
	return ledger.PaymentMethodInput{Name: req.Name, Balance: req.Balance.DecimalPtr()}
}

func (s *Server) listPaymentMethods(r *http.Request, user core.UserID) (int, any, error) {
	methods, err := s.svc.ListPaymentMethods(r.Context(), user)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, orEmpty(methods), nil
}

func (s *Server) getPaymentMethod(r *http.Request, user core.UserID) (int, any, error) {
	m, err := s.svc.GetPaymentMethod(r.Context(), user, r.PathValue("id"))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, m, nil
}

func (s *Server) createPaymentMethod(r *http.Request, user core.UserID) (int, any, error) {
	var req methodRequest
	if err := decodeJSON(r, &req); err != nil {
		return 0, nil, err
	}
	m, err := s.svc.CreatePaymentMethod(r.Context(), user, req.input())
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, m, nil
}

func (s *Server) updatePaymentMethod(r *http.Request, user core.UserID) (int, any, error) {
	var req methodRequest
	if err := decodeJSON(r, &req); err != nil {
		return 0, nil, err
	}
	m, err := s.svc.UpdatePaymentMethod(r.Context(), user, r.PathValue("id"), req.input())
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, m, nil
}

func (s *Server) deletePaymentMethod(r *http.Request, user core.UserID) (int, any, error) {
	if err := s.svc.DeletePaymentMethod(r.Context(), user, r.PathValue("id")); err != nil {
		return 0, nil, err
	}
	return http.StatusNoContent, nil, nil
}
