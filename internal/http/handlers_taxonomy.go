package http

import (
	"net/http"

	"dompet/internal/core"
)

type categoryRequest struct {
	Kind core.Kind `json:"kind"`
	Name string    `json:"name"`
}

type subcategoryRequest struct {
	CategoryID string `json:"category_id"`
	Name       string `json:"name"`
}

// listCategories serves GET /api/categories?kind=income|expense.
func (s *Server) listCategories(r *http.Request, user core.UserID) (int, any, error) {
	cats, err := s.svc.ListCategories(r.Context(), user, kindParam(r, "kind"))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, orEmpty(cats), nil
}

func (s *Server) createCategory(r *http.Request, user core.UserID) (int, any, error) {
	var req categoryRequest
	if err := decodeJSON(r, &req); err != nil {
		return 0, nil, err
	}
	c, err := s.svc.CreateCategory(r.Context(), user, req.Kind, req.Name)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, c, nil
}

func (s *Server) deleteCategory(r *http.Request, user core.UserID) (int, any, error) {
	if err := s.svc.DeleteCategory(r.Context(), user, r.PathValue("id")); err != nil {
		return 0, nil, err
	}
	return http.StatusNoContent, nil, nil
}

// listSubcategories serves GET /api/subcategories?kind=&category_id=.
func (s *Server) listSubcategories(r *http.Request, user core.UserID) (int, any, error) {
	subs, err := s.svc.ListSubcategories(r.Context(), user, kindParam(r, "kind"), r.URL.Query().Get("category_id"))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, orEmpty(subs), nil
}

func (s *Server) createSubcategory(r *http.Request, user core.UserID) (int, any, error) {
	var req subcategoryRequest
	if err := decodeJSON(r, &req); err != nil {
		return 0, nil, err
	}
	sc, err := s.svc.CreateSubcategory(r.Context(), user, req.CategoryID, req.Name)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, sc, nil
}

func (s *Server) deleteSubcategory(r *http.Request, user core.UserID) (int, any, error) {
	if err := s.svc.DeleteSubcategory(r.Context(), user, r.PathValue("id")); err != nil {
		return 0, nil, err
	}
	return http.StatusNoContent, nil, nil
}
