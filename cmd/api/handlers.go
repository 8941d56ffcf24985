package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mcclellann/lendtrack/pkg/ledger"
	"github.com/mcclellann/lendtrack/pkg/models"
	"github.com/shopspring/decimal"
)

const borrowerNotFound = "Borrower not found"

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, "lendtrack API is running", map[string]interface{}{
		"timestamp": time.Now().UTC(),
	})
}

type authResponse struct {
	Lender *models.Lender `json:"lender"`
	Token  string         `json:"token"`
}

func (s *Server) registerHandler(w http.ResponseWriter, r *http.Request) {
	var req ledger.RegisterInput
	if err := decodeBody(r, &req); err != nil {
		badBody(w, err)
		return
	}
	lender, err := s.ledger.Register(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err, "")
		return
	}
	token, err := s.issuer.Generate(lender.ID)
	if err != nil {
		s.respondError(w, r, err, "")
		return
	}
	respond(w, http.StatusCreated, "Lender registered successfully", authResponse{Lender: lender, Token: token})
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req ledger.LoginInput
	if err := decodeBody(r, &req); err != nil {
		badBody(w, err)
		return
	}
	lender, err := s.ledger.Authenticate(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err, "")
		return
	}
	token, err := s.issuer.Generate(lender.ID)
	if err != nil {
		s.respondError(w, r, err, "")
		return
	}
	respond(w, http.StatusOK, "Login successful", authResponse{Lender: lender, Token: token})
}

func (s *Server) profileHandler(w http.ResponseWriter, r *http.Request) {
	lender, err := s.ledger.GetLender(r.Context(), lenderID(r))
	if err != nil {
		s.respondError(w, r, err, "Lender not found")
		return
	}
	respond(w, http.StatusOK, "", map[string]interface{}{"lender": lender})
}

func (s *Server) updateProfileHandler(w http.ResponseWriter, r *http.Request) {
	var req ledger.ProfileInput
	if err := decodeBody(r, &req); err != nil {
		badBody(w, err)
		return
	}
	lender, err := s.ledger.UpdateProfile(r.Context(), lenderID(r), req)
	if err != nil {
		s.respondError(w, r, err, "Lender not found")
		return
	}
	respond(w, http.StatusOK, "Profile updated successfully", map[string]interface{}{"lender": lender})
}

func (s *Server) dashboardHandler(w http.ResponseWriter, r *http.Request) {
	d, err := s.ledger.Dashboard(r.Context(), lenderID(r))
	if err != nil {
		s.respondError(w, r, err, "Lender not found")
		return
	}
	respond(w, http.StatusOK, "", d)
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, &ledger.ValidationError{Fields: map[string]string{key: "must be a positive integer"}}
	}
	return v, nil
}

func (s *Server) listBorrowersHandler(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		s.respondError(w, r, err, "")
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.respondError(w, r, err, "")
		return
	}
	q := r.URL.Query()
	result, err := s.ledger.ListBorrowers(r.Context(), lenderID(r), ledger.ListQuery{
		Page:   page,
		Limit:  limit,
		Status: models.Status(q.Get("status")),
		Search: q.Get("search"),
	})
	if err != nil {
		s.respondError(w, r, err, "")
		return
	}
	respond(w, http.StatusOK, "", result)
}

// apiDate accepts a calendar date ("2024-01-15") or an RFC 3339 timestamp.
type apiDate struct {
	time.Time
}

func (d *apiDate) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time = t
			return nil
		}
	}
	return fmt.Errorf("invalid date %q, want YYYY-MM-DD or RFC 3339", s)
}

// borrowerRequest is the create/update body. dueDate is the name older
// clients use for the account start date.
type borrowerRequest struct {
	Name             *string          `json:"name"`
	Phone            *string          `json:"phone"`
	Address          *string          `json:"address"`
	Amount           *decimal.Decimal `json:"amount"`
	InterestRate     *decimal.Decimal `json:"interestRate"`
	AccountStartDate *apiDate         `json:"accountStartDate"`
	DueDate          *apiDate         `json:"dueDate"`
	MonthsPaid       *int             `json:"monthsPaid"`
}

func (req borrowerRequest) startDate() *time.Time {
	switch {
	case req.AccountStartDate != nil:
		return &req.AccountStartDate.Time
	case req.DueDate != nil:
		return &req.DueDate.Time
	}
	return nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func (req borrowerRequest) input() ledger.BorrowerInput {
	return ledger.BorrowerInput{
		Name:             deref(req.Name),
		Phone:            deref(req.Phone),
		Address:          deref(req.Address),
		Principal:        deref(req.Amount),
		InterestRate:     req.InterestRate,
		AccountStartDate: deref(req.startDate()),
		MonthsPaid:       deref(req.MonthsPaid),
	}
}

func (req borrowerRequest) patch(expectedVersion int64) ledger.BorrowerPatch {
	return ledger.BorrowerPatch{
		Name:             req.Name,
		Phone:            req.Phone,
		Address:          req.Address,
		Principal:        req.Amount,
		InterestRate:     req.InterestRate,
		AccountStartDate: req.startDate(),
		MonthsPaid:       req.MonthsPaid,
		ExpectedVersion:  expectedVersion,
	}
}

type borrowerResponse struct {
	Borrower *models.Borrower `json:"borrower"`
}

func (s *Server) getBorrowerHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	b, err := s.ledger.GetBorrower(r.Context(), lenderID(r), id)
	if err != nil {
		s.respondError(w, r, err, borrowerNotFound)
		return
	}
	setETag(w, b.Version)
	respond(w, http.StatusOK, "", borrowerResponse{Borrower: b})
}

func (s *Server) createBorrowerHandler(w http.ResponseWriter, r *http.Request) {
	var req borrowerRequest
	if err := decodeBody(r, &req); err != nil {
		badBody(w, err)
		return
	}
	b, err := s.ledger.CreateBorrower(r.Context(), lenderID(r), req.input())
	if err != nil {
		s.respondError(w, r, err, "")
		return
	}
	setETag(w, b.Version)
	respond(w, http.StatusCreated, "Borrower created successfully", borrowerResponse{Borrower: b})
}

func (s *Server) updateBorrowerHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	version, err := ifMatch(r)
	if err != nil {
		respondFail(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	var req borrowerRequest
	if err := decodeBody(r, &req); err != nil {
		badBody(w, err)
		return
	}
	b, err := s.ledger.UpdateBorrower(r.Context(), lenderID(r), id, req.patch(version))
	if err != nil {
		s.respondError(w, r, err, borrowerNotFound)
		return
	}
	setETag(w, b.Version)
	respond(w, http.StatusOK, "Borrower updated successfully", borrowerResponse{Borrower: b})
}

func (s *Server) deleteBorrowerHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.ledger.DeleteBorrower(r.Context(), lenderID(r), id); err != nil {
		s.respondError(w, r, err, borrowerNotFound)
		return
	}
	respond(w, http.StatusOK, "Borrower deleted successfully", nil)
}

func (s *Server) dueNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.ledger.Notifications(r.Context(), lenderID(r))
	if err != nil {
		s.respondError(w, r, err, "")
		return
	}
	respond(w, http.StatusOK, "", res)
}

func (s *Server) markPaidHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	version, err := ifMatch(r)
	if err != nil {
		respondFail(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	res, err := s.ledger.MarkPaid(r.Context(), lenderID(r), id, version)
	if err != nil {
		s.respondError(w, r, err, borrowerNotFound)
		return
	}
	setETag(w, res.Borrower.Version)
	respond(w, http.StatusOK, "Payment marked as paid successfully", res)
}
