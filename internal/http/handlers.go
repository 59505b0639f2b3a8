package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"grouply/internal/core"
	"grouply/internal/log"
	"grouply/internal/services"
)

const maxBodyBytes = 1 << 20

type (
	userJSON struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	shareJSON struct {
		UserID   string           `json:"userId"`
		UserName string           `json:"userName"`
		Weight   *decimal.Decimal `json:"weight,omitempty"`
		Amount   core.Money       `json:"amount"`
	}

	expenseJSON struct {
		ID          string      `json:"id"`
		GroupID     string      `json:"groupId"`
		PayerID     string      `json:"payerId"`
		PayerName   string      `json:"payerName,omitempty"`
		Amount      core.Money  `json:"amount"`
		Description string      `json:"description"`
		SplitMode   string      `json:"splitMode"`
		CreatedAt   time.Time   `json:"createdAt"`
		Shares      []shareJSON `json:"shares"`
	}

	paymentJSON struct {
		ID         string     `json:"id"`
		GroupID    string     `json:"groupId"`
		FromUserID string     `json:"fromUserId"`
		ToUserID   string     `json:"toUserId"`
		Amount     core.Money `json:"amount"`
		CreatedAt  time.Time  `json:"createdAt"`
	}

	balanceJSON struct {
		ParticipantID string     `json:"participantId"`
		UserID        string     `json:"userId"`
		Name          string     `json:"name"`
		Balance       core.Money `json:"balance"`
		Settled       bool       `json:"settled"`
	}

	settlementJSON struct {
		FromParticipantID string     `json:"fromParticipantId"`
		FromUserID        string     `json:"fromUserId"`
		FromName          string     `json:"fromName"`
		ToParticipantID   string     `json:"toParticipantId"`
		ToUserID          string     `json:"toUserId"`
		ToName            string     `json:"toName"`
		Amount            core.Money `json:"amount"`
	}

	shareRequest struct {
		UserID        string           `json:"userId"`
		ParticipantID string           `json:"participantId"`
		Value         *decimal.Decimal `json:"value"`
	}

	expenseRequest struct {
		GroupID     string         `json:"groupId"`
		EventID     string         `json:"eventId"`
		PayerID     string         `json:"payerId"`
		Amount      core.Money     `json:"amount"`
		Description string         `json:"description"`
		SplitMode   string         `json:"splitMode"`
		Shares      []shareRequest `json:"shares"`
	}

	paymentRequest struct {
		GroupID           string     `json:"groupId"`
		EventID           string     `json:"eventId"`
		FromUserID        string     `json:"fromUserId"`
		ToUserID          string     `json:"toUserId"`
		FromParticipantID string     `json:"fromParticipantId"`
		ToParticipantID   string     `json:"toParticipantId"`
		Amount            core.Money `json:"amount"`
	}
)

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	participants, err := s.ledger.ListParticipants(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]userJSON, len(participants))
	for i, p := range participants {
		out[i] = userJSON{ID: p.ID, Name: p.Name}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := s.ledger.ListExpenses(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]expenseJSON, len(expenses))
	for i, e := range expenses {
		shares := make([]shareJSON, len(e.Shares))
		for j, sh := range e.Shares {
			shares[j] = shareJSON{UserID: sh.ParticipantID, UserName: sh.Name, Weight: sh.Weight, Amount: sh.Amount}
		}
		out[i] = expenseJSON{
			ID:          e.ID,
			GroupID:     e.GroupID,
			PayerID:     e.PayerID,
			PayerName:   e.PayerName,
			Amount:      e.Amount,
			Description: e.Description,
			SplitMode:   string(e.SplitMode),
			CreatedAt:   e.CreatedAt,
			Shares:      shares,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := s.ledger.GetBalances(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]balanceJSON, len(balances))
	for i, b := range balances {
		out[i] = balanceJSON{
			ParticipantID: b.ParticipantID,
			UserID:        b.ParticipantID,
			Name:          b.Name,
			Balance:       b.Net,
			Settled:       b.Settled,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSuggestedSettlements(w http.ResponseWriter, r *http.Request) {
	plan, err := s.ledger.GetSettlementViews(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]settlementJSON, len(plan))
	for i, t := range plan {
		out[i] = settlementJSON{
			FromParticipantID: t.FromID,
			FromUserID:        t.FromID,
			FromName:          t.FromName,
			ToParticipantID:   t.ToID,
			ToUserID:          t.ToID,
			ToName:            t.ToName,
			Amount:            t.Amount,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	mode, err := core.ParseSplitMode(req.SplitMode)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	shares := make([]core.ShareInput, len(req.Shares))
	for i, sh := range req.Shares {
		if sh.Value != nil {
			if err := core.CheckWeight(*sh.Value); err != nil {
				s.fail(w, r, err)
				return
			}
		}
		shares[i] = core.ShareInput{ParticipantID: firstNonEmpty(sh.ParticipantID, sh.UserID), Weight: sh.Value}
	}

	e, err := s.ledger.RecordExpense(r.Context(), services.ExpenseDraft{
		GroupID:     firstNonEmpty(req.GroupID, req.EventID),
		PayerID:     strings.TrimSpace(req.PayerID),
		Amount:      req.Amount,
		Description: sanitizeInput(req.Description),
		SplitMode:   mode,
		Shares:      shares,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	out := expenseJSON{
		ID:          e.ID,
		GroupID:     e.GroupID,
		PayerID:     e.PayerID,
		Amount:      e.Amount,
		Description: e.Description,
		SplitMode:   string(e.SplitMode),
		CreatedAt:   e.CreatedAt,
		Shares:      make([]shareJSON, len(e.Shares)),
	}
	for i, sh := range e.Shares {
		out.Shares[i] = shareJSON{UserID: sh.ParticipantID, Weight: sh.Weight, Amount: sh.Amount}
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	p, err := s.ledger.RecordPayment(r.Context(), services.PaymentDraft{
		GroupID: firstNonEmpty(req.GroupID, req.EventID),
		FromID:  firstNonEmpty(req.FromParticipantID, req.FromUserID),
		ToID:    firstNonEmpty(req.ToParticipantID, req.ToUserID),
		Amount:  req.Amount,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, paymentJSON{
		ID:         p.ID,
		GroupID:    p.GroupID,
		FromUserID: p.FromID,
		ToUserID:   p.ToID,
		Amount:     p.Amount,
		CreatedAt:  p.CreatedAt,
	})
}

// errBadRequest marks malformed request bodies.
var errBadRequest = errors.New("bad request")

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, core.ErrInvalidAmount) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", errBadRequest)
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrUnknownParticipant):
		return http.StatusNotFound
	case core.IsValidationError(err), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			log.FieldPath, r.URL.Path,
			log.FieldError, err)
		writeError(w, status, "internal error")
		return
	}
	log.FromContext(r.Context()).DebugContext(r.Context(), "Request rejected",
		log.FieldPath, r.URL.Path,
		log.FieldStatusCode, status,
		log.FieldError, err)
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// sanitizeInput drops control characters other than tab and newlines.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
}
