package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"payment-reconciliation-engine/internal/extract"
	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/parsers"
	"payment-reconciliation-engine/pkg/errors"
)

type reconcileMessageRequest struct {
	BankAccountID string `json:"bankAccountId"`
	Message       string `json:"message"`
}

type reconcileStatementRequest struct {
	BankAccountID string `json:"bankAccountId"`
	PeriodStart   string `json:"periodStart"`
	PeriodEnd     string `json:"periodEnd"`
	Text          string `json:"text"`
	Name          string `json:"name,omitempty"`
}

type parseStatementResponse struct {
	Transactions []*models.StatementTransaction `json:"transactions"`
	DroppedLines int                            `json:"droppedLines"`
	Dropped      []*parsers.DroppedLine         `json:"dropped,omitempty"`
}

type errorResponse struct {
	Error      string                 `json:"error"`
	Category   errors.ErrorCategory   `json:"category,omitempty"`
	Code       errors.ErrorCode       `json:"code,omitempty"`
	Suggestion string                 `json:"suggestion,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleParseMessage(w http.ResponseWriter, r *http.Request) {
	raw, ok := a.readText(w, r)
	if !ok {
		return
	}

	msg, err := parsers.ParseMessage(raw)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, msg)
}

func (a *API) handleReconcileMessage(w http.ResponseWriter, r *http.Request) {
	var req reconcileMessageRequest
	if !a.decode(w, r, &req) {
		return
	}

	outcome, err := a.coordinator.ReconcileMessage(r.Context(), req.Message, req.BankAccountID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, outcome)
}

func (a *API) handleParseStatement(w http.ResponseWriter, r *http.Request) {
	text, ok := a.readText(w, r)
	if !ok {
		return
	}

	transactions, stats := a.coordinator.Parser().Parse(text)
	a.writeJSON(w, http.StatusOK, parseStatementResponse{
		Transactions: transactions,
		DroppedLines: stats.DroppedLines,
		Dropped:      stats.Dropped,
	})
}

func (a *API) handleReconcileStatement(w http.ResponseWriter, r *http.Request) {
	var req reconcileStatementRequest
	if !a.decode(w, r, &req) {
		return
	}

	period, err := models.NewPeriod(req.PeriodStart, req.PeriodEnd)
	if err != nil {
		a.writeError(w, errors.ValidationError(errors.CodeInvalidValue, "period", req.PeriodStart+".."+req.PeriodEnd, err))
		return
	}

	name := req.Name
	if name == "" {
		name = "request"
	}

	report, err := a.coordinator.ReconcileStatement(r.Context(), extract.TextDocument(name, req.Text), req.BankAccountID, period)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, report)
}

func (a *API) handleAssessPayment(w http.ResponseWriter, r *http.Request) {
	if a.scorer == nil {
		a.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "fraud scoring is not configured"})
		return
	}

	paymentID := mux.Vars(r)["id"]
	assessment, err := a.scorer.Assess(r.Context(), paymentID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, assessment)
}

// readText reads a raw text body, or the "text" field of a JSON body
func (a *API) readText(w http.ResponseWriter, r *http.Request) (string, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		a.writeError(w, errors.ValidationError(errors.CodeInvalidValue, "body", "", err))
		return "", false
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			a.writeError(w, errors.ValidationError(errors.CodeInvalidValue, "body", "", err))
			return "", false
		}
		return req.Text, true
	}
	return string(body), true
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		a.writeError(w, errors.ValidationError(errors.CodeInvalidValue, "body", "", err).
			WithSuggestion("Send a JSON object with the documented fields"))
		return false
	}
	return true
}

// statusFor maps an error to its HTTP status
func statusFor(err error) int {
	re, ok := errors.AsReconcilerError(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch {
	case re.Category == errors.CategoryParse:
		return http.StatusUnprocessableEntity
	case re.Category == errors.CategoryValidation:
		return http.StatusBadRequest
	case re.Category == errors.CategoryNotFound:
		return http.StatusNotFound
	case re.Code == errors.CodeStoreConflict:
		return http.StatusConflict
	case re.Category == errors.CategoryNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}

	if re, ok := errors.AsReconcilerError(err); ok {
		resp.Error = re.Message
		resp.Category = re.Category
		resp.Code = re.Code
		resp.Suggestion = re.Suggestion
		resp.Context = re.Context
	}

	entry := a.logger.WithError(err).WithField("status", status)
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}

	a.writeJSON(w, status, resp)
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.WithError(err).Warn("Failed to encode response")
	}
}
