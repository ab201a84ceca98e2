package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bankfeed/internal/budget"
	"bankfeed/internal/core"
	"bankfeed/internal/ledger"
	"bankfeed/internal/log"
	"bankfeed/internal/rules"
	"bankfeed/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parsePeriod reads the optional year and month query parameters. A month
// without a year is meaningless for a multi-year ledger.
func parsePeriod(r *http.Request) (year, month int, ok bool, errMsg string) {
	yearStr := strings.TrimSpace(r.URL.Query().Get("year"))
	monthStr := strings.TrimSpace(r.URL.Query().Get("month"))

	if yearStr != "" {
		y, err := strconv.Atoi(yearStr)
		if err != nil {
			return 0, 0, false, "invalid year parameter"
		}
		year = y
	}
	if monthStr != "" {
		if yearStr == "" {
			return 0, 0, false, "month parameter requires year"
		}
		m, err := strconv.Atoi(monthStr)
		if err != nil || m < 1 || m > 12 {
			return 0, 0, false, "invalid month parameter"
		}
		month = m
	}
	return year, month, true, ""
}

// filterPeriod narrows transactions to the requested year/month, or returns
// them unchanged when no period was requested.
func filterPeriod(txs []core.Transaction, year, month int) []core.Transaction {
	switch {
	case month != 0:
		return ledger.ByMonth(txs, year, month)
	case year != 0:
		return ledger.ByYear(txs, year)
	default:
		return txs
	}
}

type refreshResponse struct {
	RefreshedAt      time.Time       `json:"refreshed_at"`
	TransactionCount int             `json:"transaction_count"`
	AccountCount     int             `json:"account_count"`
	NetWorth         decimal.Decimal `json:"net_worth"`
	FailedTokens     []string        `json:"failed_tokens"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.Refresh(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "refresh failed", log.FieldError, err)
		if errors.Is(err, services.ErrAllCredentialsFailed) {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "refresh failed")
		return
	}

	failed := snap.FailedTokens
	if failed == nil {
		failed = []string{}
	}
	writeJSON(w, http.StatusOK, refreshResponse{
		RefreshedAt:      snap.RefreshedAt,
		TransactionCount: len(snap.Transactions),
		AccountCount:     len(snap.Accounts),
		NetWorth:         snap.NetWorth,
		FailedTokens:     failed,
	})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	year, month, ok, msg := parsePeriod(r)
	if !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	snap := s.holder.Load()
	txs := filterPeriod(snap.Transactions, year, month)
	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": txs,
		"count":        len(txs),
	})
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	snap := s.holder.Load()
	writeJSON(w, http.StatusOK, map[string]any{
		"accounts":  snap.Accounts,
		"net_worth": snap.NetWorth,
	})
}

func (s *Server) handleNetWorth(w http.ResponseWriter, r *http.Request) {
	snap := s.holder.Load()
	writeJSON(w, http.StatusOK, map[string]any{
		"net_worth": snap.NetWorth,
		"label":     core.FormatBalance(snap.NetWorth),
	})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	snap := s.holder.Load()
	writeJSON(w, http.StatusOK, map[string]any{"categories": snap.Categories})
}

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"budget": s.svc.Budget().All()})
}

func (s *Server) handleGetBudgetCategory(w http.ResponseWriter, r *http.Request) {
	category := r.PathValue("category")
	amount, err := s.svc.Budget().Get(category)
	if err != nil {
		if errors.Is(err, budget.ErrUnknownCategory) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "budget lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"category": category,
		"amount":   amount,
	})
}

type budgetUpdateRequest struct {
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
}

func (s *Server) handlePutBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Category) == "" {
		writeError(w, http.StatusBadRequest, "category is required")
		return
	}

	// Unknown categories are a lookup failure, not an auto-create.
	if _, err := s.svc.Budget().Get(req.Category); err != nil {
		if errors.Is(err, budget.ErrUnknownCategory) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "budget lookup failed")
		return
	}

	if err := s.svc.Budget().Set(req.Category, req.Amount); err != nil {
		s.logger.ErrorContext(r.Context(), "budget update failed",
			log.FieldCategory, req.Category, log.FieldError, err)
		writeError(w, http.StatusInternalServerError, "budget update failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"category": req.Category,
		"amount":   req.Amount,
	})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	list := s.svc.Rules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": list,
		"count": len(list),
	})
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var rule core.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if rule.Op == "" {
		rule.Op = core.OpContains
	}

	if err := s.svc.AddRule(r.Context(), rule); err != nil {
		if verr := rule.Validate(); verr != nil {
			writeError(w, http.StatusUnprocessableEntity, verr.Error())
			return
		}
		s.logger.ErrorContext(r.Context(), "rule add failed", log.FieldError, err)
		writeError(w, http.StatusInternalServerError, "rule add failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"rules": s.svc.Rules()})
}

func (s *Server) handleRemoveRule(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule index")
		return
	}

	if err := s.svc.RemoveRule(r.Context(), index); err != nil {
		if errors.Is(err, rules.ErrIndexOutOfRange) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.ErrorContext(r.Context(), "rule remove failed", log.FieldError, err)
		writeError(w, http.StatusInternalServerError, "rule remove failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChartBalances(w http.ResponseWriter, r *http.Request) {
	snap := s.holder.Load()
	writeJSON(w, http.StatusOK, map[string]any{
		"slices":    ledger.BalancesPie(snap.Accounts),
		"net_worth": snap.NetWorth,
	})
}

func (s *Server) handleChartBudget(w http.ResponseWriter, r *http.Request) {
	year, month, ok, msg := parsePeriod(r)
	if !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	snap := s.holder.Load()
	txs := filterPeriod(snap.Transactions, year, month)
	rows := ledger.BudgetVsActual(txs, s.svc.Budget().All(), ledger.DisplayCategory)
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (s *Server) handleChartTransactionsIn(w http.ResponseWriter, r *http.Request) {
	s.writeCategoryTotals(w, r, ledger.TransactionsIn)
}

func (s *Server) handleChartTransactionsOut(w http.ResponseWriter, r *http.Request) {
	s.writeCategoryTotals(w, r, ledger.TransactionsOut)
}

func (s *Server) writeCategoryTotals(w http.ResponseWriter, r *http.Request,
	aggregate func([]core.Transaction, []string, ledger.CategoryKey) []ledger.CategoryTotal) {
	year, month, ok, msg := parsePeriod(r)
	if !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	snap := s.holder.Load()
	txs := filterPeriod(snap.Transactions, year, month)
	writeJSON(w, http.StatusOK, map[string]any{
		"totals": aggregate(txs, snap.Categories, ledger.DisplayCategory),
	})
}

func (s *Server) handleInvalidTokens(w http.ResponseWriter, r *http.Request) {
	invalid := s.svc.CheckTokens(r.Context())
	if invalid == nil {
		invalid = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"invalid": invalid})
}

type exchangeTokenRequest struct {
	PublicToken string `json:"public_token"`
	Env         string `json:"env"`
}

func (s *Server) handleExchangeToken(w http.ResponseWriter, r *http.Request) {
	var req exchangeTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.PublicToken) == "" {
		writeError(w, http.StatusBadRequest, "public_token is required")
		return
	}

	accessToken, err := s.svc.ExchangePublicToken(r.Context(), req.PublicToken, req.Env)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "token exchange failed", log.FieldError, err)
		writeError(w, http.StatusBadGateway, "token exchange failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"access_token": accessToken})
}
