package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/Veraticus/hscode-copilot/internal/common"
	"github.com/Veraticus/hscode-copilot/internal/engine"
	"github.com/Veraticus/hscode-copilot/internal/model"
)

type startRequest struct {
	Description string `json:"description" validate:"required,max=2000"`
}

type answerRequest struct {
	Question string `json:"question" validate:"required,max=1000"`
	Answer   string `json:"answer" validate:"required,max=1000"`
}

type finalizeRequest struct {
	Confidence   *int   `json:"confidence" validate:"omitempty,min=0,max=100"`
	SelectedCode string `json:"selected_code" validate:"omitempty,max=20"`
	Category     string `json:"category" validate:"omitempty,max=100"`
	Origin       string `json:"origin" validate:"omitempty,max=100"`
}

type searchRequest struct {
	Threshold *float64 `json:"threshold" validate:"omitempty,min=0,max=1"`
	Query     string   `json:"query" validate:"required,max=500"`
	TopK      int      `json:"top_k" validate:"omitempty,min=1,max=100"`
}

// sessionView adds the consumer-facing status to a session.
type sessionView struct {
	*model.Session
	Status model.SessionStatus `json:"status"`
}

func viewOf(s *model.Session) sessionView {
	return sessionView{Session: s, Status: s.Status()}
}

type answerResponse struct {
	Session            sessionView         `json:"session"`
	Question           *model.Question     `json:"question,omitempty"`
	Product            *model.FinalProduct `json:"product,omitempty"`
	ConvergenceReason  string              `json:"convergence_reason,omitempty"`
	Candidates         model.Candidates    `json:"candidates"`
	Converged          bool                `json:"converged"`
	CandidatesRelevant bool                `json:"candidates_relevant"`
	QueryRetried       bool                `json:"query_retried"`
}

type sessionSummary struct {
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	ID          string              `json:"session_id"`
	Description string              `json:"product_description"`
	Status      model.SessionStatus `json:"status"`
	TopCode     string              `json:"top_code,omitempty"`
	Iteration   int                 `json:"iteration"`
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err, "")
		return
	}

	session, err := s.engine.Start(r.Context(), req.Description)
	if err != nil {
		id := ""
		if session != nil {
			id = session.ID
		}
		s.fail(w, r, err, id)
		return
	}

	writeJSON(w, http.StatusCreated, viewOf(session))
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.engine.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(session))
}

func (s *Server) submitAnswer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req answerRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err, id)
		return
	}

	result, err := s.engine.SubmitAnswer(r.Context(), id, req.Question, req.Answer)
	if err != nil {
		s.fail(w, r, err, id)
		return
	}

	writeJSON(w, http.StatusOK, answerResponse{
		Session:            viewOf(result.Session),
		Question:           result.Question,
		Product:            result.Product,
		ConvergenceReason:  result.ConvergenceReason,
		Candidates:         result.Candidates,
		Converged:          result.Converged,
		CandidatesRelevant: result.CandidatesRelevant,
		QueryRetried:       result.QueryRetried,
	})
}

func (s *Server) finalize(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req finalizeRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err, id)
		return
	}

	product, err := s.engine.Finalize(r.Context(), id, engine.FinalizeOptions{
		ConfidenceOverride: req.Confidence,
		SelectedCode:       req.SelectedCode,
		Category:           req.Category,
		Origin:             req.Origin,
	})
	if err != nil {
		s.fail(w, r, err, id)
		return
	}

	writeJSON(w, http.StatusOK, product)
}

func (s *Server) restartSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	session, err := s.engine.Restart(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, id)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(session))
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.engine.DeleteSession(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "deleted"})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.engine.List(r.Context())
	if err != nil {
		s.fail(w, r, err, "")
		return
	}

	summaries := make([]sessionSummary, 0, len(sessions))
	for _, session := range sessions {
		summary := sessionSummary{
			ID:          session.ID,
			Description: session.ProductDescription,
			Status:      session.Status(),
			Iteration:   session.Iteration,
			CreatedAt:   session.CreatedAt,
			UpdatedAt:   session.UpdatedAt,
		}
		if top := session.Candidates.Top(); top != nil {
			summary.TopCode = top.Code
		}
		summaries = append(summaries, summary)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions":    summaries,
		"total_count": len(summaries),
	})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err, "")
		return
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		s.fail(w, r, common.Validationf("query is required"), "")
		return
	}

	cfg := s.engine.Config()
	topK := cfg.TopK
	if req.TopK > 0 {
		topK = req.TopK
	}
	threshold := cfg.Threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	candidates, err := s.source.Search(r.Context(), query, topK, threshold)
	if err != nil {
		s.fail(w, r, common.NewUpstreamError("candidate source", err), "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"query":        query,
		"results":      candidates,
		"result_count": len(candidates),
	})
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.products.GetProduct(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.products.ListProducts(r.Context())
	if err != nil {
		s.fail(w, r, err, "")
		return
	}
	if products == nil {
		products = []*model.FinalProduct{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"products":    products,
		"total_count": len(products),
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	active, total := 0, 0

	sessions, err := s.engine.List(r.Context())
	if err != nil {
		status = "degraded"
		common.LogWarn(s.logger, err, "Health check could not list sessions", nil)
	}
	for _, session := range sessions {
		total++
		if st := session.Status(); st == model.StatusActive || st == model.StatusConverged {
			active++
		}
	}

	calls := 0
	verifications, err := s.verifier.List(r.Context())
	if err != nil {
		status = "degraded"
		common.LogWarn(s.logger, err, "Health check could not list verifications", nil)
	}
	for _, v := range verifications {
		if !v.Status.IsTerminal() {
			calls++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":               status,
		"store":                s.deps.StoreKind,
		"active_sessions":      active,
		"total_sessions":       total,
		"active_verifications": calls,
		"uptime_seconds":       int(time.Since(s.started).Seconds()),
	})
}
