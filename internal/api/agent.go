package api

import (
	"net/http"
	"unicode/utf8"

	"github.com/gorilla/mux"

	"github.com/Veraticus/hscode-copilot/internal/model"
)

type verifyRequest struct {
	Product   *model.FinalProduct `json:"product" validate:"required_without=ProductID"`
	ProductID string              `json:"product_id" validate:"omitempty,max=100"`
}

type pollResponse struct {
	Session    *model.VerificationSession `json:"session"`
	Status     model.VerificationStatus   `json:"status"`
	Transcript []model.TranscriptEntry    `json:"transcript"`
	Terminal   bool                       `json:"terminal"`
}

type verificationSummary struct {
	ID          string                    `json:"session_id"`
	ProductCode string                    `json:"product_code"`
	Description string                    `json:"product_description"`
	Status      model.VerificationStatus  `json:"status"`
	Outcome     model.VerificationOutcome `json:"outcome,omitempty"`
	RetryOf     string                    `json:"retry_of,omitempty"`
}

const summaryDescriptionLen = 100

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// startVerification accepts either a full product or the ID of a stored one.
func (s *Server) startVerification(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err, "")
		return
	}

	var product model.FinalProduct
	if req.Product != nil {
		product = *req.Product
	} else {
		stored, err := s.products.GetProduct(r.Context(), req.ProductID)
		if err != nil {
			s.fail(w, r, err, "")
			return
		}
		product = *stored
	}

	v, err := s.verifier.Start(r.Context(), product)
	if err != nil {
		id := ""
		if v != nil {
			id = v.ID
		}
		s.fail(w, r, err, id)
		return
	}

	writeJSON(w, http.StatusAccepted, v)
}

func (s *Server) pollVerification(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	result, err := s.verifier.Poll(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, id)
		return
	}

	writeJSON(w, http.StatusOK, pollResponse{
		Session:    result.Session,
		Status:     result.Session.Status,
		Transcript: result.Session.Transcript,
		Terminal:   result.Terminal(),
	})
}

func (s *Server) transcript(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	entries, err := s.verifier.FetchTranscript(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, id)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":  id,
		"transcript":  entries,
		"entry_count": len(entries),
	})
}

func (s *Server) retryVerification(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	v, err := s.verifier.Retry(r.Context(), id)
	if err != nil {
		retryID := id
		if v != nil {
			retryID = v.ID
		}
		s.fail(w, r, err, retryID)
		return
	}

	writeJSON(w, http.StatusAccepted, v)
}

func (s *Server) deleteVerification(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.verifier.Delete(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "deleted"})
}

func (s *Server) listVerifications(w http.ResponseWriter, r *http.Request) {
	verifications, err := s.verifier.List(r.Context())
	if err != nil {
		s.fail(w, r, err, "")
		return
	}

	summaries := make([]verificationSummary, 0, len(verifications))
	for _, v := range verifications {
		summaries = append(summaries, verificationSummary{
			ID:          v.ID,
			ProductCode: v.Product.HSCode,
			Description: truncateRunes(v.Product.Description, summaryDescriptionLen),
			Status:      v.Status,
			Outcome:     v.Outcome,
			RetryOf:     v.RetryOf,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions":    summaries,
		"total_count": len(summaries),
	})
}
