package handlers

import (
	"net/http"
	"strings"

	"github.com/PortNumber53/agency-portal/backend/internal/tone"
)

const maxBatchUsers = 100

// GetToneProfile analyses one user's content history. Query: ?start=&end= (RFC3339 or YYYY-MM-DD).
func (h *Handler) GetToneProfile(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	start, end, perr := tone.ParseWindow(r.URL.Query().Get("start"), r.URL.Query().Get("end"))
	if perr != nil {
		writeJSON(w, http.StatusBadRequest, tone.ToneProfileResponse{
			Error: &tone.ErrorBody{Message: perr.Message, Code: perr.Code},
			Meta:  tone.ResponseMeta{DataQuality: tone.QualityPoor},
		})
		return
	}
	resp := h.tone.GetUserToneProfile(r.Context(), userID, start, end)
	writeJSON(w, toneEnvelopeStatus(resp.Success, resp.Error), resp)
}

type batchToneRequest struct {
	UserIDs []string `json:"userIds"`
	Start   string   `json:"start"`
	End     string   `json:"end"`
}

// GetBatchToneProfiles runs the analysis for several users. One user's failure is reported in
// its own result and does not fail the request.
func (h *Handler) GetBatchToneProfiles(w http.ResponseWriter, r *http.Request) {
	var req batchToneRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body")
		return
	}
	ids := make([]string, 0, len(req.UserIDs))
	seen := map[string]bool{}
	for _, id := range req.UserIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "userIds is required")
		return
	}
	if len(ids) > maxBatchUsers {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "too many userIds")
		return
	}
	start, end, perr := tone.ParseWindow(req.Start, req.End)
	if perr != nil {
		writeError(w, http.StatusBadRequest, perr.Code, perr.Message)
		return
	}
	writeJSON(w, http.StatusOK, h.tone.GetBatchToneProfiles(r.Context(), ids, start, end))
}

func (h *Handler) GetToneSummary(w http.ResponseWriter, r *http.Request) {
	resp := h.tone.GetToneProfileSummary(r.Context(), pathVar(r, "userId"))
	writeJSON(w, toneEnvelopeStatus(resp.Success, resp.Error), resp)
}

func (h *Handler) GetToneTrainingPrompt(w http.ResponseWriter, r *http.Request) {
	resp := h.tone.GetClaudeTrainingPrompt(r.Context(), pathVar(r, "userId"))
	if resp.Success && strings.Contains(r.Header.Get("Accept"), "text/markdown") {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(resp.Data.Prompt))
		return
	}
	writeJSON(w, toneEnvelopeStatus(resp.Success, resp.Error), resp)
}

func toneEnvelopeStatus(success bool, e *tone.ErrorBody) int {
	if success || e == nil {
		return http.StatusOK
	}
	return toneStatus(e.Code)
}
