package classifier

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MrWong99/scamguard/internal/classify"
	"github.com/MrWong99/scamguard/internal/observe"
	"github.com/MrWong99/scamguard/pkg/types"
)

// Fixed replies of the classification endpoint.
const (
	MsgInvalidJSON       = "Invalid JSON"
	MsgEmptyConversation = "Empty conversation"
	MsgInsufficientData  = "Add more conversation to start scam detection. At least 2 Caller-Receiver cycles are needed."
	MsgCouldNotProcess   = "Could not process the conversation."
	msgWorkflowFailed    = "Error during scam detection workflow: "
)

const maxBodyBytes = 1 << 20

// Handler serves POST /classify.
type Handler struct {
	workflow *Workflow
}

// NewHandler returns a Handler running w.
func NewHandler(w *Workflow) *Handler {
	return &Handler{workflow: w}
}

// Register adds the classification route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /classify", h.Classify)
}

// Classify scores the conversation in the request body.
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var in struct {
		Conversation json.RawMessage `json:"conversation"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, classify.Response{Error: MsgInvalidJSON})
		return
	}
	var conversation string
	if len(in.Conversation) > 0 {
		// Non-string conversations count as empty.
		_ = json.Unmarshal(in.Conversation, &conversation)
	}
	if strings.TrimSpace(conversation) == "" {
		writeJSON(w, http.StatusBadRequest, classify.Response{Error: MsgEmptyConversation})
		return
	}

	if cycles := CountCycles(conversation); cycles < MinCycles {
		observe.Logger(ctx).Debug("not enough conversation to classify", "cycles", cycles)
		writeJSON(w, http.StatusOK, classify.Response{
			ConfidenceLevel: string(types.InsufficientData),
			SuggestedReply:  MsgInsufficientData,
		})
		return
	}

	res, err := h.workflow.Run(ctx, conversation)
	switch {
	case errors.Is(err, ErrUnparsable):
		writeJSON(w, http.StatusOK, classify.Response{
			ConfidenceLevel: string(types.ProcessingError),
			SuggestedReply:  MsgCouldNotProcess,
			Summary:         types.NoSummary,
		})
		return
	case err != nil:
		observe.Logger(ctx).Error("workflow execution failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, classify.Response{Error: msgWorkflowFailed + err.Error()})
		return
	}

	resp := classify.Response{
		ConfidenceLevel: string(res.Verdict.ConfidenceLevel),
		SuggestedReply:  res.Verdict.SuggestedReply,
		Summary:         res.Summary,
	}
	if resp.SuggestedReply == "" {
		resp.SuggestedReply = types.NoReplyNeeded
	}
	if resp.Summary == "" {
		resp.Summary = types.NoSummary
	}
	observe.Logger(ctx).Info("conversation classified", "level", resp.ConfidenceLevel)
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "err", err)
	}
}
