package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/speedrun-hq/speedrun-batcher/pkg/ledger"
	"github.com/speedrun-hq/speedrun-batcher/pkg/models"
)

func (s *Server) handleSubmitIntent(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitIntentRequest
	if !s.decode(w, r, &req) {
		return
	}

	if !s.limiter.Allow(models.NormalizeAccount(req.Owner)) {
		writeError(w, http.StatusTooManyRequests, CodeRateLimited, "submission rate exceeded for owner")
		return
	}

	minOutput, err := models.ParseAmount(req.MinOutput)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, fmt.Sprintf("min_output: %v", err))
		return
	}

	id, err := s.engine.SubmitIntent(r.Context(), ledger.SubmitIntentRequest{
		Owner:     req.Owner,
		Payload:   req.Payload,
		TokenIn:   req.TokenIn,
		TokenOut:  req.TokenOut,
		MinOutput: minOutput,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.SubmitIntentResponse{IntentID: id})
}

func (s *Server) handleListIntents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := ledger.IntentFilter{Limit: DefaultListLimit}

	if raw := query.Get("status"); raw != "" {
		status, ok := models.ParseIntentStatus(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, fmt.Sprintf("unknown status %q", raw))
			return
		}
		filter.Status = status
	}
	if raw := query.Get("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, fmt.Sprintf("invalid after: %q", raw))
			return
		}
		filter.AfterID = after
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > MaxListLimit {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest,
				fmt.Sprintf("limit must be between 1 and %d", MaxListLimit))
			return
		}
		filter.Limit = limit
	}

	intents, err := s.engine.ListIntents(r.Context(), filter)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	resp := models.IntentListResponse{Intents: make([]models.IntentResponse, 0, len(intents))}
	for _, intent := range intents {
		resp.Intents = append(resp.Intents, models.NewIntentResponse(intent))
	}
	if len(intents) == filter.Limit {
		resp.NextAfterID = intents[len(intents)-1].ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetIntent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	intent, err := s.engine.GetIntent(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewIntentResponse(intent))
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req models.CreateBatchRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, err := s.engine.CreateBatch(r.Context(), req.IntentIDs, req.Route)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.CreateBatchResponse{BatchID: id})
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	batch, err := s.engine.GetBatch(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewBatchResponse(batch))
}

// handleExecuteBatch settles a batch with an externally observed venue outcome.
// An aborted batch is still a 200: the abort is the recorded result.
func (s *Server) handleExecuteBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req models.ExecuteBatchRequest
	if !s.decode(w, r, &req) {
		return
	}

	actualOutput, err := models.ParseAmount(req.ActualOutput)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, fmt.Sprintf("actual_output: %v", err))
		return
	}
	price, err := models.ParsePrice(req.ExecutionPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, fmt.Sprintf("execution_price: %v", err))
		return
	}

	result, err := s.engine.ExecuteBatch(r.Context(), id, actualOutput, price)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewBatchResultResponse(result))
}

func (s *Server) handleGetBatchResult(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := s.engine.GetBatchResult(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewBatchResultResponse(result))
}

func (s *Server) handleBatchStats(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	stats, err := s.engine.BatchStats(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewBatchStatsResponse(stats))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counters, err := s.engine.Counters(r.Context())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.StatsResponse{
		Counters:     counters,
		OrderingRule: s.engine.OrderingRule(),
	})
}

func (s *Server) handleGetBatchConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := s.engine.BatchConfig()
	writeJSON(w, http.StatusOK, models.BatchConfigBody{
		MinBatchSize: cfg.MinBatchSize,
		MaxBatchSize: cfg.MaxBatchSize,
	})
}

func (s *Server) handleSetBatchConfig(w http.ResponseWriter, r *http.Request) {
	var req models.BatchConfigBody
	if !s.decode(w, r, &req) {
		return
	}
	cfg := ledger.BatchConfig{MinBatchSize: req.MinBatchSize, MaxBatchSize: req.MaxBatchSize}
	if err := s.engine.SetBatchConfig(r.Context(), cfg); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.logger.Notice("Batch config updated: min=%d max=%d", cfg.MinBatchSize, cfg.MaxBatchSize)
	writeJSON(w, http.StatusOK, req)
}

// decode reads a JSON body into v, writing a 400 on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, fmt.Sprintf("invalid id: %q", raw))
		return 0, false
	}
	return id, true
}
