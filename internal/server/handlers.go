package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/variantstore/variantstore/internal/store"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.DB().PingContext(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

type variantPayload struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Description       string  `json:"description,omitempty"`
	Traffic           float64 `json:"traffic,omitempty"`
	CurrentPopulation int     `json:"current_population,omitempty"`
}

type experimentPayload struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Variants    []variantPayload `json:"variants"`
}

func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var payload experimentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.ID == "" || len(payload.Variants) < 2 {
		writeError(w, http.StatusBadRequest, "experiment needs an id and at least 2 variants")
		return
	}

	exp := store.Experiment{ID: payload.ID, Name: payload.Name, Description: payload.Description}
	for _, v := range payload.Variants {
		exp.Variants = append(exp.Variants, store.Variant{
			ID:                v.ID,
			Name:              v.Name,
			Description:       v.Description,
			Traffic:           v.Traffic,
			CurrentPopulation: v.CurrentPopulation,
		})
	}

	created, err := s.backend.CreateExperiment(r.Context(), exp)
	if err != nil {
		s.log.Error("create experiment failed", "experiment", exp.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create experiment")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	experiments, err := s.backend.ListExperiments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list experiments")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"experiments": experiments})
}

type createEventRequest struct {
	ClientID  string `json:"client_id"`
	Nature    string `json:"nature"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type eventPayload struct {
	Key            string  `json:"key"`
	ExperimentID   string  `json:"experiment_id"`
	VariantID      string  `json:"variant_id"`
	ClientID       string  `json:"client_id"`
	Nature         string  `json:"nature"`
	Timestamp      int64   `json:"timestamp"`
	Transformation float64 `json:"transformation"`
}

func toEventPayload(e store.Event) eventPayload {
	return eventPayload{
		Key:            e.Key.String(),
		ExperimentID:   e.ExperimentID,
		VariantID:      e.VariantID,
		ClientID:       e.ClientID,
		Nature:         string(e.Key.Nature),
		Timestamp:      e.Timestamp.Unix(),
		Transformation: e.Transformation,
	}
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	experimentID := r.PathValue("id")
	variantID := r.PathValue("variantID")

	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	nature, err := store.ParseNature(req.Nature)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	exp, err := s.backend.GetExperiment(r.Context(), experimentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "experiment not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load experiment")
		return
	}

	var variant store.Variant
	found := false
	for _, v := range exp.Variants {
		if v.ID == variantID {
			variant = v
			found = true
			break
		}
	}
	if !found {
		writeError(w, http.StatusNotFound, "variant not found")
		return
	}

	event := store.Event{Variant: variant}
	if req.Timestamp > 0 {
		event.Timestamp = time.Unix(req.Timestamp, 0).UTC()
	}

	key := store.NewEventKey(experimentID, variantID, req.ClientID, nature)
	stored, err := s.events.Create(r.Context(), key, event)
	if err != nil {
		s.log.Error("create event failed", "key", key.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store event")
		return
	}
	writeJSON(w, http.StatusCreated, toEventPayload(stored))
}

type bucketPayload struct {
	Timestamp int64              `json:"timestamp"`
	Averages  map[string]float64 `json:"averages"`
}

type variantResultPayload struct {
	Variant        variantPayload  `json:"variant"`
	Displayed      int64           `json:"displayed"`
	Won            int64           `json:"won"`
	Transformation float64         `json:"transformation"`
	Events         []bucketPayload `json:"events"`
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	exp, err := s.backend.GetExperiment(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "experiment not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load experiment")
		return
	}

	results, err := s.events.FindVariantResults(r.Context(), exp)
	if err != nil {
		s.log.Error("find variant results failed", "experiment", exp.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute results")
		return
	}

	payload := make([]variantResultPayload, len(results))
	for i, result := range results {
		buckets := make([]bucketPayload, len(result.Events))
		for j, bucket := range result.Events {
			averages := make(map[string]float64, len(bucket.Averages))
			for nature, avg := range bucket.Averages {
				averages[string(nature)] = avg
			}
			buckets[j] = bucketPayload{Timestamp: bucket.Timestamp.Unix(), Averages: averages}
		}
		payload[i] = variantResultPayload{
			Variant: variantPayload{
				ID:                result.Variant.ID,
				Name:              result.Variant.Name,
				Description:       result.Variant.Description,
				Traffic:           result.Variant.Traffic,
				CurrentPopulation: result.Variant.CurrentPopulation,
			},
			Displayed:      result.Displayed,
			Won:            result.Won,
			Transformation: result.Transformation,
			Events:         buckets,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": payload})
}

func (s *Server) handleDeleteEvents(w http.ResponseWriter, r *http.Request) {
	exp, err := s.backend.GetExperiment(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "experiment not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load experiment")
		return
	}

	if err := s.events.DeleteEventsForExperiment(r.Context(), exp); err != nil {
		s.log.Error("delete events failed", "experiment", exp.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "done"})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	patterns := r.URL.Query()["pattern"]

	it := s.events.ListAll(r.Context(), patterns...)
	defer it.Close()

	var events []eventPayload
	for it.Next() {
		events = append(events, toEventPayload(it.Event()))
	}
	if err := it.Err(); err != nil {
		s.log.Error("list events failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
