package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/dogshouse/dogshouse/internal/core"
	apperrors "github.com/dogshouse/dogshouse/internal/errors"
	"github.com/dogshouse/dogshouse/internal/metrics"
	"github.com/dogshouse/dogshouse/internal/observability"
)

const (
	maxDogBodyBytes = 64 << 10

	msgDuplicateDog = "Dog with this name already exists"
)

// DogStore is the persistence used by the dogs endpoints.
type DogStore interface {
	ListDogs(ctx context.Context, q core.DogsQuery) ([]core.Dog, error)
	DogNameExists(ctx context.Context, name string) (bool, error)
	CreateDog(ctx context.Context, dog core.Dog) (core.Dog, error)
}

// DogsHandler serves GET /dogs and POST /dog.
type DogsHandler struct {
	store DogStore
}

// NewDogsHandler returns handlers backed by store.
func NewDogsHandler(store DogStore) *DogsHandler {
	return &DogsHandler{store: store}
}

// List returns a sorted page of dogs. Query parameters: attribute, order,
// pageNumber and pageSize.
func (h *DogsHandler) List(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q, err := core.ParseDogsQuery(
		params.Get("attribute"),
		params.Get("order"),
		params.Get("pageNumber"),
		params.Get("pageSize"),
	)
	if err != nil {
		metrics.RecordOperationError("dogs_list", "invalid_query")
		respondWithError(w, r, queryErrorEnvelope(err))
		return
	}

	dogs, err := h.store.ListDogs(r.Context(), q)
	if err != nil {
		metrics.RecordOperation("dogs_list", false)
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to list dogs"))
		return
	}

	metrics.RecordOperation("dogs_list", true)
	writeJSON(w, http.StatusOK, dogs)
}

// Create validates and stores a new dog. Duplicate names are a conflict.
func (h *DogsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req core.CreateDogRequest
	body := http.MaxBytesReader(w, r.Body, maxDogBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		metrics.RecordOperationError("dogs_create", "invalid_json")
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "request body must be a JSON dog object"))
		return
	}

	req = req.Normalize()
	if err := req.Validate(); err != nil {
		metrics.RecordOperationError("dogs_create", "validation")
		respondWithError(w, r, validationEnvelope(err))
		return
	}

	exists, err := h.store.DogNameExists(r.Context(), req.Name)
	if err != nil {
		metrics.RecordOperation("dogs_create", false)
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to check dog name"))
		return
	}
	if exists {
		metrics.RecordOperationError("dogs_create", "duplicate")
		respondWithError(w, r, apperrors.NewConflictError(msgDuplicateDog))
		return
	}

	dog, err := h.store.CreateDog(r.Context(), req.Dog())
	if errors.Is(err, core.ErrDuplicateDogName) {
		metrics.RecordOperationError("dogs_create", "duplicate")
		respondWithError(w, r, apperrors.WrapConflict(r.Context(), err, msgDuplicateDog))
		return
	}
	if err != nil {
		metrics.RecordOperation("dogs_create", false)
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to create dog"))
		return
	}

	metrics.RecordOperation("dogs_create", true)
	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Dog created",
			zap.Int64("id", dog.ID),
			zap.String("name", dog.Name))
	}
	writeJSON(w, http.StatusOK, dog)
}

func queryErrorEnvelope(err error) error {
	var qerr *core.QueryError
	if !errors.As(err, &qerr) {
		return apperrors.NewInvalidInputError(err.Error())
	}
	return apperrors.NewInvalidInputError(qerr.Message).WithDetails(map[string]interface{}{
		"parameter": qerr.Param,
	})
}

func validationEnvelope(err error) error {
	var fields core.ValidationErrors
	if !errors.As(err, &fields) {
		return apperrors.NewValidationError(err.Error())
	}

	details := make(map[string]interface{}, len(fields))
	for field, message := range fields {
		details[field] = message
	}
	return apperrors.NewValidationError(fields.Error()).WithDetails(map[string]interface{}{
		"fields": details,
	})
}
