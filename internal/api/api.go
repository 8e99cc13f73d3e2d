// Package api exposes the contact and events services over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"tenantapi/internal/apperr"
	"tenantapi/internal/metrics"
)

type ctxKey int

const (
	ctxTenantKey ctxKey = iota
	ctxTenantDB
	ctxOwnerID
)

func tenantFrom(ctx context.Context) string {
	key, _ := ctx.Value(ctxTenantKey).(string)
	return key
}

func dbFrom(ctx context.Context) *sqlx.DB {
	db, _ := ctx.Value(ctxTenantDB).(*sqlx.DB)
	return db
}

func ownerFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxOwnerID).(string)
	return id
}

// phonePattern requires 8-15 digits with country code and no leading plus.
var phonePattern = regexp.MustCompile(`^[1-9]\d{7,14}$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Field-level rule so DTOs can declare `validate:"phone"`.
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	return v
}

// checkStruct runs validator rules and converts the first failure into a
// field-named validation error.
func checkStruct(v *validator.Validate, dto any) error {
	err := v.Struct(dto)
	if err == nil {
		return nil
	}
	if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		switch fe.Tag() {
		case "required":
			return apperr.Validationf("%s must not be empty.", fe.Field())
		case "max":
			return apperr.Validationf("%s must not exceed %s characters.", fe.Field(), fe.Param())
		case "oneof":
			return apperr.Validationf("%s must be one of: %s.", fe.Field(), fe.Param())
		case "email":
			return apperr.Validationf("%s must be a valid email address.", fe.Field())
		case "phone":
			return apperr.Validationf("Phone number must start with a digit and include 8-15 digits with country code, but no '+'.")
		case "min":
			return apperr.Validationf("%s must contain at least %s entries.", fe.Field(), fe.Param())
		case "gte":
			return apperr.Validationf("%s must be greater than or equal to %s.", fe.Field(), fe.Param())
		default:
			return apperr.Validationf("%s failed validation (%s).", fe.Field(), fe.Tag())
		}
	}
	return apperr.Validationf("invalid request: %v", err)
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Validationf("invalid request body: %v", err)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// detailResponse mirrors the {"detail": ...} error and confirmation bodies.
type detailResponse struct {
	Detail string `json:"detail"`
}

// respondError maps err to its HTTP status. Infrastructure errors are
// logged with full detail but answered with a generic message.
func respondError(log *zap.Logger, w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInfrastructure {
		log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	} else {
		log.Warn("request rejected",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("detail", apperr.Detail(err)))
	}
	respondJSON(w, kind.HTTPStatus(), detailResponse{Detail: apperr.Detail(err)})
}

// healthCheck reports liveness without touching any tenant database.
func healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"HEALTH": "OK"})
}

// recoverer is the top-level request boundary: an unhandled panic becomes
// a generic 500 with the detail kept server-side.
func recoverer(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("panic in handler",
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.Any("panic", rec))
					respondJSON(w, http.StatusInternalServerError,
						detailResponse{Detail: "internal server error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

// countResponses feeds the per-service response counter.
func countResponses(service string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sr, r)
			metrics.HTTPResponses.WithLabelValues(service, strconv.Itoa(sr.status)).Inc()
		})
	}
}

// pagination parses limit/offset query params with the service's default
// limit. Values outside 1..1000 (limit) or below 0 (offset) are rejected.
func pagination(r *http.Request, defaultLimit int) (limit, offset int, err error) {
	limit = defaultLimit
	offset = 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 1000 {
			return 0, 0, apperr.Validationf("limit must be an integer between 1 and 1000.")
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, apperr.Validationf("offset must be a non-negative integer.")
		}
	}
	return limit, offset, nil
}

// requireRecreateFlag guards the destructive reset: the recreate query
// param must be exactly "true".
func requireRecreateFlag(r *http.Request) error {
	if r.URL.Query().Get("recreate") != "true" {
		return apperr.BadRequestf("Tables are not recreated. Set `recreate=true` to proceed")
	}
	return nil
}

func recreatedDetail(tenant string) string {
	return fmt.Sprintf("Tables recreated for tenant: %s", tenant)
}
