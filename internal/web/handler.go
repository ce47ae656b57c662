package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/pekka2000/radqa/internal/review"
	"github.com/pekka2000/radqa/internal/stats"
)

// Pinger проверяет доступность внешней зависимости
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler обрабатывает HTTP запросы к API классификаций (Presentation Layer)
type Handler struct {
	reviews *review.Service
	stats   *stats.Service
	db      Pinger
	cache   Pinger
	ws      http.HandlerFunc
	metrics http.Handler
}

// NewHandler создает новый HTTP обработчик. db, cache, ws и metrics
// могут быть nil, соответствующие маршруты деградируют
func NewHandler(reviews *review.Service, statsSvc *stats.Service, db, cache Pinger, ws http.HandlerFunc, metrics http.Handler) *Handler {
	return &Handler{
		reviews: reviews,
		stats:   statsSvc,
		db:      db,
		cache:   cache,
		ws:      ws,
		metrics: metrics,
	}
}

// RegisterRoutes регистрирует маршруты в роутере
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.Use(requestIDMiddleware)

	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/studies", h.ListStudies).Methods("GET")
	api.HandleFunc("/studies/{id}", h.GetStudy).Methods("GET")
	api.HandleFunc("/studies/{id}/reviews", h.SubmitReview).Methods("POST")

	api.HandleFunc("/users", h.CreateUser).Methods("POST")
	api.HandleFunc("/users", h.ListUsers).Methods("GET")

	api.HandleFunc("/studies/{id}/comments", h.AddComment).Methods("POST")
	api.HandleFunc("/studies/{id}/comments", h.ListComments).Methods("GET")
	api.HandleFunc("/comments/{id}", h.EditComment).Methods("PUT")
	api.HandleFunc("/comments/{id}", h.DeleteComment).Methods("DELETE")

	api.HandleFunc("/stats", h.GetStats).Methods("GET")
	api.HandleFunc("/export", h.ExportCSV).Methods("GET")

	router.HandleFunc("/health", h.Health).Methods("GET")
	if h.ws != nil {
		router.HandleFunc("/ws", h.ws)
	}
	if h.metrics != nil {
		router.Handle("/metrics", h.metrics).Methods("GET")
	}
}

// ===== Исследования =====

// ListStudies возвращает страницу исследований, новые первыми.
// GET /api/studies?limit=50&offset=0 либо /api/studies?accession=VAR0000001
func (h *Handler) ListStudies(w http.ResponseWriter, r *http.Request) {
	if accession := r.URL.Query().Get("accession"); accession != "" {
		record, err := h.reviews.FindStudyByAccession(r.Context(), accession)
		if err != nil {
			h.respondServiceError(w, err, "Failed to find study")
			return
		}
		respondJSON(w, http.StatusOK, record)
		return
	}

	limit := getQueryInt(r, "limit", 50)
	offset := getQueryInt(r, "offset", 0)

	records, err := h.reviews.ListStudies(r.Context(), limit, offset)
	if err != nil {
		log.Printf("[ERROR] Failed to list studies: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to list studies")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"studies": records,
		"limit":   limit,
		"offset":  offset,
		"count":   len(records),
	})
}

// GetStudy возвращает исследование с его комментариями
// GET /api/studies/{id}
func (h *Handler) GetStudy(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	record, err := h.reviews.GetStudy(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err, "Failed to get study")
		return
	}

	comments, err := h.reviews.ListComments(r.Context(), id)
	if err != nil {
		log.Printf("[ERROR] Failed to list comments for study %d: %v", id, err)
		respondError(w, http.StatusInternalServerError, "Failed to list comments")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"study":    record,
		"comments": comments,
	})
}

// SubmitReviewRequest — тело запроса на классификацию
type SubmitReviewRequest struct {
	Username string `json:"username"`
	Value    string `json:"value"`
	Kind     string `json:"kind"`
}

// SubmitReview сохраняет или удаляет классификацию врача
// POST /api/studies/{id}/reviews
func (h *Handler) SubmitReview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req SubmitReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Kind == "" {
		req.Kind = string(review.KindUser)
	}

	rec, err := h.reviews.SubmitReview(r.Context(), id, req.Username, review.Value(req.Value), review.Kind(req.Kind))
	if err != nil {
		h.respondServiceError(w, err, "Failed to submit classification")
		return
	}

	if rec == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"message":  "Classification removed",
			"study_id": id,
		})
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

// ===== Пользователи =====

// CreateUserRequest — тело запроса на регистрацию пользователя
type CreateUserRequest struct {
	Username string `json:"username"`
}

// CreateUser регистрирует нового пользователя
// POST /api/users
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.reviews.AddUser(r.Context(), req.Username)
	if err != nil {
		h.respondServiceError(w, err, "Failed to create user")
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

// ListUsers возвращает всех пользователей
// GET /api/users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.reviews.ListUsers(r.Context())
	if err != nil {
		log.Printf("[ERROR] Failed to list users: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to list users")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
		"count": len(users),
	})
}

// ===== Комментарии =====

// CommentRequest — тело запроса на добавление или изменение комментария
type CommentRequest struct {
	Username string `json:"username"`
	Text     string `json:"text"`
}

// AddComment добавляет комментарий к исследованию
// POST /api/studies/{id}/comments
func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req CommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	comment, err := h.reviews.AddComment(r.Context(), id, req.Username, req.Text)
	if err != nil {
		h.respondServiceError(w, err, "Failed to add comment")
		return
	}
	respondJSON(w, http.StatusCreated, comment)
}

// ListComments возвращает комментарии исследования, новые первыми
// GET /api/studies/{id}/comments
func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	comments, err := h.reviews.ListComments(r.Context(), id)
	if err != nil {
		log.Printf("[ERROR] Failed to list comments for study %d: %v", id, err)
		respondError(w, http.StatusInternalServerError, "Failed to list comments")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"comments": comments,
		"count":    len(comments),
	})
}

// EditComment изменяет текст комментария; разрешено только автору
// PUT /api/comments/{id}
func (h *Handler) EditComment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req CommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.reviews.EditComment(r.Context(), id, req.Username, req.Text); err != nil {
		h.respondServiceError(w, err, "Failed to edit comment")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "Comment updated",
		"comment_id": id,
	})
}

// DeleteComment удаляет комментарий; разрешено только автору
// DELETE /api/comments/{id}?username=petri
func (h *Handler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	username := r.URL.Query().Get("username")
	if err := h.reviews.DeleteComment(r.Context(), id, username); err != nil {
		h.respondServiceError(w, err, "Failed to delete comment")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "Comment deleted",
		"comment_id": id,
	})
}

// ===== Статистика =====

// GetStats возвращает агрегированный отчёт по матрице ошибок
// GET /api/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	report, err := h.stats.Report(r.Context())
	if err != nil {
		log.Printf("[ERROR] Failed to build stats report: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to build stats report")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// ExportCSV отдаёт выгрузку исследований с итоговыми метками
// GET /api/export
func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	filename := fmt.Sprintf("studies_%s.csv", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)

	if err := h.stats.ExportCSV(r.Context(), w); err != nil {
		log.Printf("[ERROR] Failed to export CSV: %v", err)
	}
}

// Health возвращает состояние сервиса и его зависимостей
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	healthy := true

	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			checks["postgres"] = err.Error()
			healthy = false
		} else {
			checks["postgres"] = "ok"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			checks["redis"] = err.Error()
		} else {
			checks["redis"] = "ok"
		}
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "unhealthy"
	}
	respondJSON(w, status, map[string]interface{}{
		"status": state,
		"checks": checks,
		"time":   time.Now().Format(time.RFC3339),
	})
}

// ===== Утилиты =====

// respondServiceError сопоставляет доменные ошибки с HTTP-кодами
func (h *Handler) respondServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, review.ErrStudyNotFound),
		errors.Is(err, review.ErrUserNotFound),
		errors.Is(err, review.ErrReviewNotFound),
		errors.Is(err, review.ErrCommentNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, review.ErrInvalidValue),
		errors.Is(err, review.ErrInvalidKind),
		errors.Is(err, review.ErrEmptyUsername),
		errors.Is(err, review.ErrEmptyComment):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, review.ErrDuplicateUsername):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, review.ErrNotOwner):
		respondError(w, http.StatusForbidden, err.Error())
	default:
		log.Printf("[ERROR] %s: %v", fallback, err)
		respondError(w, http.StatusInternalServerError, fallback)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid id")
		return 0, false
	}
	return id, true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[ERROR] Failed to encode JSON response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":  message,
		"status": status,
	})
}

func getQueryInt(r *http.Request, key string, defaultValue int) int {
	valueStr := r.URL.Query().Get(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// requestIDMiddleware присваивает каждому запросу идентификатор
// для сквозной трассировки в логах
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}
