package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/examhub/internal/attempt"
	"github.com/stemsi/examhub/internal/middleware"
	"github.com/stemsi/examhub/internal/model"
	"github.com/stemsi/examhub/internal/response"
	"github.com/stemsi/examhub/internal/service"
	"github.com/stemsi/examhub/internal/validator"
)

// examURI binds the :exam_id path parameter.
type examURI struct {
	ExamID string `uri:"exam_id" binding:"required,exam_id"`
}

// answerURI binds /answers/:index.
type answerURI struct {
	ExamID string `uri:"exam_id" binding:"required,exam_id"`
	Index  *int   `uri:"index" binding:"required,min=0"`
}

type answerRequest struct {
	Value *string `json:"value" binding:"required,max=10000"`
}

// gotoRequest leaves the range check to the navigator: an unknown index is a blocked move.
type gotoRequest struct {
	Index *int `json:"index" binding:"required"`
}

type moveResponse struct {
	State model.DisplayState `json:"state"`
	Moved bool               `json:"moved"`
}

type submitResponse struct {
	Result     *model.ExamResult `json:"result"`
	NavigateTo model.Destination `json:"navigate_to"`
}

// StudentPortalHandler handles the candidate-facing exam endpoints.
type StudentPortalHandler struct {
	sessionService *service.ExamSessionService
	log            zerolog.Logger
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(sessionService *service.ExamSessionService, log zerolog.Logger) *StudentPortalHandler {
	return &StudentPortalHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "student_portal_handler").Logger(),
	}
}

// GetSession godoc
// GET /api/v1/student/exams/:exam_id/session
// Opens or resumes the attempt. This covers page reloads: the state carries
// the current question, the recorded answer and the remaining time.
func (h *StudentPortalHandler) GetSession(c *gin.Context) {
	key, ok := attemptKey(c)
	if !ok {
		return
	}

	state, err := h.sessionService.State(c.Request.Context(), key)
	if err != nil {
		h.fail(c, key, err)
		return
	}
	response.Success(c, http.StatusOK, state)
}

// AnswerCurrent godoc
// POST /api/v1/student/exams/:exam_id/answer
// Records the answer for the current question.
func (h *StudentPortalHandler) AnswerCurrent(c *gin.Context) {
	key, ok := attemptKey(c)
	if !ok {
		return
	}

	var req answerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	state, err := h.sessionService.Answer(c.Request.Context(), key, *req.Value)
	if err != nil {
		h.fail(c, key, err)
		return
	}
	response.Success(c, http.StatusOK, state)
}

// SetAnswer godoc
// PUT /api/v1/student/exams/:exam_id/answers/:index
// Records the answer for any question without moving the cursor.
func (h *StudentPortalHandler) SetAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var uri answerURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}
	key := model.AttemptKey{UserID: claims.UserID, ExamID: uri.ExamID}

	var req answerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	state, err := h.sessionService.SetAnswer(c.Request.Context(), key, *uri.Index, *req.Value)
	if err != nil {
		h.fail(c, key, err)
		return
	}
	response.Success(c, http.StatusOK, state)
}

// Next godoc
// POST /api/v1/student/exams/:exam_id/next
func (h *StudentPortalHandler) Next(c *gin.Context) {
	key, ok := attemptKey(c)
	if !ok {
		return
	}
	state, moved, err := h.sessionService.Next(c.Request.Context(), key)
	h.respondMove(c, key, state, moved, err)
}

// Previous godoc
// POST /api/v1/student/exams/:exam_id/previous
func (h *StudentPortalHandler) Previous(c *gin.Context) {
	key, ok := attemptKey(c)
	if !ok {
		return
	}
	state, moved, err := h.sessionService.Previous(c.Request.Context(), key)
	h.respondMove(c, key, state, moved, err)
}

// GoTo godoc
// POST /api/v1/student/exams/:exam_id/goto
func (h *StudentPortalHandler) GoTo(c *gin.Context) {
	key, ok := attemptKey(c)
	if !ok {
		return
	}

	var req gotoRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	state, moved, err := h.sessionService.GoTo(c.Request.Context(), key, *req.Index)
	h.respondMove(c, key, state, moved, err)
}

func (h *StudentPortalHandler) respondMove(c *gin.Context, key model.AttemptKey, state model.DisplayState, moved bool, err error) {
	if err != nil {
		h.fail(c, key, err)
		return
	}
	response.Success(c, http.StatusOK, moveResponse{State: state, Moved: moved})
}

// Submit godoc
// POST /api/v1/student/exams/:exam_id/submit
// Scores the attempt once. Repeated submits return the stored result.
func (h *StudentPortalHandler) Submit(c *gin.Context) {
	key, ok := attemptKey(c)
	if !ok {
		return
	}

	res, dest, err := h.sessionService.Submit(c.Request.Context(), key)
	if err != nil {
		h.fail(c, key, err)
		return
	}
	response.Success(c, http.StatusOK, submitResponse{Result: res, NavigateTo: dest})
}

// LeaveSession godoc
// DELETE /api/v1/student/exams/:exam_id/session
// Tears down the exam view: the timer stops and the saved state is kept.
func (h *StudentPortalHandler) LeaveSession(c *gin.Context) {
	key, ok := attemptKey(c)
	if !ok {
		return
	}
	released := h.sessionService.Release(key)
	response.Success(c, http.StatusOK, gin.H{"released": released})
}

// GetResult godoc
// GET /api/v1/student/exams/:exam_id/result
// Returns the score and per-question feedback of a completed attempt.
func (h *StudentPortalHandler) GetResult(c *gin.Context) {
	key, ok := attemptKey(c)
	if !ok {
		return
	}

	res, err := h.sessionService.Result(c.Request.Context(), key)
	if err != nil {
		h.fail(c, key, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// ListResults godoc
// GET /api/v1/student/results
// Returns the candidate's completed exams, newest first.
func (h *StudentPortalHandler) ListResults(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	results, err := h.sessionService.History(c.Request.Context(), claims.UserID)
	if err != nil {
		h.log.Error().Err(err).Int("user_id", claims.UserID).Msg("List results failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if results == nil {
		results = []model.ExamResult{}
	}
	response.Success(c, http.StatusOK, gin.H{"results": results})
}

// attemptKey builds the key from the token and :exam_id, writing the error response on failure.
func attemptKey(c *gin.Context) (model.AttemptKey, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return model.AttemptKey{}, false
	}

	var uri examURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return model.AttemptKey{}, false
	}
	return model.AttemptKey{UserID: claims.UserID, ExamID: uri.ExamID}, true
}

// errorStatus maps session errors to an HTTP status and API code.
func errorStatus(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrExamNotFound):
		return http.StatusNotFound, response.ErrExamNotFound
	case errors.Is(err, attempt.ErrResultNotFound):
		return http.StatusNotFound, response.ErrResultNotFound
	case errors.Is(err, attempt.ErrInvalidQuestionIndex):
		return http.StatusBadRequest, response.ErrInvalidQuestionIndex
	case errors.Is(err, attempt.ErrAttemptCompleted):
		return http.StatusConflict, response.ErrAttemptCompleted
	case errors.Is(err, attempt.ErrStaleSession):
		return http.StatusConflict, response.ErrSessionStale
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

func (h *StudentPortalHandler) fail(c *gin.Context, key model.AttemptKey, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).
			Int("user_id", key.UserID).
			Str("exam_id", key.ExamID).
			Str("path", c.FullPath()).
			Msg("Exam session request failed")
	}
	response.Fail(c, status, code)
}
