package progressionhandler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"prospectcrm/internal/domain/auth"
	"prospectcrm/internal/domain/progression"
	"prospectcrm/internal/transport/http/api"
	"prospectcrm/internal/transport/http/middleware"
	"prospectcrm/internal/transport/http/shared"
)

const defaultMaxUploadBytes = 20 << 20

type Handler struct {
	Service        *progression.Service
	Perms          middleware.PermissionStore
	MaxUploadBytes int64
}

func NewHandler(service *progression.Service, perms middleware.PermissionStore, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{Service: service, Perms: perms, MaxUploadBytes: maxUploadBytes}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	submit := middleware.RequirePermission(auth.PermProgressSubmit, h.Perms)
	read := middleware.RequirePermission(auth.PermProgressRead, h.Perms)
	advance := middleware.RequirePermission(auth.PermStageAdvance, h.Perms)

	r.Route("/progress", func(r chi.Router) {
		r.With(submit).Post("/submit", h.handleSubmit)
		r.With(submit).Put("/{submissionID}", h.handleResubmit)
		r.With(submit).Post("/{submissionID}", h.handleResubmit)
		r.With(submit).Post("/{submissionID}/revert", h.handleRevert)
		r.With(read).Get("/{submissionID}/attachment", h.handleAttachment)
	})

	r.With(read).Get("/customers/{customerID}/stage-progress", h.handleStageProgress)
	r.With(advance).Post("/customers/{customerID}/advance", h.handleAdvance)
	r.With(advance).Post("/customers/{customerID}/summary", h.handleSaveSummary)
	r.With(read).Get("/customers/{customerID}/summary", h.handleGetSummary)
	r.With(advance).Post("/customers/{customerID}/convert-to-prospect", h.handleConvert)
	r.With(advance).Post("/customers/{customerID}/inactive", h.handleInactive)
	r.With(middleware.RequirePermission(auth.PermProspectReset, h.Perms)).Delete("/customers/{customerID}/progress", h.handleReset)

	r.With(middleware.RequirePermission(auth.PermScoresRecompute, h.Perms)).Post("/scores/recompute", h.handleRecompute)
	r.With(read).Get("/scores/reps/{repID}", h.handleRepPoints)

	r.With(middleware.RequirePermission(auth.PermTasksRead, h.Perms)).Get("/stages", h.handleListStages)
	r.With(middleware.RequirePermission(auth.PermTasksRead, h.Perms)).Get("/tasks", h.handleListTasks)
	r.With(middleware.RequirePermission(auth.PermTasksWrite, h.Perms)).Post("/tasks", h.handleDefineTasks)
}

type submitRequest struct {
	CustomerID int64  `json:"customerId" validate:"required,gt=0"`
	TaskID     int64  `json:"taskId" validate:"required,gt=0"`
	Evidence   string `json:"evidence" validate:"max=10000"`
}

type resubmitRequest struct {
	Evidence string `json:"evidence" validate:"max=10000"`
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/")
}

// readEvidence pulls evidence text and an optional "file" part out of a
// multipart form.
func (h *Handler) readEvidence(r *http.Request) (progression.Evidence, error) {
	if err := r.ParseMultipartForm(h.MaxUploadBytes); err != nil {
		return progression.Evidence{}, err
	}
	ev := progression.Evidence{Text: r.FormValue("evidence")}
	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return ev, nil
	}
	if err != nil {
		return progression.Evidence{}, err
	}
	defer file.Close()
	ev.File, err = h.readFile(file, header)
	return ev, err
}

func (h *Handler) readFile(file multipart.File, header *multipart.FileHeader) (*progression.EvidenceFile, error) {
	if header.Size > h.MaxUploadBytes {
		return nil, fmt.Errorf("file exceeds %d bytes", h.MaxUploadBytes)
	}
	data, err := io.ReadAll(io.LimitReader(file, h.MaxUploadBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > h.MaxUploadBytes {
		return nil, fmt.Errorf("file exceeds %d bytes", h.MaxUploadBytes)
	}
	return &progression.EvidenceFile{
		Name:     header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Data:     data,
	}, nil
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.Actor(w, r)
	if !ok {
		return
	}
	reqID := middleware.GetRequestID(r.Context())

	var in progression.SubmitInput
	if isMultipart(r) {
		ev, err := h.readEvidence(r)
		if err != nil {
			api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid multipart payload: "+err.Error(), reqID)
			return
		}
		customerID, cerr := strconv.ParseInt(r.FormValue("customerId"), 10, 64)
		taskID, terr := strconv.ParseInt(r.FormValue("taskId"), 10, 64)
		if cerr != nil || terr != nil || customerID <= 0 || taskID <= 0 {
			shared.FailValidation(w, reqID, []shared.ValidationIssue{{Field: "customerId/taskId", Reason: "must be positive integers"}})
			return
		}
		in = progression.SubmitInput{CustomerID: customerID, TaskID: taskID, Evidence: ev}
	} else {
		var payload submitRequest
		if !shared.DecodeAndValidate(w, r, &payload, reqID) {
			return
		}
		in = progression.SubmitInput{CustomerID: payload.CustomerID, TaskID: payload.TaskID, Evidence: progression.Evidence{Text: payload.Evidence}}
	}

	result, err := h.Service.SubmitProgress(r.Context(), actor, in)
	if err != nil {
		shared.FailDomain(w, r, err, "progress_submit_failed")
		return
	}
	api.Created(w, result, reqID)
}

func (h *Handler) handleResubmit(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.Actor(w, r)
	if !ok {
		return
	}
	submissionID, ok := shared.PathID(w, r, "submissionID")
	if !ok {
		return
	}
	reqID := middleware.GetRequestID(r.Context())

	var ev progression.Evidence
	if isMultipart(r) {
		parsed, err := h.readEvidence(r)
		if err != nil {
			api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid multipart payload: "+err.Error(), reqID)
			return
		}
		ev = parsed
	} else {
		var payload resubmitRequest
		if !shared.DecodeAndValidate(w, r, &payload, reqID) {
			return
		}
		ev = progression.Evidence{Text: payload.Evidence}
	}

	result, err := h.Service.ResubmitProgress(r.Context(), actor, submissionID, ev)
	if err != nil {
		shared.FailDomain(w, r, err, "progress_update_failed")
		return
	}
	api.Success(w, result, reqID)
}

func (h *Handler) handleRevert(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.Actor(w, r)
	if !ok {
		return
	}
	submissionID, ok := shared.PathID(w, r, "submissionID")
	if !ok {
		return
	}
	result, err := h.Service.RevertProgress(r.Context(), actor, submissionID)
	if err != nil {
		shared.FailDomain(w, r, err, "progress_revert_failed")
		return
	}
	api.Success(w, result, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleAttachment(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.Actor(w, r)
	if !ok {
		return
	}
	submissionID, ok := shared.PathID(w, r, "submissionID")
	if !ok {
		return
	}
	att, body, err := h.Service.OpenAttachment(r.Context(), actor, submissionID)
	if err != nil {
		shared.FailDomain(w, r, err, "attachment_failed")
		return
	}
	if body == nil {
		api.Success(w, att, middleware.GetRequestID(r.Context()))
		return
	}
	defer body.Close()

	contentType := att.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.OriginalName))
	if att.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(att.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		slog.Warn("attachment stream failed", "submissionId", submissionID, "err", err)
	}
}

func (h *Handler) handleStageProgress(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.Actor(w, r)
	if !ok {
		return
	}
	customerID, ok := shared.PathID(w, r, "customerID")
	if !ok {
		return
	}
	view, err := h.Service.GetStageProgress(r.Context(), actor, customerID)
	if err != nil {
		shared.FailDomain(w, r, err, "stage_progress_failed")
		return
	}
	api.Success(w, view, middleware.GetRequestID(r.Context()))
}

type advanceRequest struct {
	Mode    string `json:"mode" validate:"omitempty,oneof=auto skip summary-confirm"`
	Summary string `json:"summary" validate:"max=20000"`
}

func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.Actor(w, r)
	if !ok {
		return
	}
	customerID, ok := shared.PathID(w, r, "customerID")
	if !ok {
		return
	}
	reqID := middleware.GetRequestID(r.Context())
	var payload advanceRequest
	if !shared.DecodeAndValidate(w, r, &payload, reqID) {
		return
	}
	mode := progression.AdvanceMode(payload.Mode)
	if mode == "" {
		mode = progression.ModeAuto
	}

	customer, err := h.Service.AdvanceStage(r.Context(), actor, customerID, progression.AdvanceRequest{Mode: mode, Summary: payload.Summary})
	if err != nil {
		shared.FailDomain(w, r, err, "advance_failed")
		return
	}
	api.Success(w, customer, reqID)
}

type summaryRequest struct {
	Summary string `json:"summary" validate:"required,max=20000"`
}

func (h *Handler) handleSaveSummary(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.Actor(w, r)
	if !ok {
		return
	}
	customerID, ok := shared.PathID(w, r, "customerID")
	if !ok {
		return
	}
	reqID := middleware.GetRequestID(r.Context())
	var payload summaryRequest
	if !shared.DecodeAndValidate(w, r, &payload, reqID) {
		return
	}
	summary, err := h.Service.SaveSummary(r.Context(), actor, customerID, payload.Summary)
	if err != nil {
		shared.FailDomain(w, r, err, "summary_save_failed")
		return
	}
	api.Success(w, summary, reqID)
}

func (h *Handler) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.Actor(w, r)
	if !ok {
		return
	}
	customerID, ok := shared.PathID(w, r, "customerID")
	if !ok {
		return
	}
	summary, err := h.Service.GetSummary(r.Context(), actor, customerID)
	if err != nil {
		shared.FailDomain(w, r, err, "summary_read_failed")
		return
	}
	api.Success(w, summary, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleConvert(w http.ResponseWriter, r *http.Request) {
	h.customerTransition(w, r, "convert_failed", h.Service.ConvertToProspect)
}

func (h *Handler) handleInactive(w http.ResponseWriter, r *http.Request) {
	h.customerTransition(w, r, "inactive_failed", h.Service.SetInactive)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	h.customerTransition(w, r, "reset_failed", h.Service.ResetProspect)
}

type transitionFunc func(ctx context.Context, actor progression.Actor, customerID int64) (progression.Customer, error)

func (h *Handler) customerTransition(w http.ResponseWriter, r *http.Request, failCode string, fn transitionFunc) {
	actor, ok := shared.Actor(w, r)
	if !ok {
		return
	}
	customerID, ok := shared.PathID(w, r, "customerID")
	if !ok {
		return
	}
	customer, err := fn(r.Context(), actor, customerID)
	if err != nil {
		shared.FailDomain(w, r, err, failCode)
		return
	}
	api.Success(w, customer, middleware.GetRequestID(r.Context()))
}

type recomputeRequest struct {
	CustomerID int64  `json:"customerId" validate:"required,gt=0"`
	StageID    int64  `json:"stageId" validate:"required,gt=0"`
	RepID      string `json:"repId" validate:"omitempty,uuid"`
}

func (h *Handler) handleRecompute(w http.ResponseWriter, r *http.Request) {
	if _, ok := shared.Actor(w, r); !ok {
		return
	}
	reqID := middleware.GetRequestID(r.Context())
	var payload recomputeRequest
	if !shared.DecodeAndValidate(w, r, &payload, reqID) {
		return
	}
	score, err := h.Service.RecomputeScore(r.Context(), payload.CustomerID, payload.StageID, payload.RepID)
	if err != nil {
		shared.FailDomain(w, r, err, "recompute_failed")
		return
	}
	api.Success(w, score, reqID)
}

func (h *Handler) handleRepPoints(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.Actor(w, r)
	if !ok {
		return
	}
	repID := chi.URLParam(r, "repID")
	if repID == "me" {
		repID = actor.UserID
	}
	if repID != actor.UserID && actor.Role != auth.RoleAdministrator && actor.Role != auth.RoleSalesManager {
		api.Fail(w, http.StatusForbidden, "forbidden", "cannot read another rep's points", middleware.GetRequestID(r.Context()))
		return
	}
	points, err := h.Service.RepPoints(r.Context(), repID)
	if err != nil {
		shared.FailDomain(w, r, err, "rep_points_failed")
		return
	}
	api.Success(w, map[string]any{"repId": repID, "totalPoints": points}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListStages(w http.ResponseWriter, r *http.Request) {
	stages, err := h.Service.ListStages(r.Context())
	if err != nil {
		shared.FailDomain(w, r, err, "stages_failed")
		return
	}
	api.Success(w, stages, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.Actor(w, r)
	if !ok {
		return
	}
	stageID, err := shared.QueryID(r, "stageId")
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_query", err.Error(), middleware.GetRequestID(r.Context()))
		return
	}
	tasks, err := h.Service.ListTasks(r.Context(), actor, r.URL.Query().Get("repId"), stageID)
	if err != nil {
		shared.FailDomain(w, r, err, "tasks_failed")
		return
	}
	api.Success(w, tasks, middleware.GetRequestID(r.Context()))
}

type taskItem struct {
	Description      string  `json:"description" validate:"required,max=1000"`
	InputKind        string  `json:"inputKind" validate:"omitempty,oneof=none text phone date number currency file image video"`
	EvidenceRequired bool    `json:"evidenceRequired"`
	CategoryMarker   *int64  `json:"categoryMarker"`
	SubCategory      *string `json:"subCategory" validate:"omitempty,max=100"`
	SortOrder        *int    `json:"sortOrder"`
}

type defineTasksRequest struct {
	RepID   string     `json:"repId" validate:"required,uuid"`
	StageID int64      `json:"stageId" validate:"required,gt=0"`
	Tasks   []taskItem `json:"tasks" validate:"required,min=1,dive"`
}

func (h *Handler) handleDefineTasks(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.Actor(w, r)
	if !ok {
		return
	}
	reqID := middleware.GetRequestID(r.Context())
	var payload defineTasksRequest
	if !shared.DecodeAndValidate(w, r, &payload, reqID) {
		return
	}
	inputs := make([]progression.TaskInput, 0, len(payload.Tasks))
	for _, item := range payload.Tasks {
		inputs = append(inputs, progression.TaskInput{
			Description:      item.Description,
			InputKind:        progression.InputKind(item.InputKind),
			EvidenceRequired: item.EvidenceRequired,
			CategoryMarker:   item.CategoryMarker,
			SubCategory:      item.SubCategory,
			SortOrder:        item.SortOrder,
		})
	}
	tasks, err := h.Service.DefineTasks(r.Context(), actor, payload.RepID, payload.StageID, inputs)
	if err != nil {
		shared.FailDomain(w, r, err, "tasks_define_failed")
		return
	}
	api.Created(w, tasks, reqID)
}
