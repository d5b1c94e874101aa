package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/technosupport/flowforge/internal/authz"
	"github.com/technosupport/flowforge/internal/executor"
	"github.com/technosupport/flowforge/internal/metrics"
	"github.com/technosupport/flowforge/internal/middleware"
	"github.com/technosupport/flowforge/internal/store"
	"github.com/technosupport/flowforge/internal/workflow"
)

// EventPublisher notifies downstream consumers of workflow lifecycle
// events. Nil is a valid, no-op value (spec's messaging layer is
// optional infrastructure, not a hard dependency of the API).
type EventPublisher interface {
	PublishWorkflowExecuted(workflowID uuid.UUID, status executor.WorkflowStatus)
}

// WorkflowHandler covers workflow CRUD, step management, sharing, and
// execution (spec §4.3, §4.4, §8 routes under /workflow/*).
type WorkflowHandler struct {
	Store     store.Store
	Workflows *workflow.Service
	Executor  *executor.Executor
	Metrics   *metrics.Collector
	Events    EventPublisher
	Log       *zap.Logger
}

func NewWorkflowHandler(st store.Store, svc *workflow.Service, ex *executor.Executor, m *metrics.Collector, events EventPublisher, log *zap.Logger) *WorkflowHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WorkflowHandler{Store: st, Workflows: svc, Executor: ex, Metrics: m, Events: events, Log: log}
}

type createWorkflowRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *WorkflowHandler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	ac, err := middleware.RequireAuthContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req createWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	wf, err := h.Workflows.CreateWorkflow(r.Context(), ac.UserID, req.Name, req.Description)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create workflow failed")
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// ListWorkflows returns the workflows the caller owns plus any visible
// through a group share (spec §8: GET /workflow/list). For admins it
// returns only the workflows they own; shared and other users' workflows
// are not listed.
func (h *WorkflowHandler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	ac, err := middleware.RequireAuthContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if ac.Role == authz.RoleAdmin || ac.IsPermanentAdmin {
		owned, err := h.Store.ListWorkflowsOwnedBy(r.Context(), ac.UserID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list workflows failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"workflows": owned})
		return
	}

	owned, err := h.Store.ListWorkflowsOwnedBy(r.Context(), ac.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list workflows failed")
		return
	}
	groups, err := h.Store.ListGroupsForUser(r.Context(), ac.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list workflows failed")
		return
	}
	groupIDs := make([]uuid.UUID, 0, len(groups))
	for _, g := range groups {
		groupIDs = append(groupIDs, g.ID)
	}
	shared, err := h.Store.ListWorkflowsVisibleToGroups(r.Context(), groupIDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list workflows failed")
		return
	}

	seen := make(map[uuid.UUID]bool, len(owned))
	all := make([]*store.Workflow, 0, len(owned)+len(shared))
	for _, wf := range owned {
		seen[wf.ID] = true
		all = append(all, wf)
	}
	for _, wf := range shared {
		if !seen[wf.ID] {
			all = append(all, wf)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": all})
}

// ListSteps returns a workflow's steps in order (spec §8: GET
// /workflow/{id}/steps).
func (h *WorkflowHandler) ListSteps(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}
	wf, err := h.Workflows.GetWorkflow(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"steps": wf.Steps})
}

func (h *WorkflowHandler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}
	wf, err := h.Workflows.GetWorkflow(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

type updateWorkflowRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsActive    bool   `json:"is_active"`
}

func (h *WorkflowHandler) UpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}
	wf, err := h.Workflows.GetWorkflow(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	var req updateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	wf.Name = req.Name
	wf.Description = req.Description
	wf.IsActive = req.IsActive
	if err := h.Workflows.UpdateWorkflow(r.Context(), wf); err != nil {
		writeError(w, http.StatusInternalServerError, "update workflow failed")
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (h *WorkflowHandler) DeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}
	if err := h.Workflows.DeleteWorkflow(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "delete workflow failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "workflow deleted"})
}

// --- Steps ---

type appendStepRequest struct {
	Name           string            `json:"name"`
	Order          *int              `json:"order,omitempty"`
	ScriptType     string            `json:"script_type"`
	ScriptFilename string            `json:"script_filename"`
	RunCommand     string            `json:"run_command"`
	Dependencies   []string          `json:"dependencies"`
	Parameters     map[string]string `json:"parameters"`
	IsActive       bool              `json:"is_active"`
}

func (h *WorkflowHandler) AppendStep(w http.ResponseWriter, r *http.Request) {
	workflowID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}
	var req appendStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	step := store.Step{
		Name:           req.Name,
		ScriptType:     store.ScriptType(req.ScriptType),
		ScriptFilename: req.ScriptFilename,
		RunCommand:     req.RunCommand,
		Dependencies:   req.Dependencies,
		Parameters:     req.Parameters,
		IsActive:       req.IsActive,
	}
	created, err := h.Workflows.AppendStep(r.Context(), workflowID, step, req.Order)
	if err != nil {
		if errors.Is(err, workflow.ErrOrderCollision) {
			writeError(w, http.StatusConflict, "step order collides with an existing step")
			return
		}
		writeError(w, http.StatusInternalServerError, "append step failed")
		return
	}
	writeJSON(w, http.StatusOK, created)
}

type updateStepOrderRequest struct {
	Order int `json:"order"`
}

func (h *WorkflowHandler) UpdateStepOrder(w http.ResponseWriter, r *http.Request) {
	workflowID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}
	stepID := chi.URLParam(r, "stepID")
	var req updateStepOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.Workflows.UpdateStepOrder(r.Context(), workflowID, stepID, req.Order); err != nil {
		writeStepOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "step order updated"})
}

// UpdateStepOrderByPosition addresses the step by its current order value
// in the path rather than its id (spec §8: PUT /workflow/{id}/steps/{order}).
func (h *WorkflowHandler) UpdateStepOrderByPosition(w http.ResponseWriter, r *http.Request) {
	workflowID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}
	currentOrder, err := strconv.Atoi(chi.URLParam(r, "order"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order")
		return
	}
	var req updateStepOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	stepID, err := h.stepIDForOrder(r, workflowID, currentOrder)
	if err != nil {
		writeStepOrderError(w, err)
		return
	}
	if err := h.Workflows.UpdateStepOrder(r.Context(), workflowID, stepID, req.Order); err != nil {
		writeStepOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "step order updated"})
}

func (h *WorkflowHandler) stepIDForOrder(r *http.Request, workflowID uuid.UUID, order int) (string, error) {
	wf, err := h.Workflows.GetWorkflow(r.Context(), workflowID)
	if err != nil {
		return "", err
	}
	for _, s := range wf.Steps {
		if s.Order == order {
			return s.ID, nil
		}
	}
	return "", workflow.ErrStepNotFound
}

type reorderStepsRequest struct {
	StepIDs []string `json:"step_ids"`
}

func (h *WorkflowHandler) ReorderSteps(w http.ResponseWriter, r *http.Request) {
	workflowID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}
	var req reorderStepsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.Workflows.ReorderSteps(r.Context(), workflowID, req.StepIDs); err != nil {
		writeStepOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "steps reordered"})
}

func (h *WorkflowHandler) DeleteStep(w http.ResponseWriter, r *http.Request) {
	workflowID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}
	stepID := chi.URLParam(r, "stepID")
	if err := h.Workflows.DeleteStep(r.Context(), workflowID, stepID); err != nil {
		writeStepOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "step deleted"})
}

// DeleteStepByPosition addresses the step to delete by its current order
// value in the path (spec §8: DELETE /workflow/{id}/steps/{order}).
func (h *WorkflowHandler) DeleteStepByPosition(w http.ResponseWriter, r *http.Request) {
	workflowID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}
	order, err := strconv.Atoi(chi.URLParam(r, "order"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order")
		return
	}
	stepID, err := h.stepIDForOrder(r, workflowID, order)
	if err != nil {
		writeStepOrderError(w, err)
		return
	}
	if err := h.Workflows.DeleteStep(r.Context(), workflowID, stepID); err != nil {
		writeStepOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "step deleted"})
}

func writeStepOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workflow.ErrOrderCollision):
		writeError(w, http.StatusConflict, "step order collides with an existing step")
	case errors.Is(err, workflow.ErrStepNotFound):
		writeError(w, http.StatusNotFound, "step not found")
	case errors.Is(err, workflow.ErrInvalidOrders):
		writeError(w, http.StatusBadRequest, "step orders are invalid")
	default:
		writeError(w, http.StatusInternalServerError, "step update failed")
	}
}

// --- Sharing ---

// ShareWithGroup implements POST /workflow/{id}/share/groups/{gid}?permission=read|write|execute.
func (h *WorkflowHandler) ShareWithGroup(w http.ResponseWriter, r *http.Request) {
	workflowID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}
	groupID, err := uuid.Parse(chi.URLParam(r, "groupID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}
	perm := store.SharePermission(r.URL.Query().Get("permission"))
	switch perm {
	case store.ShareRead, store.ShareWrite, store.ShareExecute:
	default:
		writeError(w, http.StatusBadRequest, "permission must be read, write, or execute")
		return
	}
	if err := h.Workflows.Share(r.Context(), workflowID, groupID, perm); err != nil {
		writeError(w, http.StatusInternalServerError, "share failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "workflow shared"})
}

func (h *WorkflowHandler) Unshare(w http.ResponseWriter, r *http.Request) {
	workflowID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}
	groupID, err := uuid.Parse(chi.URLParam(r, "groupID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}
	if err := h.Workflows.Unshare(r.Context(), workflowID, groupID); err != nil {
		writeError(w, http.StatusInternalServerError, "unshare failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "share removed"})
}

// --- Execute ---

type executeWorkflowRequest struct {
	ExecutionType     string `json:"execution_type"`
	ContinueOnFailure bool   `json:"continue_on_failure"`
}

// Execute runs every active step of the workflow in order (spec §4.4).
// execution_type selects the sandbox: "local" (default) or "docker".
func (h *WorkflowHandler) Execute(w http.ResponseWriter, r *http.Request) {
	workflowID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}
	wf, err := h.Workflows.GetWorkflow(r.Context(), workflowID)
	if err != nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}

	q := r.URL.Query()
	mode := executor.ModeLocal
	if q.Get("execution_type") == "docker" {
		mode = executor.ModeContainer
	}
	continueOnFailure := q.Get("continue_on_failure") == "true"

	startedAt := time.Now().UTC()
	run := executor.RunWorkflow(r.Context(), h.Executor, wf, mode, continueOnFailure, nil)
	executor.ApplyResults(wf, run, startedAt)

	if err := h.Workflows.UpdateWorkflow(r.Context(), wf); err != nil {
		h.Log.Error("failed to persist step results after execution", zap.Error(err), zap.String("workflow_id", workflowID.String()))
	}

	if h.Metrics != nil {
		for _, sr := range run.Steps {
			h.Metrics.RecordStepExecution(stepScriptType(wf, sr.StepID), string(sr.Status))
		}
		h.Metrics.RecordWorkflowRun(string(run.Status))
	}
	if h.Events != nil {
		h.Events.PublishWorkflowExecuted(workflowID, run.Status)
	}

	writeJSON(w, http.StatusOK, run)
}

func stepScriptType(wf *store.Workflow, stepID string) string {
	for _, s := range wf.Steps {
		if s.ID == stepID {
			return string(s.ScriptType)
		}
	}
	return "unknown"
}

// Permissions reports the caller's role, role-layer permission claims,
// and whether the caller owns the workflow or is an admin (spec §8:
// GET /workflow/{id}/permissions). Group shares are not resolved here.
func (h *WorkflowHandler) Permissions(w http.ResponseWriter, r *http.Request) {
	ac, err := middleware.RequireAuthContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	workflowID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}
	wf, err := h.Workflows.GetWorkflow(r.Context(), workflowID)
	if err != nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}

	isOwner := wf.OwnerUserID == ac.UserID
	isAdmin := ac.Role == authz.RoleAdmin || ac.IsPermanentAdmin
	writeJSON(w, http.StatusOK, map[string]any{
		"is_owner":    isOwner,
		"is_admin":    isAdmin,
		"role":        ac.Role,
		"permissions": ac.Permissions,
	})
}
