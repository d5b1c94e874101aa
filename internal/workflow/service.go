// Package workflow implements spec §4.3: workflow CRUD, the step-order
// invariants, server-generated step IDs, and the group-share ACL.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/technosupport/flowforge/internal/store"
)

var (
	ErrOrderCollision = errors.New("workflow: step order collides with an existing step")
	ErrStepNotFound   = errors.New("workflow: step not found")
	ErrInvalidOrders  = errors.New("workflow: step orders are not a contiguous 1..N sequence")
)

// StepDirProvisioner creates the on-disk working area for a newly
// appended step. Failure is logged by the caller, never fatal (spec
// §4.3: "Failure to create the directory is logged but not fatal").
type StepDirProvisioner interface {
	ProvisionStepDir(ctx context.Context, workflowID uuid.UUID, stepID string) (string, error)
}

type Service struct {
	store store.Store
	dirs  StepDirProvisioner
	log   func(format string, args ...any)
}

func NewService(st store.Store, dirs StepDirProvisioner, log func(format string, args ...any)) *Service {
	if log == nil {
		log = func(string, ...any) {}
	}
	return &Service{store: st, dirs: dirs, log: log}
}

func (s *Service) CreateWorkflow(ctx context.Context, ownerID uuid.UUID, name, description string) (*store.Workflow, error) {
	w := &store.Workflow{OwnerUserID: ownerID, Name: name, Description: description, IsActive: true}
	if err := s.store.CreateWorkflow(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Service) GetWorkflow(ctx context.Context, id uuid.UUID) (*store.Workflow, error) {
	return s.store.GetWorkflow(ctx, id)
}

func (s *Service) UpdateWorkflow(ctx context.Context, w *store.Workflow) error {
	return s.store.UpdateWorkflow(ctx, w)
}

// DeleteWorkflow removes a workflow and, per spec §3 invariant, all of
// its share rows.
func (s *Service) DeleteWorkflow(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteSharesForWorkflow(ctx, id); err != nil {
		return err
	}
	return s.store.DeleteWorkflow(ctx, id)
}

// AppendStep adds a step to the end of the workflow. If requestedOrder is
// nil, order auto-assigns to max(existing)+1 (spec §4.3); otherwise it
// must not collide with an existing step's order.
func (s *Service) AppendStep(ctx context.Context, workflowID uuid.UUID, step store.Step, requestedOrder *int) (*store.Step, error) {
	w, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	maxOrder := 0
	for _, existing := range w.Steps {
		if existing.Order > maxOrder {
			maxOrder = existing.Order
		}
		if requestedOrder != nil && existing.Order == *requestedOrder {
			return nil, ErrOrderCollision
		}
	}

	step.ID = uuid.New().String()
	if requestedOrder != nil {
		step.Order = *requestedOrder
	} else {
		step.Order = maxOrder + 1
	}

	if s.dirs != nil {
		dir, err := s.dirs.ProvisionStepDir(ctx, workflowID, step.ID)
		if err != nil {
			s.log("workflow: step directory provisioning failed for %s/%s: %v", workflowID, step.ID, err)
		} else {
			step.DirectoryName = dir
		}
	}

	w.Steps = append(w.Steps, step)
	if err := validateOrders(w.Steps); err != nil {
		return nil, err
	}
	if err := s.store.ReplaceSteps(ctx, workflowID, w.Steps); err != nil {
		return nil, err
	}
	return &step, nil
}

// UpdateStepOrder changes a single step's order, rejecting collisions
// with any other step in the workflow.
func (s *Service) UpdateStepOrder(ctx context.Context, workflowID uuid.UUID, stepID string, newOrder int) error {
	w, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}

	found := false
	for i := range w.Steps {
		if w.Steps[i].ID == stepID {
			found = true
			continue
		}
		if w.Steps[i].Order == newOrder {
			return ErrOrderCollision
		}
	}
	if !found {
		return ErrStepNotFound
	}
	for i := range w.Steps {
		if w.Steps[i].ID == stepID {
			w.Steps[i].Order = newOrder
		}
	}
	if err := validateOrders(w.Steps); err != nil {
		return err
	}
	return s.store.ReplaceSteps(ctx, workflowID, w.Steps)
}

// ReorderSteps renumbers every step 1..N in the order stepIDs lists them
// (spec §4.3 bulk reorder: "caller supplies a permutation of the current
// orders; the executor renumbers 1..N in the given sequence").
func (s *Service) ReorderSteps(ctx context.Context, workflowID uuid.UUID, stepIDs []string) error {
	w, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if len(stepIDs) != len(w.Steps) {
		return fmt.Errorf("%w: expected %d step ids, got %d", ErrInvalidOrders, len(w.Steps), len(stepIDs))
	}

	byID := make(map[string]store.Step, len(w.Steps))
	for _, st := range w.Steps {
		byID[st.ID] = st
	}

	reordered := make([]store.Step, 0, len(stepIDs))
	for i, id := range stepIDs {
		step, ok := byID[id]
		if !ok {
			return fmt.Errorf("%w: unknown step id %q", ErrStepNotFound, id)
		}
		step.Order = i + 1
		reordered = append(reordered, step)
	}

	if err := validateOrders(reordered); err != nil {
		return err
	}
	return s.store.ReplaceSteps(ctx, workflowID, reordered)
}

// DeleteStep removes a step then compacts the remaining steps to a
// contiguous 1..N sequence preserving their relative order (spec §4.3).
func (s *Service) DeleteStep(ctx context.Context, workflowID uuid.UUID, stepID string) error {
	w, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}

	remaining := make([]store.Step, 0, len(w.Steps))
	found := false
	for _, st := range w.Steps {
		if st.ID == stepID {
			found = true
			continue
		}
		remaining = append(remaining, st)
	}
	if !found {
		return ErrStepNotFound
	}

	sort.Slice(remaining, func(i, j int) bool { return remaining[i].Order < remaining[j].Order })
	for i := range remaining {
		remaining[i].Order = i + 1
	}

	if err := validateOrders(remaining); err != nil {
		return err
	}
	return s.store.ReplaceSteps(ctx, workflowID, remaining)
}

// validateOrders is the mandatory pass after every mutation (spec §4.3:
// "Every mutation is followed by a validate-orders pass that must
// succeed before persistence"). It does not itself require contiguity —
// append is explicitly allowed to leave a gap at N+1 only when no
// explicit order was requested, which callers already guarantee by
// construction — but it does require uniqueness and positivity.
func validateOrders(steps []store.Step) error {
	seen := make(map[int]bool, len(steps))
	for _, st := range steps {
		if st.Order <= 0 {
			return fmt.Errorf("%w: order %d is not positive", ErrInvalidOrders, st.Order)
		}
		if seen[st.Order] {
			return fmt.Errorf("%w: duplicate order %d", ErrInvalidOrders, st.Order)
		}
		seen[st.Order] = true
	}
	return nil
}

// --- Sharing ---

func (s *Service) Share(ctx context.Context, workflowID, groupID uuid.UUID, perm store.SharePermission) error {
	return s.store.UpsertShare(ctx, store.WorkflowShare{WorkflowID: workflowID, GroupID: groupID, Permission: perm})
}

func (s *Service) Unshare(ctx context.Context, workflowID, groupID uuid.UUID) error {
	return s.store.RemoveShare(ctx, workflowID, groupID)
}

// EffectiveShare returns the best (highest-ranked) permission across the
// groups the requesting user belongs to for this workflow, or "" if none
// apply — the input to authz.WorkflowContext.BestShare.
func EffectiveShare(shares []store.WorkflowShare, memberOf map[uuid.UUID]bool) store.SharePermission {
	rank := map[store.SharePermission]int{
		store.ShareRead:    1,
		store.ShareExecute: 1,
		store.ShareWrite:   2,
	}
	best := store.SharePermission("")
	bestRank := 0
	for _, sh := range shares {
		if !memberOf[sh.GroupID] {
			continue
		}
		if r := rank[sh.Permission]; r > bestRank {
			bestRank = r
			best = sh.Permission
		}
	}
	return best
}
