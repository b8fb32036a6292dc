package resource

import (
	"context"

	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/controller"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/storage"
)

// A2AHook은 A2A 메시지와 워크플로를 동기화합니다.
type A2AHook struct {
	cfg     config
	backend Backend
	group   group

	Messages  *Collection[storage.A2AMessage]
	Workflows *Collection[storage.A2AWorkflow]
}

// NewA2AWorkflow는 워크플로 등록 입력입니다.
type NewA2AWorkflow struct {
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	AgentIDs    []string             `json:"agent_ids"`
	Steps       []controller.A2AStep `json:"steps"`
	Active      bool                 `json:"active"`
}

// OpenA2A는 A2AHook을 시작합니다.
func OpenA2A(ctx context.Context, backend Backend, opts ...Option) (*A2AHook, error) {
	h := &A2AHook{cfg: newConfig(opts), backend: backend}
	logger := h.cfg.logger.Named("a2a")

	var err error
	if h.Messages, err = openInto(ctx, &h.group, backend, storage.TableA2AMessages, Options[storage.A2AMessage]{
		Accept: forwardOnly,
	}, logger); err != nil {
		return nil, err
	}
	if h.Workflows, err = openInto(ctx, &h.group, backend, storage.TableA2AWorkflows, Options[storage.A2AWorkflow]{}, logger); err != nil {
		return nil, err
	}
	return h, nil
}

// forwardOnly는 메시지 상태가 뒤로 가는 패치를 버립니다.
func forwardOnly(old, next storage.A2AMessage) bool {
	from, to := storage.A2AStatusRank(old.Status), storage.A2AStatusRank(next.Status)
	if to != from {
		return to > from
	}
	return !next.UpdatedAt.Before(old.UpdatedAt)
}

// Wait는 모든 컬렉션의 초기 조회를 기다립니다.
func (h *A2AHook) Wait(ctx context.Context) error {
	return waitAll(ctx, h.Messages, h.Workflows)
}

// Close는 모든 구독을 닫습니다.
func (h *A2AHook) Close() error {
	return h.group.closeAll()
}

// Conversation은 workflowID에 속한 메시지입니다. 비어있으면 워크플로 밖의 메시지입니다.
func (h *A2AHook) Conversation(workflowID string) []storage.A2AMessage {
	var out []storage.A2AMessage
	for _, m := range h.Messages.Items() {
		var wf string
		if m.WorkflowID != nil {
			wf = *m.WorkflowID
		}
		if wf == workflowID {
			out = append(out, m)
		}
	}
	return out
}

// Send는 메시지를 보내고 수신 에이전트의 응답을 받습니다.
func (h *A2AHook) Send(ctx context.Context, req controller.A2ARequest) (*controller.A2AResult, error) {
	var out controller.A2AResult
	err := h.backend.Invoke(ctx, controller.FnA2ACommunication, req, &out)
	if err := notify(h.cfg.notifier, controller.FnA2ACommunication, "Message delivered", err); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateWorkflow는 워크플로를 등록합니다.
func (h *A2AHook) CreateWorkflow(ctx context.Context, in NewA2AWorkflow) (*storage.A2AWorkflow, error) {
	var out storage.A2AWorkflow
	err := h.backend.Insert(ctx, storage.TableA2AWorkflows, in, &out)
	if err := notify(h.cfg.notifier, "create-a2a-workflow", "Workflow created", err); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateWorkflow는 워크플로 컬럼을 변경합니다.
func (h *A2AHook) UpdateWorkflow(ctx context.Context, id string, values map[string]any) (*storage.A2AWorkflow, error) {
	var out storage.A2AWorkflow
	err := h.backend.Update(ctx, storage.TableA2AWorkflows, id, values, &out)
	if err := notify(h.cfg.notifier, "update-a2a-workflow", "Workflow updated", err); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteWorkflow는 워크플로를 삭제합니다.
func (h *A2AHook) DeleteWorkflow(ctx context.Context, id string) error {
	err := h.backend.Delete(ctx, storage.TableA2AWorkflows, id)
	return notify(h.cfg.notifier, "delete-a2a-workflow", "Workflow deleted", err)
}

// ExecuteWorkflow는 워크플로 단계를 순서대로 실행합니다.
func (h *A2AHook) ExecuteWorkflow(ctx context.Context, workflowID, input string) (*controller.A2AWorkflowResult, error) {
	var out controller.A2AWorkflowResult
	err := h.backend.Invoke(ctx, controller.FnExecuteA2AWorkflow, controller.ExecuteA2AWorkflowRequest{
		WorkflowID: workflowID,
		Input:      input,
	}, &out)
	if err := notify(h.cfg.notifier, controller.FnExecuteA2AWorkflow, "Workflow executed", err); err != nil {
		return nil, err
	}
	return &out, nil
}
