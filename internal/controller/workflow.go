package controller

import (
	"context"
	"fmt"
	"strings"

	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/storage"
	"go.uber.org/zap"
)

// WorkflowStep은 일반 워크플로 단계의 종류 태그입니다.
type WorkflowStep string

const (
	StepAgentChat WorkflowStep = "agent_chat"
	StepRAGQuery  WorkflowStep = "rag_query"
	StepMCPTool   WorkflowStep = "mcp_tool"
)

// WorkflowStepSpec은 workflows.steps의 원소입니다.
type WorkflowStepSpec struct {
	Type      WorkflowStep   `json:"type"`
	AgentID   string         `json:"agent_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	IndexID   string         `json:"index_id,omitempty"`
	Query     string         `json:"query,omitempty"`
	TopK      int            `json:"top_k,omitempty"`
	ServerID  string         `json:"server_id,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

func (s WorkflowStepSpec) validate() error {
	switch s.Type {
	case StepAgentChat:
		if s.AgentID == "" {
			return fmt.Errorf("agent_chat step requires agent_id")
		}
	case StepRAGQuery:
		if s.IndexID == "" {
			return fmt.Errorf("rag_query step requires index_id")
		}
	case StepMCPTool:
		if s.ServerID == "" || s.Tool == "" {
			return fmt.Errorf("mcp_tool step requires server_id and tool")
		}
	default:
		return fmt.Errorf("unknown step type %q", s.Type)
	}
	return nil
}

// ExecuteWorkflow는 사용자 워크플로를 실행합니다.
// 상태는 running을 거쳐 completed 또는 failed가 되며 결과는 last_result에 저장됩니다.
func (c *Controller) ExecuteWorkflow(ctx context.Context, userID string, req ExecuteWorkflowRequest) (*WorkflowResult, error) {
	const op = "execute-workflow"
	if req.WorkflowID == "" {
		return nil, invalid(op, "workflow_id is required")
	}
	wf, err := storage.GetOwned[storage.Workflow](ctx, c.repo, userID, req.WorkflowID)
	if err != nil {
		return nil, wrap(op, err)
	}
	steps, err := storage.DecodeJSON[[]WorkflowStepSpec](wf.Steps)
	if err != nil {
		return nil, invalid(op, "steps: %v", err)
	}
	if len(steps) == 0 {
		return nil, invalid(op, "workflow has no steps")
	}
	for i, step := range steps {
		if err := step.validate(); err != nil {
			return nil, invalid(op, "step %d: %v", i, err)
		}
	}

	if _, err := c.repo.StartWorkflowRun(ctx, userID, wf.ID); err != nil {
		return nil, wrap(op, err)
	}

	result := &WorkflowResult{WorkflowID: wf.ID, Steps: make([]WorkflowStepResult, 0, len(steps))}
	input := normalize(req.Input)
	previous := input

	var runErr error
	for i, step := range steps {
		output, err := c.runStep(ctx, userID, step, input, previous)
		if err != nil {
			runErr = &FunctionError{Op: op, Err: fmt.Errorf("step %d (%s): %w", i, step.Type, err)}
			break
		}
		result.Steps = append(result.Steps, WorkflowStepResult{Index: i, Type: step.Type, Output: output})
		previous = output
	}

	result.Output = previous
	result.Status = storage.WorkflowStatusCompleted
	if runErr != nil {
		result.Status = storage.WorkflowStatusFailed
		result.Error = runErr.Error()
	}

	encoded, err := storage.EncodeJSON(result)
	if err != nil {
		return nil, wrap(op, err)
	}
	final, err := c.repo.SetWorkflowRun(context.WithoutCancel(ctx), userID, wf.ID, result.Status, encoded)
	if err != nil {
		return nil, wrap(op, err)
	}

	c.logger.Info("Workflow executed",
		zap.String("workflow_id", wf.ID),
		zap.String("status", result.Status),
		zap.Int("steps", len(result.Steps)),
	)
	c.notifyWorkflow(userID, final, result)

	if runErr != nil {
		return result, runErr
	}
	return result, nil
}

func (c *Controller) runStep(ctx context.Context, userID string, step WorkflowStepSpec, input, previous string) (string, error) {
	switch step.Type {
	case StepAgentChat:
		res, err := c.Chat(ctx, userID, ChatRequest{
			AgentID: step.AgentID,
			Message: render(step.Message, input, previous),
		})
		if err != nil {
			return "", err
		}
		return res.Response, nil

	case StepRAGQuery:
		row, err := c.Query(ctx, userID, RAGQueryRequest{
			IndexID: step.IndexID,
			Query:   render(step.Query, input, previous),
			TopK:    step.TopK,
		})
		if err != nil {
			return "", err
		}
		results, err := row.ResultList()
		if err != nil {
			return "", err
		}
		parts := make([]string, 0, len(results))
		for _, r := range results {
			parts = append(parts, r.Content)
		}
		return strings.Join(parts, "\n\n"), nil

	case StepMCPTool:
		args := make(map[string]any, len(step.Arguments))
		for k, v := range step.Arguments {
			if s, ok := v.(string); ok {
				v = render(s, input, previous)
			}
			args[k] = v
		}
		res, err := c.ExecuteMCPTool(ctx, userID, MCPToolRequest{ServerID: step.ServerID, Tool: step.Tool, Arguments: args})
		if err != nil {
			return "", err
		}
		if res.Text != "" {
			return res.Text, nil
		}
		return string(res.Content), nil
	}
	return "", fmt.Errorf("unknown step type %q", step.Type)
}

// notifyWorkflow는 워크플로 결과를 연동된 채널로 비동기 전송합니다.
func (c *Controller) notifyWorkflow(userID string, wf *storage.Workflow, result *WorkflowResult) {
	if c.notifier == nil {
		return
	}
	summary := result.Output
	if result.Error != "" {
		summary = result.Error
	}
	c.spawn("notify-workflow:"+wf.ID, func(ctx context.Context) {
		if err := c.notifier.WorkflowFinished(ctx, userID, wf, truncate(summary, 1500)); err != nil {
			c.logger.Warn("Workflow notification failed", zap.String("workflow_id", wf.ID), zap.Error(err))
		}
	})
}
