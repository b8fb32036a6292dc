package controller

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/provider"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/storage"
	"go.uber.org/zap"
)

// A2AAction은 A2A 워크플로 단계의 동작 태그입니다.
type A2AAction string

const (
	A2AActionMessage   A2AAction = "message"
	A2AActionBroadcast A2AAction = "broadcast"
	A2AActionDelay     A2AAction = "delay"
)

// 한 delay 단계가 기다릴 수 있는 최대 시간입니다.
const maxStepDelay = 10 * time.Second

// A2AStep은 A2A 워크플로 단계 하나입니다. 사용하는 필드는 Action에 따라 다릅니다.
type A2AStep struct {
	Action  A2AAction `json:"action"`
	From    string    `json:"from,omitempty"`
	To      string    `json:"to,omitempty"`
	Content string    `json:"content,omitempty"`
	DelayMS int       `json:"delay_ms,omitempty"`
}

func (s A2AStep) validate(agentIDs []string) error {
	switch s.Action {
	case A2AActionMessage:
		if s.From == "" || s.To == "" {
			return fmt.Errorf("message step requires from and to")
		}
	case A2AActionBroadcast:
		if s.From == "" {
			return fmt.Errorf("broadcast step requires from")
		}
		if len(agentIDs) < 2 {
			return fmt.Errorf("broadcast step requires at least two workflow agents")
		}
	case A2AActionDelay:
		if s.DelayMS < 0 {
			return fmt.Errorf("delay_ms must not be negative")
		}
	default:
		return fmt.Errorf("unknown action %q", s.Action)
	}
	return nil
}

// SendA2AMessage는 메시지를 기록하고 수신 에이전트의 응답을 생성합니다.
// 상태는 sent, processing, completed 순으로만 이동하며 업스트림 실패 시 sent로 남습니다.
func (c *Controller) SendA2AMessage(ctx context.Context, userID string, req A2ARequest) (*A2AResult, error) {
	const op = "a2a-communication"

	content := normalize(req.Content)
	switch {
	case req.SenderAgentID == "" || req.ReceiverAgentID == "":
		return nil, invalid(op, "sender_agent_id and receiver_agent_id are required")
	case content == "":
		return nil, invalid(op, "content is required")
	}
	msgType := req.MessageType
	if msgType == "" {
		msgType = storage.A2ATypeDirect
	}
	if msgType != storage.A2ATypeDirect && msgType != storage.A2ATypeWorkflow {
		return nil, invalid(op, "message_type must be direct or workflow")
	}

	sender, err := c.repo.GetAgent(ctx, req.SenderAgentID)
	if err != nil {
		return nil, wrap(op, err)
	}
	receiver, err := c.repo.GetAgent(ctx, req.ReceiverAgentID)
	if err != nil {
		return nil, wrap(op, err)
	}

	var workflowID *string
	if req.WorkflowID != "" {
		workflowID = &req.WorkflowID
	}

	msg := &storage.A2AMessage{
		SenderAgentID:   sender.ID,
		ReceiverAgentID: receiver.ID,
		Content:         content,
		MessageType:     msgType,
		WorkflowID:      workflowID,
	}
	if err := c.repo.CreateA2AMessage(ctx, userID, msg); err != nil {
		return nil, wrap(op, err)
	}

	prompt := fmt.Sprintf("You received a message from agent %q (%s).\n\n%s", sender.Name, sender.Role, content)
	chatReq := provider.UserMessage(receiver.SystemPrompt, prompt)
	chatReq.Model = receiver.Model
	resp, err := c.complete(ctx, receiver.Provider, chatReq)
	if err != nil {
		c.logger.Warn("A2A upstream failed",
			zap.String("message_id", msg.ID),
			zap.String("receiver", receiver.ID),
			zap.Error(err),
		)
		return nil, wrap(op, err)
	}

	if _, err := c.repo.AdvanceA2AMessageStatus(ctx, userID, msg.ID, storage.A2AStatusProcessing); err != nil {
		return nil, wrap(op, err)
	}

	reply := &storage.A2AMessage{
		SenderAgentID:   receiver.ID,
		ReceiverAgentID: sender.ID,
		Content:         resp.Content,
		MessageType:     storage.A2ATypeResponse,
		Status:          storage.A2AStatusCompleted,
		WorkflowID:      workflowID,
	}
	if err := c.repo.CreateA2AMessage(ctx, userID, reply); err != nil {
		return nil, wrap(op, err)
	}

	completed, err := c.repo.AdvanceA2AMessageStatus(ctx, userID, msg.ID, storage.A2AStatusCompleted)
	if err != nil {
		return nil, wrap(op, err)
	}

	meta, err := storage.EncodeJSON(map[string]any{
		"a2a_message_id":  msg.ID,
		"sender_agent_id": sender.ID,
		"model":           resp.Model,
		"provider":        resp.Provider,
		"total_tokens":    resp.Usage.TotalTokens,
	})
	if err != nil {
		return nil, wrap(op, err)
	}
	if err := c.repo.CreateInteraction(ctx, userID, &storage.AgentInteraction{
		AgentID:  receiver.ID,
		Input:    content,
		Output:   resp.Content,
		Metadata: meta,
	}); err != nil {
		return nil, wrap(op, err)
	}

	return &A2AResult{Message: completed, Response: reply}, nil
}

// ExecuteA2AWorkflow는 워크플로 단계를 순서대로 실행합니다.
// 단계 내용의 {{input}}은 요청 입력으로, {{previous}}는 직전 응답으로 치환됩니다.
func (c *Controller) ExecuteA2AWorkflow(ctx context.Context, userID string, req ExecuteA2AWorkflowRequest) (*A2AWorkflowResult, error) {
	const op = "execute-a2a-workflow"
	if req.WorkflowID == "" {
		return nil, invalid(op, "workflow_id is required")
	}

	wf, err := storage.GetOwned[storage.A2AWorkflow](ctx, c.repo, userID, req.WorkflowID)
	if err != nil {
		return nil, wrap(op, err)
	}
	if !wf.Active {
		return nil, invalid(op, "workflow is not active")
	}

	agentIDs, err := storage.DecodeJSON[[]string](wf.AgentIDs)
	if err != nil {
		return nil, invalid(op, "agent_ids: %v", err)
	}
	steps, err := storage.DecodeJSON[[]A2AStep](wf.Steps)
	if err != nil {
		return nil, invalid(op, "steps: %v", err)
	}
	if len(steps) == 0 {
		return nil, invalid(op, "workflow has no steps")
	}
	for i, step := range steps {
		if err := step.validate(agentIDs); err != nil {
			return nil, invalid(op, "step %d: %v", i, err)
		}
	}

	result := &A2AWorkflowResult{WorkflowID: wf.ID, Steps: make([]A2AStepResult, 0, len(steps))}
	previous := normalize(req.Input)
	input := previous

	for i, step := range steps {
		stepResult := A2AStepResult{Index: i, Action: step.Action}

		switch step.Action {
		case A2AActionDelay:
			if err := sleep(ctx, time.Duration(step.DelayMS)*time.Millisecond); err != nil {
				return nil, wrap(op, err)
			}

		case A2AActionMessage, A2AActionBroadcast:
			targets := []string{step.To}
			if step.Action == A2AActionBroadcast {
				targets = targets[:0]
				for _, id := range agentIDs {
					if id != step.From {
						targets = append(targets, id)
					}
				}
			}
			content := render(step.Content, input, previous)
			for _, to := range targets {
				exchange, err := c.SendA2AMessage(ctx, userID, A2ARequest{
					SenderAgentID:   step.From,
					ReceiverAgentID: to,
					Content:         content,
					MessageType:     storage.A2ATypeWorkflow,
					WorkflowID:      wf.ID,
				})
				if err != nil {
					return nil, &FunctionError{Op: op, Err: fmt.Errorf("step %d: %w", i, err)}
				}
				stepResult.Exchanges = append(stepResult.Exchanges, exchange)
				previous = exchange.Response.Content
			}
		}

		result.Steps = append(result.Steps, stepResult)
	}
	result.Output = previous

	c.logger.Info("A2A workflow executed",
		zap.String("workflow_id", wf.ID),
		zap.Int("steps", len(steps)),
	)
	return result, nil
}

// render는 단계 템플릿을 치환합니다. 내용이 비어있으면 직전 응답을 그대로 전달합니다.
func render(tmpl, input, previous string) string {
	if strings.TrimSpace(tmpl) == "" {
		return previous
	}
	return strings.NewReplacer("{{input}}", input, "{{previous}}", previous).Replace(tmpl)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d > maxStepDelay {
		d = maxStepDelay
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
