package resource

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/controller"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/storage"
)

// AgentsHook은 에이전트 카탈로그, 활성화 목록, 대화 기록, 프로필을 동기화합니다.
type AgentsHook struct {
	cfg     config
	backend Backend
	group   group

	Agents       *Collection[storage.Agent]
	Active       *Collection[storage.UserAgent]
	Interactions *Collection[storage.AgentInteraction]
	Profile      *Collection[storage.Profile]
}

// OpenAgents는 AgentsHook을 시작합니다.
func OpenAgents(ctx context.Context, backend Backend, opts ...Option) (*AgentsHook, error) {
	h := &AgentsHook{cfg: newConfig(opts), backend: backend}
	logger := h.cfg.logger.Named("agents")

	var err error
	if h.Agents, err = openInto(ctx, &h.group, backend, storage.TableAgents, Options[storage.Agent]{
		Query: url.Values{"active": {"true"}},
		Keep:  func(a storage.Agent) bool { return a.Active },
	}, logger); err != nil {
		return nil, err
	}
	if h.Active, err = openInto(ctx, &h.group, backend, storage.TableUserAgents, Options[storage.UserAgent]{}, logger); err != nil {
		return nil, err
	}
	if h.Interactions, err = openInto(ctx, &h.group, backend, storage.TableAgentInteractions, Options[storage.AgentInteraction]{}, logger); err != nil {
		return nil, err
	}
	if h.Profile, err = openInto(ctx, &h.group, backend, storage.TableProfiles, Options[storage.Profile]{}, logger); err != nil {
		return nil, err
	}
	return h, nil
}

// Wait는 모든 컬렉션의 초기 조회를 기다립니다.
func (h *AgentsHook) Wait(ctx context.Context) error {
	return waitAll(ctx, h.Agents, h.Active, h.Interactions, h.Profile)
}

// Loading은 하나라도 초기 조회 중이면 true입니다.
func (h *AgentsHook) Loading() bool {
	return h.Agents.Loading() || h.Active.Loading() || h.Interactions.Loading() || h.Profile.Loading()
}

// Close는 모든 구독을 닫습니다.
func (h *AgentsHook) Close() error {
	return h.group.closeAll()
}

// Role은 현재 프로필 역할입니다. 아직 선택하지 않았으면 빈 문자열입니다.
func (h *AgentsHook) Role() string {
	if rows := h.Profile.Items(); len(rows) > 0 {
		return rows[0].Role
	}
	return ""
}

// Available은 현재 역할로 활성화할 수 있는 에이전트입니다.
func (h *AgentsHook) Available() []storage.Agent {
	role := h.Role()
	var out []storage.Agent
	for _, a := range h.Agents.Items() {
		if role != "" && a.Role == role {
			out = append(out, a)
		}
	}
	return out
}

// ActiveAgents는 활성화된 에이전트를 활성화 순서(최근 먼저)로 반환합니다.
// 카탈로그에 없거나 역할이 다른 에이전트는 제외됩니다.
func (h *AgentsHook) ActiveAgents() []storage.Agent {
	role := h.Role()
	var out []storage.Agent
	for _, ua := range h.Active.Items() {
		agent, ok := h.Agents.Get(ua.AgentID)
		if !ok || agent.Role != role {
			continue
		}
		out = append(out, agent)
	}
	return out
}

// History는 agentID와의 대화 기록입니다. agentID가 비어있으면 전체입니다.
func (h *AgentsHook) History(agentID string) []storage.AgentInteraction {
	var out []storage.AgentInteraction
	for _, it := range h.Interactions.Items() {
		if agentID == "" || it.AgentID == agentID {
			out = append(out, it)
		}
	}
	return out
}

// SelectRole은 최초 역할을 선택하고 해당 역할 에이전트를 자동 활성화합니다.
func (h *AgentsHook) SelectRole(ctx context.Context, role string) (*controller.SelectRoleResult, error) {
	var out controller.SelectRoleResult
	err := h.backend.Invoke(ctx, controller.FnSelectInitialRole, controller.SelectRoleRequest{Role: role}, &out)
	if err := notify(h.cfg.notifier, controller.FnSelectInitialRole, "Role selected", err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Activate는 에이전트를 활성화합니다.
func (h *AgentsHook) Activate(ctx context.Context, agentID string) (*storage.UserAgent, error) {
	var out storage.UserAgent
	err := h.backend.Invoke(ctx, controller.FnActivateAgent, controller.ActivateRequest{AgentID: agentID}, &out)
	if err := notify(h.cfg.notifier, controller.FnActivateAgent, "Agent activated", err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Deactivate는 에이전트 활성화를 해제합니다.
func (h *AgentsHook) Deactivate(ctx context.Context, agentID string) error {
	err := h.backend.Invoke(ctx, controller.FnDeactivateAgent, controller.DeactivateRequest{AgentID: agentID}, nil)
	return notify(h.cfg.notifier, controller.FnDeactivateAgent, "Agent deactivated", err)
}

// SendMessage는 에이전트와 대화합니다. 빈 메시지는 원격 호출 없이 거부합니다.
func (h *AgentsHook) SendMessage(ctx context.Context, agentID, message, documentID string) (*controller.ChatResult, error) {
	if strings.TrimSpace(message) == "" {
		err := &controller.FunctionError{
			Op:  controller.FnChatWithAgent,
			Err: fmt.Errorf("%w: message is required", controller.ErrInvalidInput),
		}
		h.cfg.notifier.Failure(controller.FnChatWithAgent, err)
		return nil, err
	}
	var out controller.ChatResult
	err := h.backend.Invoke(ctx, controller.FnChatWithAgent, controller.ChatRequest{
		AgentID:    agentID,
		Message:    message,
		DocumentID: documentID,
	}, &out)
	if err := notify(h.cfg.notifier, controller.FnChatWithAgent, "Message sent", err); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateAgent는 새 에이전트를 등록합니다.
func (h *AgentsHook) CreateAgent(ctx context.Context, req controller.CreateAgentRequest) (*storage.Agent, error) {
	var out storage.Agent
	err := h.backend.Invoke(ctx, controller.FnCreateAgent, req, &out)
	if err := notify(h.cfg.notifier, controller.FnCreateAgent, "Agent created", err); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetDisplayName은 프로필 표시 이름을 변경합니다.
// 프로필이 아직 로드되지 않았으면 ErrInvalidInput입니다.
func (h *AgentsHook) SetDisplayName(ctx context.Context, name string) (*storage.Profile, error) {
	rows := h.Profile.Items()
	if len(rows) == 0 {
		err := fmt.Errorf("%w: profile not loaded", controller.ErrInvalidInput)
		h.cfg.notifier.Failure("update-profile", err)
		return nil, err
	}
	var out storage.Profile
	err := h.backend.Update(ctx, storage.TableProfiles, rows[0].ID, map[string]string{"display_name": name}, &out)
	if err := notify(h.cfg.notifier, "update-profile", "Profile updated", err); err != nil {
		return nil, err
	}
	return &out, nil
}
