package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/provider"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/storage"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 문서 본문은 프롬프트에 이 길이까지만 포함합니다.
const maxDocumentContext = 8000

const createAgentSchema = `{
	"type": "object",
	"required": ["name", "role", "system_prompt"],
	"properties": {
		"name": {"type": "string", "minLength": 1, "maxLength": 128},
		"description": {"type": "string", "maxLength": 2000},
		"role": {"enum": ["trader", "student", "founder"]},
		"provider": {"enum": ["", "openai", "anthropic", "gemini"]},
		"model": {"type": "string"},
		"system_prompt": {"type": "string", "minLength": 1},
		"config": {"type": "object"}
	}
}`

var createAgentValidator = mustSchema(createAgentSchema)

func mustSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("controller: invalid schema: %v", err))
	}
	return schema
}

// normalize는 입력 텍스트를 NFC로 정규화하고 양끝 공백을 제거합니다.
func normalize(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

// Chat은 활성화된 에이전트에게 메시지를 보내고 대화 한 턴을 기록합니다.
// 실패하면 아무 행도 쓰지 않습니다.
func (c *Controller) Chat(ctx context.Context, userID string, req ChatRequest) (*ChatResult, error) {
	const op = "chat-with-agent"

	message := normalize(req.Message)
	if message == "" {
		return nil, invalid(op, "message is required")
	}
	if req.AgentID == "" {
		return nil, invalid(op, "agent_id is required")
	}

	if _, err := c.repo.GetUserAgent(ctx, userID, req.AgentID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(op, "agent is not activated")
		}
		return nil, wrap(op, err)
	}
	agent, err := c.repo.GetAgent(ctx, req.AgentID)
	if err != nil {
		return nil, wrap(op, err)
	}

	system := agent.SystemPrompt
	var documentID *string
	if req.DocumentID != "" {
		doc, err := storage.GetOwned[storage.Document](ctx, c.repo, userID, req.DocumentID)
		if err != nil {
			return nil, wrap(op, err)
		}
		if doc.Content != "" {
			system += "\n\nReference document \"" + doc.Name + "\":\n" + truncate(doc.Content, maxDocumentContext)
		}
		documentID = &doc.ID
	}

	chatReq := provider.UserMessage(system, message)
	chatReq.Model = agent.Model
	resp, err := c.complete(ctx, agent.Provider, chatReq)
	if err != nil {
		c.logger.Warn("Chat upstream failed",
			zap.String("agent_id", agent.ID),
			zap.String("provider", agent.Provider),
			zap.Error(err),
		)
		return nil, wrap(op, err)
	}

	meta := ChatMetadata{
		Model:            resp.Model,
		Provider:         resp.Provider,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	metaJSON, err := storage.EncodeJSON(meta)
	if err != nil {
		return nil, wrap(op, err)
	}
	interaction := &storage.AgentInteraction{
		AgentID:    agent.ID,
		Input:      message,
		Output:     resp.Content,
		DocumentID: documentID,
		Metadata:   metaJSON,
	}
	if err := c.repo.CreateInteraction(ctx, userID, interaction); err != nil {
		return nil, wrap(op, err)
	}

	c.logger.Info("Chat completed",
		zap.String("user_id", userID),
		zap.String("agent_id", agent.ID),
		zap.String("provider", resp.Provider),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return &ChatResult{Response: resp.Content, InteractionID: interaction.ID, Metadata: meta}, nil
}

// complete는 프로바이더를 고르고 타임아웃 안에서 호출합니다.
func (c *Controller) complete(ctx context.Context, providerName string, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	p, err := c.providers.Resolve(providerName)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withUpstreamTimeout(ctx)
	defer cancel()
	return p.Chat(ctx, req)
}

// CreateAgent는 스키마 검증 후 에이전트를 생성합니다. 역할은 이후 변경할 수 없습니다.
func (c *Controller) CreateAgent(ctx context.Context, userID string, raw []byte) (*storage.Agent, error) {
	const op = "create-agent"

	result, err := createAgentValidator.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, invalid(op, "malformed body: %v", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, invalid(op, "%s", strings.Join(msgs, "; "))
	}

	var req CreateAgentRequest
	if err := decodeBody(raw, &req); err != nil {
		return nil, invalid(op, "%v", err)
	}

	agent := &storage.Agent{
		Name:         normalize(req.Name),
		Description:  normalize(req.Description),
		Role:         req.Role,
		Provider:     req.Provider,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		Active:       true,
		CreatedBy:    userID,
	}
	if agent.Provider == "" {
		agent.Provider = storage.ProviderOpenAI
	}
	if len(req.Config) > 0 {
		agent.Config = datatypes.JSON(req.Config)
	}
	if err := c.repo.CreateAgent(ctx, agent); err != nil {
		return nil, wrap(op, err)
	}

	c.logger.Info("Agent created",
		zap.String("agent_id", agent.ID),
		zap.String("role", agent.Role),
		zap.String("created_by", userID),
	)
	return agent, nil
}

// SelectInitialRole은 프로필 역할을 한 번 설정하고 그 역할의 에이전트를 최대 한도까지 활성화합니다.
func (c *Controller) SelectInitialRole(ctx context.Context, userID string, req SelectRoleRequest) (*SelectRoleResult, error) {
	const op = "select-initial-role"

	if !storage.ValidRole(req.Role) {
		return nil, invalid(op, "role must be one of trader, student, founder")
	}
	profile, err := c.repo.SetInitialRole(ctx, userID, req.Role)
	if err != nil {
		return nil, wrap(op, err)
	}

	agents, err := c.repo.ListAgents(ctx, storage.AgentFilter{Role: req.Role, ActiveOnly: true})
	if err != nil {
		return nil, wrap(op, err)
	}

	activated := []string{}
	for _, agent := range agents {
		if len(activated) == storage.MaxActiveAgents {
			break
		}
		if _, err := c.repo.ActivateAgent(ctx, userID, agent.ID, nil); err != nil {
			if errors.Is(err, storage.ErrActivationLimit) {
				break
			}
			if errors.Is(err, storage.ErrAlreadyActive) {
				continue
			}
			return nil, wrap(op, err)
		}
		activated = append(activated, agent.ID)
	}

	c.logger.Info("Initial role selected",
		zap.String("user_id", userID),
		zap.String("role", req.Role),
		zap.Int("activated", len(activated)),
	)
	return &SelectRoleResult{Profile: profile, Activated: activated}, nil
}

// ActivateAgent는 에이전트를 활성화합니다. 한도와 중복은 저장소에서 원자적으로 검사합니다.
func (c *Controller) ActivateAgent(ctx context.Context, userID string, req ActivateRequest) (*storage.UserAgent, error) {
	const op = "activate-agent"
	if req.AgentID == "" {
		return nil, invalid(op, "agent_id is required")
	}
	var config datatypes.JSON
	if len(req.Config) > 0 {
		config = datatypes.JSON(req.Config)
	}
	row, err := c.repo.ActivateAgent(ctx, userID, req.AgentID, config)
	if err != nil {
		return nil, wrap(op, err)
	}
	return row, nil
}

// DeactivateAgent는 활성화 행 하나를 삭제합니다.
func (c *Controller) DeactivateAgent(ctx context.Context, userID string, req DeactivateRequest) error {
	const op = "deactivate-agent"
	if req.AgentID == "" {
		return invalid(op, "agent_id is required")
	}
	if err := c.repo.DeactivateAgent(ctx, userID, req.AgentID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(op, "agent is not activated")
		}
		return wrap(op, err)
	}
	return nil
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
