package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/realtime"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AgentFilter는 에이전트 목록 조건입니다.
type AgentFilter struct {
	Role       string
	ActiveOnly bool
}

// CreateAgent는 새로운 에이전트 레코드를 저장합니다.
func (r *Repository) CreateAgent(ctx context.Context, agent *Agent) error {
	if agent == nil {
		return fmt.Errorf("storage: nil agent payload")
	}
	if agent.Name == "" {
		return fmt.Errorf("storage: empty agent name")
	}
	if err := r.db.WithContext(ctx).Create(agent).Error; err != nil {
		return err
	}
	r.publish(ctx, realtime.EventInsert, "", agent)
	return nil
}

// GetAgent는 식별자로 에이전트를 조회합니다.
func (r *Repository) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	if agentID == "" {
		return nil, fmt.Errorf("storage: empty agentID")
	}
	var agent Agent
	if err := r.db.WithContext(ctx).
		Where("id = ?", agentID).
		First(&agent).Error; err != nil {
		return nil, err
	}
	return &agent, nil
}

// ListAgents는 필터를 적용해 에이전트 목록을 생성 시각 역순으로 반환합니다.
func (r *Repository) ListAgents(ctx context.Context, filter AgentFilter) ([]Agent, error) {
	q := r.db.WithContext(ctx).Model(&Agent{})
	if filter.Role != "" {
		q = q.Where("role = ?", filter.Role)
	}
	if filter.ActiveOnly {
		q = q.Where("active = ?", true)
	}
	var agents []Agent
	if err := q.Order("created_at DESC").Find(&agents).Error; err != nil {
		return nil, err
	}
	return agents, nil
}

// SetAgentActive는 에이전트 노출 여부를 변경합니다.
func (r *Repository) SetAgentActive(ctx context.Context, agentID string, active bool) (*Agent, error) {
	if agentID == "" {
		return nil, fmt.Errorf("storage: empty agentID")
	}
	res := r.db.WithContext(ctx).
		Model(&Agent{}).
		Where("id = ?", agentID).
		Update("active", active)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	agent, err := r.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	r.publish(ctx, realtime.EventUpdate, "", agent)
	return agent, nil
}

// EnsureProfile은 userID 프로필을 조회하고 없으면 생성합니다.
func (r *Repository) EnsureProfile(ctx context.Context, userID string) (*Profile, error) {
	if userID == "" {
		return nil, fmt.Errorf("storage: empty userID")
	}
	profile, err := r.GetProfile(ctx, userID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	profile = &Profile{ID: userID}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(profile).Error; err != nil {
		return nil, err
	}
	r.publish(ctx, realtime.EventInsert, userID, profile)
	return r.GetProfile(ctx, userID)
}

// GetProfile은 userID 프로필을 조회합니다.
func (r *Repository) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	if userID == "" {
		return nil, fmt.Errorf("storage: empty userID")
	}
	var profile Profile
	if err := r.db.WithContext(ctx).Where("id = ?", userID).First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// UpdateProfileDisplayName은 표시 이름을 변경합니다.
func (r *Repository) UpdateProfileDisplayName(ctx context.Context, userID, displayName string) (*Profile, error) {
	if _, err := r.EnsureProfile(ctx, userID); err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).
		Model(&Profile{}).
		Where("id = ?", userID).
		Update("display_name", displayName).Error; err != nil {
		return nil, err
	}
	profile, err := r.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	r.publish(ctx, realtime.EventUpdate, userID, profile)
	return profile, nil
}

// SetInitialRole은 비어있는 프로필 역할을 한 번만 설정합니다.
func (r *Repository) SetInitialRole(ctx context.Context, userID, role string) (*Profile, error) {
	if !ValidRole(role) {
		return nil, fmt.Errorf("storage: invalid role %q", role)
	}
	if _, err := r.EnsureProfile(ctx, userID); err != nil {
		return nil, err
	}
	res := r.db.WithContext(ctx).
		Model(&Profile{}).
		Where("id = ? AND role = ?", userID, "").
		Update("role", role)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrRoleAlreadySet
	}
	profile, err := r.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	r.publish(ctx, realtime.EventUpdate, userID, profile)
	return profile, nil
}

// ActivateAgent는 userID에 agentID를 활성화합니다.
//
// 개수 확인과 삽입은 하나의 트랜잭션에서 실행되고, PostgreSQL에서는 프로필 행을
// 잠가 같은 사용자의 동시 활성화를 직렬화합니다. (user_id, agent_id) 유니크
// 인덱스가 중복 활성화를 최종적으로 막습니다.
func (r *Repository) ActivateAgent(ctx context.Context, userID, agentID string, config datatypes.JSON) (*UserAgent, error) {
	if userID == "" || agentID == "" {
		return nil, fmt.Errorf("storage: empty userID or agentID")
	}

	if _, err := r.EnsureProfile(ctx, userID); err != nil {
		return nil, err
	}

	var created *UserAgent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			var profile Profile
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id = ?", userID).
				First(&profile).Error; err != nil {
				return err
			}
		}

		var agent Agent
		if err := tx.Where("id = ?", agentID).First(&agent).Error; err != nil {
			return err
		}
		if !agent.Active {
			return ErrAgentInactive
		}

		var existing int64
		if err := tx.Model(&UserAgent{}).
			Where("user_id = ? AND agent_id = ?", userID, agentID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrAlreadyActive
		}

		var active int64
		if err := tx.Model(&UserAgent{}).
			Where("user_id = ?", userID).
			Count(&active).Error; err != nil {
			return err
		}
		if active >= MaxActiveAgents {
			return ErrActivationLimit
		}

		row := &UserAgent{UserID: userID, AgentID: agentID, Config: config}
		if err := tx.Create(row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyActive
			}
			return err
		}
		created = row
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.publish(ctx, realtime.EventInsert, userID, created)
	return created, nil
}

// DeactivateAgent는 userID와 agentID의 활성화 행 하나를 삭제합니다.
func (r *Repository) DeactivateAgent(ctx context.Context, userID, agentID string) error {
	if userID == "" || agentID == "" {
		return fmt.Errorf("storage: empty userID or agentID")
	}
	var row UserAgent
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND agent_id = ?", userID, agentID).
		First(&row).Error; err != nil {
		return err
	}
	res := r.db.WithContext(ctx).
		Where("id = ?", row.ID).
		Delete(&UserAgent{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	r.publish(ctx, realtime.EventDelete, userID, &row)
	return nil
}

// CountUserAgents는 사용자의 활성화 행 수를 반환합니다.
func (r *Repository) CountUserAgents(ctx context.Context, userID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&UserAgent{}).
		Where("user_id = ?", userID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// GetUserAgent는 userID의 agentID 활성화 행을 조회합니다.
func (r *Repository) GetUserAgent(ctx context.Context, userID, agentID string) (*UserAgent, error) {
	var row UserAgent
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND agent_id = ?", userID, agentID).
		First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// ListUserAgents는 사용자의 활성화 목록을 반환합니다.
// 에이전트가 활성 상태이고 역할이 프로필 역할과 일치하는 행만 읽기 시점에 걸러 반환합니다.
func (r *Repository) ListUserAgents(ctx context.Context, userID string) ([]UserAgent, error) {
	if userID == "" {
		return nil, fmt.Errorf("storage: empty userID")
	}
	var rows []UserAgent
	if err := r.db.WithContext(ctx).
		Model(&UserAgent{}).
		Select("user_agents.*").
		Joins("JOIN agents ON agents.id = user_agents.agent_id").
		Joins("JOIN profiles ON profiles.id = user_agents.user_id").
		Where("user_agents.user_id = ? AND agents.active = ? AND agents.role = profiles.role", userID, true).
		Order("user_agents.created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// CreateInteraction은 대화 한 턴을 추가합니다.
func (r *Repository) CreateInteraction(ctx context.Context, userID string, interaction *AgentInteraction) error {
	return InsertOwned(ctx, r, userID, interaction)
}

// ListInteractions는 사용자의 대화 기록을 반환합니다. agentID가 비어있으면 전체입니다.
func (r *Repository) ListInteractions(ctx context.Context, userID, agentID string) ([]AgentInteraction, error) {
	if userID == "" {
		return nil, fmt.Errorf("storage: empty userID")
	}
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if agentID != "" {
		q = q.Where("agent_id = ?", agentID)
	}
	var rows []AgentInteraction
	if err := q.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
