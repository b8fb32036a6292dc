package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/realtime"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrActivationLimit는 사용자의 활성 에이전트가 MaxActiveAgents개일 때 반환됩니다.
	ErrActivationLimit = errors.New("storage: active agent limit reached")
	// ErrAlreadyActive는 이미 활성화된 에이전트를 다시 활성화할 때 반환됩니다.
	ErrAlreadyActive = errors.New("storage: agent already active")
	// ErrAgentInactive는 비활성 에이전트를 활성화하려 할 때 반환됩니다.
	ErrAgentInactive = errors.New("storage: agent is not active")
	// ErrRoleAlreadySet은 프로필 역할을 두 번 선택할 때 반환됩니다.
	ErrRoleAlreadySet = errors.New("storage: profile role already set")
	// ErrStatusRegression은 상태를 뒤로 되돌리려 할 때 반환됩니다.
	ErrStatusRegression = errors.New("storage: status cannot move backwards")
	// ErrWorkflowRunning은 이미 실행 중인 워크플로를 다시 시작할 때 반환됩니다.
	ErrWorkflowRunning = errors.New("storage: workflow is already running")
)

// Repository는 EchoSync 도메인 객체를 위한 영속성 헬퍼를 제공합니다.
// 모든 쓰기는 커밋 이후 realtime 이벤트로 발행됩니다.
type Repository struct {
	db        *gorm.DB
	publisher realtime.Publisher
	logger    *zap.Logger
}

// Option은 Repository 옵션입니다.
type Option func(*Repository)

// WithPublisher는 변경 이벤트 발행자를 설정합니다.
func WithPublisher(p realtime.Publisher) Option {
	return func(r *Repository) {
		r.publisher = p
	}
}

// WithLogger는 로거를 설정합니다.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Repository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRepository는 전달된 gorm DB를 이용해 Repository를 생성합니다.
func NewRepository(db *gorm.DB, opts ...Option) (*Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("storage: repository requires a non-nil db handle")
	}
	r := &Repository{db: db, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// DB는 내부 gorm DB 참조를 반환합니다.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

type tabledRow interface {
	TableName() string
	GetID() string
}

// publish는 커밋된 변경을 발행합니다. 발행 실패는 쓰기를 실패시키지 않습니다.
func (r *Repository) publish(ctx context.Context, eventType, userID string, row tabledRow) {
	if r.publisher == nil {
		return
	}
	evt, err := realtime.NewChangeEvent(row.TableName(), eventType, userID, row.GetID(), row)
	if err != nil {
		r.logger.Warn("Failed to encode change event", zap.String("table", row.TableName()), zap.Error(err))
		return
	}
	if err := r.publisher.Publish(ctx, evt); err != nil {
		r.logger.Warn("Failed to publish change event",
			zap.String("table", row.TableName()),
			zap.String("row_id", row.GetID()),
			zap.Error(err),
		)
	}
}

type ownedRow interface {
	tabledRow
	SetUserID(string)
}

// ListOwned는 userID 소유 행을 생성 시각 역순으로 반환합니다.
func ListOwned[T any](ctx context.Context, r *Repository, userID string) ([]T, error) {
	if userID == "" {
		return nil, fmt.Errorf("storage: empty userID")
	}
	var rows []T
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// GetOwned는 userID 소유의 id 행을 조회합니다.
// 다른 사용자의 행은 gorm.ErrRecordNotFound로 보입니다.
func GetOwned[T any](ctx context.Context, r *Repository, userID, id string) (*T, error) {
	if userID == "" || id == "" {
		return nil, fmt.Errorf("storage: empty userID or id")
	}
	var row T
	if err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// InsertOwned는 row의 소유자를 userID로 지정해 저장합니다.
func InsertOwned[T any, P interface {
	*T
	ownedRow
}](ctx context.Context, r *Repository, userID string, row P) error {
	if row == nil {
		return fmt.Errorf("storage: nil payload")
	}
	if userID == "" {
		return fmt.Errorf("storage: empty userID")
	}
	row.SetUserID(userID)
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	r.publish(ctx, realtime.EventInsert, userID, row)
	return nil
}

// UpdateOwned는 userID 소유의 id 행에 fields를 적용하고 갱신된 행을 반환합니다.
func UpdateOwned[T any, P interface {
	*T
	tabledRow
}](ctx context.Context, r *Repository, userID, id string, fields map[string]any) (*T, error) {
	if userID == "" || id == "" {
		return nil, fmt.Errorf("storage: empty userID or id")
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("storage: no fields to update")
	}
	res := r.db.WithContext(ctx).
		Model(P(new(T))).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(fields)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	row, err := GetOwned[T](ctx, r, userID, id)
	if err != nil {
		return nil, err
	}
	r.publish(ctx, realtime.EventUpdate, userID, P(row))
	return row, nil
}

// DeleteOwned는 userID 소유의 id 행을 삭제합니다.
func DeleteOwned[T any, P interface {
	*T
	tabledRow
}](ctx context.Context, r *Repository, userID, id string) error {
	row, err := GetOwned[T](ctx, r, userID, id)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(P(new(T))).Error; err != nil {
		return err
	}
	r.publish(ctx, realtime.EventDelete, userID, P(row))
	return nil
}
