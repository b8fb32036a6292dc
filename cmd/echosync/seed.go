package main

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/storage"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed catalog/agents.yaml
var agentCatalog []byte

type catalogAgent struct {
	Role         string `yaml:"role"`
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"system_prompt"`
}

func loadCatalog() ([]catalogAgent, error) {
	var agents []catalogAgent
	if err := yaml.Unmarshal(agentCatalog, &agents); err != nil {
		return nil, fmt.Errorf("카탈로그 파싱 실패: %w", err)
	}
	for _, a := range agents {
		if !storage.ValidRole(a.Role) || !storage.ValidProvider(a.Provider) || a.Name == "" {
			return nil, fmt.Errorf("카탈로그 항목 오류: %s/%s", a.Role, a.Name)
		}
	}
	return agents, nil
}

func runSeed(logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
	defer cancel()

	agents, err := loadCatalog()
	if err != nil {
		return err
	}

	repo, cleanup, err := initStorage(logger)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	added, err := seedAgents(ctx, repo, agents)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Agent %d개 추가 (카탈로그 %d개)\n", added, len(agents))
	return nil
}

// seedAgents는 같은 역할에 같은 이름이 없는 항목만 추가합니다.
func seedAgents(ctx context.Context, repo *storage.Repository, agents []catalogAgent) (int, error) {
	existing := make(map[string]bool)
	rows, err := repo.ListAgents(ctx, storage.AgentFilter{})
	if err != nil {
		return 0, err
	}
	for _, a := range rows {
		existing[a.Role+"/"+a.Name] = true
	}

	added := 0
	for _, a := range agents {
		if existing[a.Role+"/"+a.Name] {
			continue
		}
		if err := repo.CreateAgent(ctx, &storage.Agent{
			Name:         a.Name,
			Description:  a.Description,
			Role:         a.Role,
			Provider:     a.Provider,
			Model:        a.Model,
			SystemPrompt: a.SystemPrompt,
			Active:       true,
		}); err != nil {
			return added, fmt.Errorf("agent %s 추가 실패: %w", a.Name, err)
		}
		added++
	}
	return added, nil
}
