package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/controller"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/resource"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/storage"
	"go.uber.org/zap"
)

func buildAgentCommands(logger *zap.Logger) *cobra.Command {
	agentCmd := &cobra.Command{
		Use:   "agent",
		Short: "Agent 관리 명령어",
		Long:  "역할 선택, Agent 조회, 활성화, 생성 기능을 제공합니다.",
	}

	// agent list
	var showActive bool
	agentListCmd := &cobra.Command{
		Use:   "list",
		Short: "Agent 목록 조회",
		Long:  "현재 역할로 사용할 수 있는 Agent 목록을 조회합니다. --active는 활성화된 Agent만 보여줍니다.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentList(logger, showActive)
		},
	}
	agentListCmd.Flags().BoolVar(&showActive, "active", false, "활성화된 Agent만 조회")

	// agent role
	agentRoleCmd := &cobra.Command{
		Use:   "role <trader|student|founder>",
		Short: "최초 역할 선택",
		Long:  "프로필 역할을 선택하고 해당 역할의 Agent를 최대 5개까지 자동 활성화합니다. 역할은 한 번만 선택할 수 있습니다.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentRole(logger, args[0])
		},
	}

	// agent activate
	agentActivateCmd := &cobra.Command{
		Use:   "activate <agent-id>",
		Short: "Agent 활성화",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAgents(logger, func(ctx context.Context, h *resource.AgentsHook) error {
				_, err := h.Activate(ctx, args[0])
				return err
			})
		},
	}

	// agent deactivate
	agentDeactivateCmd := &cobra.Command{
		Use:   "deactivate <agent-id>",
		Short: "Agent 비활성화",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAgents(logger, func(ctx context.Context, h *resource.AgentsHook) error {
				return h.Deactivate(ctx, args[0])
			})
		},
	}

	// agent create
	agentCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "새로운 Agent 생성",
		Long:  "대화형 입력을 통해 새로운 Agent를 생성합니다.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentCreate(logger)
		},
	}

	// agent history
	agentHistoryCmd := &cobra.Command{
		Use:   "history [agent-id]",
		Short: "대화 기록 조회",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agentID := ""
			if len(args) == 1 {
				agentID = args[0]
			}
			return runAgentHistory(logger, agentID)
		},
	}

	// agent rename
	agentRenameCmd := &cobra.Command{
		Use:   "rename <display-name>",
		Short: "프로필 표시 이름 변경",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAgents(logger, func(ctx context.Context, h *resource.AgentsHook) error {
				_, err := h.SetDisplayName(ctx, normalizeInput(args[0]))
				return err
			})
		},
	}

	agentCmd.AddCommand(agentListCmd)
	agentCmd.AddCommand(agentRoleCmd)
	agentCmd.AddCommand(agentActivateCmd)
	agentCmd.AddCommand(agentDeactivateCmd)
	agentCmd.AddCommand(agentCreateCmd)
	agentCmd.AddCommand(agentHistoryCmd)
	agentCmd.AddCommand(agentRenameCmd)

	return agentCmd
}

func withAgents(logger *zap.Logger, fn func(ctx context.Context, h *resource.AgentsHook) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	hook, err := openHook(ctx, logger, resource.OpenAgents)
	if err != nil {
		return err
	}
	defer hook.Close()
	return fn(ctx, hook)
}

func runAgentList(logger *zap.Logger, activeOnly bool) error {
	return withAgents(logger, func(_ context.Context, h *resource.AgentsHook) error {
		role := h.Role()
		if role == "" {
			fmt.Println("역할이 선택되지 않았습니다. 'echosync agent role <trader|student|founder>'로 선택하세요.")
			return nil
		}

		agents := h.Available()
		if activeOnly {
			agents = h.ActiveAgents()
		}
		if len(agents) == 0 {
			fmt.Printf("%s 역할의 Agent가 없습니다.\n", role)
			return nil
		}

		active := make(map[string]bool)
		for _, a := range h.ActiveAgents() {
			active[a.ID] = true
		}

		// 테이블 형식 출력
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "ID\tNAME\tACTIVE\tPROVIDER\tDESCRIPTION")
		_, _ = fmt.Fprintln(w, "--\t----\t------\t--------\t-----------")
		for _, a := range agents {
			mark := ""
			if active[a.ID] {
				mark = "✓"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.Name, mark, a.Provider, truncate(a.Description, 40))
		}
		_ = w.Flush()
		fmt.Printf("\n역할: %s, 활성 %d/%d\n", role, len(active), storage.MaxActiveAgents)
		return nil
	})
}

func runAgentRole(logger *zap.Logger, role string) error {
	role = strings.ToLower(normalizeInput(role))
	return withAgents(logger, func(ctx context.Context, h *resource.AgentsHook) error {
		result, err := h.SelectRole(ctx, role)
		if err != nil {
			return err
		}
		fmt.Printf("역할 '%s' 선택, Agent %d개 활성화\n", result.Profile.Role, len(result.Activated))
		return nil
	})
}

func runAgentCreate(logger *zap.Logger) error {
	reader := bufio.NewReader(os.Stdin)
	prompt := func(label string) string {
		fmt.Print(label)
		line, _ := reader.ReadString('\n')
		return normalizeInput(line)
	}

	// 대화형 입력
	req := controller.CreateAgentRequest{
		Name:        prompt("Agent 이름: "),
		Description: prompt("설명: "),
		Role:        strings.ToLower(prompt("역할 (trader/student/founder): ")),
	}
	req.Provider = strings.ToLower(prompt("프로바이더 (openai/anthropic/gemini) [openai]: "))
	if req.Provider == "" {
		req.Provider = storage.ProviderOpenAI
	}
	req.Model = prompt("모델 (비워두면 프로바이더 기본값): ")
	req.SystemPrompt = prompt("시스템 프롬프트 (역할 정의): ")

	return withAgents(logger, func(ctx context.Context, h *resource.AgentsHook) error {
		agent, err := h.CreateAgent(ctx, req)
		if err != nil {
			return err
		}
		fmt.Printf("Agent '%s' (%s, %s)\n", agent.Name, agent.ID, agent.Provider)
		return nil
	})
}

func runAgentHistory(logger *zap.Logger, agentID string) error {
	return withAgents(logger, func(_ context.Context, h *resource.AgentsHook) error {
		history := h.History(agentID)
		if len(history) == 0 {
			fmt.Println("대화 기록이 없습니다.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "TIME\tAGENT\tMESSAGE\tRESPONSE")
		for _, it := range history {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				it.CreatedAt.Local().Format("2006-01-02 15:04"),
				it.AgentID,
				truncate(it.Message, 30),
				truncate(it.Response, 50),
			)
		}
		return w.Flush()
	})
}

// buildChatCommand는 chat 명령어를 만듭니다. 메시지 인자가 없으면 대화형으로 동작합니다.
func buildChatCommand(logger *zap.Logger) *cobra.Command {
	var documentID string
	cmd := &cobra.Command{
		Use:   "chat <agent-id> [message]",
		Short: "Agent와 대화",
		Long:  "활성화된 Agent에게 메시지를 보냅니다. 메시지를 생략하면 빈 줄이나 /exit 입력까지 대화를 이어갑니다.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAgents(logger, func(ctx context.Context, h *resource.AgentsHook) error {
				if len(args) == 2 {
					return chatOnce(ctx, h, args[0], normalizeInput(args[1]), documentID)
				}
				return chatLoop(ctx, h, args[0], documentID)
			})
		},
	}
	cmd.Flags().StringVar(&documentID, "document", "", "대화에 첨부할 문서 ID")
	return cmd
}

func chatOnce(ctx context.Context, h *resource.AgentsHook, agentID, message, documentID string) error {
	reply, err := h.SendMessage(ctx, agentID, message, documentID)
	if err != nil {
		return err
	}
	fmt.Printf("\n%s\n\n(%s/%s, %d tokens)\n", reply.Response, reply.Metadata.Provider, reply.Metadata.Model, reply.Metadata.TotalTokens)
	return nil
}

func chatLoop(ctx context.Context, h *resource.AgentsHook, agentID, documentID string) error {
	agent, ok := h.Agents.Get(agentID)
	if !ok {
		return fmt.Errorf("agent %s를 찾을 수 없습니다", agentID)
	}
	fmt.Printf("%s와 대화를 시작합니다. 종료하려면 빈 줄이나 /exit를 입력하세요.\n", agent.Name)

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		message := normalizeInput(line)
		if message == "" || message == "/exit" {
			return nil
		}
		if chatErr := chatOnce(ctx, h, agentID, message, documentID); chatErr != nil {
			// 실패는 notifier가 이미 출력했습니다
			continue
		}
		if err != nil {
			return nil
		}
	}
}
