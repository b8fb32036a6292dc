package main

import (
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

func buildA2ACommands(logger *zap.Logger) *cobra.Command {
	a2aCmd := &cobra.Command{
		Use:   "a2a",
		Short: "Agent 간 통신 명령어",
		Long:  "Agent 간 메시지 전송과 A2A 워크플로 관리 기능을 제공합니다.",
	}

	// a2a send
	var workflowID string
	a2aSendCmd := &cobra.Command{
		Use:   "send <from-agent-id> <to-agent-id> <content>",
		Short: "Agent 간 메시지 전송",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withA2A(logger, func(ctx context.Context, h *resource.A2AHook) error {
				result, err := h.Send(ctx, controller.A2ARequest{
					SenderAgentID:   args[0],
					ReceiverAgentID: args[1],
					Content:         normalizeInput(args[2]),
					WorkflowID:      workflowID,
				})
				if err != nil {
					return err
				}
				if result.Response != nil {
					fmt.Printf("\n%s\n", result.Response.Content)
				}
				return nil
			})
		},
	}
	a2aSendCmd.Flags().StringVar(&workflowID, "workflow", "", "메시지를 묶을 워크플로 ID")

	// a2a log
	var logWorkflow string
	a2aLogCmd := &cobra.Command{
		Use:   "log",
		Short: "A2A 메시지 기록 조회",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withA2A(logger, func(_ context.Context, h *resource.A2AHook) error {
				return printMessages(h.Conversation(logWorkflow))
			})
		},
	}
	a2aLogCmd.Flags().StringVar(&logWorkflow, "workflow", "", "워크플로 ID (비우면 워크플로 밖의 메시지)")

	a2aCmd.AddCommand(a2aSendCmd)
	a2aCmd.AddCommand(a2aLogCmd)
	a2aCmd.AddCommand(buildA2AWorkflowCommands(logger))

	return a2aCmd
}

func buildA2AWorkflowCommands(logger *zap.Logger) *cobra.Command {
	wfCmd := &cobra.Command{
		Use:   "workflow",
		Short: "A2A 워크플로 관리",
	}

	// a2a workflow list
	wfListCmd := &cobra.Command{
		Use:   "list",
		Short: "A2A 워크플로 목록 조회",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withA2A(logger, func(_ context.Context, h *resource.A2AHook) error {
				workflows := h.Workflows.Items()
				if len(workflows) == 0 {
					fmt.Println("A2A 워크플로가 없습니다.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "ID\tNAME\tACTIVE\tSTEPS\tDESCRIPTION")
				for _, wf := range workflows {
					steps, _ := storage.DecodeJSON[[]controller.A2AStep](wf.Steps)
					_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%s\n", wf.ID, wf.Name, wf.Active, len(steps), truncate(wf.Description, 40))
				}
				return w.Flush()
			})
		},
	}

	// a2a workflow create
	var file string
	wfCreateCmd := &cobra.Command{
		Use:   "create --file <workflow.jsonc>",
		Short: "A2A 워크플로 등록",
		Long:  "JSONC 파일(name, description, agent_ids, steps, active)로 A2A 워크플로를 등록합니다.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var in resource.NewA2AWorkflow
			if err := readJSONC(file, &in); err != nil {
				return err
			}
			in.Name = normalizeInput(in.Name)
			return withA2A(logger, func(ctx context.Context, h *resource.A2AHook) error {
				wf, err := h.CreateWorkflow(ctx, in)
				if err != nil {
					return err
				}
				fmt.Println(wf.ID)
				return nil
			})
		},
	}
	wfCreateCmd.Flags().StringVarP(&file, "file", "f", "", "워크플로 JSONC 파일")
	_ = wfCreateCmd.MarkFlagRequired("file")

	// a2a workflow enable / disable
	toggle := func(use, short string, active bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <workflow-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withA2A(logger, func(ctx context.Context, h *resource.A2AHook) error {
					_, err := h.UpdateWorkflow(ctx, args[0], map[string]any{"active": active})
					return err
				})
			},
		}
	}

	// a2a workflow delete
	wfDeleteCmd := &cobra.Command{
		Use:   "delete <workflow-id>",
		Short: "A2A 워크플로 삭제",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withA2A(logger, func(ctx context.Context, h *resource.A2AHook) error {
				return h.DeleteWorkflow(ctx, args[0])
			})
		},
	}

	// a2a workflow run
	var input string
	wfRunCmd := &cobra.Command{
		Use:   "run <workflow-id>",
		Short: "A2A 워크플로 실행",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withA2A(logger, func(ctx context.Context, h *resource.A2AHook) error {
				result, err := h.ExecuteWorkflow(ctx, args[0], normalizeInput(input))
				if err != nil {
					return err
				}
				for _, step := range result.Steps {
					fmt.Printf("[%d] %s (%d exchanges)\n", step.Index+1, step.Action, len(step.Exchanges))
				}
				if result.Output != "" {
					fmt.Printf("\n%s\n", result.Output)
				}
				return nil
			})
		},
	}
	wfRunCmd.Flags().StringVarP(&input, "input", "i", "", "첫 단계에 전달할 입력")

	wfCmd.AddCommand(wfListCmd)
	wfCmd.AddCommand(wfCreateCmd)
	wfCmd.AddCommand(toggle("enable", "A2A 워크플로 활성화", true))
	wfCmd.AddCommand(toggle("disable", "A2A 워크플로 비활성화", false))
	wfCmd.AddCommand(wfDeleteCmd)
	wfCmd.AddCommand(wfRunCmd)

	return wfCmd
}

func withA2A(logger *zap.Logger, fn func(ctx context.Context, h *resource.A2AHook) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	hook, err := openHook(ctx, logger, resource.OpenA2A)
	if err != nil {
		return err
	}
	defer hook.Close()
	return fn(ctx, hook)
}

func printMessages(messages []storage.A2AMessage) error {
	if len(messages) == 0 {
		fmt.Println("메시지가 없습니다.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIME\tFROM\tTO\tTYPE\tSTATUS\tCONTENT")
	for _, m := range messages {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			m.CreatedAt.Local().Format("15:04:05"),
			shortID(m.SenderAgentID),
			shortID(m.ReceiverAgentID),
			m.MessageType,
			m.Status,
			truncate(m.Content, 50),
		)
	}
	return w.Flush()
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
