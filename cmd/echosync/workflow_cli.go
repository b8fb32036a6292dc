package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/client"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/controller"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/storage"
	"go.uber.org/zap"
)

// workflowFile은 workflow create --file 입력입니다.
type workflowFile struct {
	Name        string                        `json:"name"`
	Description string                        `json:"description,omitempty"`
	Steps       []controller.WorkflowStepSpec `json:"steps"`
}

func buildWorkflowCommands(logger *zap.Logger) *cobra.Command {
	wfCmd := &cobra.Command{
		Use:   "workflow",
		Short: "워크플로 관리 명령어",
		Long:  "agent_chat, rag_query, mcp_tool 단계로 이루어진 워크플로를 등록하고 실행합니다.",
	}

	// workflow list
	wfListCmd := &cobra.Command{
		Use:   "list",
		Short: "워크플로 목록 조회",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(logger, func(ctx context.Context, c *client.Client) error {
				var workflows []storage.Workflow
				if err := c.List(ctx, storage.TableWorkflows, nil, &workflows); err != nil {
					return err
				}
				if len(workflows) == 0 {
					fmt.Println("워크플로가 없습니다.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "ID\tNAME\tSTATUS\tLAST RUN")
				for _, wf := range workflows {
					lastRun := "-"
					if wf.LastRunAt != nil {
						lastRun = wf.LastRunAt.Local().Format("2006-01-02 15:04")
					}
					_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", wf.ID, wf.Name, wf.Status, lastRun)
				}
				return w.Flush()
			})
		},
	}

	// workflow create
	var file string
	wfCreateCmd := &cobra.Command{
		Use:   "create --file <workflow.jsonc>",
		Short: "워크플로 등록",
		RunE: func(cmd *cobra.Command, args []string) error {
			var in workflowFile
			if err := readJSONC(file, &in); err != nil {
				return err
			}
			in.Name = normalizeInput(in.Name)
			return withClient(logger, func(ctx context.Context, c *client.Client) error {
				var out storage.Workflow
				if err := c.Insert(ctx, storage.TableWorkflows, in, &out); err != nil {
					return err
				}
				fmt.Println(out.ID)
				return nil
			})
		},
	}
	wfCreateCmd.Flags().StringVarP(&file, "file", "f", "", "워크플로 JSONC 파일")
	_ = wfCreateCmd.MarkFlagRequired("file")

	// workflow delete
	wfDeleteCmd := &cobra.Command{
		Use:   "delete <workflow-id>",
		Short: "워크플로 삭제",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(logger, func(ctx context.Context, c *client.Client) error {
				return c.Delete(ctx, storage.TableWorkflows, args[0])
			})
		},
	}

	// workflow run
	var input string
	var asJSON bool
	wfRunCmd := &cobra.Command{
		Use:   "run <workflow-id>",
		Short: "워크플로 실행",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(logger, func(ctx context.Context, c *client.Client) error {
				var result controller.WorkflowResult
				if err := c.Invoke(ctx, controller.FnExecuteWorkflow, controller.ExecuteWorkflowRequest{
					WorkflowID: args[0],
					Input:      normalizeInput(input),
				}, &result); err != nil {
					return err
				}
				if asJSON {
					return printJSON(result)
				}
				for _, step := range result.Steps {
					fmt.Printf("[%d] %s: %s\n", step.Index+1, step.Type, truncate(step.Output, 80))
				}
				if result.Error != "" {
					return fmt.Errorf("워크플로 실패: %s", result.Error)
				}
				fmt.Printf("\n%s\n", result.Output)
				return nil
			})
		},
	}
	wfRunCmd.Flags().StringVarP(&input, "input", "i", "", "워크플로 입력")
	wfRunCmd.Flags().BoolVar(&asJSON, "json", false, "결과를 JSON으로 출력")

	wfCmd.AddCommand(wfListCmd)
	wfCmd.AddCommand(wfCreateCmd)
	wfCmd.AddCommand(wfDeleteCmd)
	wfCmd.AddCommand(wfRunCmd)

	return wfCmd
}

func withClient(logger *zap.Logger, fn func(ctx context.Context, c *client.Client) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	c, err := newClient(logger)
	if err != nil {
		return err
	}
	return fn(ctx, c)
}

// buildWatchCommand는 테이블 변경 알림을 계속 출력하는 watch 명령어를 만듭니다.
func buildWatchCommand(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <table>",
		Short: "테이블 변경 알림 구독",
		Long:  "테이블 변경 알림을 한 줄에 하나씩 JSON으로 출력합니다. 연결이 끊기면 재연결 후 RESYNC를 출력합니다.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(logger)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			feed, err := c.Subscribe(ctx, args[0])
			if err != nil {
				return err
			}
			defer feed.Close()

			enc := json.NewEncoder(os.Stdout)
			for {
				select {
				case <-ctx.Done():
					return nil
				case evt, ok := <-feed.Events():
					if !ok {
						return nil
					}
					if err := enc.Encode(evt); err != nil {
						return err
					}
				}
			}
		},
	}
}
