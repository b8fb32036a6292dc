package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/resource"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/storage"
	"go.uber.org/zap"
)

func buildMCPCommands(logger *zap.Logger) *cobra.Command {
	mcpCmd := &cobra.Command{
		Use:   "mcp",
		Short: "MCP 서버 관리 명령어",
		Long:  "MCP 서버 등록, 연결, 도구 실행 기능을 제공합니다.",
	}

	// mcp list
	mcpListCmd := &cobra.Command{
		Use:   "list",
		Short: "MCP 서버 목록 조회",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMCP(logger, func(_ context.Context, h *resource.MCPHook) error {
				servers := h.Servers.Items()
				if len(servers) == 0 {
					fmt.Println("등록된 MCP 서버가 없습니다.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "ID\tNAME\tSTATUS\tTOOLS\tENDPOINT")
				for _, s := range servers {
					tools, _ := storage.DecodeJSON[[]storage.MCPTool](s.Tools)
					_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", s.ID, s.Name, s.Status, len(tools), s.Endpoint)
				}
				return w.Flush()
			})
		},
	}

	// mcp add
	var configFile string
	mcpAddCmd := &cobra.Command{
		Use:   "add <name> <endpoint>",
		Short: "MCP 서버 등록",
		Long:  "MCP 서버를 disconnected 상태로 등록합니다. --config로 헤더 등 설정 JSONC 파일을 지정할 수 있습니다.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := resource.NewMCPServer{Name: normalizeInput(args[0]), Endpoint: args[1]}
			if configFile != "" {
				var cfg map[string]any
				if err := readJSONC(configFile, &cfg); err != nil {
					return err
				}
				raw, err := json.Marshal(cfg)
				if err != nil {
					return err
				}
				in.Config = raw
			}
			return withMCP(logger, func(ctx context.Context, h *resource.MCPHook) error {
				server, err := h.AddServer(ctx, in)
				if err != nil {
					return err
				}
				fmt.Println(server.ID)
				return nil
			})
		},
	}
	mcpAddCmd.Flags().StringVar(&configFile, "config", "", "서버 설정 JSONC 파일")

	// mcp remove
	mcpRemoveCmd := &cobra.Command{
		Use:   "remove <server-id>",
		Short: "MCP 서버 삭제",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMCP(logger, func(ctx context.Context, h *resource.MCPHook) error {
				return h.RemoveServer(ctx, args[0])
			})
		},
	}

	// mcp connect
	mcpConnectCmd := &cobra.Command{
		Use:   "connect <server-id>",
		Short: "MCP 서버 연결 및 도구 조회",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMCP(logger, func(ctx context.Context, h *resource.MCPHook) error {
				server, err := h.Connect(ctx, args[0])
				if err != nil {
					return err
				}
				return printTools(server)
			})
		},
	}

	// mcp disconnect
	mcpDisconnectCmd := &cobra.Command{
		Use:   "disconnect <server-id>",
		Short: "MCP 서버 연결 해제",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMCP(logger, func(ctx context.Context, h *resource.MCPHook) error {
				_, err := h.Disconnect(ctx, args[0])
				return err
			})
		},
	}

	// mcp call
	var argsJSON string
	mcpCallCmd := &cobra.Command{
		Use:   "call <server-id> <tool>",
		Short: "MCP 도구 실행",
		Long:  "연결된 MCP 서버의 도구를 실행합니다. 인자는 --args에 JSON 객체로 전달합니다.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var toolArgs map[string]any
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &toolArgs); err != nil {
					return fmt.Errorf("--args는 JSON 객체여야 합니다: %w", err)
				}
			}
			return withMCP(logger, func(ctx context.Context, h *resource.MCPHook) error {
				result, err := h.ExecuteTool(ctx, args[0], args[1], toolArgs)
				if err != nil {
					return err
				}
				if result.IsError {
					fmt.Fprintln(os.Stderr, result.Text)
					return fmt.Errorf("도구 %s 실행 오류", args[1])
				}
				fmt.Println(result.Text)
				return nil
			})
		},
	}
	mcpCallCmd.Flags().StringVar(&argsJSON, "args", "", "도구 인자 JSON 객체")

	mcpCmd.AddCommand(mcpListCmd)
	mcpCmd.AddCommand(mcpAddCmd)
	mcpCmd.AddCommand(mcpRemoveCmd)
	mcpCmd.AddCommand(mcpConnectCmd)
	mcpCmd.AddCommand(mcpDisconnectCmd)
	mcpCmd.AddCommand(mcpCallCmd)

	return mcpCmd
}

func withMCP(logger *zap.Logger, fn func(ctx context.Context, h *resource.MCPHook) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	hook, err := openHook(ctx, logger, resource.OpenMCP)
	if err != nil {
		return err
	}
	defer hook.Close()
	return fn(ctx, hook)
}

func printTools(server *storage.MCPServer) error {
	if server.Status != storage.MCPStatusConnected {
		return fmt.Errorf("연결 실패: %s", server.LastError)
	}
	tools, err := storage.DecodeJSON[[]storage.MCPTool](server.Tools)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TOOL\tDESCRIPTION")
	for _, t := range tools {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", t.Name, truncate(t.Description, 60))
	}
	return w.Flush()
}
