package main

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/controller"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/resource"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/storage"
	"go.uber.org/zap"
)

func buildRAGCommands(logger *zap.Logger) *cobra.Command {
	ragCmd := &cobra.Command{
		Use:   "rag",
		Short: "RAG 인덱스 관리 명령어",
		Long:  "문서 업로드, 인덱스 생성과 빌드, 검색 기능을 제공합니다.",
	}

	// rag list
	ragListCmd := &cobra.Command{
		Use:   "list",
		Short: "인덱스 목록 조회",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRAG(logger, func(_ context.Context, h *resource.RAGHook) error {
				indexes := h.Indexes.Items()
				if len(indexes) == 0 {
					fmt.Println("인덱스가 없습니다.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "ID\tNAME\tSTATUS\tDOCS\tCHUNKS")
				for _, idx := range indexes {
					_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", idx.ID, idx.Name, idx.Status, idx.DocumentCount, idx.VectorCount)
				}
				return w.Flush()
			})
		},
	}

	// rag create
	var description string
	var documentIDs []string
	var wait bool
	ragCreateCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "인덱스 생성",
		Long:  "building 상태의 인덱스를 만들고 빌드를 시작합니다. --wait는 ready 또는 error가 될 때까지 기다립니다.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRAG(logger, func(ctx context.Context, h *resource.RAGHook) error {
				index, err := h.CreateIndex(ctx, controller.CreateIndexRequest{
					Name:        normalizeInput(args[0]),
					Description: normalizeInput(description),
					DocumentIDs: documentIDs,
				})
				if err != nil {
					return err
				}
				fmt.Println(index.ID)
				if wait {
					return waitIndex(ctx, h, index.ID, index.UpdatedAt)
				}
				return nil
			})
		},
	}
	ragCreateCmd.Flags().StringVar(&description, "description", "", "인덱스 설명")
	ragCreateCmd.Flags().StringSliceVar(&documentIDs, "document", nil, "포함할 문서 ID (여러 번 지정 가능)")
	ragCreateCmd.Flags().BoolVar(&wait, "wait", false, "빌드 완료까지 대기")

	// rag rebuild
	ragRebuildCmd := &cobra.Command{
		Use:   "rebuild <index-id>",
		Short: "인덱스 재빌드",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRAG(logger, func(ctx context.Context, h *resource.RAGHook) error {
				index, err := h.Rebuild(ctx, args[0])
				if err != nil {
					return err
				}
				return waitIndex(ctx, h, index.ID, index.UpdatedAt)
			})
		},
	}

	// rag delete
	ragDeleteCmd := &cobra.Command{
		Use:   "delete <index-id>",
		Short: "인덱스 삭제",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRAG(logger, func(ctx context.Context, h *resource.RAGHook) error {
				return h.DeleteIndex(ctx, args[0])
			})
		},
	}

	// rag upload
	var indexID string
	ragUploadCmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "문서 업로드",
		Long:  "문서를 업로드하고 텍스트를 추출합니다. --index를 지정하면 인덱스에 추가합니다.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("파일 읽기 실패: %w", err)
			}
			contentType := mime.TypeByExtension(filepath.Ext(args[0]))
			if contentType == "" {
				contentType = http.DetectContentType(data)
			}
			return withRAG(logger, func(ctx context.Context, h *resource.RAGHook) error {
				doc, err := h.Upload(ctx, filepath.Base(args[0]), contentType, data, true)
				if err != nil {
					return err
				}
				fmt.Printf("%s (%s, %d bytes)\n", doc.ID, doc.Status, doc.Size)
				if indexID == "" {
					return nil
				}
				index, err := h.IndexDocuments(ctx, indexID, []string{doc.ID})
				if err != nil {
					return err
				}
				return waitIndex(ctx, h, index.ID, index.UpdatedAt)
			})
		},
	}
	ragUploadCmd.Flags().StringVar(&indexID, "index", "", "문서를 추가할 인덱스 ID")

	// rag ingest
	ragIngestCmd := &cobra.Command{
		Use:   "ingest <index-id> <url>",
		Short: "웹 페이지를 인덱스에 추가",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRAG(logger, func(ctx context.Context, h *resource.RAGHook) error {
				doc, err := h.IngestURL(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Printf("%s (%s)\n", doc.ID, doc.Name)
				return waitIndex(ctx, h, args[0], doc.CreatedAt)
			})
		},
	}

	// rag query
	var topK int
	ragQueryCmd := &cobra.Command{
		Use:   "query <index-id> <query>",
		Short: "인덱스 검색",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRAG(logger, func(ctx context.Context, h *resource.RAGHook) error {
				q, err := h.Query(ctx, args[0], normalizeInput(args[1]), topK)
				if err != nil {
					return err
				}
				results, err := q.ResultList()
				if err != nil {
					return err
				}
				if len(results) == 0 {
					fmt.Println("검색 결과가 없습니다.")
					return nil
				}
				for i, r := range results {
					fmt.Printf("[%d] %.3f %s\n    %s\n", i+1, r.Score, r.Source, truncate(r.Content, 200))
				}
				fmt.Printf("\n%d ms\n", q.ResponseTimeMS)
				return nil
			})
		},
	}
	ragQueryCmd.Flags().IntVarP(&topK, "top", "k", 5, "결과 개수")

	ragCmd.AddCommand(ragListCmd)
	ragCmd.AddCommand(ragCreateCmd)
	ragCmd.AddCommand(ragRebuildCmd)
	ragCmd.AddCommand(ragDeleteCmd)
	ragCmd.AddCommand(ragUploadCmd)
	ragCmd.AddCommand(ragIngestCmd)
	ragCmd.AddCommand(ragQueryCmd)

	return ragCmd
}

func withRAG(logger *zap.Logger, fn func(ctx context.Context, h *resource.RAGHook) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	hook, err := openHook(ctx, logger, resource.OpenRAG)
	if err != nil {
		return err
	}
	defer hook.Close()
	return fn(ctx, hook)
}

// waitIndex는 변경 알림으로 인덱스가 building을 벗어날 때까지 기다립니다.
// since보다 먼저 갱신된 행은 빌드 요청 이전 상태이므로 무시합니다.
func waitIndex(ctx context.Context, h *resource.RAGHook, indexID string, since time.Time) error {
	fmt.Print("인덱스 빌드 중...")
	for {
		idx, ok := h.Indexes.Get(indexID)
		if ok && !idx.UpdatedAt.Before(since) && idx.Status != storage.IndexStatusBuilding {
			fmt.Println()
			if idx.Status == storage.IndexStatusError {
				return fmt.Errorf("인덱스 빌드 실패: %s", idx.LastError)
			}
			fmt.Printf("✓ ready (문서 %d, 조각 %d)\n", idx.DocumentCount, idx.VectorCount)
			return nil
		}
		select {
		case <-ctx.Done():
			fmt.Println()
			return errors.New("인덱스 빌드 대기 시간 초과")
		case <-h.Indexes.Changed():
			fmt.Print(".")
		}
	}
}
