package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/client"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/resource"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

// remote는 --url, --token 플래그 값입니다.
var remote struct {
	url   string
	token string
}

// commandTimeout은 원격 명령 하나의 제한 시간입니다.
const commandTimeout = 2 * time.Minute

// normalizeInput은 입력 문자열을 유니코드 NFC(Normalization Form Canonical Composition)로 정규화합니다.
// 조합 중인 한글 문자를 완성된 음절로 바꾸고 단독 자음/모음(U+1100-U+11FF, U+3131-U+318E)을 제거합니다.
func normalizeInput(s string) string {
	normalized := norm.NFC.String(strings.TrimSpace(s))

	var filtered []rune
	for _, r := range normalized {
		if (r >= 0x1100 && r <= 0x11FF) || (r >= 0x3131 && r <= 0x318E) {
			continue
		}
		filtered = append(filtered, r)
	}
	return string(filtered)
}

func newClient(logger *zap.Logger) (*client.Client, error) {
	if remote.token == "" {
		return nil, fmt.Errorf("토큰이 없습니다. --token 또는 ECHOSYNC_TOKEN을 설정하세요 (echosync token <user-id>)")
	}
	c, err := client.New(remote.url, remote.token, client.WithLogger(logger.Named("client")))
	if err != nil {
		return nil, fmt.Errorf("클라이언트 초기화 실패: %w", err)
	}
	return c, nil
}

// openHook은 원격 backend로 hook을 열고 초기 조회를 기다립니다.
func openHook[H interface {
	Wait(context.Context) error
	Close() error
}](ctx context.Context, logger *zap.Logger, open func(context.Context, resource.Backend, ...resource.Option) (H, error)) (H, error) {
	var zero H
	c, err := newClient(logger)
	if err != nil {
		return zero, err
	}
	hook, err := open(ctx, resource.Remote(c),
		resource.WithLogger(logger.Named("resource")),
		resource.WithNotifier(consoleNotifier{}),
	)
	if err != nil {
		return zero, fmt.Errorf("구독 시작 실패: %w", err)
	}
	if err := hook.Wait(ctx); err != nil {
		_ = hook.Close()
		return zero, fmt.Errorf("초기 조회 실패: %w", err)
	}
	return hook, nil
}

// consoleNotifier는 mutator 결과를 터미널에 출력합니다.
type consoleNotifier struct{}

func (consoleNotifier) Success(_, message string) {
	fmt.Printf("✓ %s\n", message)
}

func (consoleNotifier) Failure(op string, err error) {
	fmt.Fprintf(os.Stderr, "✗ %s: %s\n", op, resource.Message(err))
}

// readJSONC는 주석과 trailing comma가 있는 JSON 파일을 out으로 읽습니다.
func readJSONC(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("파일 읽기 실패: %w", err)
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), out); err != nil {
		return fmt.Errorf("%s 파싱 실패: %w", path, err)
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
