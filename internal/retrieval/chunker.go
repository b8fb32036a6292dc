package retrieval

import (
	"strings"
	"unicode/utf8"
)

// ChunkOptions는 문서 분할 설정입니다.
type ChunkOptions struct {
	// Size는 조각의 최대 문자 수입니다.
	Size int
	// Overlap은 이웃 조각이 공유하는 문자 수입니다.
	Overlap int
}

// DefaultChunkOptions는 기본 분할 설정을 반환합니다.
func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{Size: 800, Overlap: 100}
}

// Chunk는 text를 문단 경계를 우선해 조각으로 나눕니다.
// 한 문단이 Size보다 길면 단어 경계에서 자르고 Overlap만큼 겹칩니다.
func Chunk(text string, opts ChunkOptions) []string {
	if opts.Size <= 0 {
		opts = DefaultChunkOptions()
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.Size {
		opts.Overlap = 0
	}

	var chunks []string
	var current strings.Builder
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, para := range splitParagraphs(text) {
		if utf8.RuneCountInString(para) > opts.Size {
			flush()
			chunks = append(chunks, splitLong(para, opts)...)
			continue
		}
		if current.Len() > 0 && utf8.RuneCountInString(current.String())+utf8.RuneCountInString(para)+2 > opts.Size {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()
	return chunks
}

func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitLong(text string, opts ChunkOptions) []string {
	words := strings.Fields(text)
	var chunks []string
	start := 0
	for start < len(words) {
		size := 0
		end := start
		for end < len(words) {
			add := utf8.RuneCountInString(words[end])
			if end > start {
				add++
			}
			if size+add > opts.Size && end > start {
				break
			}
			size += add
			end++
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end >= len(words) {
			break
		}

		// 다음 조각은 Overlap 문자만큼 뒤로 물러나 시작합니다.
		next := end
		back := 0
		for next > start+1 && back < opts.Overlap {
			next--
			back += utf8.RuneCountInString(words[next]) + 1
		}
		start = next
	}
	return chunks
}
