// Package chunker 实现了文档文本的分块引擎。
// 分块策略通过封闭的策略枚举选择，未知策略退化为整篇单块，
// 引擎永远不会因为策略问题返回错误，以保证处理管道不中断。
package chunker

import (
	"regexp"
	"strings"
	"sync"

	"docvec-go/pkg/log"
)

// 分块策略枚举。
const (
	StrategyByHeadings = "by_headings"
	StrategyBySize     = "by_size"
	StrategyHybrid     = "hybrid"
	StrategyAuto       = "auto"
)

// 默认分块参数。
const (
	DefaultMaxChunkSize    = 1000
	DefaultOverlap         = 100
	DefaultMaxHeadingDepth = 3
)

// Options 是一次分块调用的参数。零值字段会被默认值补齐。
type Options struct {
	Strategy        string
	MaxChunkSize    int
	Overlap         int
	MaxHeadingDepth int
	PreferHeadings  bool
	// PathLabel 非空时会作为标题链的首个元素，通常为文档路径或名称。
	PathLabel string
}

// Chunk 是一个分块结果：正文内容与可选的祖先标题链。
type Chunk struct {
	Content    string
	TitleChain string
}

var (
	defaultsMu     sync.RWMutex
	defaultOptions = Options{
		Strategy:        StrategyAuto,
		MaxChunkSize:    DefaultMaxChunkSize,
		Overlap:         DefaultOverlap,
		MaxHeadingDepth: DefaultMaxHeadingDepth,
		PreferHeadings:  true,
	}
)

// DefaultOptions 返回当前的全局默认分块参数。
func DefaultOptions() Options {
	defaultsMu.RLock()
	defer defaultsMu.RUnlock()
	return defaultOptions
}

// SetDefaultOptions 覆盖全局默认分块参数，零值字段保持原默认。
func SetDefaultOptions(opts Options) {
	defaultsMu.Lock()
	defer defaultsMu.Unlock()
	defaultOptions = normalize(opts, defaultOptions)
}

// normalize 用 base 补齐 opts 中的零值字段。
func normalize(opts, base Options) Options {
	if opts.Strategy == "" {
		opts.Strategy = base.Strategy
	}
	if opts.MaxChunkSize <= 0 {
		opts.MaxChunkSize = base.MaxChunkSize
	}
	if opts.Overlap < 0 {
		opts.Overlap = base.Overlap
	}
	if opts.MaxHeadingDepth <= 0 {
		opts.MaxHeadingDepth = base.MaxHeadingDepth
	}
	return opts
}

var headingRe = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

// Split 按选定的策略把文本切分为有序的分块序列。
func Split(content string, opts Options) []Chunk {
	opts = normalize(opts, DefaultOptions())

	switch opts.Strategy {
	case StrategyByHeadings:
		return splitByHeadings(content, opts)
	case StrategyBySize:
		return splitBySize(content, opts)
	case StrategyHybrid:
		return splitHybrid(content, opts)
	case StrategyAuto:
		// 短文本无论如何都是单块
		if len([]rune(content)) <= opts.MaxChunkSize {
			return []Chunk{{Content: content, TitleChain: opts.PathLabel}}
		}
		if opts.PreferHeadings && hasHeadings(content, opts.MaxHeadingDepth) {
			return splitHybrid(content, opts)
		}
		return splitBySize(content, opts)
	default:
		// 未知策略不抛错：记录错误并退化为整篇单块，保证管道不中断
		log.Errorf("[Chunker] 未知的分块策略 '%s', 退化为整篇单块", opts.Strategy)
		return []Chunk{{Content: content, TitleChain: opts.PathLabel}}
	}
}

// SplitText 是 Split 的便捷形式，只返回分块正文，顺序与 Split 一致。
func SplitText(content string, opts Options) []string {
	chunks := Split(content, opts)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	return texts
}

// hasHeadings 判断文本中是否存在深度不超过 maxDepth 的标题行。
func hasHeadings(content string, maxDepth int) bool {
	for _, line := range strings.Split(content, "\n") {
		if m := headingRe.FindStringSubmatch(line); m != nil && len(m[1]) <= maxDepth {
			return true
		}
	}
	return false
}

// section 是按标题切出的一个段落。
type section struct {
	titles []string
	lines  []string
}

// splitByHeadings 按标题行切分，每个段落成为一个分块，
// 标题链为该段落所有祖先标题的有序列表。
// 不含任何标题的文本产生恰好一个等于全文的分块。
func splitByHeadings(content string, opts Options) []Chunk {
	if !hasHeadings(content, opts.MaxHeadingDepth) {
		return []Chunk{{Content: content, TitleChain: opts.PathLabel}}
	}

	lines := strings.Split(content, "\n")
	var sections []section
	// 按标题层级维护祖先标题栈
	titleStack := make([]string, 0, opts.MaxHeadingDepth)
	cur := section{}

	flush := func() {
		if len(cur.lines) > 0 {
			sections = append(sections, cur)
		}
	}

	for _, line := range lines {
		m := headingRe.FindStringSubmatch(line)
		if m != nil && len(m[1]) <= opts.MaxHeadingDepth {
			flush()
			level := len(m[1])
			title := strings.TrimSpace(m[2])
			if level <= len(titleStack) {
				titleStack = titleStack[:level-1]
			}
			titleStack = append(titleStack, title)
			cur = section{
				titles: append([]string(nil), titleStack...),
				lines:  []string{line},
			}
			continue
		}
		cur.lines = append(cur.lines, line)
	}
	flush()

	chunks := make([]Chunk, 0, len(sections))
	for _, s := range sections {
		chunks = append(chunks, Chunk{
			Content:    strings.Join(s.lines, "\n"),
			TitleChain: titleChain(opts.PathLabel, s.titles),
		})
	}
	return chunks
}

// titleChain 拼接标题链，可选的 PathLabel 作为首元素。
func titleChain(pathLabel string, titles []string) string {
	parts := make([]string, 0, len(titles)+1)
	if pathLabel != "" {
		parts = append(parts, pathLabel)
	}
	parts = append(parts, titles...)
	return strings.Join(parts, " > ")
}

// splitBySize 按固定窗口大小切分，相邻窗口共享 Overlap 个字符。
// 长度不超过窗口的文本产生恰好一个等于全文的分块。
func splitBySize(content string, opts Options) []Chunk {
	return sizeWindows(content, opts.PathLabel, opts)
}

// sizeWindows 对一段文本做窗口切分，所有分块共享同一标题链。
func sizeWindows(text, chain string, opts Options) []Chunk {
	runes := []rune(text)
	if len(runes) <= opts.MaxChunkSize {
		return []Chunk{{Content: text, TitleChain: chain}}
	}

	overlap := opts.Overlap
	if overlap >= opts.MaxChunkSize {
		log.Warnf("[Chunker] overlap(%d) 不小于窗口大小(%d), 本次切分不使用重叠", overlap, opts.MaxChunkSize)
		overlap = 0
	}

	var chunks []Chunk
	step := opts.MaxChunkSize - overlap
	for i := 0; i < len(runes); i += step {
		end := i + opts.MaxChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, Chunk{Content: string(runes[i:end]), TitleChain: chain})
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// splitHybrid 先按标题切分，超过窗口大小的段落再按窗口二次切分。
func splitHybrid(content string, opts Options) []Chunk {
	sections := splitByHeadings(content, opts)
	var chunks []Chunk
	for _, s := range sections {
		if len([]rune(s.Content)) > opts.MaxChunkSize {
			chunks = append(chunks, sizeWindows(s.Content, s.TitleChain, opts)...)
		} else {
			chunks = append(chunks, s)
		}
	}
	return chunks
}
