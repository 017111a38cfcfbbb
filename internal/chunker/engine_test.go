package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	chunks := Split("短文本内容", Options{Strategy: StrategyAuto, MaxChunkSize: 100})
	require.Len(t, chunks, 1)
	assert.Equal(t, "短文本内容", chunks[0].Content)
}

func TestSplit_ByHeadingsNoHeadings(t *testing.T) {
	text := "没有任何标题的一段文字。\n第二行。"
	chunks := Split(text, Options{Strategy: StrategyByHeadings})
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Content)
}

func TestSplit_ByHeadingsTitleChain(t *testing.T) {
	text := "# 第一章\n正文A\n## 第一节\n正文B\n## 第二节\n正文C\n# 第二章\n正文D"
	chunks := Split(text, Options{Strategy: StrategyByHeadings, MaxHeadingDepth: 3})
	require.Len(t, chunks, 4)

	assert.Equal(t, "第一章", chunks[0].TitleChain)
	assert.Equal(t, "第一章 > 第一节", chunks[1].TitleChain)
	assert.Equal(t, "第一章 > 第二节", chunks[2].TitleChain)
	assert.Equal(t, "第二章", chunks[3].TitleChain)

	// 标题行保留在分块正文中，拼接后不丢失任何内容
	assert.Contains(t, chunks[0].Content, "# 第一章")
	assert.Contains(t, chunks[1].Content, "正文B")
}

func TestSplit_ByHeadingsPreamble(t *testing.T) {
	text := "序言部分\n# 标题\n正文"
	chunks := Split(text, Options{Strategy: StrategyByHeadings, PathLabel: "guide.md"})
	require.Len(t, chunks, 2)
	assert.Equal(t, "guide.md", chunks[0].TitleChain)
	assert.Equal(t, "guide.md > 标题", chunks[1].TitleChain)
}

func TestSplit_ByHeadingsDepthLimit(t *testing.T) {
	text := "# 一级\n正文\n#### 四级标题不算标题\n更多正文"
	chunks := Split(text, Options{Strategy: StrategyByHeadings, MaxHeadingDepth: 3})
	// 四级标题超出深度限制，归入上一个段落
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Content, "#### 四级标题不算标题")
}

func TestSplit_BySizeWindowsAndOverlap(t *testing.T) {
	text := strings.Repeat("甲", 250)
	chunks := Split(text, Options{Strategy: StrategyBySize, MaxChunkSize: 100, Overlap: 20})
	require.GreaterOrEqual(t, len(chunks), 3)

	// 除末块外每块都是满窗口
	for i := 0; i < len(chunks)-1; i++ {
		assert.Equal(t, 100, len([]rune(chunks[i].Content)))
	}
	// 相邻窗口共享 overlap 个字符
	first := []rune(chunks[0].Content)
	second := []rune(chunks[1].Content)
	assert.Equal(t, string(first[80:]), string(second[:20]))
}

func TestSplit_BySizeShortText(t *testing.T) {
	chunks := Split("abc", Options{Strategy: StrategyBySize, MaxChunkSize: 100})
	require.Len(t, chunks, 1)
	assert.Equal(t, "abc", chunks[0].Content)
}

func TestSplit_OverlapNotLessThanSize(t *testing.T) {
	text := strings.Repeat("乙", 300)
	// overlap >= 窗口大小时不使用重叠，不能死循环
	chunks := Split(text, Options{Strategy: StrategyBySize, MaxChunkSize: 100, Overlap: 100})
	require.Len(t, chunks, 3)
	total := 0
	for _, c := range chunks {
		total += len([]rune(c.Content))
	}
	assert.Equal(t, 300, total)
}

func TestSplit_HybridResplitsOversizedSections(t *testing.T) {
	text := "# 短章\n" + strings.Repeat("丙", 50) + "\n# 长章\n" + strings.Repeat("丁", 2500)
	chunks := Split(text, Options{Strategy: StrategyHybrid, MaxChunkSize: 1000, Overlap: 100, MaxHeadingDepth: 3})
	require.Greater(t, len(chunks), 2)

	// 短章保持单块，长章被二次切分且继承同一标题链
	assert.Equal(t, "短章", chunks[0].TitleChain)
	for _, c := range chunks[1:] {
		assert.Equal(t, "长章", c.TitleChain)
		assert.LessOrEqual(t, len([]rune(c.Content)), 1000)
	}
}

func TestSplit_AutoPrefersHeadings(t *testing.T) {
	text := "# 标题\n" + strings.Repeat("文", 1500)
	chunks := Split(text, Options{Strategy: StrategyAuto, MaxChunkSize: 1000, Overlap: 100, PreferHeadings: true})
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.Equal(t, "标题", c.TitleChain)
	}
}

func TestSplit_AutoWithoutHeadingsFallsBackToSize(t *testing.T) {
	text := strings.Repeat("戊", 1500)
	chunks := Split(text, Options{Strategy: StrategyAuto, MaxChunkSize: 1000, Overlap: 100, PreferHeadings: true})
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.Empty(t, c.TitleChain)
	}
}

func TestSplit_UnknownStrategyDegradesToSingleChunk(t *testing.T) {
	text := strings.Repeat("己", 5000)
	chunks := Split(text, Options{Strategy: "no_such_strategy"})
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Content)
}

func TestSplit_OrderIsStable(t *testing.T) {
	text := "# A\n1\n# B\n2\n# C\n3"
	chunks := Split(text, Options{Strategy: StrategyByHeadings})
	require.Len(t, chunks, 3)
	assert.Equal(t, "A", chunks[0].TitleChain)
	assert.Equal(t, "B", chunks[1].TitleChain)
	assert.Equal(t, "C", chunks[2].TitleChain)
}

func TestSplitText_MatchesSplitOrder(t *testing.T) {
	text := "# A\n1\n# B\n2"
	chunks := Split(text, Options{Strategy: StrategyByHeadings})
	texts := SplitText(text, Options{Strategy: StrategyByHeadings})
	require.Equal(t, len(chunks), len(texts))
	for i := range chunks {
		assert.Equal(t, chunks[i].Content, texts[i])
	}
}

func TestSetDefaultOptions(t *testing.T) {
	orig := DefaultOptions()
	defer SetDefaultOptions(orig)

	SetDefaultOptions(Options{MaxChunkSize: 500})
	got := DefaultOptions()
	assert.Equal(t, 500, got.MaxChunkSize)
	// 零值字段保持原默认
	assert.Equal(t, orig.Strategy, got.Strategy)
}
