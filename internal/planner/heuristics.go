package planner

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/kayas881/kayas-Assistant/internal/action"
)

// Matcher 是一个确定性的目标匹配器。匹配成功时直接给出动作集合，
// 绕过大模型，既降低延迟也避免幻觉。匹配器按注册顺序逐个尝试。
type Matcher interface {
	Name() string
	Match(goal string) ([]action.Descriptor, bool)
}

// DefaultMatchers 返回内置匹配器，按优先级排列。
func DefaultMatchers(notesFilename, searchEngine string) []Matcher {
	if notesFilename == "" {
		notesFilename = "notes.txt"
	}
	return []Matcher{
		explicitURLMatcher{},
		deleteFileMatcher{defaultFilename: notesFilename},
		openAppMatcher{},
		webSearchMatcher{engine: searchEngine},
	}
}

// explicitURLMatcher 在目标文本中出现 URL 时直接抓取该地址。
type explicitURLMatcher struct{}

func (explicitURLMatcher) Name() string { return "explicit_url" }

func (explicitURLMatcher) Match(goal string) ([]action.Descriptor, bool) {
	target := action.ExtractURL(goal)
	if target == "" {
		return nil, false
	}
	return []action.Descriptor{{
		Tool: "web.fetch",
		Args: map[string]any{"url": target},
	}}, true
}

var (
	deletePhrase   = regexp.MustCompile(`(?i)\b(delete|remove|get rid of)\b`)
	quotedFilename = regexp.MustCompile(`["']([^"']+)["']`)
	fileToken      = regexp.MustCompile(`(?i)\b([\w\-]+\.[a-z0-9]{1,5})\b`)
	filePhrase     = regexp.MustCompile(`(?i)\bfile\s+([\w./\\-]+)`)
)

// deleteFileMatcher 识别删除文件的措辞，并提取目标文件名。
// 实际是否删除由安全策略决定，这里只负责提出动作。
type deleteFileMatcher struct {
	defaultFilename string
}

func (deleteFileMatcher) Name() string { return "delete_file" }

func (m deleteFileMatcher) Match(goal string) ([]action.Descriptor, bool) {
	if !deletePhrase.MatchString(goal) {
		return nil, false
	}
	filename := m.defaultFilename
	if q := quotedFilename.FindStringSubmatch(goal); q != nil {
		filename = q[1]
	} else if f := fileToken.FindStringSubmatch(goal); f != nil {
		filename = f[1]
	} else if f := filePhrase.FindStringSubmatch(goal); f != nil {
		filename = f[1]
	}
	return []action.Descriptor{{
		Tool: "filesystem.delete_file",
		Args: map[string]any{"filename": filename},
	}}, true
}

var (
	openAppPhrase = regexp.MustCompile(`(?i)^\s*(?:open|launch|start)\s+([\w .+-]+?)\s*$`)
	// followupWords 出现时说明目标不只是打开程序，交给模型规划。
	followupWords = regexp.MustCompile(`(?i)\b(and|then|type|search|write|click|send)\b|[,;]`)
)

// openAppMatcher 识别单纯的“打开某程序”指令。
type openAppMatcher struct{}

func (openAppMatcher) Name() string { return "open_app" }

func (openAppMatcher) Match(goal string) ([]action.Descriptor, bool) {
	m := openAppPhrase.FindStringSubmatch(goal)
	if m == nil {
		return nil, false
	}
	name := strings.TrimSpace(m[1])
	if name == "" || followupWords.MatchString(name) {
		return nil, false
	}
	return []action.Descriptor{{
		Tool: "app.open",
		Args: map[string]any{"name": name},
	}}, true
}

var searchPhrase = regexp.MustCompile(`(?i)^\s*(?:search(?: the web)? for|google|look up)\s+(.+?)\s*$`)

// webSearchMatcher 把检索类措辞转换为一次搜索页抓取。
type webSearchMatcher struct {
	engine string
}

func (webSearchMatcher) Name() string { return "web_search" }

func (m webSearchMatcher) Match(goal string) ([]action.Descriptor, bool) {
	match := searchPhrase.FindStringSubmatch(goal)
	if match == nil {
		return nil, false
	}
	query := strings.Trim(match[1], `"'`)
	if query == "" {
		return nil, false
	}
	return []action.Descriptor{{
		Tool: "web.fetch",
		Args: map[string]any{"url": m.searchURL(query)},
	}}, true
}

func (m webSearchMatcher) searchURL(query string) string {
	escaped := url.QueryEscape(query)
	switch strings.ToLower(m.engine) {
	case "duckduckgo":
		return fmt.Sprintf("https://duckduckgo.com/?q=%s", escaped)
	case "bing":
		return fmt.Sprintf("https://www.bing.com/search?q=%s", escaped)
	default:
		return fmt.Sprintf("https://www.google.com/search?q=%s", escaped)
	}
}
