package action

import (
	"regexp"
	"strings"
)

var (
	// invalidFilenameChars 覆盖主流桌面系统不允许出现在文件名里的字符。
	invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	urlPattern           = regexp.MustCompile(`https?://\S+`)
)

// repair 针对可识别的失败尝试修正参数。返回修正后的动作与是否有修正。
// 调用方保证最多只触发一次修复重试。
func repair(act Descriptor, goal string) (Descriptor, bool) {
	if repaired, ok := repairFilename(act); ok {
		return repaired, true
	}
	if repaired, ok := repairURL(act, goal); ok {
		return repaired, true
	}
	return act, false
}

// repairFilename 把文件名中的非法字符替换为下划线。
func repairFilename(act Descriptor) (Descriptor, bool) {
	raw, ok := act.Args["filename"].(string)
	if !ok {
		return act, false
	}
	sanitized := SanitizeFilename(raw)
	if sanitized == raw {
		return act, false
	}
	repaired := act.Clone()
	repaired.Args["filename"] = sanitized
	return repaired, true
}

// repairURL 在抓取类动作缺少可用 URL 时，从目标文本中提取一个。
func repairURL(act Descriptor, goal string) (Descriptor, bool) {
	if act.Tool != "web.fetch" {
		return act, false
	}
	url := ExtractURL(goal)
	if url == "" {
		return act, false
	}
	if current, ok := act.Args["url"].(string); ok && current == url {
		return act, false
	}
	repaired := act.Clone()
	repaired.Args["url"] = url
	return repaired, true
}

// SanitizeFilename 替换文件名中的非法字符。
func SanitizeFilename(name string) string {
	return invalidFilenameChars.ReplaceAllString(name, "_")
}

// ExtractURL 从自由文本中提取第一个 URL，并去掉句尾标点。
func ExtractURL(text string) string {
	match := urlPattern.FindString(text)
	if match == "" {
		return ""
	}
	return strings.TrimRight(match, `).,;"'`)
}
