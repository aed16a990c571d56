package action

import (
	"encoding/json"
	"strings"

	xerrors "github.com/kayas881/kayas-Assistant/internal/errors"
)

// Descriptor 描述一次具体的工具调用。
type Descriptor struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// Clone 返回参数的浅拷贝，避免修复重试时污染原始参数。
func (d Descriptor) Clone() Descriptor {
	args := make(map[string]any, len(d.Args))
	for k, v := range d.Args {
		args[k] = v
	}
	return Descriptor{Tool: d.Tool, Args: args}
}

// ParseActions 解析规划器输出的 JSON 动作描述。
// 输入既可以是单个对象 {"tool": ..., "args": ...}，也可以是对象数组。
func ParseActions(payload string) ([]Descriptor, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "empty action payload")
	}

	if strings.HasPrefix(payload, "[") {
		var list []Descriptor
		if err := json.Unmarshal([]byte(payload), &list); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeValidation, err, "invalid action array")
		}
		return normalize(list)
	}

	var single Descriptor
	if err := json.Unmarshal([]byte(payload), &single); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, "invalid action object")
	}
	return normalize([]Descriptor{single})
}

// normalize 过滤无效条目并补全缺省参数表。
func normalize(list []Descriptor) ([]Descriptor, error) {
	out := make([]Descriptor, 0, len(list))
	for _, d := range list {
		d.Tool = strings.TrimSpace(d.Tool)
		if d.Tool == "" {
			continue
		}
		if d.Args == nil {
			d.Args = map[string]any{}
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, xerrors.New(xerrors.CodeValidation, "no usable action in payload")
	}
	return out, nil
}
