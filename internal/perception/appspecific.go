package perception

import (
	"context"

	xerrors "github.com/kayas881/kayas-Assistant/internal/errors"
)

// ScriptedSession 是应用专用自动化会话的契约，例如一个网页自动化
// 会话。该层只约定接口，具体会话由外部注入。
type ScriptedSession interface {
	// Matches 判断请求上下文是否指向该会话掌控的界面。
	Matches(req Request) bool
	// Perform 执行操作。
	Perform(ctx context.Context, op Op, req Request) (map[string]any, error)
	// Alive 报告会话是否仍然可用。
	Alive() bool
}

// AppLayer 把请求委托给注册的应用专用会话。
type AppLayer struct {
	session ScriptedSession
}

// NewAppLayer 创建应用专用层。session 可以为空，此时该层从不匹配。
func NewAppLayer(session ScriptedSession) *AppLayer {
	return &AppLayer{session: session}
}

// ID 实现 Layer。
func (l *AppLayer) ID() string { return "app" }

// Supports 实现 Layer。上下文未指向托管界面时视为能力不匹配。
func (l *AppLayer) Supports(op Op, req Request) bool {
	if l.session == nil {
		return false
	}
	return l.session.Matches(req)
}

// Available 实现 Layer。
func (l *AppLayer) Available() bool {
	return l.session != nil && l.session.Alive()
}

// Perform 实现 Layer。
func (l *AppLayer) Perform(ctx context.Context, op Op, req Request) (map[string]any, error) {
	result, err := l.session.Perform(ctx, op, req)
	if err != nil {
		return nil, err
	}
	if failed(result) {
		return nil, xerrors.New(xerrors.CodeNotFound, failureMessage(result))
	}
	return result, nil
}
