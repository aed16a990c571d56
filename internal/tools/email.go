package tools

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/kayas881/kayas-Assistant/internal/config"
	xerrors "github.com/kayas881/kayas-Assistant/internal/errors"
)

// sendMailFunc 可替换，测试时不走真实 SMTP。
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email 提供 email.send 工具后端。发送属于对外可见的高危动作，
// 调用必须先通过安全门禁的确认。
type Email struct {
	cfg  config.SMTPConfig
	send sendMailFunc
}

// NewEmail 创建邮件后端。
func NewEmail(cfg config.SMTPConfig) *Email {
	return &Email{cfg: cfg, send: smtp.SendMail}
}

// Send 发送一封纯文本邮件。
func (e *Email) Send(ctx context.Context, args map[string]any) (map[string]any, error) {
	to, _ := args["to"].(string)
	subject, _ := args["subject"].(string)
	body, _ := args["body"].(string)

	to = strings.TrimSpace(to)
	if to == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "recipient is empty")
	}
	if !strings.Contains(to, "@") {
		return nil, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("invalid recipient %q", to))
	}

	if err := e.Deliver(ctx, subject, body, []string{to}); err != nil {
		return nil, err
	}
	return map[string]any{
		"success": true,
		"to":      to,
		"subject": subject,
	}, nil
}

// Deliver 按收件人列表发送纯文本邮件，供告警等内部调用方复用。
func (e *Email) Deliver(_ context.Context, subject, content string, to []string) error {
	if len(to) == 0 {
		return xerrors.New(xerrors.CodeValidation, "recipient list is empty")
	}
	if e.cfg.Host == "" {
		return xerrors.New(xerrors.CodeInitializationFailure, "smtp is not configured")
	}

	from := e.cfg.From
	if from == "" {
		from = e.cfg.User
	}

	var message strings.Builder
	message.WriteString(fmt.Sprintf("From: %s\r\n", from))
	message.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(to, ", ")))
	message.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	message.WriteString("\r\n")
	message.WriteString(content)

	var auth smtp.Auth
	if e.cfg.User != "" {
		auth = smtp.PlainAuth("", e.cfg.User, e.cfg.Password, e.cfg.Host)
	}

	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)
	if err := e.send(addr, auth, from, to, []byte(message.String())); err != nil {
		return xerrors.Wrap(xerrors.CodeTransientBackend, err, "send email")
	}
	return nil
}
