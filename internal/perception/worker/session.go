package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	xerrors "github.com/kayas881/kayas-Assistant/internal/errors"
	"github.com/kayas881/kayas-Assistant/pkg/logger"
)

// Transport 是与工作进程之间的消息通道。当前实现走标准输入输出的
// JSON 行，换成 socket 或本地 RPC 时调用方无需改动。
type Transport interface {
	Send(msg map[string]any) error
	Receive() (map[string]any, error)
	Close() error
}

// Config 控制会话的启动与超时。
type Config struct {
	Command         string
	Args            []string
	StartupTimeout  time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

func (c *Config) normalize() {
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = 10 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 3 * time.Second
	}
}

// Session 在独立的工作进程中托管无障碍后端。父进程侧的门面与
// 进程内后端实现同一契约，调用方感知不到进程边界。
// 协议同一时刻只允许一个在途请求，由互斥锁保证。
type Session struct {
	cfg       Config
	cmd       *exec.Cmd
	transport Transport

	mu        sync.Mutex
	incoming  chan map[string]any
	readErr   chan error
	done      chan struct{}
	closing   chan struct{}
	closeOnce sync.Once

	stateMu sync.Mutex
	alive   bool
	backend string
}

// Spawn 启动工作进程并完成就绪握手。
func Spawn(cfg Config) (*Session, error) {
	cfg.normalize()
	if cfg.Command == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "worker command is empty")
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeWorkerFailure, err, "open worker stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeWorkerFailure, err, "open worker stdout")
	}
	if err := cmd.Start(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeWorkerFailure, err, "start worker process")
	}

	s := &Session{
		cfg:       cfg,
		cmd:       cmd,
		transport: newPipeTransport(stdout, stdin),
		incoming:  make(chan map[string]any, 1),
		readErr:   make(chan error, 1),
		done:      make(chan struct{}),
		closing:   make(chan struct{}),
	}
	go s.readLoop()

	if err := s.handshake(); err != nil {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
		return nil, err
	}
	s.setAlive(true)
	logger.Named("worker").Info("worker session ready", "backend", s.backend, "pid", cmd.Process.Pid)
	return s, nil
}

// handshake 等待子进程报告就绪或初始化失败。
func (s *Session) handshake() error {
	select {
	case msg := <-s.incoming:
		if ready, _ := msg["ready"].(bool); ready {
			s.backend, _ = msg["backend"].(string)
			return nil
		}
		detail, _ := msg["error"].(string)
		if detail == "" {
			detail = "worker reported not ready"
		}
		return xerrors.New(xerrors.CodeInitializationFailure, detail)
	case err := <-s.readErr:
		return xerrors.Wrap(xerrors.CodeWorkerFailure, err, "worker exited during handshake")
	case <-time.After(s.cfg.StartupTimeout):
		return xerrors.New(xerrors.CodeTimeout, "worker handshake timed out")
	}
}

// readLoop 把子进程输出逐行解析为消息。
func (s *Session) readLoop() {
	defer close(s.done)
	for {
		msg, err := s.transport.Receive()
		if err != nil {
			select {
			case s.readErr <- err:
			default:
			}
			return
		}
		// 超时后子进程可能补发多条迟到响应，投递必须能被会话关闭打断，
		// 否则读取循环会卡死在已无人消费的通道上。
		select {
		case s.incoming <- msg:
		case <-s.closing:
			return
		}
	}
}

// Invoke 向工作进程发送一个同步请求并等待响应。
func (s *Session) Invoke(ctx context.Context, method string, kwargs map[string]any) (map[string]any, error) {
	if !s.Available() {
		return nil, xerrors.New(xerrors.CodeWorkerFailure, "worker session is not alive")
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transport.Send(map[string]any{"method": method, "kwargs": kwargs}); err != nil {
		s.setAlive(false)
		return nil, xerrors.Wrap(xerrors.CodeWorkerFailure, err, "send worker request")
	}

	timeout := s.cfg.RequestTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-s.incoming:
		if success, ok := msg["success"].(bool); ok && !success {
			detail, _ := msg["error"].(string)
			return nil, xerrors.New(xerrors.CodeWorkerFailure, detail)
		}
		return msg, nil
	case err := <-s.readErr:
		s.setAlive(false)
		return nil, xerrors.Wrap(xerrors.CodeWorkerFailure, err, "worker connection lost")
	case <-timer.C:
		// 响应超时后协议已失步，会话不再可用。
		s.setAlive(false)
		return nil, xerrors.New(xerrors.CodeTimeout, fmt.Sprintf("worker call %s timed out", method))
	case <-ctx.Done():
		s.setAlive(false)
		return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "worker call cancelled")
	}
}

// Available 报告会话是否仍然可用，同时实现感知后端契约。
func (s *Session) Available() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.alive
}

// Backend 返回子进程上报的后端名称。
func (s *Session) Backend() string {
	return s.backend
}

// Shutdown 通知子进程退出并等待其终止，超时则强制结束。
func (s *Session) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeOnce.Do(func() { close(s.closing) })

	if !s.Available() {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
		return nil
	}
	s.setAlive(false)

	_ = s.transport.Send(map[string]any{"cmd": "shutdown"})
	_ = s.transport.Close()

	waited := make(chan error, 1)
	go func() { waited <- s.cmd.Wait() }()

	select {
	case <-waited:
		logger.Named("worker").Info("worker exited cleanly", "pid", s.cmd.Process.Pid)
		return nil
	case <-time.After(s.cfg.ShutdownTimeout):
		logger.Named("worker").Warn("worker did not exit, killing", "pid", s.cmd.Process.Pid)
		if err := s.cmd.Process.Kill(); err != nil {
			return xerrors.Wrap(xerrors.CodeWorkerFailure, err, "kill worker process")
		}
		<-waited
		return nil
	}
}

func (s *Session) setAlive(alive bool) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.alive = alive
}

// pipeTransport 在读写端上实现 JSON 行协议。
type pipeTransport struct {
	reader  *bufio.Scanner
	writer  io.WriteCloser
	writeMu sync.Mutex
}

func newPipeTransport(r io.Reader, w io.WriteCloser) *pipeTransport {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &pipeTransport{reader: scanner, writer: w}
}

func (t *pipeTransport) Send(msg map[string]any) error {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err = t.writer.Write(append(encoded, '\n'))
	return err
}

func (t *pipeTransport) Receive() (map[string]any, error) {
	for t.reader.Scan() {
		line := t.reader.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg map[string]any
		if err := json.Unmarshal(line, &msg); err != nil {
			// 子进程可能往 stdout 打日志，跳过非 JSON 行。
			continue
		}
		return msg, nil
	}
	if err := t.reader.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (t *pipeTransport) Close() error {
	return t.writer.Close()
}
