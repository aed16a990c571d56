package tools

import (
	"github.com/kayas881/kayas-Assistant/internal/action"
	"github.com/kayas881/kayas-Assistant/internal/config"
)

// Backends 汇集所有工具后端实例。
type Backends struct {
	Filesystem *Filesystem
	Web        *Web
	Email      *Email
	Search     *LocalSearch
	Watcher    *FileWatcher
	App        *App
	Perception *Perception
}

// NewBackends 按配置构建全部工具后端。
func NewBackends(cfg config.ToolsConfig, perception *Perception) *Backends {
	return &Backends{
		Filesystem: NewFilesystem(cfg.ArtifactsDir, cfg.ArchiveDir, SandboxMode(cfg.SandboxMode)),
		Web:        NewWeb(),
		Email:      NewEmail(cfg.SMTP),
		Search:     NewLocalSearch(cfg.SearchRoot),
		Watcher:    NewFileWatcher(),
		App:        NewApp(nil),
		Perception: perception,
	}
}

// Register 把全部工具操作连同必填参数表注册到路由器。
func (b *Backends) Register(router *action.Router) {
	if b.Filesystem != nil {
		router.Register("filesystem.create_file", action.Operation{
			Required: []string{"filename"},
			Handler:  b.Filesystem.CreateFile,
		})
		router.Register("filesystem.append_file", action.Operation{
			Required: []string{"filename", "content"},
			Handler:  b.Filesystem.AppendFile,
		})
		router.Register("filesystem.delete_file", action.Operation{
			Required: []string{"filename"},
			Handler:  b.Filesystem.DeleteFile,
		})
		router.Register("filesystem.archive_file", action.Operation{
			Required: []string{"filename"},
			Handler:  b.Filesystem.ArchiveFile,
		})
	}
	if b.Web != nil {
		router.Register("web.fetch", action.Operation{
			Required: []string{"url"},
			Handler:  b.Web.Fetch,
		})
	}
	if b.Email != nil {
		router.Register("email.send", action.Operation{
			Required: []string{"to", "body"},
			Handler:  b.Email.Send,
		})
	}
	if b.Search != nil {
		router.Register("local.search", action.Operation{
			Required: []string{"query"},
			Handler:  b.Search.Search,
		})
	}
	if b.Watcher != nil {
		router.Register("filewatcher.start", action.Operation{
			Required: []string{"path"},
			Handler:  b.Watcher.Start,
		})
		router.Register("filewatcher.events", action.Operation{
			Required: []string{"path"},
			Handler:  b.Watcher.Events,
		})
		router.Register("filewatcher.stop", action.Operation{
			Required: []string{"path"},
			Handler:  b.Watcher.Stop,
		})
	}
	if b.App != nil {
		router.Register("app.open", action.Operation{
			Required: []string{"name"},
			Handler:  b.App.Open,
		})
	}
	if b.Perception != nil {
		router.Register("perception.smart_click", action.Operation{
			Required: []string{"target"},
			Handler:  b.Perception.SmartClick,
		})
		router.Register("perception.smart_type", action.Operation{
			Required: []string{"target", "text"},
			Handler:  b.Perception.SmartType,
		})
		router.RegisterFunc("perception.smart_read", b.Perception.SmartRead)
		router.Register("perception.find_element", action.Operation{
			Required: []string{"target"},
			Handler:  b.Perception.FindElement,
		})
		router.RegisterFunc("perception.get_capabilities", b.Perception.GetCapabilities)
		router.Register("perception.wait_for_text", action.Operation{
			Required: []string{"target"},
			Handler:  b.Perception.WaitForText,
		})
		router.Register("perception.get_text_near", action.Operation{
			Required: []string{"anchor"},
			Handler:  b.Perception.TextNear,
		})
	}
}

// Close 释放持有系统资源的后端。
func (b *Backends) Close() {
	if b.Watcher != nil {
		b.Watcher.Close()
	}
}
