package bootstrap

import (
	"net/http"

	"execengine/internal/app/di"
	"execengine/internal/delivery/server"
	"execengine/internal/shared/logging"
)

// buildHooksBridge creates a HooksBridge handler that forwards Claude Code
// hook events to the Lark gateway. Returns nil if prerequisites are not met.
func buildHooksBridge(cfg Config, container *di.Container, logger logging.Logger) http.Handler {
	if container == nil || container.LarkGateway == nil {
		return nil
	}

	var noticeLoader server.NoticeLoader
	if loaderFn := container.LarkGateway.NoticeLoader(); loaderFn != nil {
		noticeLoader = server.NoticeLoaderFunc(loaderFn)
	}

	return server.NewHooksBridge(
		container.LarkGateway,
		noticeLoader,
		cfg.HooksBridge.Token,
		cfg.HooksBridge.DefaultChatID,
		logger,
	)
}
