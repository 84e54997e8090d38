// Command tmail 是临时邮箱的命令行客户端。
//
// 默认运行 watch 子命令：确定邮箱地址后持续接收新邮件，并可选启动本地桥接服务，
// 供浏览器界面通过 HTTP 和 WebSocket 使用。其余子命令是一次性的查询操作。
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"tempmail/client/internal/config"
	"tempmail/client/internal/logger"
	"tempmail/client/internal/mailapi"
)

const usage = `Usage: tmail [command] [flags]

Commands:
  watch      接收新邮件（默认）
  domains    列出可用域名
  random     生成随机地址
  list       列出邮箱中的邮件
  show       显示邮件正文
  download   下载邮件的所有附件

运行 "tmail <command> -h" 查看命令参数。
`

// app 子命令共享的依赖
type app struct {
	cfg *config.Config
	log *zap.Logger
	api *mailapi.Client
	out io.Writer
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "tmail:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	name := "watch"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		name, args = args[0], args[1:]
	}

	commands := map[string]func(*app, context.Context, []string) error{
		"watch":    (*app).watch,
		"domains":  (*app).domains,
		"random":   (*app).random,
		"list":     (*app).list,
		"show":     (*app).show,
		"download": (*app).download,
	}
	cmd, ok := commands[name]
	if !ok {
		if name == "help" {
			fmt.Print(usage)
			return nil
		}
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", name)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logCfg := logger.FromConfig(cfg.Log)
	if name != "watch" && cfg.Log.File == "" && !cfg.Log.Development {
		// 一次性命令只在出错时输出日志
		logCfg.Level = "error"
	}
	log, err := logger.NewLogger(logCfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	api, err := mailapi.New(cfg.API, log)
	if err != nil {
		return err
	}
	defer api.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: cfg, log: log, api: api, out: os.Stdout}
	return cmd(a, ctx, args)
}
