// xcrmd 是 CRM 记录客户端的守护进程与命令行工具。
//
// 用法:
//
//	xcrmd [全局选项] <命令> [命令参数]
//
// 全局选项:
//
//	-c, --config   YAML/JSON 配置文件，环境变量覆盖文件中的同名项
//	-t, --timeout  单条命令超时（serve 不受限）
//
// 命令:
//
//	serve              启动 HTTP 服务（/api/health、/api/revalidate）
//	query <soql>       执行 SOQL，--all 跟随分页，--entity 经缓存读取
//	search <sosl>      执行 SOSL
//	cache stats        输出缓存 key 统计
//	cache invalidate   按模式或实体失效缓存
//	token status       交换（或复用）Token 并输出连接状态
//
// 退出码:
//
//	0: 成功
//	1: 执行失败
//	2: 参数错误
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

// 版本信息，通过 -ldflags "-X main.Version=..." 注入。
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run(context.Background(), os.Args))
}

func createApp() *cli.Command {
	return &cli.Command{
		Name:    "xcrmd",
		Usage:   "CRM 记录客户端：守护进程与运维命令",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径（.yaml/.yml/.json）",
				Sources: cli.EnvVars("XCRMD_CONFIG"),
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "单条命令超时",
				Value:   defaultCommandTimeout,
			},
		},
		Commands: createCommands(),
		ExitErrHandler: func(_ context.Context, cmd *cli.Command, err error) {
			if _, ok := err.(cli.ExitCoder); ok {
				fmt.Fprintln(cmd.Root().ErrWriter, err)
			}
		},
	}
}

func run(ctx context.Context, args []string) int {
	return runApp(ctx, createApp(), args)
}

func runApp(ctx context.Context, app *cli.Command, args []string) int {
	err := app.Run(ctx, args)
	if err == nil {
		return 0
	}
	errw := app.ErrWriter
	if errw == nil {
		errw = os.Stderr
	}
	var usageErr *usageError
	if errors.As(err, &usageErr) {
		fmt.Fprintf(errw, "usage error: %v\n", usageErr)
		return 2
	}
	fmt.Fprintf(errw, "error: %v\n", err)
	return 1
}
