package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/omeyang/xcrm/internal/server"
	"github.com/omeyang/xcrm/pkg/business/xcontent"
	"github.com/omeyang/xcrm/pkg/business/xforce"
	"github.com/omeyang/xcrm/pkg/observability/xlog"
)

const defaultCommandTimeout = 60 * time.Second

// errCacheStatsUnavailable 缓存后端统计失败。
var errCacheStatsUnavailable = errors.New("xcrmd: cache stats unavailable")

// usageError 表示参数错误，退出码 2。
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func createCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:   "serve",
			Usage:  "启动 HTTP 服务",
			Action: withDeps(false, cmdServe),
		},
		{
			Name:      "query",
			Usage:     "执行 SOQL 查询",
			ArgsUsage: "<soql>",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "all", Aliases: []string{"a"}, Usage: "跟随分页取回全部记录"},
				&cli.StringFlag{Name: "entity", Aliases: []string{"e"}, Usage: "经该实体的缓存命名空间读取"},
			},
			Action: withDeps(true, cmdQuery),
		},
		{
			Name:      "search",
			Usage:     "执行 SOSL 检索",
			ArgsUsage: "<sosl>",
			Action:    withDeps(true, cmdSearch),
		},
		{
			Name:  "cache",
			Usage: "缓存运维",
			Commands: []*cli.Command{
				{
					Name:   "stats",
					Usage:  "输出缓存 key 统计",
					Action: withDeps(true, cmdCacheStats),
				},
				{
					Name:      "invalidate",
					Usage:     "按 glob 模式或实体名失效缓存",
					ArgsUsage: "[pattern]",
					Flags: []cli.Flag{
						&cli.StringFlag{Name: "entity", Aliases: []string{"e"}, Usage: "实体名，失效其全部关联命名空间"},
					},
					Action: withDeps(true, cmdCacheInvalidate),
				},
			},
		},
		{
			Name:  "token",
			Usage: "Token 运维",
			Commands: []*cli.Command{
				{
					Name:   "status",
					Usage:  "确保 Token 有效并输出连接状态",
					Action: withDeps(true, cmdTokenStatus),
				},
			},
		},
	}
}

type action func(ctx context.Context, cmd *cli.Command, s *Settings, d *deps) error

// withDeps 加载配置、构建组件，命令结束后释放。bounded 为 true 时套用 --timeout。
func withDeps(bounded bool, fn action) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		s, err := loadSettings(cmd.String("config"))
		if err != nil {
			return err
		}
		logger, closer, err := xlog.New(s.Log)
		if err != nil {
			return err
		}
		defer closer.Close()
		logger.Debug("xcrmd: settings loaded",
			slog.String("config", cmd.String("config")),
			slog.Any("env", s.Overrides))

		d, err := newDeps(s, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := d.Close(); err != nil {
				logger.Warn("xcrmd: close failed", slog.Any("error", err))
			}
		}()

		if bounded {
			if timeout := cmd.Duration("timeout"); timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
		}
		return fn(ctx, cmd, s, d)
	}
}

func cmdServe(ctx context.Context, _ *cli.Command, s *Settings, d *deps) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := server.New(d.client, d.cache, d.content,
		server.WithSecret(s.Server.RevalidateSecret),
		server.WithLogger(d.logger))

	shutdown := s.Server.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = server.DefaultShutdownTimeout
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(ctx, s.Server.Addr, h, shutdown, d.logger)
	})
	g.Go(func() error {
		// 启动时预取 Token；失败只记录，首个请求会重试
		if _, err := d.client.Tokens().EnsureValidToken(ctx); err != nil && ctx.Err() == nil {
			d.logger.Warn("xcrmd: initial token exchange failed", slog.Any("error", err))
		}
		return nil
	})
	return g.Wait()
}

func cmdQuery(ctx context.Context, cmd *cli.Command, _ *Settings, d *deps) error {
	soql := cmd.Args().First()
	if soql == "" {
		return &usageError{msg: "query requires a SOQL argument"}
	}
	all := cmd.Bool("all")

	var (
		records []xforce.Record
		err     error
	)
	if name := cmd.String("entity"); name != "" {
		e, lerr := xcontent.Lookup(name)
		if lerr != nil {
			return &usageError{msg: lerr.Error()}
		}
		if all {
			records, err = d.content.QueryAll(ctx, e, soql)
		} else {
			records, err = d.content.Query(ctx, e, soql)
		}
	} else if all {
		// 达到页数上限时仍输出已取回的记录
		records, err = d.client.QueryAll(ctx, soql)
	} else {
		records, err = d.client.Query(ctx, soql)
	}
	if records != nil {
		if werr := writeJSON(cmd.Root().Writer, records); werr != nil {
			return werr
		}
	}
	return err
}

func cmdSearch(ctx context.Context, cmd *cli.Command, _ *Settings, d *deps) error {
	sosl := cmd.Args().First()
	if sosl == "" {
		return &usageError{msg: "search requires a SOSL argument"}
	}
	records, err := d.client.Search(ctx, sosl)
	if err != nil {
		return err
	}
	return writeJSON(cmd.Root().Writer, records)
}

func cmdCacheStats(ctx context.Context, cmd *cli.Command, _ *Settings, d *deps) error {
	st := d.cache.Stats(ctx)
	if st == nil {
		return errCacheStatsUnavailable
	}
	return writeJSON(cmd.Root().Writer, st)
}

func cmdCacheInvalidate(ctx context.Context, cmd *cli.Command, _ *Settings, d *deps) error {
	if name := cmd.String("entity"); name != "" {
		namespaces, err := d.content.Revalidate(ctx, name)
		if errors.Is(err, xcontent.ErrUnknownEntity) {
			return &usageError{msg: err.Error()}
		}
		if err != nil {
			return err
		}
		return writeJSON(cmd.Root().Writer, map[string]any{"entity": name, "namespaces": namespaces})
	}

	pattern := cmd.Args().First()
	if pattern == "" {
		return &usageError{msg: "cache invalidate requires a pattern or --entity"}
	}
	deleted, err := d.cache.Invalidate(ctx, pattern)
	if err != nil {
		return err
	}
	return writeJSON(cmd.Root().Writer, map[string]any{"pattern": pattern, "deleted": deleted})
}

func cmdTokenStatus(ctx context.Context, cmd *cli.Command, _ *Settings, d *deps) error {
	_, err := d.client.Tokens().EnsureValidToken(ctx)
	if werr := writeJSON(cmd.Root().Writer, d.client.Status()); werr != nil {
		return werr
	}
	return err
}

func writeJSON(w io.Writer, v any) error {
	if w == nil {
		w = os.Stdout
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
