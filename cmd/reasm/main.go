// =============================================================================
// 文件: cmd/reasm/main.go
// 描述: 主程序入口 - 轨迹回放、切分与配置生成
// =============================================================================
package main

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"runtime"

	"github.com/urfave/cli/v2"

	"github.com/mrcgq/reasm/internal/config"
	"github.com/mrcgq/reasm/internal/trace"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:           "reasm",
		Usage:          "有界字节流重组工具",
		Version:        fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			replayCommand(),
			splitCommand(),
			genConfigCommand(),
			versionCommand(),
		},
	}
}

// exitErrHandler 保留 cli.Exit 的退出码
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		if msg := exitCoder.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(exitCoder.ExitCode())
	}

	fmt.Fprintf(os.Stderr, "错误: %v\n", err)
	os.Exit(1)
}

// =============================================================================
// split
// =============================================================================

func splitCommand() *cli.Command {
	def := config.DefaultConfig().Replay

	return &cli.Command{
		Name:  "split",
		Usage: "把文件切成分段并写入轨迹文件 (.yaml / .msgpack)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "输入文件", Required: true},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "输出轨迹文件", Required: true},
			&cli.IntFlag{Name: "max-segment", Usage: "最大分段长度", Value: def.MaxSegment},
			&cli.IntFlag{Name: "overlap", Usage: "相邻分段最大重叠字节数", Value: def.Overlap},
			&cli.Int64Flag{Name: "seed", Usage: "随机种子", Value: def.Seed},
			&cli.BoolFlag{Name: "shuffle", Usage: "打乱分段顺序", Value: def.Shuffle},
		},
		Action: splitAction,
	}
}

func splitAction(c *cli.Context) error {
	if c.Int("max-segment") < 1 {
		return cli.Exit("--max-segment 需大于 0", 2)
	}
	if c.Int("overlap") < 0 {
		return cli.Exit("--overlap 不能为负数", 2)
	}

	payload, err := os.ReadFile(c.String("input"))
	if err != nil {
		return fmt.Errorf("读取输入失败: %w", err)
	}

	rng := rand.New(rand.NewSource(c.Int64("seed")))
	segs := trace.Split(payload, c.Int("max-segment"), c.Int("overlap"), rng)
	if c.Bool("shuffle") {
		trace.Shuffle(segs, rng)
	}

	if err := trace.Save(c.String("output"), segs); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "已写入 %d 个分段 (%d 字节): %s\n", len(segs), len(payload), c.String("output"))
	return nil
}

// =============================================================================
// gen-config / version
// =============================================================================

func genConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "gen-config",
		Usage: "生成示例配置文件",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "输出路径", Value: "config.example.yaml"},
		},
		Action: func(c *cli.Context) error {
			path := c.String("output")
			if err := config.WriteExampleConfig(path); err != nil {
				return fmt.Errorf("生成配置失败: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "已生成示例配置文件: %s\n", path)
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "显示版本信息",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "reasm %s\n", Version)
			fmt.Fprintf(c.App.Writer, "  Build:   %s\n", BuildTime)
			fmt.Fprintf(c.App.Writer, "  Commit:  %s\n", GitCommit)
			fmt.Fprintf(c.App.Writer, "  Go:      %s\n", runtime.Version())
			fmt.Fprintf(c.App.Writer, "  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}
}
