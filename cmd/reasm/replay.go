// =============================================================================
// 文件: cmd/reasm/replay.go
// 描述: 轨迹回放 - 生产者按窗口重发分段，消费者读出字节流
// =============================================================================
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mrcgq/reasm/internal/config"
	"github.com/mrcgq/reasm/internal/logger"
	"github.com/mrcgq/reasm/internal/metrics"
	"github.com/mrcgq/reasm/internal/receiver"
	"github.com/mrcgq/reasm/internal/trace"
)

// errIncompleteTrace 轨迹缺少数据或结束标志
var errIncompleteTrace = errors.New("轨迹不完整")

func replayCommand() *cli.Command {
	return &cli.Command{
		Name:  "replay",
		Usage: "把轨迹中的分段送入接收端并输出重组后的字节流",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "配置文件路径"},
			&cli.StringFlag{Name: "trace", Aliases: []string{"t"}, Usage: "轨迹文件 (.yaml / .msgpack)"},
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "原始文件，按配置切分后回放"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "输出文件，默认标准输出"},
			&cli.Int64Flag{Name: "seed", Usage: "随机种子 (覆盖配置)"},
			&cli.BoolFlag{Name: "shuffle", Usage: "打乱分段顺序 (覆盖配置)"},
			&cli.Uint64Flag{Name: "capacity", Usage: "字节流容量 (覆盖配置)"},
		},
		Action: replayAction,
	}
}

func replayAction(c *cli.Context) error {
	cfg := config.DefaultConfig()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if c.IsSet("seed") {
		cfg.Replay.Seed = c.Int64("seed")
	}
	if c.IsSet("shuffle") {
		cfg.Replay.Shuffle = c.Bool("shuffle")
	}
	if c.IsSet("capacity") {
		cfg.Stream.Capacity = c.Uint64("capacity")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.New(cfg.LogLevel, c.App.ErrWriter)
	defer func() { _ = log.Sync() }()

	rng := rand.New(rand.NewSource(cfg.Replay.Seed))
	segs, err := loadSegments(c.String("trace"), c.String("input"), cfg.Replay, rng)
	if err != nil {
		return err
	}
	if cfg.Replay.Shuffle {
		trace.Shuffle(segs, rng)
	}

	var out io.Writer = c.App.Writer
	if path := c.String("out"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("创建输出文件失败: %w", err)
		}
		defer f.Close()
		out = f
	}
	bw := bufio.NewWriter(out)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := runReplay(ctx, cfg, segs, bw, log); err != nil {
		return err
	}
	return bw.Flush()
}

// loadSegments 从轨迹文件读取分段，或把原始文件切分成分段
func loadSegments(tracePath, inputPath string, rc config.ReplayConfig, rng *rand.Rand) ([]trace.Segment, error) {
	switch {
	case tracePath != "" && inputPath != "":
		return nil, cli.Exit("--trace 与 --input 只能指定一个", 2)
	case tracePath != "":
		return trace.Load(tracePath)
	case inputPath != "":
		payload, err := os.ReadFile(inputPath)
		if err != nil {
			return nil, fmt.Errorf("读取输入失败: %w", err)
		}
		return trace.Split(payload, rc.MaxSegment, rc.Overlap, rng), nil
	default:
		return nil, cli.Exit("需要指定 --trace 或 --input", 2)
	}
}

// runReplay 并发运行生产者、消费者和 (可选) 监控服务，返回最终统计
func runReplay(ctx context.Context, cfg *config.Config, segs []trace.Segment, out io.Writer, log *zap.Logger) (receiver.Stats, error) {
	start := time.Now()

	opts := []receiver.Option{receiver.WithLogger(log.Named("receiver"))}
	if cfg.Duplicates.Enabled {
		opts = append(opts, receiver.WithDuplicateFilter(cfg.Duplicates.ExpectedItems, cfg.Duplicates.FalsePositive))
	}
	r := receiver.New(cfg.Stream, opts...)

	var (
		srv      *metrics.MetricsServer
		registry prometheus.Registerer = prometheus.NewRegistry()
	)
	if cfg.Metrics.Enabled {
		srvOpts := []metrics.ServerOption{metrics.WithServerLogger(log.Named("metrics"))}
		if cfg.Metrics.EnablePprof {
			srvOpts = append(srvOpts, metrics.WithPprof())
		}
		srv = metrics.NewMetricsServer(cfg.Metrics.Listen, cfg.Metrics.Path, cfg.Metrics.HealthPath, srvOpts...)
		srv.MustRegisterCollector(metrics.NewReceiverCollector(r))
		srv.SetHealthCheck(receiverHealth(r, start))
		registry = srv.Registry()
	}
	rm := metrics.NewReplayMetrics(registry)

	log.Info("开始回放",
		zap.Int("segments", len(segs)),
		zap.Uint64("payload", trace.Payload(segs)),
		zap.Uint64("capacity", cfg.Stream.Capacity))

	g, gctx := errgroup.WithContext(ctx)
	producing, doneProducing := context.WithCancel(gctx)
	defer doneProducing()
	consumed := make(chan struct{})

	// 生产者
	g.Go(func() error {
		defer doneProducing()
		return produce(gctx, r, segs, rm, log)
	})

	// 消费者
	g.Go(func() error {
		defer close(consumed)
		return consume(gctx, producing, r, out, int(cfg.Stream.ReadChunk), rm)
	})

	if srv != nil {
		if err := srv.Start(gctx); err != nil {
			return r.Stats(), err
		}
		g.Go(func() error {
			select {
			case <-gctx.Done():
			case <-consumed:
			}
			srv.Stop()
			return nil
		})
	}

	err := g.Wait()
	stats := r.Stats()

	log.Info("回放结束",
		zap.Duration("elapsed", time.Since(start)),
		zap.Uint64("assembled", stats.BytesAssembled),
		zap.Uint64("popped", stats.BytesPopped),
		zap.Uint64("truncated", stats.BytesTruncated),
		zap.Uint64("in_order", stats.Segments[receiver.SegmentInOrder]),
		zap.Uint64("out_of_order", stats.Segments[receiver.SegmentOutOfOrder]),
		zap.Uint64("duplicate", stats.Segments[receiver.SegmentDuplicate]),
		zap.Uint64("retransmit", stats.Segments[receiver.SegmentRetransmit]),
		zap.Uint64("final_conflicts", stats.FinalConflicts),
		zap.Bool("finished", stats.Finished),
		zap.Error(err))

	return stats, err
}

// produce 逐轮提交未完成的分段，被窗口截断的分段等待窗口推进后重发
// 窗口停滞说明空洞无法填补，停止重发并交由消费者判定轨迹不完整
func produce(ctx context.Context, r *receiver.Receiver, segs []trace.Segment, rm *metrics.ReplayMetrics, log *zap.Logger) error {
	outstanding := segs
	for len(outstanding) > 0 {
		rm.RecordRound()
		edge := r.WindowEdge()

		var retry []trace.Segment
		for _, seg := range outstanding {
			res := r.HandleSegment(seg)
			rm.RecordOffer(len(seg.Data), res.Truncated > 0)
			if res.Truncated > 0 {
				retry = append(retry, seg)
			}
		}
		outstanding = retry

		if len(outstanding) > 0 {
			err := r.WaitWindow(ctx, edge)
			if errors.Is(err, receiver.ErrWindowStalled) {
				log.Warn("接收窗口停滞，放弃重发",
					zap.Int("outstanding", len(outstanding)),
					zap.Uint64("window_edge", edge))
				return nil
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// consume 读出字节流直到 EOF；生产者结束后仍无法读完则轨迹不完整
// 直接写出借用的缓冲视图，写完再弹出
func consume(ctx, producing context.Context, r *receiver.Receiver, out io.Writer, chunk int, rm *metrics.ReplayMetrics) error {
	for {
		if view := r.Peek(chunk); len(view) > 0 {
			n, werr := out.Write(view)
			r.Pop(n)
			rm.RecordRead(n)
			if werr != nil {
				return fmt.Errorf("写出失败: %w", werr)
			}
			continue
		}

		stats := r.Stats()
		switch {
		case stats.Errored:
			return receiver.ErrStreamCorrupt
		case stats.Finished:
			return nil
		}

		if producing.Err() != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !r.IsClosed() {
				return fmt.Errorf("%w: 已确认 %d 字节, 空洞 %v", errIncompleteTrace, r.AckIndex(), r.Gaps())
			}
		}

		if err := r.WaitReadable(producing); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// receiverHealth 把接收端状态映射为健康检查结果
func receiverHealth(r *receiver.Receiver, start time.Time) func() metrics.HealthStatus {
	return func() metrics.HealthStatus {
		stats := r.Stats()

		status, msg := "healthy", ""
		switch {
		case stats.Errored:
			status, msg = "unhealthy", "字节流已损坏"
		case stats.FinalConflicts > 0:
			status, msg = "degraded", fmt.Sprintf("%d 次结束偏移冲突", stats.FinalConflicts)
		}

		return metrics.HealthStatus{
			Status:    status,
			Timestamp: time.Now(),
			Version:   Version,
			Uptime:    time.Since(start),
			Components: map[string]metrics.ComponentHealth{
				"receiver": {Status: status, Message: msg},
			},
		}
	}
}
