// =============================================================================
// 文件: internal/config/config.go
// 描述: 配置管理 - 流容量、重复检测、监控端点、回放参数
// =============================================================================
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// 容量上下限
const (
	MinStreamCapacity = 1
	MaxStreamCapacity = 1 << 30
)

// Config 主配置
type Config struct {
	LogLevel string `yaml:"log_level"`

	Stream     StreamConfig    `yaml:"stream"`
	Duplicates DuplicateConfig `yaml:"duplicates"`
	Metrics    MetricsConfig   `yaml:"metrics"`
	Replay     ReplayConfig    `yaml:"replay"`
}

// StreamConfig 有界字节流配置
type StreamConfig struct {
	Capacity  uint64 `yaml:"capacity"`   // 字节流容量 (字节)
	ReadChunk uint64 `yaml:"read_chunk"` // 消费端单次读取上限
}

// DuplicateConfig 重传检测配置 (布隆过滤器)
type DuplicateConfig struct {
	Enabled       bool    `yaml:"enabled"`
	ExpectedItems uint    `yaml:"expected_items"`
	FalsePositive float64 `yaml:"false_positive"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Listen      string `yaml:"listen"`
	Path        string `yaml:"path"`
	HealthPath  string `yaml:"health_path"`
	EnablePprof bool   `yaml:"enable_pprof"` // 暴露 /debug/pprof/
}

// ReplayConfig 轨迹回放配置
type ReplayConfig struct {
	Seed       int64 `yaml:"seed"`
	Shuffle    bool  `yaml:"shuffle"`
	MaxSegment int   `yaml:"max_segment"` // 切分输入文件时的最大分段长度
	Overlap    int   `yaml:"overlap"`     // 相邻分段最大重叠字节数
}

// Load 加载配置，支持 ${VAR} 环境变量展开
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",

		Stream: StreamConfig{
			Capacity:  64 * 1024,
			ReadChunk: 4096,
		},

		Duplicates: DuplicateConfig{
			Enabled:       true,
			ExpectedItems: 100000,
			FalsePositive: 0.0001,
		},

		Metrics: MetricsConfig{
			Enabled:     false,
			Listen:      ":9100",
			Path:        "/metrics",
			HealthPath:  "/health",
			EnablePprof: false,
		},

		Replay: ReplayConfig{
			Seed:       1,
			Shuffle:    true,
			MaxSegment: 1400,
			Overlap:    0,
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log_level 无效: %q (可选 debug, info, warn, error)", c.LogLevel)
	}

	if c.Stream.Capacity < MinStreamCapacity || c.Stream.Capacity > MaxStreamCapacity {
		return fmt.Errorf("stream.capacity 需在 %d-%d 之间", MinStreamCapacity, MaxStreamCapacity)
	}
	if c.Stream.ReadChunk == 0 {
		return fmt.Errorf("stream.read_chunk 不能为 0")
	}

	if c.Duplicates.Enabled {
		if c.Duplicates.ExpectedItems == 0 {
			return fmt.Errorf("duplicates.expected_items 不能为 0")
		}
		if c.Duplicates.FalsePositive <= 0 || c.Duplicates.FalsePositive >= 1 {
			return fmt.Errorf("duplicates.false_positive 需在 (0, 1) 之间")
		}
	}

	if c.Metrics.Enabled {
		if err := c.validateMetricsConfig(); err != nil {
			return fmt.Errorf("metrics 配置错误: %w", err)
		}
	}

	if c.Replay.MaxSegment < 1 {
		return fmt.Errorf("replay.max_segment 需大于 0")
	}
	if c.Replay.Overlap < 0 {
		return fmt.Errorf("replay.overlap 不能为负数")
	}

	return nil
}

// validateMetricsConfig 验证监控配置
func (c *Config) validateMetricsConfig() error {
	if _, err := parsePort(c.Metrics.Listen); err != nil {
		return fmt.Errorf("listen 端口格式错误: %w", err)
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("path 必须以 / 开头")
	}
	if !strings.HasPrefix(c.Metrics.HealthPath, "/") {
		return fmt.Errorf("health_path 必须以 / 开头")
	}
	if c.Metrics.Path == c.Metrics.HealthPath {
		return fmt.Errorf("path 与 health_path 冲突: %s", c.Metrics.Path)
	}
	return nil
}

// parsePort 解析端口号
func parsePort(addr string) (int, error) {
	if strings.HasPrefix(addr, ":") {
		return strconv.Atoi(addr[1:])
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return strconv.Atoi(addr)
	}
	return strconv.Atoi(portStr)
}

// =============================================================================
// 配置文件示例生成
// =============================================================================

// GenerateExampleConfig 生成示例配置
func GenerateExampleConfig() string {
	return `# reasm 配置文件示例
# =============================================================================

log_level: "info"                   # 日志级别: debug, info, warn, error

# 有界字节流
stream:
  capacity: 65536                   # 缓冲容量 (字节)，超出部分被静默截断
  read_chunk: 4096                  # 消费端单次读取上限

# 重传检测 (布隆过滤器，仅用于统计)
duplicates:
  enabled: true
  expected_items: 100000
  false_positive: 0.0001

# Prometheus 监控
metrics:
  enabled: false
  listen: ":9100"
  path: "/metrics"
  health_path: "/health"
  enable_pprof: false               # 调试用，生产环境保持关闭

# 轨迹回放
replay:
  seed: 1                           # 随机种子
  shuffle: true                     # 打乱分段顺序
  max_segment: 1400                 # 切分输入时的最大分段长度
  overlap: 0                        # 相邻分段最大重叠字节数
`
}

// WriteExampleConfig 写入示例配置文件
func WriteExampleConfig(path string) error {
	return os.WriteFile(path, []byte(GenerateExampleConfig()), 0644)
}
