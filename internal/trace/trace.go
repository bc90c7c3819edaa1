// =============================================================================
// 文件: internal/trace/trace.go
// 描述: 分段轨迹 - 已解析的 (偏移, 载荷, 结束标志) 三元组的加载/保存/生成
// =============================================================================
package trace

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"
)

// ErrUnknownFormat 无法从扩展名判断轨迹格式
var ErrUnknownFormat = errors.New("未知的轨迹文件格式")

// Segment 一个已解析的分段
type Segment struct {
	Index uint64 `yaml:"index" msgpack:"index"`
	Data  []byte `yaml:"-" msgpack:"data"`
	Last  bool   `yaml:"last,omitempty" msgpack:"last"`
}

// End 分段末尾偏移
func (s Segment) End() uint64 {
	return s.Index + uint64(len(s.Data))
}

// yamlSegment YAML 中数据以字符串保存，便于手写轨迹
type yamlSegment struct {
	Index uint64 `yaml:"index"`
	Data  string `yaml:"data"`
	Last  bool   `yaml:"last,omitempty"`
}

// File 轨迹文件
type File struct {
	Segments []Segment `msgpack:"segments"`
}

type yamlFile struct {
	Segments []yamlSegment `yaml:"segments"`
}

// Format 轨迹编码格式
type Format string

const (
	FormatYAML    Format = "yaml"
	FormatMsgpack Format = "msgpack"
)

// FormatOf 根据扩展名判断格式
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".msgpack", ".mp":
		return FormatMsgpack, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

// Load 加载轨迹文件
func Load(path string) ([]Segment, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取轨迹失败: %w", err)
	}

	segs, err := Decode(format, data)
	if err != nil {
		return nil, fmt.Errorf("解析轨迹 %s 失败: %w", path, err)
	}
	return segs, nil
}

// Decode 解码轨迹
func Decode(format Format, data []byte) ([]Segment, error) {
	switch format {
	case FormatYAML:
		var f yamlFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, err
		}
		segs := make([]Segment, len(f.Segments))
		for i, s := range f.Segments {
			segs[i] = Segment{Index: s.Index, Data: []byte(s.Data), Last: s.Last}
		}
		return segs, nil

	case FormatMsgpack:
		var f File
		if err := msgpack.Unmarshal(data, &f); err != nil {
			return nil, err
		}
		return f.Segments, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
}

// Encode 编码轨迹
func Encode(format Format, segs []Segment) ([]byte, error) {
	switch format {
	case FormatYAML:
		f := yamlFile{Segments: make([]yamlSegment, len(segs))}
		for i, s := range segs {
			f.Segments[i] = yamlSegment{Index: s.Index, Data: string(s.Data), Last: s.Last}
		}
		return yaml.Marshal(&f)

	case FormatMsgpack:
		return msgpack.Marshal(&File{Segments: segs})
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
}

// Save 保存轨迹文件
func Save(path string, segs []Segment) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	data, err := Encode(format, segs)
	if err != nil {
		return fmt.Errorf("编码轨迹失败: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("写入轨迹失败: %w", err)
	}
	return nil
}

// Split 把 payload 切成长度随机 (1..maxSegment) 的分段
// overlap > 0 时每段向前多带至多 overlap 个已出现过的字节
// 最后一段带结束标志；空 payload 产生一个空的结束段
func Split(payload []byte, maxSegment, overlap int, rng *rand.Rand) []Segment {
	if maxSegment < 1 {
		maxSegment = 1
	}
	if len(payload) == 0 {
		return []Segment{{Index: 0, Data: []byte{}, Last: true}}
	}

	var segs []Segment
	pos := 0
	for pos < len(payload) {
		n := 1 + rng.Intn(maxSegment)
		if pos+n > len(payload) {
			n = len(payload) - pos
		}

		start := pos
		if overlap > 0 && pos > 0 {
			back := rng.Intn(overlap + 1)
			if back > pos {
				back = pos
			}
			start -= back
		}

		data := make([]byte, pos+n-start)
		copy(data, payload[start:pos+n])
		segs = append(segs, Segment{Index: uint64(start), Data: data})
		pos += n
	}
	segs[len(segs)-1].Last = true
	return segs
}

// Shuffle 原地打乱分段顺序
func Shuffle(segs []Segment, rng *rand.Rand) {
	rng.Shuffle(len(segs), func(i, j int) {
		segs[i], segs[j] = segs[j], segs[i]
	})
}

// Payload 计算轨迹覆盖的完整载荷长度 (最大末尾偏移)
func Payload(segs []Segment) uint64 {
	var end uint64
	for _, s := range segs {
		if s.End() > end {
			end = s.End()
		}
	}
	return end
}
