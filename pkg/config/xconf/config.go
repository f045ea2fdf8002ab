package xconf

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// delim 配置键分隔符。
const delim = "."

// Format 配置文件格式。
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatOf 按扩展名判断格式。
func FormatOf(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

func (f Format) parser() (koanf.Parser, error) {
	switch f {
	case FormatYAML:
		return yaml.Parser(), nil
	case FormatJSON:
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(f))
	}
}

// snapshot 一次加载的结果，Reload 整体替换。
type snapshot struct {
	k         *koanf.Koanf
	overrides []string
}

// Config 是已加载的配置。并发安全。
type Config struct {
	path   string
	format Format
	opts   options

	mu   sync.RWMutex
	snap snapshot
}

// Load 读取可选的配置文件并叠加环境变量，环境变量优先。
// path 为空时只读取环境变量。
func Load(path string, opts ...Option) (*Config, error) {
	c := &Config{path: path, opts: newOptions(opts)}
	if path != "" {
		f, err := FormatOf(path)
		if err != nil {
			return nil, err
		}
		c.format = f
	}
	snap, err := c.load(nil)
	if err != nil {
		return nil, err
	}
	c.snap = snap
	return c, nil
}

// Parse 从内存数据构造配置，同样叠加环境变量。data 为空得到空配置。
func Parse(data []byte, format Format, opts ...Option) (*Config, error) {
	if _, err := format.parser(); err != nil {
		return nil, err
	}
	c := &Config{format: format, opts: newOptions(opts)}
	snap, err := c.load(data)
	if err != nil {
		return nil, err
	}
	c.snap = snap
	return c, nil
}

func newOptions(opts []Option) options {
	o := options{tag: "koanf"}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// load data 为 nil 时从 c.path 读取。
func (c *Config) load(data []byte) (snapshot, error) {
	k := koanf.New(delim)
	if data == nil && c.path != "" {
		raw, err := os.ReadFile(c.path)
		if err != nil {
			return snapshot{}, fmt.Errorf("%w: %w", ErrRead, err)
		}
		data = raw
	}
	if len(data) > 0 {
		parser, err := c.format.parser()
		if err != nil {
			return snapshot{}, err
		}
		if err := k.Load(rawbytes.Provider(data), parser); err != nil {
			return snapshot{}, fmt.Errorf("%w: %w", ErrParse, err)
		}
	}
	overrides, err := overlayEnv(k, c.opts.env)
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{k: k, overrides: overrides}, nil
}

func (c *Config) current() snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Decode 把整个配置落到 target。
func (c *Config) Decode(target any) error {
	return c.Unmarshal("", target)
}

// Unmarshal 把 path 下的子树落到 target，允许 "30s"、"8080" 这类字符串转换。
func (c *Config) Unmarshal(path string, target any) error {
	k := c.current().k
	if err := k.UnmarshalWithConf(path, target, koanf.UnmarshalConf{Tag: c.opts.tag}); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return nil
}

// String 读取单个键，不存在时为空。
func (c *Config) String(key string) string {
	return c.current().k.String(key)
}

// Keys 返回全部已设置的键（已排序）。
func (c *Config) Keys() []string {
	keys := c.current().k.Keys()
	slices.Sort(keys)
	return keys
}

// Overrides 返回本次加载实际生效的环境变量名（已排序），只含名字不含值。
func (c *Config) Overrides() []string {
	return slices.Clone(c.current().overrides)
}

// Reload 重新读取文件与环境变量。失败时保留原配置。
func (c *Config) Reload() error {
	if c.path == "" {
		return ErrNoFile
	}
	snap, err := c.load(nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
	return nil
}

// Path 配置文件路径，未使用文件时为空。
func (c *Config) Path() string { return c.path }

// Format 配置文件格式，未使用文件时为空。
func (c *Config) Format() Format { return c.format }
