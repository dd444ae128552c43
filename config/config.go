package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const tagName = "koanf"

var (
	ErrEmptyPath         = errors.New("config path is empty")
	ErrUnsupportedFormat = errors.New("unsupported config format")
	ErrInvalidConfig     = errors.New("invalid config")
)

// Load 读取配置文件并覆盖到cfg上，cfg中已有的值作为默认值，格式由扩展名决定
func Load(path string, cfg any) error {
	if path == "" {
		return ErrEmptyPath
	}
	parser, err := parserFor(path)
	if err != nil {
		return err
	}
	k := koanf.New(".")
	if err = k.Load(file.Provider(path), parser); err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	return unmarshal(k, cfg)
}

// LoadBytes 按给定格式（yaml或json）解析配置
func LoadBytes(data []byte, format string, cfg any) error {
	parser, err := parserFor("." + format)
	if err != nil {
		return err
	}
	k := koanf.New(".")
	if len(data) > 0 {
		if err = k.Load(rawbytes.Provider(data), parser); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	}
	return unmarshal(k, cfg)
}

func unmarshal(k *koanf.Koanf, cfg any) error {
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: tagName}); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// loadLocation 空值使用本地时区
func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %w", ErrInvalidConfig, name, err)
	}
	return loc, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
