// 客户端配置：连接地址、超时与解析选项。
// 关键点：零值即可用，withDefaults 补齐缺省；支持从 YAML 文件加载。
// 说明：utf8 开启后服务端 bulk 内容必须是合法 UTF-8，否则连接按协议错误终止。
package client

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDialTimeout = 2 * time.Second
	DefaultRWTimeout   = 5 * time.Second
	DefaultPoolSize    = 4
)

type Config struct {
	Addr        string        `yaml:"addr"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	RWTimeout   time.Duration `yaml:"rw_timeout"`
	UTF8        bool          `yaml:"utf8"`
	PoolSize    int           `yaml:"pool_size"`
}

func DefaultConfig() Config {
	return Config{
		Addr:        "127.0.0.1:6379",
		DialTimeout: DefaultDialTimeout,
		RWTimeout:   DefaultRWTimeout,
		PoolSize:    DefaultPoolSize,
	}
}

func (c *Config) withDefaults() {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:6379"
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.RWTimeout <= 0 {
		c.RWTimeout = DefaultRWTimeout
	}
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultPoolSize
	}
}

// LoadConfig 从 YAML 文件读取配置，缺省字段用默认值补齐。
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "redisdb: read config")
	}
	cfg := Config{}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "redisdb: parse config")
	}
	cfg.withDefaults()
	return cfg, nil
}
