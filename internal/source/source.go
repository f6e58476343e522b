package source

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Kind 数据源使用的协议类型，采集层按它查找对应的适配器
type Kind string

const (
	KindFeed      Kind = "feed"
	KindREST      Kind = "rest"
	KindGraphQL   Kind = "graphql"
	KindProxyText Kind = "proxy_text"
	KindHTML      Kind = "html"
)

// Valid 判断是否为已知协议
func (k Kind) Valid() bool {
	switch k {
	case KindFeed, KindREST, KindGraphQL, KindProxyText, KindHTML:
		return true
	}
	return false
}

// Config 描述一个外部数据源，启动时加载，之后不再修改
type Config struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Kind     Kind   `yaml:"kind" json:"kind"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Category string `yaml:"category" json:"category"`
	Enabled  bool   `yaml:"enabled" json:"enabled"`

	// UpdateFrequency 源的预期更新周期，为 0 时由限流器根据历史数据推算
	UpdateFrequency time.Duration `yaml:"update_frequency" json:"updateFrequency,omitempty"`
	// MaxArticles 单次采集的上限，为 0 时使用协议默认值
	MaxArticles int `yaml:"max_articles" json:"maxArticles,omitempty"`

	// Format REST / HTML 源的解析方言，例如 github_search、reddit_listing
	Format string `yaml:"format" json:"format,omitempty"`
	// TokenEnv 保存 bearer token 的环境变量名
	TokenEnv string `yaml:"token_env" json:"-"`
	// Query GraphQL 查询语句；代理源时为待抓取的 feed 地址
	Query    string        `yaml:"query" json:"-"`
	PageSize int           `yaml:"page_size" json:"pageSize,omitempty"`
	MaxPages int           `yaml:"max_pages" json:"maxPages,omitempty"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout,omitempty"`
}

// Token 返回源配置的访问令牌（从环境变量读取）
func (c Config) Token() string {
	if c.TokenEnv == "" {
		return ""
	}
	return os.Getenv(c.TokenEnv)
}

// Paginated 源是否支持多页采集
func (c Config) Paginated() bool {
	return c.MaxPages > 1
}

func (c Config) validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("source: missing id")
	}
	if !c.Kind.Valid() {
		return fmt.Errorf("source %s: unknown kind %q", c.ID, c.Kind)
	}
	if c.Kind != KindProxyText && strings.TrimSpace(c.Endpoint) == "" {
		return fmt.Errorf("source %s: missing endpoint", c.ID)
	}
	return nil
}

// Registry 静态的数据源列表，保持声明顺序（聚合时"先到先得"依赖这个顺序）
type Registry struct {
	sources []Config
}

// NewRegistry 校验并创建数据源列表，重复 ID 视为配置错误
func NewRegistry(sources []Config) (*Registry, error) {
	seen := make(map[string]struct{}, len(sources))
	out := make([]Config, 0, len(sources))
	for _, s := range sources {
		if err := s.validate(); err != nil {
			return nil, err
		}
		if _, ok := seen[s.ID]; ok {
			return nil, fmt.Errorf("source %s: duplicate id", s.ID)
		}
		seen[s.ID] = struct{}{}
		if s.Name == "" {
			s.Name = s.ID
		}
		out = append(out, s)
	}
	return &Registry{sources: out}, nil
}

// All 返回全部数据源（含已禁用）
func (r *Registry) All() []Config {
	out := make([]Config, len(r.sources))
	copy(out, r.sources)
	return out
}

// Enabled 返回某个分类下已启用的数据源；category 为空时返回所有已启用的数据源
func (r *Registry) Enabled(category string) []Config {
	out := make([]Config, 0, len(r.sources))
	for _, s := range r.sources {
		if !s.Enabled {
			continue
		}
		if category != "" && !strings.EqualFold(s.Category, category) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Get 按 ID 查找
func (r *Registry) Get(id string) (Config, bool) {
	for _, s := range r.sources {
		if s.ID == id {
			return s, true
		}
	}
	return Config{}, false
}

// Categories 返回已启用数据源覆盖的分类，按首次出现顺序；大小写不同视为同一分类
func (r *Registry) Categories() []string {
	var out []string
	seen := make(map[string]struct{})
	for _, s := range r.sources {
		if !s.Enabled || s.Category == "" {
			continue
		}
		key := strings.ToLower(s.Category)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s.Category)
	}
	return out
}

type fileFormat struct {
	Sources []Config `yaml:"sources"`
}

// LoadFile 从 YAML 文件加载数据源，文件中的 ${VAR} 会按环境变量展开
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file %s: %w", path, err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse 解析 YAML 格式的数据源列表
func Parse(data []byte) (*Registry, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sources: %w", err)
	}
	return NewRegistry(f.Sources)
}
