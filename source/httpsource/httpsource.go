// Package httpsource 提供通用的分页 JSON 数据源，实现 fetcher.Source。
//
// 每次抓取按页请求：
//
//	GET {base_url}/{partition}?since=...&until=...&filter=...&per_page=...&page=...
//
// 响应可以是 JSON 数组，也可以是包含数组字段（ItemsField）的对象。
// 遇到空页、不满一页或达到 MaxPages 时停止翻页。
//
// 错误分类：
//   - 网络错误、超时、429、5xx：xerrors.KindTransient，由 fetcher 重试
//   - 其他 4xx：xerrors.KindFatal
package httpsource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ceyewan/harvest/clog"
	"github.com/ceyewan/harvest/fetcher"
	"github.com/ceyewan/harvest/record"
	"github.com/ceyewan/harvest/xerrors"
)

// Config 数据源配置
type Config struct {
	// BaseURL 接口根地址，必填
	BaseURL string `json:"base_url" yaml:"base_url" mapstructure:"base_url"`

	// Token 非空时以 "Authorization: Bearer <token>" 发送
	Token string `json:"token" yaml:"token" mapstructure:"token"`

	// PerPage 每页条数，默认 100
	PerPage int `json:"per_page" yaml:"per_page" mapstructure:"per_page"`

	// MaxPages 单次抓取最多请求的页数，默认 10
	MaxPages int `json:"max_pages" yaml:"max_pages" mapstructure:"max_pages"`

	// Timeout 单个请求超时，默认 30s
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// IDField 记录 ID 所在字段，支持 "a.b.c" 形式的嵌套路径，默认 "id"
	IDField string `json:"id_field" yaml:"id_field" mapstructure:"id_field"`

	// TimeField 记录时间戳所在字段，默认 "timestamp"
	TimeField string `json:"time_field" yaml:"time_field" mapstructure:"time_field"`

	// ItemsField 响应为对象时数组所在字段，默认 "items"
	ItemsField string `json:"items_field" yaml:"items_field" mapstructure:"items_field"`
}

func (c *Config) setDefaults() {
	if c.PerPage == 0 {
		c.PerPage = 100
	}
	if c.MaxPages == 0 {
		c.MaxPages = 10
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.IDField == "" {
		c.IDField = "id"
	}
	if c.TimeField == "" {
		c.TimeField = "timestamp"
	}
	if c.ItemsField == "" {
		c.ItemsField = "items"
	}
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "httpsource: base_url is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "httpsource: base_url: %v", err)
	}
	if c.PerPage < 1 || c.MaxPages < 1 {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "httpsource: per_page and max_pages must be >= 1")
	}
	return nil
}

// Option 组件初始化选项函数
type Option func(*options)

type options struct {
	logger clog.Logger
	client *http.Client
}

// WithLogger 设置 Logger，内部会自动添加 namespace: "httpsource"
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("httpsource")
		}
	}
}

// WithHTTPClient 替换默认的 http.Client
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.client = c
		}
	}
}

// StatusError 非 2xx 响应
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d: %s", e.URL, e.StatusCode, e.Body)
}

// Source 分页 HTTP 数据源
type Source struct {
	cfg    Config
	base   string
	client *http.Client
	logger clog.Logger
}

var _ fetcher.Source = (*Source)(nil)

// New 创建数据源
func New(cfg *Config, opts ...Option) (*Source, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "httpsource: config is nil")
	}
	c := *cfg
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}

	opt := options{logger: clog.Discard()}
	for _, o := range opts {
		o(&opt)
	}
	if opt.client == nil {
		opt.client = &http.Client{Timeout: c.Timeout}
	}

	return &Source{
		cfg:    c,
		base:   strings.TrimRight(c.BaseURL, "/"),
		client: opt.client,
		logger: opt.logger,
	}, nil
}

// Fetch 实现 fetcher.Source
func (s *Source) Fetch(ctx context.Context, q fetcher.Query) ([]record.Record, error) {
	records := []record.Record{}
	for page := 1; ; page++ {
		items, err := s.page(ctx, q, page)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			records = append(records, s.toRecord(item))
		}

		if len(items) < s.cfg.PerPage {
			break
		}
		if page >= s.cfg.MaxPages {
			s.logger.Warn("max pages reached",
				clog.String("partition", q.Partition),
				clog.Int("max_pages", s.cfg.MaxPages))
			break
		}
	}

	s.logger.Debug("fetched",
		clog.String("partition", q.Partition),
		clog.String("since", q.Since),
		clog.String("until", q.Until),
		clog.Int("records", len(records)))
	return records, nil
}

func (s *Source) endpoint(q fetcher.Query, page int) string {
	segments := strings.Split(q.Partition, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	params := url.Values{}
	params.Set("since", q.Since)
	params.Set("until", q.Until)
	if q.Filter != "" {
		params.Set("filter", q.Filter)
	}
	params.Set("per_page", strconv.Itoa(s.cfg.PerPage))
	params.Set("page", strconv.Itoa(page))
	return s.base + "/" + strings.Join(segments, "/") + "?" + params.Encode()
}

func (s *Source) page(ctx context.Context, q fetcher.Query, page int) ([]map[string]any, error) {
	target := s.endpoint(q, page)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, xerrors.Fatal(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "harvest")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// 连接失败、超时都可以重试
		return nil, xerrors.Transient(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, xerrors.Transient(xerrors.Wrapf(err, "read %s", target))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classify(&StatusError{StatusCode: resp.StatusCode, URL: target, Body: truncate(string(body), 200)})
	}
	return s.decode(body)
}

func (s *Source) decode(body []byte) ([]map[string]any, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var items []map[string]any
		if err := unmarshal(body, &items); err != nil {
			return nil, xerrors.Fatal(xerrors.Wrap(err, "decode response"))
		}
		return items, nil
	}

	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, xerrors.Fatal(xerrors.Wrap(err, "decode response"))
	}
	raw, ok := wrapped[s.cfg.ItemsField]
	if !ok {
		return nil, nil
	}
	var items []map[string]any
	if err := unmarshal(raw, &items); err != nil {
		return nil, xerrors.Fatal(xerrors.Wrapf(err, "decode field %s", s.cfg.ItemsField))
	}
	return items, nil
}

// unmarshal 数字保留为 json.Number，避免大整数 ID 变成科学计数法
func unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func (s *Source) toRecord(item map[string]any) record.Record {
	r := record.Record{Fields: item}
	if v, ok := lookup(item, s.cfg.IDField); ok {
		r.ID = fmt.Sprint(v)
	}
	if v, ok := lookup(item, s.cfg.TimeField); ok {
		if ts, ok := v.(string); ok {
			r.Timestamp = ts
		}
	}
	return r
}

// lookup 按 "a.b.c" 路径读取嵌套字段
func lookup(item map[string]any, path string) (any, bool) {
	var cur any = item
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func classify(err *StatusError) error {
	switch {
	case err.StatusCode == http.StatusTooManyRequests, err.StatusCode >= 500:
		return xerrors.Transient(err)
	default:
		return xerrors.Fatal(err)
	}
}

// truncate 按字符截断，避免切开多字节字符
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
