package metrics

// Config 指标系统的配置
//
//	metrics:
//	  enabled: true
//	  service_name: "harvest"
//	  port: 9090
//	  path: "/metrics"
type Config struct {
	// Enabled 为 false 时 New 返回 noop Meter
	Enabled bool `mapstructure:"enabled"`

	// ServiceName 作为 OpenTelemetry Resource 的 service.name
	ServiceName string `mapstructure:"service_name"`

	// Version 作为 OpenTelemetry Resource 的 service.version
	Version string `mapstructure:"version"`

	// Port 大于 0 时启动 HTTP 服务器暴露 Prometheus 指标
	Port int `mapstructure:"port"`

	// Path 指标路径，必须以 "/" 开头，默认 "/metrics"
	Path string `mapstructure:"path"`
}

// NewDevDefaultConfig 开发环境配置：启用采集，不监听端口
func NewDevDefaultConfig(service string) *Config {
	return &Config{
		Enabled:     true,
		ServiceName: service,
		Version:     "dev",
		Path:        "/metrics",
	}
}
