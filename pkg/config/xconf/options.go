package xconf

type options struct {
	tag string
	env map[string]string
}

// Option 配置加载选项。
type Option func(*options)

// WithTag 设置 Decode 使用的结构体标签，默认 "koanf"。
func WithTag(tag string) Option {
	return func(o *options) {
		if tag != "" {
			o.tag = tag
		}
	}
}

// WithEnv 绑定环境变量名到配置键，例如 "SF_CLIENT_ID" -> "sf.client_id"。
// 多次调用会合并，后者覆盖同名项。
func WithEnv(bindings map[string]string) Option {
	return func(o *options) {
		if o.env == nil {
			o.env = make(map[string]string, len(bindings))
		}
		for name, key := range bindings {
			o.env[name] = key
		}
	}
}
