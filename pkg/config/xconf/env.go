package xconf

import (
	"fmt"
	"slices"
	"strings"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// overlayEnv 只加载 bindings 中列出且非空的环境变量，返回生效的变量名。
func overlayEnv(k *koanf.Koanf, bindings map[string]string) ([]string, error) {
	if len(bindings) == 0 {
		return nil, nil
	}
	var applied []string
	provider := env.ProviderWithValue("", delim, func(name, value string) (string, any) {
		key, ok := bindings[name]
		if !ok || strings.TrimSpace(value) == "" {
			return "", nil
		}
		applied = append(applied, name)
		return key, value
	})
	if err := k.Load(provider, nil); err != nil {
		return nil, fmt.Errorf("%w: environment: %w", ErrRead, err)
	}
	slices.Sort(applied)
	return applied, nil
}
