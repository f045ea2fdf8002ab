package xconf

import "errors"

var (
	// ErrUnsupportedFormat 扩展名或格式不是 YAML/JSON。
	ErrUnsupportedFormat = errors.New("xconf: unsupported format")

	// ErrRead 读取配置文件失败。
	ErrRead = errors.New("xconf: read failed")

	// ErrParse 文件内容无法解析。
	ErrParse = errors.New("xconf: parse failed")

	// ErrDecode 配置无法落到目标结构体。
	ErrDecode = errors.New("xconf: decode failed")

	// ErrNoFile 配置不来自文件，无法 Reload。
	ErrNoFile = errors.New("xconf: no file to reload")
)
