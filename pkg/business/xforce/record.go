package xforce

// Record 是一条未绑定类型的记录。
type Record map[string]any

// ID 返回 Id 字段。
func (r Record) ID() string {
	return r.String("Id")
}

// String 返回字符串字段，不存在或类型不符时为空。
func (r Record) String(field string) string {
	s, _ := r[field].(string)
	return s
}

// Type 返回 attributes.type，即记录所属的 sObject。
func (r Record) Type() string {
	attrs, ok := r["attributes"].(map[string]any)
	if !ok {
		return ""
	}
	t, _ := attrs["type"].(string)
	return t
}
