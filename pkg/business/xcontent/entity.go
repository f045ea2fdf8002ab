package xcontent

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/omeyang/xcrm/pkg/storage/xcache"
)

// ErrUnknownEntity 表示实体名不在 Entities 中。
var ErrUnknownEntity = errors.New("xcontent: unknown entity")

// Entity 描述一类内容记录。
type Entity struct {
	// Name 缓存命名空间，同时是 webhook 中使用的实体名。
	Name string

	// SObject CRM 中的对象名。
	SObject string

	// TTL 读缓存的过期时间。
	TTL time.Duration

	// Related 写操作后需要一并失效的命名空间。
	Related []string
}

// Namespaces 返回本实体的命名空间及关联命名空间，去重且保持顺序。
func (e Entity) Namespaces() []string {
	out := make([]string, 0, 1+len(e.Related))
	out = append(out, e.Name)
	for _, ns := range e.Related {
		if !slices.Contains(out, ns) {
			out = append(out, ns)
		}
	}
	return out
}

// 内容实体。
var (
	Articles = Entity{
		Name:    "articles",
		SObject: "Article__c",
		TTL:     xcache.TTLShort,
		Related: []string{"categories", "tags"},
	}
	Questions = Entity{
		Name:    "questions",
		SObject: "Question__c",
		TTL:     xcache.TTLShort,
		Related: []string{"answers"},
	}
	Answers = Entity{
		Name:    "answers",
		SObject: "Answer__c",
		TTL:     xcache.TTLMedium,
		Related: []string{"questions"},
	}
	Categories = Entity{
		Name:    "categories",
		SObject: "Category__c",
		TTL:     xcache.TTLLong,
		Related: []string{"articles"},
	}
	Authors = Entity{
		Name:    "authors",
		SObject: "Author__c",
		TTL:     xcache.TTLLong,
		Related: []string{"articles"},
	}
	Tags = Entity{
		Name:    "tags",
		SObject: "Tag__c",
		TTL:     xcache.TTLLong,
		Related: []string{"articles"},
	}
	Settings = Entity{
		Name:    "settings",
		SObject: "Site_Settings__c",
		TTL:     xcache.TTLVeryLong,
	}
)

// Entities 按名称索引全部实体。
var Entities = map[string]Entity{
	Articles.Name:   Articles,
	Questions.Name:  Questions,
	Answers.Name:    Answers,
	Categories.Name: Categories,
	Authors.Name:    Authors,
	Tags.Name:       Tags,
	Settings.Name:   Settings,
}

// Lookup 按名称查找实体，大小写不敏感。
func Lookup(name string) (Entity, error) {
	e, ok := Entities[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Entity{}, fmt.Errorf("%w: %q", ErrUnknownEntity, name)
	}
	return e, nil
}
