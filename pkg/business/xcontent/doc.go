// Package xcontent 把内容站点的实体（文章、问答、分类、作者、标签、站点设置）
// 映射到 CRM 记录，并在记录读取外包一层 Cache-Aside 缓存。
//
// # 缓存命名空间
//
// 每个实体一个命名空间，key 形如 "articles:<id>" 或 "articles:q:<hash>"。
// 实体的 TTL 分级见 Entities。写操作成功后同步失效本实体及其关联实体的命名空间，
// 失效失败只记录日志，不影响写操作结果。
//
// # 级联删除
//
// DeleteCascade 先删除子记录再删除父记录，单条失败记录日志后继续，
// 全部失败汇总为 *multierror.Error 返回。多次调用之间没有事务保证。
package xcontent
