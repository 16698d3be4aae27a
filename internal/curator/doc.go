// Package curator 实现信息策展的核心循环：聚合新条目、按标题哈希
// 跨周期去重、限流评分并把结果写入可持久化的滚动记忆。
package curator
