// Package api 暴露 HTTP 接口：健康检查、钱包认证、支付验证、
// 信号与简报查询，以及面向其他智能体的 JSON-RPC 任务入口。
package api
