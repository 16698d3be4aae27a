// Package delivery 把高信号投递给下游消费者（通知网关、分发器）。
// 提供内存、Redis 与 RabbitMQ 三种队列实现，消息体是 JSON 编码的
// 信号记录。
package delivery
