// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// BatchTask 表示一个待处理的批次，消费者据此驱动批次状态机。
type BatchTask struct {
	BatchID string `json:"batch_id"`
	UserID  string `json:"user_id"`
}
