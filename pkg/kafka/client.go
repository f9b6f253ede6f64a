// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"plagcheck-go/internal/config"
	"plagcheck-go/pkg/log"
	"plagcheck-go/pkg/tasks"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// TaskProcessor defines the interface for any service that can process a batch task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
// Abandon is called once the retry budget is exhausted so the task can still reach a terminal state.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.BatchTask) error
	Abandon(ctx context.Context, task tasks.BatchTask) error
}

// Producer 发送批次任务。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(cfg.Brokers, ",")...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}}
}

// ProduceBatchTask 发送一个批次处理任务到 Kafka，以批次 ID 作为 key。
func (p *Producer) ProduceBatchTask(ctx context.Context, task tasks.BatchTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.BatchID),
		Value: taskBytes,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// attemptCounter 记录同一任务的失败次数，跨 worker 与重启共享。
type attemptCounter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string)
}

type redisAttempts struct {
	rdb *redis.Client
}

func (a redisAttempts) Incr(ctx context.Context, key string) (int64, error) {
	n, err := a.rdb.Incr(ctx, key).Result()
	if err == nil {
		_ = a.rdb.Expire(ctx, key, 24*time.Hour).Err()
	}
	return n, err
}

func (a redisAttempts) Reset(ctx context.Context, key string) {
	_ = a.rdb.Del(ctx, key).Err()
}

// handler 处理单条消息并决定是否提交 offset。
type handler struct {
	processor   TaskProcessor
	attempts    attemptCounter
	maxAttempts int64
	backoff     time.Duration
}

// handle 返回 true 表示应提交 offset。
// 处理失败时原地重试，失败次数达到上限后调用 Abandon 收尾并提交；ctx 取消（停机）时不提交，由其他消费者接手。
func (h *handler) handle(ctx context.Context, m kafka.Message) bool {
	var task tasks.BatchTask
	if err := json.Unmarshal(m.Value, &task); err != nil || task.BatchID == "" {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		// 消息格式错误，直接提交，避免阻塞队列
		return true
	}

	attemptsKey := "kafka:attempts:" + task.BatchID
	var local int64
	for {
		err := h.processor.Process(ctx, task)
		if err == nil {
			log.Infof("批次任务处理成功: batch=%s", task.BatchID)
			h.attempts.Reset(ctx, attemptsKey)
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		log.Errorf("处理批次任务失败: batch=%s, Error: %v", task.BatchID, err)

		local++
		attempts, incErr := h.attempts.Incr(ctx, attemptsKey)
		if incErr != nil {
			log.Warnf("记录失败次数失败，使用本地计数: %v", incErr)
			attempts = local
		}
		if attempts >= h.maxAttempts {
			log.Errorf("批次任务多次失败(>=%d)，收尾批次并提交 offset: batch=%s", h.maxAttempts, task.BatchID)
			if err := h.processor.Abandon(ctx, task); err != nil {
				if ctx.Err() != nil {
					return false
				}
				log.Errorf("收尾批次失败: batch=%s, Error: %v", task.BatchID, err)
			}
			h.attempts.Reset(ctx, attemptsKey)
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(h.backoff * time.Duration(attempts)):
		}
	}
}

// StartConsumers 启动 workerCfg.Consumers 个同组消费者并阻塞直到 ctx 取消。
// 每个消费者一次只处理一个批次，消费者数量即跨批次的并行度。
func StartConsumers(ctx context.Context, cfg config.KafkaConfig, workerCfg config.WorkerConfig, rdb *redis.Client, processor TaskProcessor) {
	h := &handler{
		processor:   processor,
		attempts:    redisAttempts{rdb: rdb},
		maxAttempts: int64(max(workerCfg.MaxAttempts, 1)),
		backoff:     5 * time.Second,
	}

	var wg sync.WaitGroup
	for i := 0; i < max(workerCfg.Consumers, 1); i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			consume(ctx, cfg, id, h)
		}(i)
	}
	wg.Wait()
}

func consume(ctx context.Context, cfg config.KafkaConfig, id int, h *handler) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(cfg.Brokers, ","),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	log.Infof("Kafka 消费者 #%d 已启动，正在监听主题 '%s'", id, cfg.Topic)
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("从 Kafka 读取消息失败", err)
			}
			return
		}
		log.Infof("消费者 #%d 收到 Kafka 消息: partition %d offset %d", id, m.Partition, m.Offset)

		if h.handle(ctx, m) {
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			}
		}
	}
}
