// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"docvec-go/internal/apperr"
	"docvec-go/internal/config"
	"docvec-go/pkg/database"
	"docvec-go/pkg/log"
	"docvec-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.DocumentIndexTask) error
}

var producer *kafka.Writer

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
}

// ProduceIndexTask 发送一个文档索引任务到 Kafka。
// 以文档 ID 作为消息 Key，保证同一文档的任务落到同一分区顺序消费。
func ProduceIndexTask(task tasks.DocumentIndexTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}

	err = producer.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(task.DocID),
			Value: taskBytes,
		},
	)
	return err
}

// StartConsumer 启动一个 Kafka 消费者来处理文档索引任务。
// 失败次数通过 Redis 计数，超出重试预算或遇到不可重试错误时
// 提交 offset 终止重试，其余情况不提交 offset 交给 Kafka 重投。
func StartConsumer(cfg config.KafkaConfig, maxRetries int, processor TaskProcessor) {
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = "docvec-consumer"
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.Topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(context.Background())
		if err != nil {
			log.Error("从 Kafka 读取消息失败", err)
			break // 退出循环，可能需要重启策略
		}

		log.Infof("收到 Kafka 消息: offset %d", m.Offset)

		var task tasks.DocumentIndexTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("提交错误消息失败: %v", err)
			}
			continue
		}

		log.Infof("开始处理索引任务: JobID=%s, DocID=%s, Resync=%v", task.JobID, task.DocID, task.Resync)
		// 同步处理任务
		if err := processor.Process(context.Background(), task); err != nil {
			log.Errorf("处理索引任务失败: DocID=%s, Error: %v", task.DocID, err)

			// 校验与配置错误重试也不会成功，直接提交 offset
			switch apperr.KindOf(err) {
			case apperr.KindValidation, apperr.KindConfiguration:
				log.Errorf("索引任务遇到不可重试错误，提交 offset: DocID=%s", task.DocID)
				clearTaskState(task)
				if err := r.CommitMessages(context.Background(), m); err != nil {
					log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
				}
				continue
			}

			// 使用 Redis 计数失败次数。第 n 次投递失败时 attempts=n，
			// 而任务记录的 retries=n-1：允许 maxRetries 次重投后再投递一次，
			// 让 Processor 在最后一次投递中依重试策略把任务标记为 dead 并返回 nil。
			// 此处的阈值只是 Processor 自身持久化异常时的兜底。
			attemptsKey := tasks.AttemptsKey(task.DocID)
			attempts, incErr := database.RDB.Incr(context.Background(), attemptsKey).Result()
			if incErr == nil {
				_ = database.RDB.Expire(context.Background(), attemptsKey, 24*time.Hour).Err()
			}
			if incErr != nil {
				// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
				continue
			}
			if giveUpRedelivery(attempts, maxRetries) {
				log.Errorf("索引任务多次失败(>%d)，提交 offset 终止重试: DocID=%s", maxRetries, task.DocID)
				clearTaskState(task)
				if err := r.CommitMessages(context.Background(), m); err != nil {
					log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
				}
			}
			// attempts 未超出阈值时，不提交 offset 让 Kafka 自动重试
		} else {
			log.Infof("索引任务处理结束: DocID=%s", task.DocID)
			clearTaskState(task)
			// 任务处理结束后，手动提交 offset
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			}
		}
	}

	if err := r.Close(); err != nil {
		log.Fatalf("关闭 Kafka 消费者失败: %v", err)
	}
}

// giveUpRedelivery 判断消费者是否应放弃重投。
// retries(=attempts-1) 达到 maxRetries 的那次投递由 Processor 标记 dead 并返回 nil，
// 因此只有 attempts 严格超出 maxRetries（Processor 未能正常收尾）时才在此兜底。
func giveUpRedelivery(attempts int64, maxRetries int) bool {
	return attempts > int64(maxRetries)
}

// clearTaskState 清理任务在 Redis 中的辅助状态：失败计数与重同步锁。
// 任务到达终态后立即释放锁，后续的重同步不必等待锁过期。
func clearTaskState(task tasks.DocumentIndexTask) {
	_ = database.RDB.Del(context.Background(), tasks.AttemptsKey(task.DocID)).Err()
	if task.Resync {
		_ = database.RDB.Del(context.Background(), tasks.ResyncLockKey(task.DocID)).Err()
	}
}
