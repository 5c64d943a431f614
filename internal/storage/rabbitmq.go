package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"resume-pipeline/internal/config"
	"resume-pipeline/internal/logger"
)

// MessagePublisher 出站事件发布接口，由 outbox relay 使用
type MessagePublisher interface {
	PublishMessage(ctx context.Context, exchangeName, routingKey string, message []byte, contentType string) error
}

// MessageQueue 消息队列接口
type MessageQueue interface {
	MessagePublisher
	EnsureExchange(exchangeName, exchangeType string, durable bool) error
	EnsureQueue(queueName string, durable bool) error
	BindQueue(queueName, exchangeName, routingKey string) error
	StartConsumer(ctx context.Context, queueName string, prefetchCount int, handler func(context.Context, []byte) bool) error
	Close() error
}

var _ MessageQueue = (*RabbitMQ)(nil)

// RabbitMQ 提供消息队列功能
type RabbitMQ struct {
	conn         *amqp.Connection
	channelPool  sync.Pool
	mu           sync.Mutex
	exchangeMap  map[string]bool // 已声明的exchange
	queueMap     map[string]bool // 已声明的queue
	bindingMap   map[string]bool // key格式: "exchange:queue:routingKey"
	publishMutex sync.Mutex
	cfg          *config.RabbitMQConfig
}

// NewRabbitMQ 创建RabbitMQ客户端
func NewRabbitMQ(cfg *config.RabbitMQConfig) (*RabbitMQ, error) {
	if cfg == nil {
		return nil, fmt.Errorf("RabbitMQ配置不能为空")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("RabbitMQ URL配置不能为空")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("无法连接到RabbitMQ服务器: %w", err)
	}

	mq := &RabbitMQ{
		conn:        conn,
		exchangeMap: make(map[string]bool),
		queueMap:    make(map[string]bool),
		bindingMap:  make(map[string]bool),
		cfg:         cfg,
	}
	mq.channelPool = sync.Pool{
		New: func() interface{} {
			ch, errPool := conn.Channel()
			if errPool != nil {
				logger.Error().Err(errPool).Msg("创建RabbitMQ通道失败")
				return nil
			}
			return ch
		},
	}

	testCh := mq.getChannel()
	if testCh == nil {
		conn.Close()
		return nil, fmt.Errorf("无法创建RabbitMQ通道")
	}
	mq.putChannel(testCh)

	logger.Info().Msg("成功连接到RabbitMQ服务器")
	return mq, nil
}

func (r *RabbitMQ) getChannel() *amqp.Channel {
	ch, _ := r.channelPool.Get().(*amqp.Channel)
	if ch == nil || ch.IsClosed() {
		newCh, err := r.conn.Channel()
		if err != nil {
			logger.Error().Err(err).Msg("创建新RabbitMQ通道失败")
			return nil
		}
		return newCh
	}
	return ch
}

func (r *RabbitMQ) putChannel(ch *amqp.Channel) {
	if ch != nil && !ch.IsClosed() {
		r.channelPool.Put(ch)
	}
}

// Close 关闭连接
func (r *RabbitMQ) Close() error {
	return r.conn.Close()
}

// EnsureExchange 确保exchange存在
func (r *RabbitMQ) EnsureExchange(exchangeName, exchangeType string, durable bool) error {
	if exchangeName == "" {
		return fmt.Errorf("exchange名称不能为空")
	}
	if exchangeName == "amq.default" || exchangeName == "default" {
		return fmt.Errorf("不能声明默认交换机 '%s'", exchangeName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exchangeMap[exchangeName] {
		return nil
	}

	ch := r.getChannel()
	if ch == nil {
		return fmt.Errorf("无法获取RabbitMQ通道")
	}
	defer r.putChannel(ch)

	if err := ch.ExchangeDeclare(exchangeName, exchangeType, durable, false, false, false, nil); err != nil {
		return fmt.Errorf("声明exchange失败: %w", err)
	}
	r.exchangeMap[exchangeName] = true
	logger.Info().Str("exchange", exchangeName).Str("type", exchangeType).Msg("已确保exchange存在")
	return nil
}

// EnsureQueue 确保队列存在
func (r *RabbitMQ) EnsureQueue(queueName string, durable bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queueMap[queueName] {
		return nil
	}

	ch := r.getChannel()
	if ch == nil {
		return fmt.Errorf("无法获取RabbitMQ通道")
	}
	defer r.putChannel(ch)

	if _, err := ch.QueueDeclare(queueName, durable, false, false, false, nil); err != nil {
		return fmt.Errorf("声明队列失败: %w", err)
	}
	r.queueMap[queueName] = true
	logger.Info().Str("queue", queueName).Msg("已确保队列存在")
	return nil
}

// BindQueue 绑定队列到exchange
func (r *RabbitMQ) BindQueue(queueName, exchangeName, routingKey string) error {
	bindingKey := fmt.Sprintf("%s:%s:%s", exchangeName, queueName, routingKey)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bindingMap[bindingKey] {
		return nil
	}

	ch := r.getChannel()
	if ch == nil {
		return fmt.Errorf("无法获取RabbitMQ通道")
	}
	defer r.putChannel(ch)

	if err := ch.QueueBind(queueName, routingKey, exchangeName, false, nil); err != nil {
		return fmt.Errorf("绑定队列到exchange失败: %w", err)
	}
	r.bindingMap[bindingKey] = true
	return nil
}

// PublishMessage 以持久化模式发布消息到exchange
func (r *RabbitMQ) PublishMessage(ctx context.Context, exchangeName, routingKey string, message []byte, contentType string) error {
	r.publishMutex.Lock()
	defer r.publishMutex.Unlock()

	ch := r.getChannel()
	if ch == nil {
		return fmt.Errorf("无法获取RabbitMQ通道")
	}
	defer r.putChannel(ch)

	if contentType == "" {
		contentType = "application/json"
	}
	return ch.PublishWithContext(ctx, exchangeName, routingKey, false, false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  contentType,
			Body:         message,
			Timestamp:    time.Now(),
		},
	)
}

// StartConsumer 启动消费者，ctx 取消后退出；handler 返回 false 时消息重新入队
func (r *RabbitMQ) StartConsumer(ctx context.Context, queueName string, prefetchCount int, handler func(context.Context, []byte) bool) error {
	ch := r.getChannel()
	if ch == nil {
		return fmt.Errorf("无法获取RabbitMQ通道")
	}

	if err := ch.Qos(prefetchCount, 0, false); err != nil {
		r.putChannel(ch)
		return fmt.Errorf("设置QoS失败: %w", err)
	}

	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		r.putChannel(ch)
		return fmt.Errorf("注册消费者失败: %w", err)
	}

	go func() {
		// 带未确认消息的通道不能复用
		defer ch.Close()
		logger.Info().Str("queue", queueName).Int("prefetch", prefetchCount).Msg("RabbitMQ消费者已启动")
		defer logger.Info().Str("queue", queueName).Msg("RabbitMQ消费者已停止")

		for {
			select {
			case <-ctx.Done():
				return
			case delivery, ok := <-deliveries:
				if !ok {
					logger.Warn().Str("queue", queueName).Msg("RabbitMQ通道已关闭")
					return
				}
				if handler(ctx, delivery.Body) {
					if err := delivery.Ack(false); err != nil {
						logger.Error().Err(err).Msg("确认消息失败")
					}
				} else if err := delivery.Nack(false, true); err != nil {
					logger.Error().Err(err).Msg("拒绝消息失败")
				}
			}
		}
	}()

	return nil
}
