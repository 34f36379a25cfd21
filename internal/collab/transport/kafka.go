package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/IBM/sarama"

	"naskahcollab/internal/collab/model"
	"naskahcollab/pkg/logger"
)

const DefaultKafkaTopic = "naskah.collab.events"

// Kafka publishes events to a single partition of topic and tails that same
// partition, which keeps one total order across replicas.
type Kafka struct {
	topic     string
	partition int32

	newProducer func() (sarama.SyncProducer, error)
	newConsumer func() (sarama.Consumer, error)

	mu           sync.Mutex
	producer     sarama.SyncProducer
	consumer     sarama.Consumer
	pc           sarama.PartitionConsumer
	handler      Handler
	onDisconnect func(error)
	closed       bool
	done         chan struct{}
}

func NewKafkaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = "naskah-collab"
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Partitioner = sarama.NewManualPartitioner
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	return cfg
}

func NewKafka(brokers []string, topic string) *Kafka {
	cfg := NewKafkaConfig()
	return NewKafkaWithFactories(topic,
		func() (sarama.SyncProducer, error) { return sarama.NewSyncProducer(brokers, cfg) },
		func() (sarama.Consumer, error) { return sarama.NewConsumer(brokers, cfg) },
	)
}

// NewKafkaWithFactories builds the transport from client constructors; Connect
// calls them, so a failed attempt can be retried.
func NewKafkaWithFactories(topic string, producer func() (sarama.SyncProducer, error), consumer func() (sarama.Consumer, error)) *Kafka {
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	return &Kafka{topic: topic, newProducer: producer, newConsumer: consumer}
}

func (k *Kafka) Connect(_ context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return fmt.Errorf("%w: %w", ErrTransportInit, ErrClosed)
	}
	if k.pc != nil {
		return nil
	}

	producer, err := k.newProducer()
	if err != nil {
		return fmt.Errorf("%w: kafka producer: %w", ErrTransportInit, err)
	}
	consumer, err := k.newConsumer()
	if err != nil {
		producer.Close()
		return fmt.Errorf("%w: kafka consumer: %w", ErrTransportInit, err)
	}
	pc, err := consumer.ConsumePartition(k.topic, k.partition, sarama.OffsetNewest)
	if err != nil {
		consumer.Close()
		producer.Close()
		return fmt.Errorf("%w: consume %s/%d: %w", ErrTransportInit, k.topic, k.partition, err)
	}

	k.producer, k.consumer, k.pc = producer, consumer, pc
	k.done = make(chan struct{})
	go k.listen(pc, k.done)
	return nil
}

func (k *Kafka) listen(pc sarama.PartitionConsumer, done chan struct{}) {
	defer close(done)
	messages, errs := pc.Messages(), pc.Errors()
	for messages != nil {
		select {
		case msg, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			event, err := model.DecodeEvent(msg.Value)
			if err != nil {
				logger.Sugar.Warnf("dropping malformed event at %s/%d@%d: %v", msg.Topic, msg.Partition, msg.Offset, err)
				continue
			}
			k.mu.Lock()
			h := k.handler
			k.mu.Unlock()
			if h != nil {
				h(event)
			}
		case cerr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Sugar.Warnf("kafka consumer error: %v", cerr)
		}
	}

	k.mu.Lock()
	closed := k.closed
	fn := k.onDisconnect
	var producer sarama.SyncProducer
	var consumer sarama.Consumer
	if !closed && k.pc == pc {
		producer, consumer = k.producer, k.consumer
		k.producer, k.consumer, k.pc = nil, nil, nil
	}
	k.mu.Unlock()
	if closed {
		return
	}

	// Release the dead clients so the next Connect builds fresh ones.
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logger.Sugar.Warnf("closing kafka consumer: %v", err)
		}
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Sugar.Warnf("closing kafka producer: %v", err)
		}
	}
	if fn != nil {
		fn(fmt.Errorf("kafka partition consumer for %s stopped", k.topic))
	}
}

func (k *Kafka) Send(_ context.Context, event model.Event) error {
	k.mu.Lock()
	producer, closed := k.producer, k.closed
	k.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if producer == nil {
		return ErrNotConnected
	}

	data, err := event.Encode()
	if err != nil {
		return err
	}
	_, _, err = producer.SendMessage(&sarama.ProducerMessage{
		Topic:     k.topic,
		Partition: k.partition,
		Key:       sarama.StringEncoder(event.DocumentID),
		Value:     sarama.ByteEncoder(data),
	})
	return err
}

func (k *Kafka) OnReceive(h Handler) {
	k.mu.Lock()
	k.handler = h
	k.mu.Unlock()
}

func (k *Kafka) OnDisconnect(fn func(error)) {
	k.mu.Lock()
	k.onDisconnect = fn
	k.mu.Unlock()
}

func (k *Kafka) State() model.ConnectionState {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.pc != nil && !k.closed {
		return model.StateConnected
	}
	return model.StateDisconnected
}

func (k *Kafka) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	producer, consumer, pc, done := k.producer, k.consumer, k.pc, k.done
	k.mu.Unlock()

	if pc == nil {
		return nil
	}
	pc.AsyncClose()
	<-done
	if err := consumer.Close(); err != nil {
		logger.Sugar.Warnf("closing kafka consumer: %v", err)
	}
	return producer.Close()
}
