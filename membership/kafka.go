package membership

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/rbaliyan/clusterbus"
)

const (
	defaultPresenceTopic = "clusterbus-presence"
)

// Kafka is a Membership backend built on a presence topic: each node
// produces a heartbeat record keyed by its own address, and every node
// consumes the topic from the point it joined, tracking a last-seen
// timestamp per peer and sweeping out anyone who goes quiet past the TTL.
type Kafka struct {
	client   sarama.Client
	producer sarama.SyncProducer
	consumer sarama.Consumer
	topic    string
	ttl      time.Duration
	interval time.Duration

	mu       sync.Mutex
	lastSeen map[clusterbus.NodeAddress]time.Time
	watch    crashWatchers

	stop chan struct{}
}

// KafkaOption configures a Kafka membership tracker.
type KafkaOption func(*Kafka)

// WithPresenceTopic overrides the default topic used for heartbeats.
func WithPresenceTopic(topic string) KafkaOption {
	return func(k *Kafka) { k.topic = topic }
}

// WithKafkaPresenceTTL sets how long a missed heartbeat is tolerated.
func WithKafkaPresenceTTL(ttl time.Duration) KafkaOption {
	return func(k *Kafka) { k.ttl = ttl }
}

// WithKafkaPresenceInterval sets how often the local node announces itself.
func WithKafkaPresenceInterval(d time.Duration) KafkaOption {
	return func(k *Kafka) { k.interval = d }
}

// NewKafka wraps an existing sarama client. The client is not closed by
// Close; callers that own the client lifecycle close it themselves.
func NewKafka(client sarama.Client, opts ...KafkaOption) (*Kafka, error) {
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		return nil, fmt.Errorf("%w: producer: %v", clusterbus.ErrRegistryUnavailable, err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		return nil, fmt.Errorf("%w: consumer: %v", clusterbus.ErrRegistryUnavailable, err)
	}
	k := &Kafka{
		client:   client,
		producer: producer,
		consumer: consumer,
		topic:    defaultPresenceTopic,
		ttl:      defaultPresenceTTL,
		interval: defaultPresenceInterval,
		lastSeen: make(map[clusterbus.NodeAddress]time.Time),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k, nil
}

func (k *Kafka) Join(_ context.Context, local clusterbus.NodeAddress) error {
	partitions, err := k.consumer.Partitions(k.topic)
	if err != nil {
		return fmt.Errorf("%w: partitions: %v", clusterbus.ErrRegistryUnavailable, err)
	}

	k.mu.Lock()
	k.lastSeen[local] = time.Now()
	k.mu.Unlock()

	k.stop = make(chan struct{})
	for _, p := range partitions {
		pc, err := k.consumer.ConsumePartition(k.topic, p, sarama.OffsetNewest)
		if err != nil {
			return fmt.Errorf("%w: consume partition %d: %v", clusterbus.ErrRegistryUnavailable, p, err)
		}
		go k.consumeLoop(pc)
	}

	go k.announceLoop(local)
	go k.sweepLoop()
	return nil
}

func (k *Kafka) consumeLoop(pc sarama.PartitionConsumer) {
	defer pc.Close()
	for {
		select {
		case <-k.stop:
			return
		case msg, ok := <-pc.Messages():
			if !ok {
				return
			}
			addr, err := clusterbus.ParseNodeAddress(string(msg.Key))
			if err != nil {
				continue
			}
			k.mu.Lock()
			k.lastSeen[addr] = time.Now()
			k.mu.Unlock()
		}
	}
}

func (k *Kafka) announceLoop(local clusterbus.NodeAddress) {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	k.announce(local)
	for {
		select {
		case <-k.stop:
			return
		case <-ticker.C:
			k.announce(local)
		}
	}
}

func (k *Kafka) announce(local clusterbus.NodeAddress) {
	_, _, _ = k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(local.String()),
		Value: sarama.StringEncoder(local.String()),
	})
}

func (k *Kafka) sweepLoop() {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-k.stop:
			return
		case <-ticker.C:
			k.sweep()
		}
	}
}

func (k *Kafka) sweep() {
	deadline := time.Now().Add(-k.ttl)
	var gone []clusterbus.NodeAddress
	k.mu.Lock()
	for addr, seen := range k.lastSeen {
		if seen.Before(deadline) {
			gone = append(gone, addr)
			delete(k.lastSeen, addr)
		}
	}
	k.mu.Unlock()
	for _, addr := range gone {
		k.watch.notify(addr)
	}
}

func (k *Kafka) Leave(_ context.Context, local clusterbus.NodeAddress) error {
	k.mu.Lock()
	delete(k.lastSeen, local)
	k.mu.Unlock()
	return nil
}

func (k *Kafka) Nodes(_ context.Context) ([]clusterbus.NodeAddress, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]clusterbus.NodeAddress, 0, len(k.lastSeen))
	for addr := range k.lastSeen {
		out = append(out, addr)
	}
	return out, nil
}

func (k *Kafka) OnNodeCrashed(fn func(clusterbus.NodeAddress)) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.watch.add(fn)
}

func (k *Kafka) Close() error {
	if k.stop != nil {
		close(k.stop)
	}
	_ = k.producer.Close()
	return k.consumer.Close()
}

var _ clusterbus.Membership = (*Kafka)(nil)
