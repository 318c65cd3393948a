package pubsub

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	amqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Config names the AMQP broker this process publishes to and consumes
// from. Both the cross-process fan-out bus and the async image-job bridge
// (SPEC_FULL §3.11) share one broker connection string.
type Config struct {
	AMQPURI string
}

// NewPublisher opens a durable publisher. Fan-out messages are always
// published to Topic; the job bridge (internal/handler/amqp) publishes
// job requests to its own fixed topic. Either way the exchange name comes
// straight from the topic string passed to Publish.
func NewPublisher(cfg Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	amqpCfg := amqp.NewDurablePubSubConfig(cfg.AMQPURI, nil)
	pub, err := amqp.NewPublisher(amqpCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("pubsub: new publisher: %w", err)
	}
	return pub, nil
}

// NewFanoutSubscriber returns a subscriber bound to a queue unique to this
// process (generateQueueName), so a topic-exchange fan-out publish reaches
// every running instance rather than exactly one (grounded on the
// teacher's router.go per-node unique queue naming for broadcast
// consumption).
func NewFanoutSubscriber(cfg Config, nodeID string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	amqpCfg := amqp.NewDurablePubSubConfig(cfg.AMQPURI, func(topic string) string {
		return "parkbeat.fanout." + nodeID
	})
	amqpCfg.Consume.Qos.PrefetchCount = 32
	sub, err := amqp.NewSubscriber(amqpCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("pubsub: new fanout subscriber: %w", err)
	}
	return sub, nil
}

// NewQueueSubscriber returns a subscriber over a shared durable queue
// (competing consumers), used for the image-job result bridge where
// exactly one server instance should handle each result.
func NewQueueSubscriber(cfg Config, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	amqpCfg := amqp.NewDurableQueueConfig(cfg.AMQPURI)
	sub, err := amqp.NewSubscriber(amqpCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("pubsub: new queue subscriber: %w", err)
	}
	return sub, nil
}
