package master

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/streadway/amqp"
)

// A Publisher delivers session events to a broker. Implementations must be
// safe for concurrent use. Publishing is best effort throughout the master:
// failures are logged, never fatal to the session.
type Publisher interface {
	Publish(exchange, routingKey string, message interface{}) error
	Close() error
}

// AMQPPublisher publishes session events to topic exchanges on an AMQP
// broker. Exchanges are declared on first use.
type AMQPPublisher struct {
	m        sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	declared map[string]bool
}

// NewAMQPPublisher connects to the broker at amqpURL.
func NewAMQPPublisher(amqpURL string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, errors.Wrap(err, "dialing AMQP broker")
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "opening AMQP channel")
	}
	return &AMQPPublisher{
		conn:     conn,
		channel:  channel,
		declared: map[string]bool{},
	}, nil
}

func (p *AMQPPublisher) Publish(exchange, routingKey string, message interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "serializing event message")
	}
	p.m.Lock()
	defer p.m.Unlock()
	if !p.declared[exchange] {
		err := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
		if err != nil {
			return errors.Wrapf(err, "declaring exchange %v", exchange)
		}
		p.declared[exchange] = true
	}
	err = p.channel.Publish(exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	return errors.Wrapf(err, "publishing to %v with routing key %v", exchange, routingKey)
}

func (p *AMQPPublisher) Close() error {
	p.m.Lock()
	defer p.m.Unlock()
	if err := p.channel.Close(); err != nil {
		_ = p.conn.Close()
		return errors.Wrap(err, "closing AMQP channel")
	}
	return errors.Wrap(p.conn.Close(), "closing AMQP connection")
}
