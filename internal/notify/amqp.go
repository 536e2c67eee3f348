package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the topic exchange notifications are published to.
const DefaultExchange = "notifications"

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// ErrNotifierClosed is returned by Send after Close.
var ErrNotifierClosed = errors.New("notify: notifier closed")

// session is one broker connection with its publishing channel. closed
// fires or is closed when the channel goes away.
type session struct {
	channel publisher
	closed  <-chan *amqp091.Error
	release func()
}

func (s *session) alive() bool {
	select {
	case <-s.closed:
		return false
	default:
		return true
	}
}

// AMQPNotifier publishes notifications as JSON to a durable topic exchange
// with routing key "email.<template>". A lost connection is redialed on the
// next Send.
type AMQPNotifier struct {
	exchange string
	dial     func() (*session, error)

	mu      sync.Mutex
	current *session
	stopped bool
}

// DialAMQP connects to amqpURL and declares the notification exchange.
func DialAMQP(amqpURL string) (*AMQPNotifier, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	n := &AMQPNotifier{
		exchange: DefaultExchange,
		dial: func() (*session, error) {
			return dialSession(cleanURL, DefaultExchange)
		},
	}
	if _, err := n.session(); err != nil {
		return nil, err
	}

	log.Printf("[notify] publishing notifications to exchange %q", DefaultExchange)
	return n, nil
}

func dialSession(amqpURL, exchange string) (*session, error) {
	conn, err := amqp091.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("notify: dial amqp: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("notify: open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("notify: declare exchange: %w", err)
	}

	// Channels are closed along with their connection, so one watch covers both.
	closed := channel.NotifyClose(make(chan *amqp091.Error, 1))
	return &session{
		channel: channel,
		closed:  closed,
		release: func() {
			channel.Close()
			conn.Close()
		},
	}, nil
}

// session returns the live session, redialing when the previous one closed.
func (n *AMQPNotifier) session() (*session, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.stopped {
		return nil, ErrNotifierClosed
	}
	if n.current != nil {
		if n.current.alive() {
			return n.current, nil
		}
		log.Printf("[notify] AMQP connection lost, reconnecting")
		n.current.release()
		n.current = nil
	}

	s, err := n.dial()
	if err != nil {
		return nil, err
	}
	n.current = s
	return s, nil
}

// discard drops s if it is still the current session.
func (n *AMQPNotifier) discard(s *session) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current == s {
		n.current.release()
		n.current = nil
	}
}

func (n *AMQPNotifier) Send(ctx context.Context, msg Notification) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notify: marshal notification: %w", err)
	}
	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	s, err := n.session()
	if err != nil {
		return fmt.Errorf("notify: publish %s: %w", msg.Template, err)
	}
	err = s.channel.PublishWithContext(ctx, n.exchange, RoutingKey(msg.Template), false, false, publishing)
	if err != nil && (errors.Is(err, amqp091.ErrClosed) || !s.alive()) {
		// The close notification can race the publish; redial once.
		n.discard(s)
		if s, err = n.session(); err == nil {
			err = s.channel.PublishWithContext(ctx, n.exchange, RoutingKey(msg.Template), false, false, publishing)
		}
	}
	if err != nil {
		return fmt.Errorf("notify: publish %s: %w", msg.Template, err)
	}
	return nil
}

// Close releases the channel and connection. Send fails afterwards.
func (n *AMQPNotifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopped = true
	if n.current != nil {
		n.current.release()
		n.current = nil
	}
}

// RoutingKey returns the topic a template is published under.
func RoutingKey(template string) string {
	return "email." + template
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}
