// Package events publishes ledger domain events to RabbitMQ so downstream
// consumers (notifications, analytics, ticket fulfilment) can react to
// finalized transactions. Publish failures are logged and swallowed by the
// caller; the ledger write is already committed by the time an event goes out.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/eventra/backend/internal/models"
)

// TransactionsQueue receives one message per finalized transaction.
const TransactionsQueue = "ledger.transactions"

// TransactionEvent is the wire shape of a transaction message.
type TransactionEvent struct {
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	TicketID      *string   `json:"ticket_id,omitempty"`
	Kind          string    `json:"kind"`
	Amount        int64     `json:"amount"`
	Status        string    `json:"status"`
	PaymentMethod string    `json:"payment_method"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Publisher holds a broker connection and republishes on a fresh channel per
// message. Channels are not safe for concurrent use; connections are.
type Publisher struct {
	mu   sync.Mutex
	conn *amqp.Connection
	url  string
	log  *logrus.Entry
}

// NewPublisher dials the broker and declares the transactions queue durable,
// so messages survive broker restarts.
func NewPublisher(url string, logger *logrus.Logger) (*Publisher, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	p := &Publisher{url: url, log: logger.WithField("component", "event_publisher")}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(TransactionsQueue, true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("declare queue %s: %w", TransactionsQueue, err)
	}

	p.conn = conn
	return nil
}

// PublishTransaction sends one persistent message for txn, redialing once if
// the connection has dropped since the last publish.
func (p *Publisher) PublishTransaction(ctx context.Context, txn *models.Transaction) error {
	event := TransactionEvent{
		TransactionID: txn.ID.String(),
		UserID:        txn.UserID.String(),
		Kind:          string(txn.Kind),
		Amount:        txn.Amount,
		Status:        string(txn.Status),
		PaymentMethod: txn.PaymentMethod,
		OccurredAt:    txn.UpdatedAt,
	}
	if txn.TicketID != nil {
		id := txn.TicketID.String()
		event.TicketID = &id
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal transaction event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() {
		if err := p.connect(); err != nil {
			return err
		}
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()

	err = ch.PublishWithContext(ctx,
		"",                // default exchange
		TransactionsQueue, // routing key = queue name
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    txn.ID.String(),
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("publish transaction event: %w", err)
	}

	p.log.WithFields(logrus.Fields{
		"transaction_id": event.TransactionID,
		"status":         event.Status,
	}).Debug("published transaction event")
	return nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
