package cardworker

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sasha-s/go-deadlock"
	"github.com/segmentio/ksuid"
	"github.com/streadway/amqp"
)

// rpcReply is what a remote worker publishes back for one document. Error is
// set when the worker could not produce an envelope at all.
type rpcReply struct {
	Envelope ExtractionEnvelope `json:"envelope"`
	Error    string             `json:"error,omitempty"`
}

type pendingRequest struct {
	future *Future
	timer  *time.Timer
}

// pendingReplies maps correlation ids to the futures waiting for them.
type pendingReplies struct {
	mutex    deadlock.Mutex
	requests map[string]pendingRequest
	closed   bool
}

func newPendingReplies() *pendingReplies {
	return &pendingReplies{requests: make(map[string]pendingRequest)}
}

// add registers a future which fails with ErrResponseTimeout unless a reply
// arrives within timeout.
func (p *pendingReplies) add(correlationID string, timeout time.Duration) (*Future, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.closed {
		return nil, ErrDispatcherClosed
	}
	future := newFuture()
	timer := time.AfterFunc(timeout, func() {
		p.fail(correlationID, ErrResponseTimeout)
	})
	p.requests[correlationID] = pendingRequest{future: future, timer: timer}
	return future, nil
}

func (p *pendingReplies) take(correlationID string) (pendingRequest, bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	request, ok := p.requests[correlationID]
	if ok {
		delete(p.requests, correlationID)
		request.timer.Stop()
	}
	return request, ok
}

func (p *pendingReplies) complete(correlationID string, reply rpcReply) bool {
	request, ok := p.take(correlationID)
	if !ok {
		return false
	}
	if reply.Error != "" {
		request.future.resolve(ExtractionEnvelope{}, errors.Errorf("remote worker: %s", reply.Error))
		return true
	}
	request.future.resolve(reply.Envelope, nil)
	return true
}

func (p *pendingReplies) fail(correlationID string, err error) {
	if request, ok := p.take(correlationID); ok {
		request.future.resolve(ExtractionEnvelope{}, err)
	}
}

// closeAll fails every waiting future with err and refuses new ones.
func (p *pendingReplies) closeAll(err error) {
	p.mutex.Lock()
	requests := p.requests
	p.requests = make(map[string]pendingRequest)
	p.closed = true
	p.mutex.Unlock()

	for _, request := range requests {
		request.timer.Stop()
		request.future.resolve(ExtractionEnvelope{}, err)
	}
}

func (p *pendingReplies) len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.requests)
}

// AmqpDispatcher sends documents to worker processes over RabbitMQ and matches
// their replies by correlation id on one exclusive callback queue.
type AmqpDispatcher struct {
	rabbitConfig  RabbitConfig
	connection    *amqp.Connection
	channel       *amqp.Channel
	callbackQueue string
	tag           string
	pending       *pendingReplies
}

func NewAmqpDispatcher(rc RabbitConfig) (*AmqpDispatcher, error) {
	d := &AmqpDispatcher{
		rabbitConfig: rc,
		tag:          ksuid.New().String(),
		pending:      newPendingReplies(),
	}

	log.Info().Str("component", "CARD_CLIENT").Str("host", stripAmqpPassword(rc.AmqpURI)).
		Msg("dialing rabbitMq")
	var err error
	d.connection, err = amqp.Dial(rc.AmqpURI)
	if err != nil {
		return nil, errors.Wrap(err, "dial rabbitMq")
	}

	d.channel, err = d.connection.Channel()
	if err != nil {
		d.connection.Close()
		return nil, err
	}

	if err = d.channel.ExchangeDeclare(
		rc.Exchange,     // name
		rc.ExchangeType, // type
		true,            // durable
		false,           // auto-deleted
		false,           // internal
		false,           // noWait
		nil,             // arguments
	); err != nil {
		d.connection.Close()
		return nil, err
	}

	deliveries, err := d.subscribeCallbackQueue()
	if err != nil {
		d.connection.Close()
		return nil, err
	}

	go d.handleReplies(deliveries)
	return d, nil
}

func (d *AmqpDispatcher) subscribeCallbackQueue() (<-chan amqp.Delivery, error) {

	// declare a callback queue where we will receive rpc responses
	callbackQueue, err := d.channel.QueueDeclare(
		"",    // name -- let rabbit generate a random one
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // noWait
		nil,   // arguments
	)
	if err != nil {
		return nil, err
	}

	// bind the callback queue to an exchange + routing key
	if err = d.channel.QueueBind(
		callbackQueue.Name,      // name of the queue
		callbackQueue.Name,      // bindingKey
		d.rabbitConfig.Exchange, // sourceExchange
		false,                   // noWait
		nil,                     // arguments
	); err != nil {
		return nil, err
	}
	d.callbackQueue = callbackQueue.Name

	log.Info().Str("component", "CARD_CLIENT").Str("callbackQueue", callbackQueue.Name).
		Msg("callback queue bound")

	return d.channel.Consume(
		callbackQueue.Name, // name
		d.tag,              // consumerTag,
		true,               // noAck
		true,               // exclusive
		false,              // noLocal
		false,              // noWait
		nil,                // arguments
	)
}

func (d *AmqpDispatcher) Submit(doc SubmittedDocument) *Future {
	correlationID := ksuid.New().String()
	future, err := d.pending.add(correlationID, d.rabbitConfig.ResponseTimeout)
	if err != nil {
		return failedFuture(err)
	}

	body, err := json.Marshal(doc)
	if err != nil {
		d.pending.fail(correlationID, errors.Wrap(err, "marshal document"))
		return future
	}

	log.Debug().Str("component", "CARD_CLIENT").Str("RequestID", doc.RequestID).
		Str("CorrelationId", correlationID).Int("msg_size", len(body)).
		Msg("publishing document")

	if err = d.channel.Publish(
		d.rabbitConfig.Exchange,   // publish to an exchange
		d.rabbitConfig.RoutingKey, // routing to the worker queue
		false,                     // mandatory
		false,                     // immediate
		amqp.Publishing{
			Headers:       amqp.Table{},
			ContentType:   "application/json",
			Body:          body,
			DeliveryMode:  amqp.Transient, // 1=non-persistent, 2=persistent
			ReplyTo:       d.callbackQueue,
			CorrelationId: correlationID,
		},
	); err != nil {
		d.pending.fail(correlationID, errors.Wrap(err, "publish document"))
	}
	return future
}

func (d *AmqpDispatcher) handleReplies(deliveries <-chan amqp.Delivery) {
	for delivery := range deliveries {
		var reply rpcReply
		if err := json.Unmarshal(delivery.Body, &reply); err != nil {
			log.Error().Err(err).Str("component", "CARD_CLIENT").
				Str("CorrelationId", delivery.CorrelationId).Msg("malformed reply")
			d.pending.fail(delivery.CorrelationId, errors.Wrap(err, "malformed reply"))
			continue
		}
		if !d.pending.complete(delivery.CorrelationId, reply) {
			log.Warn().Str("component", "CARD_CLIENT").Str("CorrelationId", delivery.CorrelationId).
				Msg("reply arrived after its request timed out")
		}
	}
	log.Warn().Str("component", "CARD_CLIENT").Msg("callback deliveries channel closed")
	d.pending.closeAll(errors.Wrap(ErrDispatcherClosed, "amqp connection lost"))
}

// Pending reports how many documents are waiting for a reply.
func (d *AmqpDispatcher) Pending() int {
	return d.pending.len()
}

// Close fails every waiting future and closes the connection.
func (d *AmqpDispatcher) Close() error {
	d.pending.closeAll(ErrDispatcherClosed)
	if err := d.channel.Cancel(d.tag, false); err != nil {
		log.Warn().Err(err).Str("component", "CARD_CLIENT").Msg("cancel consumer failed")
	}
	return d.connection.Close()
}
