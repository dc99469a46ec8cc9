package cardworker

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"
	"github.com/streadway/amqp"
)

var errRedelivered = errors.New("document was redelivered after its previous worker stopped")

// CardRpcWorker consumes documents from the broker and runs them on a local
// Dispatcher. It keeps one unacknowledged delivery per local worker.
type CardRpcWorker struct {
	rabbitConfig RabbitConfig
	dispatcher   Dispatcher
	concurrency  int
	conn         *amqp.Connection
	channel      *amqp.Channel
	tag          string
	Done         chan error
}

func NewCardRpcWorker(rc RabbitConfig, dispatcher Dispatcher, concurrency int) (*CardRpcWorker, error) {
	if dispatcher == nil {
		return nil, errors.New("rpc worker needs a dispatcher")
	}
	if concurrency < 1 {
		concurrency = 1
	}
	cardRpcWorker := &CardRpcWorker{
		rabbitConfig: rc,
		dispatcher:   dispatcher,
		concurrency:  concurrency,
		tag:          ksuid.New().String(),
		Done:         make(chan error, 1),
	}
	return cardRpcWorker, nil
}

func (w *CardRpcWorker) Run() (err error) {

	log.Info().Str("component", "CARD_WORKER").Str("tag", w.tag).
		Str("host", stripAmqpPassword(w.rabbitConfig.AmqpURI)).
		Msg("dialing rabbitMq")

	w.conn, err = amqp.Dial(w.rabbitConfig.AmqpURI)
	if err != nil {
		log.Warn().Str("component", "CARD_WORKER").Err(err).Str("tag", w.tag).
			Msg("error connecting to rabbitMq")
		return err
	}
	defer func() {
		if err != nil {
			_ = w.conn.Close()
		}
	}()

	go func() {
		if closeErr := <-w.conn.NotifyClose(make(chan *amqp.Error, 1)); closeErr != nil {
			log.Warn().Str("component", "CARD_WORKER").Str("tag", w.tag).
				Str("reason", closeErr.Reason).Msg("connection closed")
		}
	}()

	w.channel, err = w.conn.Channel()
	if err != nil {
		return err
	}
	// one unacknowledged delivery per local worker, the rest stays on the broker
	if err = w.channel.Qos(w.concurrency, 0, false); err != nil {
		return err
	}

	if err = w.channel.ExchangeDeclare(
		w.rabbitConfig.Exchange,     // name of the exchange
		w.rabbitConfig.ExchangeType, // type
		true,                        // durable
		false,                       // delete when complete
		false,                       // internal
		false,                       // noWait
		nil,                         // arguments
	); err != nil {
		return err
	}

	// just use the routing key as the queue name, since there's no reason
	// to have a different name
	queue, err := w.channel.QueueDeclare(
		w.rabbitConfig.RoutingKey, // name of the queue
		true,                      // durable
		false,                     // delete when unused
		false,                     // exclusive
		false,                     // noWait
		nil,                       // arguments
	)
	if err != nil {
		return err
	}

	if err = w.channel.QueueBind(
		queue.Name,                // name of the queue
		w.rabbitConfig.RoutingKey, // bindingKey
		w.rabbitConfig.Exchange,   // sourceExchange
		false,                     // noWait
		nil,                       // arguments
	); err != nil {
		return err
	}

	log.Info().Str("component", "CARD_WORKER").Str("tag", w.tag).Str("queue", queue.Name).
		Int("concurrency", w.concurrency).Msg("queue bound to exchange, starting consume")
	deliveries, err := w.channel.Consume(
		queue.Name, // name
		w.tag,      // consumerTag,
		false,      // noAck
		false,      // exclusive
		false,      // noLocal
		false,      // noWait
		nil,        // arguments
	)
	if err != nil {
		return err
	}

	go w.handleAll(deliveries)
	return nil
}

func (w *CardRpcWorker) Shutdown() error {
	// will close() the deliveries channel
	if err := w.channel.Cancel(w.tag, false); err != nil {
		return errors.Wrapf(err, "worker with tag %s cancel failed", w.tag)
	}

	// wait for the in flight deliveries to be answered
	handleErr := <-w.Done

	if err := w.conn.Close(); err != nil {
		return errors.Wrapf(err, "AMQP connection with worker %s close error", w.tag)
	}
	log.Info().Str("component", "CARD_WORKER").Str("tag", w.tag).Msg("Shutdown OK")
	return handleErr
}

func (w *CardRpcWorker) handleAll(deliveries <-chan amqp.Delivery) {
	var wg sync.WaitGroup
	var once sync.Once
	var firstErr error
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.handle(deliveries); err != nil {
				once.Do(func() { firstErr = err })
			}
		}()
	}
	wg.Wait()
	log.Info().Str("component", "CARD_WORKER").Str("tag", w.tag).
		Msg("handle: deliveries channel closed")
	if firstErr == nil {
		firstErr = errors.New("handle: deliveries channel closed")
	}
	w.Done <- firstErr
}

func (w *CardRpcWorker) handle(deliveries <-chan amqp.Delivery) error {
	for d := range deliveries {
		log.Info().Str("component", "CARD_WORKER").Str("tag", w.tag).
			Int("msg_size", len(d.Body)).
			Str("CorrelationId", d.CorrelationId).
			Str("ReplyTo", d.ReplyTo).
			Bool("Redelivered", d.Redelivered).
			Uint64("DeliveryTag", d.DeliveryTag).
			Msg("got delivery")

		if d.ReplyTo == "" {
			log.Warn().Str("component", "CARD_WORKER").Str("tag", w.tag).
				Str("CorrelationId", d.CorrelationId).Msg("delivery has no reply address, dropping it")
			if err := d.Nack(false, false); err != nil {
				log.Warn().Str("component", "CARD_WORKER").Err(err).Str("tag", w.tag).
					Msg("Nack() was not successful")
			}
			continue
		}

		reply := w.replyForDelivery(d.Body, d.Redelivered)
		if err := w.sendRpcResponse(reply, d.ReplyTo, d.CorrelationId); err != nil {
			log.Error().Err(err).Str("component", "CARD_WORKER").Str("tag", w.tag).
				Str("CorrelationId", d.CorrelationId).Msg("error sending reply")
			// the delivery stays unacknowledged and goes back to the queue
			return err
		}
		if err := d.Ack(false); err != nil {
			log.Warn().Str("component", "CARD_WORKER").Err(err).Str("tag", w.tag).
				Msg("Ack() was not successful")
		}
	}
	return nil
}

// replyForDelivery runs one document. A redelivered message means a worker
// process died while running it, so it is answered with a failure instead of
// being given the chance to take down another worker.
func (w *CardRpcWorker) replyForDelivery(body []byte, redelivered bool) rpcReply {
	if redelivered {
		return rpcReply{Envelope: UnhandledFailureEnvelope(errRedelivered)}
	}

	doc := SubmittedDocument{}
	if err := json.Unmarshal(body, &doc); err != nil {
		log.Error().Err(err).Str("component", "CARD_WORKER").Str("tag", w.tag).
			Msg("error unmarshalling json delivery")
		return rpcReply{Envelope: UnhandledFailureEnvelope(errors.Wrap(err, "malformed document"))}
	}

	envelope, err := w.dispatcher.Submit(doc).Wait(context.Background())
	if err != nil {
		return rpcReply{Error: err.Error()}
	}
	return rpcReply{Envelope: envelope}
}

func (w *CardRpcWorker) sendRpcResponse(r rpcReply, replyTo string, correlationID string) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}

	if err := w.channel.Publish(
		w.rabbitConfig.Exchange, // publish to an exchange
		replyTo,                 // routing to 0 or more queues
		false,                   // mandatory
		false,                   // immediate
		amqp.Publishing{
			Headers:       amqp.Table{},
			ContentType:   "application/json",
			Body:          body,
			DeliveryMode:  amqp.Transient, // 1=non-persistent, 2=persistent
			CorrelationId: correlationID,
		},
	); err != nil {
		return err
	}
	log.Info().Str("component", "CARD_WORKER").Str("CorrelationId", correlationID).
		Str("tag", w.tag).Str("status", r.Envelope.Status).
		Msg("sendRpcResponse succeeded")
	return nil
}
