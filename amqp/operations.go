package amqp

// This file is the channel-multiplexing "view" SPEC_FULL.md's Non-goals
// section calls for: thin synchronous wrappers over Channel.call that
// encode arguments and decode replies, not a full exchange/queue
// ergonomics layer (no retry policies, no topology-as-code).

// ExchangeDeclareOptions mirrors the Exchange.Declare bit flags.
type ExchangeDeclareOptions struct {
	Type       string
	Passive    bool
	Durable    bool
	AutoDelete bool
	Internal   bool
	NoWait     bool
	Arguments  Table
}

func (ch *Channel) ExchangeDeclare(name string, opts ExchangeDeclareOptions) error {
	_, err := ch.call(classMethod{classExchange, 10}, map[string]any{
		"reserved-1": uint16(0), "exchange": name, "type": opts.Type,
		"passive": opts.Passive, "durable": opts.Durable, "auto-delete": opts.AutoDelete,
		"internal": opts.Internal, "no-wait": opts.NoWait, "arguments": opts.Arguments,
	})
	return err
}

func (ch *Channel) ExchangeDelete(name string, ifUnused, noWait bool) error {
	_, err := ch.call(classMethod{classExchange, 20}, map[string]any{
		"reserved-1": uint16(0), "exchange": name, "if-unused": ifUnused, "no-wait": noWait,
	})
	return err
}

// QueueDeclareOptions mirrors the Queue.Declare bit flags.
type QueueDeclareOptions struct {
	Passive    bool
	Durable    bool
	Exclusive  bool
	AutoDelete bool
	NoWait     bool
	Arguments  Table
}

// QueueDeclareResult carries Queue.Declare-Ok's fields back to the caller.
type QueueDeclareResult struct {
	Queue         string
	MessageCount  uint32
	ConsumerCount uint32
}

func (ch *Channel) QueueDeclare(name string, opts QueueDeclareOptions) (QueueDeclareResult, error) {
	values, err := ch.call(classMethod{classQueue, 10}, map[string]any{
		"reserved-1": uint16(0), "queue": name,
		"passive": opts.Passive, "durable": opts.Durable, "exclusive": opts.Exclusive,
		"auto-delete": opts.AutoDelete, "no-wait": opts.NoWait, "arguments": opts.Arguments,
	})
	if err != nil {
		return QueueDeclareResult{}, err
	}
	res := QueueDeclareResult{}
	res.Queue, _ = values["queue"].(string)
	res.MessageCount, _ = values["message-count"].(uint32)
	res.ConsumerCount, _ = values["consumer-count"].(uint32)
	return res, nil
}

func (ch *Channel) QueueBind(queue, exchange, routingKey string, noWait bool, args Table) error {
	_, err := ch.call(classMethod{classQueue, 20}, map[string]any{
		"reserved-1": uint16(0), "queue": queue, "exchange": exchange,
		"routing-key": routingKey, "no-wait": noWait, "arguments": args,
	})
	return err
}

func (ch *Channel) QueueUnbind(queue, exchange, routingKey string, args Table) error {
	_, err := ch.call(classMethod{classQueue, 50}, map[string]any{
		"reserved-1": uint16(0), "queue": queue, "exchange": exchange,
		"routing-key": routingKey, "arguments": args,
	})
	return err
}

func (ch *Channel) QueuePurge(queue string, noWait bool) (uint32, error) {
	values, err := ch.call(classMethod{classQueue, 30}, map[string]any{
		"reserved-1": uint16(0), "queue": queue, "no-wait": noWait,
	})
	if err != nil {
		return 0, err
	}
	count, _ := values["message-count"].(uint32)
	return count, nil
}

func (ch *Channel) QueueDelete(queue string, ifUnused, ifEmpty, noWait bool) (uint32, error) {
	values, err := ch.call(classMethod{classQueue, 40}, map[string]any{
		"reserved-1": uint16(0), "queue": queue,
		"if-unused": ifUnused, "if-empty": ifEmpty, "no-wait": noWait,
	})
	if err != nil {
		return 0, err
	}
	count, _ := values["message-count"].(uint32)
	return count, nil
}

// Qos applies Basic.Qos (prefetch) to this channel.
func (ch *Channel) Qos(prefetchSize uint32, prefetchCount uint16, global bool) error {
	_, err := ch.call(classMethod{classBasic, 10}, map[string]any{
		"prefetch-size": prefetchSize, "prefetch-count": prefetchCount, "global": global,
	})
	return err
}

// ConsumeOptions mirrors the Basic.Consume bit flags.
type ConsumeOptions struct {
	ConsumerTag string
	NoLocal     bool
	NoAck       bool
	Exclusive   bool
	NoWait      bool
	Arguments   Table
}

// Consume registers fn to receive every Delivery for queue under a
// (possibly generated) consumer tag, returning the tag the broker
// confirmed.
func (ch *Channel) Consume(queue string, opts ConsumeOptions, fn func(Delivery)) (string, error) {
	tag := opts.ConsumerTag
	if tag == "" {
		tag = ch.nextConsumerTag()
	}
	values, err := ch.call(classMethod{classBasic, 20}, map[string]any{
		"reserved-1": uint16(0), "queue": queue, "consumer-tag": tag,
		"no-local": opts.NoLocal, "no-ack": opts.NoAck, "exclusive": opts.Exclusive,
		"no-wait": opts.NoWait, "arguments": opts.Arguments,
	})
	if err != nil {
		return "", err
	}
	confirmedTag, _ := values["consumer-tag"].(string)
	if confirmedTag == "" {
		confirmedTag = tag
	}
	ch.consumers[confirmedTag] = fn
	return confirmedTag, nil
}

func (ch *Channel) Cancel(consumerTag string, noWait bool) error {
	_, err := ch.call(classMethod{classBasic, 30}, map[string]any{
		"consumer-tag": consumerTag, "no-wait": noWait,
	})
	delete(ch.consumers, consumerTag)
	return err
}

// Get performs a one-shot Basic.Get; ok is false when the broker replied
// Get-Empty instead of Get-Ok.
func (ch *Channel) Get(queue string, noAck bool) (d Delivery, ok bool, err error) {
	values, err := ch.call(classMethod{classBasic, 70}, map[string]any{
		"reserved-1": uint16(0), "queue": queue, "no-ack": noAck,
	})
	if err != nil {
		return Delivery{}, false, err
	}
	delivery, got := values["__delivery"].(Delivery)
	return delivery, got, nil
}

func (ch *Channel) Ack(deliveryTag uint64, multiple bool) error {
	frame, err := encodeMethodFrame(ch.id, classMethod{classBasic, 80}, map[string]any{
		"delivery-tag": deliveryTag, "multiple": multiple,
	})
	if err != nil {
		return err
	}
	return ch.conn.writeFrame(frame)
}

func (ch *Channel) Reject(deliveryTag uint64, requeue bool) error {
	frame, err := encodeMethodFrame(ch.id, classMethod{classBasic, 90}, map[string]any{
		"delivery-tag": deliveryTag, "requeue": requeue,
	})
	if err != nil {
		return err
	}
	return ch.conn.writeFrame(frame)
}

func (ch *Channel) Nack(deliveryTag uint64, multiple, requeue bool) error {
	frame, err := encodeMethodFrame(ch.id, classMethod{classBasic, 120}, map[string]any{
		"delivery-tag": deliveryTag, "multiple": multiple, "requeue": requeue,
	})
	if err != nil {
		return err
	}
	return ch.conn.writeFrame(frame)
}

func (ch *Channel) Recover(requeue bool) error {
	_, err := ch.call(classMethod{classBasic, 100}, map[string]any{"requeue": requeue})
	return err
}

// TxSelect/TxCommit/TxRollback implement the Tx class for channels that
// want transactional publish/ack semantics (spec.md names Tx among the
// method families the registry must cover).
func (ch *Channel) TxSelect() error {
	_, err := ch.call(classMethod{classTx, 10}, nil)
	return err
}

func (ch *Channel) TxCommit() error {
	_, err := ch.call(classMethod{classTx, 20}, nil)
	return err
}

func (ch *Channel) TxRollback() error {
	_, err := ch.call(classMethod{classTx, 30}, nil)
	return err
}

// ConfirmSelect puts the channel into publisher-confirm mode.
func (ch *Channel) ConfirmSelect(noWait bool) error {
	_, err := ch.call(classMethod{classConfirm, 10}, map[string]any{"no-wait": noWait})
	return err
}

// Close performs the Channel.Close/Close-Ok handshake and releases the
// channel id back to the multiplexer.
func (ch *Channel) Close() error {
	if ch.closed {
		return nil
	}
	_, err := ch.call(classMethod{classChannel, 40}, map[string]any{
		"reply-code": uint16(200), "reply-text": "", "class-id": uint16(0), "method-id": uint16(0),
	})
	ch.conn.mux.release(ch.id)
	ch.fail(errServerClose(0, "closed locally"))
	return err
}
