package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	DefaultSubjectPrefix = "federation"
	workerQueueGroup     = "fedimag-workers"
)

// NatsDispatcher publishes tasks so that any node subscribed to the subject
// prefix can run them.
type NatsDispatcher struct {
	nc     *nats.Conn
	prefix string
}

func NewNatsDispatcher(nc *nats.Conn, prefix string) *NatsDispatcher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NatsDispatcher{nc: nc, prefix: prefix}
}

func (d *NatsDispatcher) Dispatch(_ context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	msg := &nats.Msg{
		Subject: Subject(d.prefix, task.Kind),
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set("Fedimag-Task-Kind", task.Kind)
	return d.nc.PublishMsg(msg)
}

// Subject returns the NATS subject a task kind is published on.
func Subject(prefix, kind string) string {
	return prefix + "." + strings.ReplaceAll(kind, ".", "_")
}

// Subscribe feeds every task published under prefix into local.
// Members of the same queue group share the load.
func Subscribe(nc *nats.Conn, prefix string, local Dispatcher, log *zap.Logger) (*nats.Subscription, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	log = log.Named("nats")
	return nc.QueueSubscribe(prefix+".>", workerQueueGroup, func(msg *nats.Msg) {
		task, err := DecodeTask(msg.Data)
		if err != nil {
			log.Warn("NATS: Dropping undecodable task", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		if err := local.Dispatch(context.Background(), task); err != nil {
			log.Warn("NATS: Failed to hand task to workers", zap.String("kind", task.Kind), zap.Error(err))
		}
	})
}

func DecodeTask(data []byte) (Task, error) {
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return Task{}, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	if task.Kind == "" {
		return Task{}, fmt.Errorf("task without kind")
	}
	return task, nil
}
