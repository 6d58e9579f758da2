// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"

	"github.com/absmach/coapgw/pkg/errors"
	"github.com/absmach/coapgw/pkg/handler"
	"github.com/absmach/coapgw/pkg/message"
	"github.com/absmach/coapgw/pkg/registry"
	"github.com/plgd-dev/go-coap/v3/message/codes"
)

// topic tracks the state shared by all observers of one MQTT topic.
type topic struct {
	value     []byte
	hasValue  bool
	observers map[*handler.Context]chan struct{}
}

// Handler serves MQTT topics below a mount prefix.
type Handler struct {
	prefix string
	broker Broker
	logger *slog.Logger

	// subMu serialises broker subscription changes; mu guards topics and
	// is never held across broker calls.
	subMu  sync.Mutex
	mu     sync.Mutex
	topics map[string]*topic
}

var _ handler.Handler = (*Handler)(nil)

// NewHandler creates a topic handler mounted at prefix.
func NewHandler(prefix string, b Broker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		prefix: "/" + strings.Trim(prefix, "/"),
		broker: b,
		logger: logger,
		topics: make(map[string]*topic),
	}
}

// NewBuilder returns a registry builder that mounts topic handlers sharing b.
func NewBuilder(b Broker, logger *slog.Logger) registry.Builder {
	return func(m registry.Mount) (handler.Handler, error) {
		return NewHandler(m.Prefix, b, logger), nil
	}
}

// HandleRequest serves GET, PUT, POST and DELETE on a topic.
func (h *Handler) HandleRequest(ctx context.Context, hctx *handler.Context, req *message.Request) (*message.Representation, error) {
	name, err := h.topicName(hctx.Path)
	if err != nil {
		return nil, err
	}

	switch req.Method {
	case codes.GET:
		value, ok := h.current(name)
		if !ok {
			return nil, errors.Status(codes.NotFound)
		}
		return &message.Representation{Code: codes.Content, ETag: etag(value), Payload: value}, nil

	case codes.PUT, codes.POST:
		retained := req.Method == codes.PUT
		if err := h.broker.Publish(name, req.Payload, retained); err != nil {
			h.logger.Warn("failed to publish",
				slog.String("topic", name),
				slog.String("error", err.Error()))
			return nil, errors.WithStatus(codes.ServiceUnavailable, err)
		}
		h.store(name, req.Payload)
		return &message.Representation{Code: codes.Changed, ETag: etag(req.Payload)}, nil

	case codes.DELETE:
		// An empty retained message clears the broker's retained value.
		if err := h.broker.Publish(name, nil, true); err != nil {
			return nil, errors.WithStatus(codes.ServiceUnavailable, err)
		}
		h.clear(name)
		return &message.Representation{Code: codes.Deleted}, nil

	default:
		return nil, errors.ErrNotSupported
	}
}

// HandleObserve subscribes the responder to the topic.
func (h *Handler) HandleObserve(ctx context.Context, hctx *handler.Context, req *message.Request) (*message.Representation, error) {
	name, err := h.topicName(hctx.Path)
	if err != nil {
		return nil, err
	}

	h.subMu.Lock()
	defer h.subMu.Unlock()

	h.mu.Lock()
	existing, ok := h.topics[name]
	first := !ok || len(existing.observers) == 0
	h.mu.Unlock()

	if first {
		if err := h.broker.Subscribe(name, h.onMessage(name)); err != nil {
			h.logger.Warn("failed to subscribe",
				slog.String("topic", name),
				slog.String("error", err.Error()))
			return nil, errors.WithStatus(codes.ServiceUnavailable, err)
		}
	}

	stop := make(chan struct{})
	h.mu.Lock()
	t := h.topicLocked(name)
	t.observers[hctx] = stop
	value, ok := t.value, t.hasValue
	h.mu.Unlock()

	go h.watch(name, hctx, stop)

	h.logger.Debug("observer added",
		slog.String("topic", name),
		slog.String("client", hctx.RemoteAddr))

	if !ok {
		return &message.Representation{Code: codes.Content}, nil
	}
	return &message.Representation{Code: codes.Content, ETag: etag(value), Payload: value}, nil
}

// HandleUnobserve removes the responder's subscription.
func (h *Handler) HandleUnobserve(ctx context.Context, hctx *handler.Context, req *message.Request) (*message.Representation, error) {
	name, err := h.topicName(hctx.Path)
	if err != nil {
		return nil, err
	}
	h.removeObserver(name, hctx)
	return nil, nil
}

// HandleInfo turns a broker message into a notification.
func (h *Handler) HandleInfo(ctx context.Context, hctx *handler.Context, topic string, payload []byte) (*message.Representation, bool) {
	return &message.Representation{Code: codes.Content, ETag: etag(payload), Payload: payload}, true
}

// Observers returns the number of observers of topic.
func (h *Handler) Observers(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.topics[name]; ok {
		return len(t.observers)
	}
	return 0
}

func (h *Handler) onMessage(name string) MessageHandler {
	return func(_ string, payload []byte) {
		h.mu.Lock()
		t := h.topicLocked(name)
		t.value, t.hasValue = payload, len(payload) > 0
		observers := make([]handler.Observer, 0, len(t.observers))
		for hctx := range t.observers {
			observers = append(observers, hctx.Observer)
		}
		h.mu.Unlock()

		for _, o := range observers {
			if !o.Notify(name, payload) {
				h.logger.Debug("observer did not accept event", slog.String("topic", name))
			}
		}
	}
}

// watch removes the observer once its responder terminates.
func (h *Handler) watch(name string, hctx *handler.Context, stop chan struct{}) {
	select {
	case <-hctx.Done:
		h.removeObserver(name, hctx)
	case <-stop:
	}
}

func (h *Handler) removeObserver(name string, hctx *handler.Context) {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	h.mu.Lock()
	t, ok := h.topics[name]
	if !ok {
		h.mu.Unlock()
		return
	}
	stop, ok := t.observers[hctx]
	if !ok {
		h.mu.Unlock()
		return
	}
	close(stop)
	delete(t.observers, hctx)
	last := len(t.observers) == 0
	if last && !t.hasValue {
		delete(h.topics, name)
	}
	h.mu.Unlock()

	if !last {
		return
	}
	if err := h.broker.Unsubscribe(name); err != nil {
		h.logger.Warn("failed to unsubscribe",
			slog.String("topic", name),
			slog.String("error", err.Error()))
	}
}

func (h *Handler) current(name string) ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.topics[name]; ok && t.hasValue {
		return t.value, true
	}
	return nil, false
}

func (h *Handler) store(name string, value []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.topicLocked(name)
	t.value, t.hasValue = value, true
}

func (h *Handler) clear(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[name]
	if !ok {
		return
	}
	t.value, t.hasValue = nil, false
	if len(t.observers) == 0 {
		delete(h.topics, name)
	}
}

func (h *Handler) topicLocked(name string) *topic {
	t, ok := h.topics[name]
	if !ok {
		t = &topic{observers: make(map[*handler.Context]chan struct{})}
		h.topics[name] = t
	}
	return t
}

// topicName maps a resource path below the prefix to an MQTT topic.
func (h *Handler) topicName(path string) (string, error) {
	name := strings.Trim(strings.TrimPrefix(path, h.prefix), "/")
	if name == "" || strings.ContainsAny(name, "+#") {
		return "", errors.Status(codes.BadRequest)
	}
	return name, nil
}

// etag derives an entity tag from the payload.
func etag(payload []byte) []byte {
	f := fnv.New64a()
	f.Write(payload)
	return binary.BigEndian.AppendUint64(nil, f.Sum64())
}
