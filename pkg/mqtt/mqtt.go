package mqtt

import (
	"context"
	"fmt"
	"sync"

	mqttv2 "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/sirupsen/logrus"
)

// Bus carries entity states in and optimization results out.
type Bus interface {
	Subscribe(filter string, fn func(topic string, payload []byte)) error
	Publish(topic string, payload []byte, retain bool) error
}

// Embedded is an in process broker. Devices publish to it directly and we
// use its inline client.
type Embedded struct {
	server *mqttv2.Server
	subID  int
	mutex  sync.Mutex
}

// StartEmbedded serves the broker on address until ctx is done.
func StartEmbedded(ctx context.Context, wg *sync.WaitGroup, address string) (*Embedded, error) {
	server := mqttv2.New(&mqttv2.Options{
		InlineClient: true,
	})

	// Allow all connections.
	_ = server.AddHook(new(auth.AllowHook), nil)

	tcp := listeners.NewTCP(listeners.Config{ID: "t1", Address: address})
	err := server.AddListener(tcp)
	if err != nil {
		return nil, err
	}

	err = server.Serve()
	if err != nil {
		return nil, err
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		server.Close()
	}()
	logrus.WithField("address", address).Info("embedded mqtt broker started")
	return &Embedded{server: server}, nil
}

func (e *Embedded) Subscribe(filter string, fn func(topic string, payload []byte)) error {
	e.mutex.Lock()
	e.subID++
	id := e.subID
	e.mutex.Unlock()

	err := e.server.Subscribe(filter, id, func(cl *mqttv2.Client, sub packets.Subscription, pk packets.Packet) {
		fn(pk.TopicName, pk.Payload)
	})
	if err != nil {
		return fmt.Errorf("error subscribing to %s: %w", filter, err)
	}
	return nil
}

func (e *Embedded) Publish(topic string, payload []byte, retain bool) error {
	return e.server.Publish(topic, payload, retain, 0)
}
