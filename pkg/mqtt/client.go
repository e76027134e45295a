package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

type ClientConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// Client connects to an external broker.
type Client struct {
	client paho.Client
	subs   map[string]paho.MessageHandler
	mutex  sync.Mutex
}

// Connect dials the broker and resubscribes on every reconnect.
func Connect(cfg ClientConfig) (*Client, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker address is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("curvecontrol-%d", time.Now().Unix())
	}

	c := &Client{subs: make(map[string]paho.MessageHandler)}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logrus.Warnf("mqtt connection lost: %s", err)
	})
	opts.SetOnConnectHandler(func(client paho.Client) {
		logrus.WithField("broker", cfg.Broker).Info("connected to mqtt broker")
		c.mutex.Lock()
		defer c.mutex.Unlock()
		for filter, handler := range c.subs {
			if token := client.Subscribe(filter, 0, handler); token.Wait() && token.Error() != nil {
				logrus.Errorf("error resubscribing to %s: %s", filter, token.Error())
			}
		}
	})

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker: %w", token.Error())
	}
	return c, nil
}

// Subscribe also registers fn to be resubscribed after a reconnect.
func (c *Client) Subscribe(filter string, fn func(topic string, payload []byte)) error {
	handler := func(_ paho.Client, msg paho.Message) {
		fn(msg.Topic(), msg.Payload())
	}
	c.mutex.Lock()
	c.subs[filter] = handler
	c.mutex.Unlock()
	token := c.client.Subscribe(filter, 0, handler)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("error subscribing to %s: %w", filter, token.Error())
	}
	return nil
}

func (c *Client) Publish(topic string, payload []byte, retain bool) error {
	token := c.client.Publish(topic, 0, retain, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, token.Error())
	}
	return nil
}

func (c *Client) Close() {
	c.client.Disconnect(250)
}
