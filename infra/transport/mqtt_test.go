package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/hemolink/hemolink/core/errs"
	coretransport "github.com/hemolink/hemolink/core/transport"
	"github.com/hemolink/hemolink/infra/logger"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	ch := make(chan struct{})
	close(ch)
	return &fakeToken{err: err, done: ch}
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeClient struct {
	connected  bool
	publishErr error
	topics     []string
	payloads   [][]byte
}

func (c *fakeClient) IsConnected() bool      { return c.connected }
func (c *fakeClient) Connect() paho.Token    { return newFakeToken(nil) }
func (c *fakeClient) Disconnect(uint)        {}
func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) paho.Token {
	c.topics = append(c.topics, topic)
	c.payloads = append(c.payloads, payload.([]byte))
	return newFakeToken(c.publishErr)
}

func testTransport(c *fakeClient) *MQTTTransport {
	return &MQTTTransport{cli: c, topicBase: "responder", qos: 1, log: logger.NopLogger{}}
}

func TestSendPublishesToRecipientTopic(t *testing.T) {
	c := &fakeClient{connected: true}
	tr := testTransport(c)

	err := tr.Send(context.Background(), "donor1", coretransport.Payload{RequestID: "req1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(c.topics) != 1 || c.topics[0] != "responder/donor1/notify" {
		t.Fatalf("unexpected topics: %v", c.topics)
	}
}

func TestSendClassifiesBrokerErrorsTransient(t *testing.T) {
	c := &fakeClient{connected: true, publishErr: errors.New("broker gone")}
	tr := testTransport(c)

	err := tr.Send(context.Background(), "donor1", coretransport.Payload{RequestID: "req1"})
	if !errs.IsTransient(err) {
		t.Fatalf("broker failure must be transient, got %v", err)
	}
}

func TestSendWhileDisconnectedIsTransient(t *testing.T) {
	c := &fakeClient{connected: false}
	tr := testTransport(c)

	err := tr.Send(context.Background(), "donor1", coretransport.Payload{RequestID: "req1"})
	if !errs.IsTransient(err) {
		t.Fatalf("disconnected send must be transient, got %v", err)
	}
	if len(c.topics) != 0 {
		t.Fatal("nothing should be published while disconnected")
	}
}
