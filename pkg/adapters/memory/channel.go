package memory

import (
	"context"
	"sync"
)

// Message is one outbound message captured by Channel.
type Message struct {
	Address string
	Text    string
}

// Channel implements ports.MessagingChannel by recording every delivery.
// Set Fail to make subsequent sends fail.
type Channel struct {
	mu       sync.Mutex
	messages []Message
	fail     error
}

// NewChannel creates a recording channel.
func NewChannel() *Channel {
	return &Channel{}
}

// Send records the message, or returns the injected failure.
func (c *Channel) Send(_ context.Context, address, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.messages = append(c.messages, Message{Address: address, Text: text})
	return nil
}

// Fail makes every following Send return err. Pass nil to recover.
func (c *Channel) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = err
}

// Messages returns a copy of the delivered messages.
func (c *Channel) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

// Texts returns the delivered texts in order.
func (c *Channel) Texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.Text
	}
	return out
}
