package domain

import (
	"time"
)

// Sender identifies who produced a turn.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Turn is one message in a conversation.
type Turn struct {
	Sender Sender    `json:"sender"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// Conversation holds the turns exchanged under one conversation id.
type Conversation struct {
	ID    string `json:"id"`
	Turns []Turn `json:"turns"`
}

// Record adds a turn stamped with at.
func (c *Conversation) Record(sender Sender, text string, at time.Time) {
	c.Turns = append(c.Turns, Turn{Sender: sender, Text: text, At: at})
}

// Recent returns the last n turns. A non-positive n returns all of them.
func (c *Conversation) Recent(n int) []Turn {
	if n <= 0 || n >= len(c.Turns) {
		return c.Turns
	}
	return c.Turns[len(c.Turns)-n:]
}
