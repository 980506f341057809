package domain

import (
	"testing"
	"time"
)

func TestConversationRecent(t *testing.T) {
	c := &Conversation{ID: "c-1"}
	at := time.Unix(1700000000, 0)
	c.Record(SenderUser, "hi", at)
	c.Record(SenderBot, "hello", at.Add(time.Second))
	c.Record(SenderUser, "bye", at.Add(2*time.Second))

	tests := []struct {
		n    int
		want []string
	}{
		{0, []string{"hi", "hello", "bye"}},
		{2, []string{"hello", "bye"}},
		{5, []string{"hi", "hello", "bye"}},
	}
	for _, tt := range tests {
		got := c.Recent(tt.n)
		if len(got) != len(tt.want) {
			t.Fatalf("Recent(%d): expected %d turns, got %d", tt.n, len(tt.want), len(got))
		}
		for i := range got {
			if got[i].Text != tt.want[i] {
				t.Errorf("Recent(%d)[%d]: expected %q, got %q", tt.n, i, tt.want[i], got[i].Text)
			}
		}
	}
	if c.Turns[1].Sender != SenderBot {
		t.Errorf("Expected bot sender, got %q", c.Turns[1].Sender)
	}
}
