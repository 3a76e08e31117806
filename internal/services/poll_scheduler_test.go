package services

import (
	"context"
	"testing"
	"time"

	"github.com/coderelay/core/internal/mailbox"
)

func newTestPoller(t *testing.T, fetcher *fakeFetcher, ch *fakeChannel) *PollScheduler {
	t.Helper()
	codes := newTestCodeService(t, fetcher, nil, nil)
	delivery := NewDeliveryService(ch, nil, nil, DeliveryOptions{Recipients: []string{"123@g.us"}})
	return NewPollScheduler(codes, delivery, NewMemoryDeduper(time.Hour), nil, time.Minute)
}

func TestPoll_RelaysEachMessageOnce(t *testing.T) {
	fetcher := &fakeFetcher{msg: &mailbox.InboundMessage{
		ID:         "m-1",
		Subject:    "Netflix: your sign-in code",
		Body:       "Your code is 483920",
		ReceivedAt: time.Now(),
	}}
	ch := newFakeChannel(true)
	poller := newTestPoller(t, fetcher, ch)

	if got := poller.Poll(context.Background()); got != PollRelayed {
		t.Fatalf("first poll = %s", got)
	}
	if got := poller.Poll(context.Background()); got != PollDuplicate {
		t.Fatalf("second poll = %s", got)
	}
	if len(ch.sends()) != 1 {
		t.Errorf("sends = %d", len(ch.sends()))
	}
}

func TestPoll_WaitsForChannel(t *testing.T) {
	fetcher := &fakeFetcher{}
	poller := newTestPoller(t, fetcher, newFakeChannel(false))

	if got := poller.Poll(context.Background()); got != PollNotReady {
		t.Fatalf("poll = %s", got)
	}
	if fetcher.calls != 0 {
		t.Error("mailbox should not be polled while the channel is down")
	}
}

func TestPoll_NothingNew(t *testing.T) {
	poller := newTestPoller(t, &fakeFetcher{}, newFakeChannel(true))
	if got := poller.Poll(context.Background()); got != PollNoCode {
		t.Fatalf("poll = %s", got)
	}
}

func TestPollScheduler_DisabledInterval(t *testing.T) {
	poller := newTestPoller(t, &fakeFetcher{}, newFakeChannel(true))
	poller.interval = 0
	poller.Start()
	if poller.running {
		t.Error("scheduler should not start with a zero interval")
	}
	poller.Stop()
}
