package services

import (
	"context"
	"errors"
	"testing"

	"github.com/coderelay/core/internal/database/models"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestSend_ChannelNotReady(t *testing.T) {
	ch := newFakeChannel(false)
	svc := NewDeliveryService(ch, nil, nil, DeliveryOptions{Recipients: []string{"123@g.us"}})

	if _, err := svc.SendCode(context.Background(), "483920"); !errors.Is(err, ErrChannelNotReady) {
		t.Fatalf("expected ErrChannelNotReady, got %v", err)
	}
	if len(ch.sends()) != 0 {
		t.Error("no delivery attempt should be made while the channel is not ready")
	}
}

func TestSendCode_FormatsAndRecords(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ch := newFakeChannel(true)
	svc := NewDeliveryService(ch, db, NewLogService(db), DeliveryOptions{Recipients: []string{"123@g.us", " ", "555@c.us"}})

	reports, err := svc.SendCode(context.Background(), " 483920 ")
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 2 || !reports[0].Sent || !reports[1].Sent {
		t.Errorf("reports = %+v", reports)
	}
	sends := ch.sends()
	if len(sends) != 2 || sends[0] != "123@g.us|🤖 Code Bot:\n\n483920" {
		t.Errorf("sends = %q", sends)
	}

	var count int64
	db.Model(&models.Delivery{}).Where("status = ?", models.DeliveryStatusSent).Count(&count)
	if count != 2 {
		t.Errorf("sent deliveries = %d", count)
	}
}

func TestSend_PartialAndTotalFailure(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ch := newFakeChannel(true)
	ch.failTo["bad@c.us"] = errors.New("unknown chat")
	svc := NewDeliveryService(ch, db, nil, DeliveryOptions{Recipients: []string{"bad@c.us", "555@c.us"}})

	reports, err := svc.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("partial failure should not fail the call: %v", err)
	}
	if reports[0].Sent || reports[0].Error == "" || !reports[1].Sent {
		t.Errorf("reports = %+v", reports)
	}

	var failed models.Delivery
	if err := db.Where("status = ?", models.DeliveryStatusFailed).First(&failed).Error; err != nil {
		t.Fatal(err)
	}
	if failed.Recipient != "bad@c.us" || failed.Error != "unknown chat" {
		t.Errorf("failed row = %+v", failed)
	}

	only := NewDeliveryService(ch, nil, nil, DeliveryOptions{Recipients: []string{"bad@c.us"}})
	if _, err := only.Send(context.Background(), "hello"); !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
}

func TestSend_NoRecipients(t *testing.T) {
	svc := NewDeliveryService(newFakeChannel(true), nil, nil, DeliveryOptions{})
	if _, err := svc.Send(context.Background(), "x"); !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("expected ErrNoRecipients, got %v", err)
	}
}

func TestSend_NotReadyWinsOverMissingRecipients(t *testing.T) {
	svc := NewDeliveryService(newFakeChannel(false), nil, nil, DeliveryOptions{Recipients: []string{"  "}})
	if _, err := svc.Send(context.Background(), "x"); !errors.Is(err, ErrChannelNotReady) {
		t.Fatalf("expected ErrChannelNotReady, got %v", err)
	}
}

func TestFormatCode_TemplateWithoutVerb(t *testing.T) {
	svc := NewDeliveryService(nil, nil, nil, DeliveryOptions{Template: "Code: "})
	if got := svc.FormatCode("1234"); got != "Code: 1234" {
		t.Errorf("got %q", got)
	}
	if svc.Ready() {
		t.Error("nil channel must not be ready")
	}
}

func TestProperty_SendCodeRejectsMalformedCodes(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("codes_outside_4_to_8_digits_are_rejected", prop.ForAll(
		func(digits string) bool {
			ch := newFakeChannel(true)
			svc := NewDeliveryService(ch, nil, nil, DeliveryOptions{Recipients: []string{"a"}})
			_, err := svc.SendCode(context.Background(), digits)
			valid := len(digits) >= 4 && len(digits) <= 8
			if valid {
				return err == nil && len(ch.sends()) == 1
			}
			return errors.Is(err, ErrInvalidCodeFormat) && len(ch.sends()) == 0
		},
		gen.NumString().SuchThat(func(s string) bool { return len(s) <= 12 }),
	))

	properties.TestingRun(t)
}
