package broker

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

func TestInProcess(t *testing.T) {
	b, err := Start(Config{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Shutdown()

	nc, err := nats.Connect(b.ClientURL(), b.ConnectOptions()...)
	if err != nil {
		t.Fatalf("connect in-process: %v", err)
	}
	defer nc.Close()

	sub, err := nc.SubscribeSync("kodiview.test")
	if err != nil {
		t.Fatal(err)
	}
	if err := nc.Publish("kodiview.test", []byte("hi")); err != nil {
		t.Fatal(err)
	}
	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("NextMsg: %v", err)
	}
	if string(msg.Data) != "hi" {
		t.Errorf("data = %q, want hi", msg.Data)
	}
}

func TestListenWithToken(t *testing.T) {
	b, err := Start(Config{Listen: "127.0.0.1:0", Token: "tok"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Shutdown()

	if nc, err := nats.Connect(b.ClientURL()); err == nil {
		nc.Close()
		t.Fatal("expected connection without token to fail")
	}
	if nc, err := nats.Connect(b.ClientURL(), nats.Token("wrong")); err == nil {
		nc.Close()
		t.Fatal("expected connection with wrong token to fail")
	}

	nc, err := nats.Connect(b.ClientURL(), nats.Token("tok"))
	if err != nil {
		t.Fatalf("connect with token: %v", err)
	}
	nc.Close()

	nc, err = nats.Connect(b.ClientURL(), b.ConnectOptions()...)
	if err != nil {
		t.Fatalf("connect with ConnectOptions: %v", err)
	}
	nc.Close()
}

func TestBadListen(t *testing.T) {
	if _, err := Start(Config{Listen: "no-port"}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for listen address without port")
	}
}
