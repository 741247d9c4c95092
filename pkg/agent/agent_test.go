package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/sekia-ai/kodiview/pkg/protocol"
)

func startNATS(t *testing.T) *natsserver.Server {
	t.Helper()
	ns, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func connect(t *testing.T, ns *natsserver.Server) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(nc.Close)
	return nc
}

func newAgent(t *testing.T, ns *natsserver.Server, secret string) *Agent {
	t.Helper()
	a, err := New(Config{NATSUrl: ns.ClientURL(), CommandSecret: secret}, "kodiview", "test", []string{"screenshots"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func TestStart_RegistersAndHeartbeats(t *testing.T) {
	ns := startNATS(t)
	nc := connect(t, ns)

	regSub, _ := nc.SubscribeSync(protocol.SubjectRegistry)
	hbSub, _ := nc.SubscribeSync(protocol.SubjectHeartbeat("kodiview"))
	nc.Flush()

	a := newAgent(t, ns, "")
	a.Handle(protocol.CommandSendAction, func(context.Context, map[string]any) error { return nil })
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	msg, err := regSub.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("registration not received: %v", err)
	}
	var reg protocol.Registration
	if err := json.Unmarshal(msg.Data, &reg); err != nil {
		t.Fatal(err)
	}
	if reg.Name != "kodiview" || len(reg.Commands) != 1 || reg.Commands[0] != protocol.CommandSendAction {
		t.Errorf("registration = %+v", reg)
	}

	msg, err = hbSub.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("initial heartbeat not received: %v", err)
	}
	var hb protocol.Heartbeat
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		t.Fatal(err)
	}
	if hb.Status != "running" {
		t.Errorf("heartbeat status = %q", hb.Status)
	}

	if err := a.Start(); err == nil {
		t.Error("second Start should fail")
	}
}

func TestPublish(t *testing.T) {
	ns := startNATS(t)
	nc := connect(t, ns)
	sub, _ := nc.SubscribeSync(protocol.SubjectEvents("kodi"))
	nc.Flush()

	a := newAgent(t, ns, "")
	ev := protocol.NewEvent(protocol.EventScreenshotCaptured, "kodi", protocol.ScreenshotCaptured{Seq: 1, Path: "/a.png"}.Payload())
	if err := a.Publish(ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msg, err := sub.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("event not received: %v", err)
	}
	var got protocol.Event
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != ev.ID || got.Type != protocol.EventScreenshotCaptured || got.Payload["path"] != "/a.png" {
		t.Errorf("event = %+v", got)
	}
	if s := a.Stats(); s.Events != 1 || s.LastEvent.IsZero() {
		t.Errorf("stats = %+v", s)
	}
}

func TestCommands(t *testing.T) {
	const secret = "cmd-secret"
	ns := startNATS(t)
	nc := connect(t, ns)

	a := newAgent(t, ns, secret)
	calls := make(chan []string, 4)
	a.Handle(protocol.CommandSendAction, func(_ context.Context, payload map[string]any) error {
		action, args, err := protocol.SendActionArgs(payload)
		if err != nil {
			return err
		}
		if action == "Fail" {
			return errors.New("boom")
		}
		calls <- append([]string{action}, args...)
		return nil
	})
	if err := a.Start(); err != nil {
		t.Fatal(err)
	}

	send := func(cmd protocol.Command, sign bool) {
		t.Helper()
		if sign {
			if err := protocol.SignCommand(&cmd, secret); err != nil {
				t.Fatal(err)
			}
		}
		data, _ := json.Marshal(cmd)
		if err := nc.Publish(protocol.SubjectCommands("kodiview"), data); err != nil {
			t.Fatal(err)
		}
		nc.Flush()
	}

	send(protocol.NewSendAction("test", "Unsigned"), false)
	send(protocol.Command{Command: "reboot", Payload: map[string]any{}, Source: "test"}, true)
	send(protocol.NewSendAction("test", "Fail"), true)
	send(protocol.NewSendAction("test", "ActivateWindow", "Home"), true)

	select {
	case got := <-calls:
		if len(got) != 2 || got[0] != "ActivateWindow" || got[1] != "Home" {
			t.Errorf("handler got %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("signed command was not dispatched")
	}

	select {
	case got := <-calls:
		t.Errorf("unexpected extra dispatch %q", got)
	default:
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		s := a.Stats()
		if s.Commands == 1 && s.Errors == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("stats = %+v, want 1 command and 3 errors", s)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
