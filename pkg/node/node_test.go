package node_test

import (
	"context"
	"log/slog"
	"net"
	"runtime"
	"testing"

	"github.com/kosmosnet/awh/pkg/conncore"
	"github.com/kosmosnet/awh/pkg/node"
)

type nopDecoder struct{}

func (nopDecoder) Feed(buf []byte) (int, error) { return len(buf), nil }

func TestNodeSchemeLifecycle(t *testing.T) {
	n := node.New(0)
	if n.InstanceID == "" {
		t.Fatal("InstanceID is empty")
	}

	sid, err := n.Scheme(node.SchemeConfig{Family: node.FamilyIPv4, SockKind: node.SockTCP, TargetURL: "http://example.org"})
	if err != nil {
		t.Fatal(err)
	}
	if !n.Has(sid) {
		t.Fatal("Has(sid) = false after creation")
	}

	if err := n.Remove(sid); err != nil {
		t.Fatal(err)
	}
	if n.Has(sid) {
		t.Fatal("Has(sid) = true after Remove")
	}
}

func TestNodeUnixFamilyOnWindowsFailsFast(t *testing.T) {
	n := node.New(0)
	_, err := n.Scheme(node.SchemeConfig{Family: node.FamilyUnix})
	if runtime.GOOS == "windows" {
		if err == nil {
			t.Fatal("expected UNIX family scheme creation to fail on windows")
		}
		return
	}
	if err != nil {
		t.Fatalf("UNIX family scheme creation on %s: %v", runtime.GOOS, err)
	}
}

func TestNodeBrokerRegistryAcrossSchemes(t *testing.T) {
	n := node.New(0)
	sid, err := n.Scheme(node.SchemeConfig{Family: node.FamilyIPv4, SockKind: node.SockTCP})
	if err != nil {
		t.Fatal(err)
	}

	client, server := net.Pipe()
	defer client.Close()

	queue := conncore.NewPayloadQueue(n.GlobalMemory(), 0)
	b := conncore.NewBroker(0, uint64(sid), conncore.ProtocolHTTP1, server, nopDecoder{}, queue, slog.Default(), 0)

	bid, err := n.AddBroker(sid, b)
	if err != nil {
		t.Fatal(err)
	}

	got, ok := n.Broker(bid)
	if !ok || got != b {
		t.Fatal("Broker(bid) did not return the registered broker")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	defer cancel()

	b.Close(nil)
	<-b.Done()
}

func TestNodeRemoveClosesBrokers(t *testing.T) {
	n := node.New(0)
	sid, err := n.Scheme(node.SchemeConfig{Family: node.FamilyIPv4, SockKind: node.SockTCP})
	if err != nil {
		t.Fatal(err)
	}

	client, server := net.Pipe()
	defer client.Close()

	queue := conncore.NewPayloadQueue(n.GlobalMemory(), 0)
	b := conncore.NewBroker(0, uint64(sid), conncore.ProtocolHTTP1, server, nopDecoder{}, queue, slog.Default(), 0)

	bid, err := n.AddBroker(sid, b)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	if err := n.Remove(sid); err != nil {
		t.Fatal(err)
	}

	<-b.Done()
	if _, ok := n.Broker(bid); ok {
		t.Fatal("Broker(bid) still found after scheme removal")
	}
}

func TestNodeICMPPrivilege(t *testing.T) {
	n := node.New(0)
	if got := n.ICMPPrivilege(); got != "" {
		t.Fatalf("ICMPPrivilege() = %q before SetICMPPrivilege, want empty", got)
	}
	n.SetICMPPrivilege("raw")
	if got := n.ICMPPrivilege(); got != "raw" {
		t.Fatalf("ICMPPrivilege() = %q, want %q", got, "raw")
	}
}
