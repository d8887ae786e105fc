// Command ec is the Electoral Commission core's entry point: it loads
// key material, opens the store, hydrates the registry, replays
// announcements and runs the Status Engine, Protocol Engine and Admin
// RPC until a shutdown signal arrives.
//
// Grounded on the teacher's flag-parsing, log.Init-first main style
// (web3/cmd/main.go), generalized from a one-shot demo script into a
// long-running supervised service.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/criptocracia/ec-core/bus"
	"github.com/criptocracia/ec-core/log"
	"github.com/criptocracia/ec-core/publisher"
	"github.com/criptocracia/ec-core/protocol"
	"github.com/criptocracia/ec-core/registry"
	"github.com/criptocracia/ec-core/rpc"
	"github.com/criptocracia/ec-core/service"
	"github.com/criptocracia/ec-core/statusengine"
	"github.com/criptocracia/ec-core/store"
	"github.com/criptocracia/ec-core/vault"
)

func main() {
	dataDir := flag.String("dir", "./data", "data directory (store file and fallback key material)")
	logLevel := flag.String("loglevel", log.LogLevelInfo, "log level: debug, info, warn, error")
	relaysFlag := flag.String("relays", "wss://relay.damus.io", "comma-separated bus relay URLs")
	rpcPort := flag.Int("rpc-port", rpc.DefaultPort, "admin RPC listen port")
	flag.Parse()

	var logExtras []io.Writer
	if f, err := os.OpenFile("app.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
		logExtras = append(logExtras, f)
	}
	log.Init(*logLevel, "stderr", logExtras)

	if err := run(*dataDir, *relaysFlag, *rpcPort); err != nil {
		log.Errorf("fatal: %v", err)
		os.Exit(1)
	}
}

func run(dataDir, relaysCSV string, rpcPort int) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	v, err := vault.Load(dataDir)
	if err != nil {
		return fmt.Errorf("load vault: %w", err)
	}

	st, err := store.Open(filepath.Join(dataDir, "elections.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	reg := registry.New()
	elections, err := st.LoadAll()
	if err != nil {
		return fmt.Errorf("hydrate registry: %w", err)
	}
	for _, e := range elections {
		if err := reg.Insert(e); err != nil {
			log.Warnw("skipping duplicate election on hydration", "electionId", e.ID, "error", err.Error())
		}
	}
	log.Infow("registry hydrated", "elections", reg.Len())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relays := splitRelays(relaysCSV)
	busClient, err := bus.New(ctx, v.BusPrivateKeyHex(), relays)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}

	pub := publisher.New(busClient, reg)
	for _, id := range reg.SnapshotIDs() {
		if err := pub.PublishAnnouncement(ctx, id); err != nil {
			log.Warnw("startup announcement failed", "electionId", id, "error", err.Error())
		}
	}

	statusEng := statusengine.New(reg, st, pub, 0)
	protoEng := protocol.NewEngine(busClient, reg, st, v.Signer(), pub, 0)
	rpcSrv := rpc.New(rpc.Config{BindIP: os.Getenv("GRPC_BIND_IP"), Port: rpcPort}, reg, st, v, pub)

	sup := service.NewSupervisor()
	sup.Add("status-engine", statusEng)
	sup.Add("protocol-engine", protoEng)
	sup.Add("admin-rpc", rpcSrv)

	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Infow("shutdown signal received", "signal", sig.String())

	cancel()
	sup.Stop()
	log.Info("shutdown complete")
	return nil
}

func splitRelays(csv string) []string {
	var out []string
	for _, r := range strings.Split(csv, ",") {
		r = strings.TrimSpace(r)
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}
