// Command node starts a lattice node: the ledger, block processor,
// confirmation-height processor, and active-transactions election index
// wired together and run until a termination signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/latticenode/node/active"
	"github.com/latticenode/node/blockproc"
	"github.com/latticenode/node/confheight"
	"github.com/latticenode/node/config"
	"github.com/latticenode/node/core"
	"github.com/latticenode/node/events"
	"github.com/latticenode/node/ledger"
	"github.com/latticenode/node/store"
	"github.com/latticenode/node/wallet"
)

func main() {
	cfgPath := flag.String("config", "config.json", "path to config file")
	keyPath := flag.String("key", "voting.key", "path to keystore file")
	genKey := flag.Bool("genkey", false, "generate a new voting key and exit")
	flag.Parse()

	// Read keystore password from environment, not a CLI flag — flags
	// leak via ps.
	password := os.Getenv("LATTICE_PASSWORD")
	if password == "" {
		log.Println("WARNING: LATTICE_PASSWORD not set — keystore will use an empty password")
	}

	// ---- generate key mode ----
	if *genKey {
		w := wallet.New()
		account, err := w.Generate()
		if err != nil {
			log.Fatal(err)
		}
		if err := w.Save(*keyPath, password); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Generated voting key. Account: %s\n", account)
		fmt.Printf("Saved to: %s\n", *keyPath)
		return
	}

	// ---- load config ----
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- load voting wallet ----
	w, err := wallet.Open(*keyPath, password)
	if err != nil {
		log.Fatalf("load key: %v", err)
	}

	// ---- open store ----
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("mkdir data dir: %v", err)
	}
	st, err := store.OpenLevelStore(cfg.DataDir + "/chain")
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	// ---- seed genesis (no-op if the chain already exists) ----
	if err := ledger.SeedGenesis(st, cfg); err != nil {
		log.Fatalf("genesis: %v", err)
	}

	// ---- ledger ----
	l := ledger.New(st, cfg)

	// ---- events ----
	emitter := events.New()

	// ---- shared write discipline between blockproc and confheight ----
	wq := store.NewWriteQueue()

	// ---- confirmation height processor ----
	confheightProc := confheight.New(st, wq, l, emitter)

	// ---- active transactions (elections, voting, quorum) ----
	// Peer/weight discovery, vote broadcast and bootstrap are out of scope
	// for this core (spec.md §1): no network collaborator exists in this
	// repo, so broadcaster and bootstrapper are left nil (active.New
	// documents both as optional, skipping the corresponding side
	// effects), and representatives is left unset.
	txs := active.New(cfg, st, l, emitter, confheightProc, nil, nil)

	// Chain-activate the next uncemented block on an account once a batch
	// cements past it (spec.md §4.2 "activate"); wired here rather than
	// imported inside confheight to avoid a confheight->active cycle.
	confheightProc.AfterCement = func(account core.Account) {
		txs.Activate(account)
	}

	// ---- block processor ----
	bp := blockproc.New(st, wq, l, txs)

	// ---- worker goroutines ----
	// Each worker gets its own cancellable context so shutdown can stop
	// them in the order spec.md §5 requires, rather than tearing all three
	// down at once.
	bpCtx, bpCancel := context.WithCancel(context.Background())
	confheightCtx, confheightCancel := context.WithCancel(context.Background())
	activeCtx, activeCancel := context.WithCancel(context.Background())

	var bpWg, confheightWg, activeWg sync.WaitGroup

	bpWg.Add(1)
	go func() {
		defer bpWg.Done()
		bp.Run(bpCtx)
	}()

	confheightWg.Add(1)
	go func() {
		defer confheightWg.Done()
		confheightProc.Run(confheightCtx)
	}()

	activeWg.Add(1)
	go func() {
		defer activeWg.Done()
		txs.Run(activeCtx)
	}()

	log.Printf("Node %s running (voting accounts: %v)", cfg.NodeID, w.Accounts())

	// ---- graceful shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")

	// Stop order (spec.md §5, minus the network step this core has no
	// collaborator for): block processor first so no new blocks are
	// admitted, then confirmation height so it finishes cementing what
	// blockproc already committed, then active transactions last since
	// AfterCement calls into it until confheight itself has stopped.
	bpCancel()
	bpWg.Wait()

	confheightCancel()
	confheightWg.Wait()

	activeCancel()
	activeWg.Wait()

	log.Println("Shutdown complete.")
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("Config file not found at %s, using defaults.", path)
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}
