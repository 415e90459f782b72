// Command node starts a Talischain node: PoA sealer, game engine, entry
// point and JSON-RPC server in a single self-bundling process.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/talisrun/talischain/config"
	"github.com/talisrun/talischain/consensus"
	"github.com/talisrun/talischain/core"
	"github.com/talisrun/talischain/events"
	"github.com/talisrun/talischain/indexer"
	"github.com/talisrun/talischain/rpc"
	"github.com/talisrun/talischain/storage"
	"github.com/talisrun/talischain/vm"
	"github.com/talisrun/talischain/wallet"

	// Import VM modules to trigger their init() self-registration.
	_ "github.com/talisrun/talischain/vm/modules/aa"
	_ "github.com/talisrun/talischain/vm/modules/economy"
	_ "github.com/talisrun/talischain/vm/modules/game"
)

func main() {
	cfgPath := flag.String("config", "config.json", "path to config file")
	keyPath := flag.String("key", "validator.key", "path to keystore file")
	genKey := flag.Bool("genkey", false, "generate a new validator key and exit")
	genOwner := flag.String("genowner", "", "generate a secp256k1 owner key at the given path and exit")
	flag.Parse()

	// Read keystore password from environment (not CLI flags — they leak via ps).
	password := os.Getenv("TALIS_PASSWORD")
	if password == "" {
		log.Println("WARNING: TALIS_PASSWORD not set — keystore will use an empty password")
	}

	// ---- generate validator key mode ----
	if *genKey {
		w, err := wallet.Generate()
		if err != nil {
			log.Fatal(err)
		}
		if err := wallet.SaveKey(*keyPath, password, w.PrivKey()); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Generated key. Public key (validator address): %s\n", w.PubKey())
		fmt.Printf("Saved to: %s\n", *keyPath)
		return
	}

	// ---- generate owner key mode ----
	if *genOwner != "" {
		owner, err := wallet.GenerateOwnerKey()
		if err != nil {
			log.Fatal(err)
		}
		if err := owner.Save(*genOwner); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Generated owner key. Address: %s\n", owner.Address())
		fmt.Printf("Saved to: %s\n", *genOwner)
		return
	}

	// ---- load config ----
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- load validator key ----
	privKey, err := wallet.LoadKey(*keyPath, password)
	if err != nil {
		log.Fatalf("load key: %v", err)
	}

	// ---- open DB ----
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("mkdir data dir: %v", err)
	}
	db, err := storage.NewLevelDB(cfg.DataDir + "/chain")
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	blockStore := storage.NewLevelBlockStore(db)
	state := storage.NewStateDB(db)

	// ---- initialise blockchain ----
	bc := core.NewBlockchain(blockStore)
	if err := bc.Init(); err != nil {
		log.Fatalf("blockchain init: %v", err)
	}

	// ---- genesis block (if fresh chain) ----
	if bc.Tip() == nil {
		genesisBlock, err := config.CreateGenesisBlock(cfg, state, privKey)
		if err != nil {
			log.Fatalf("genesis: %v", err)
		}
		if err := bc.AddBlock(genesisBlock); err != nil {
			log.Fatalf("add genesis: %v", err)
		}
		log.Printf("Genesis block committed: %s", genesisBlock.Hash)
		log.Printf("Game engine address: %s", core.GameEngineAddress)
		log.Printf("Entry point address: %s", core.EntryPointAddress)
		log.Printf("Paymaster address:   %s", core.PaymasterAddress)
	}

	// ---- events / indexer / mempool / executor ----
	emitter := events.NewEmitter()
	idx := indexer.New(db, emitter)
	mempool := core.NewMempool()
	exec := vm.NewExecutor(state, emitter)

	// ---- consensus ----
	poa := consensus.New(cfg, bc, state, mempool, exec, emitter, privKey)

	// ---- RPC ----
	rpcAddr := fmt.Sprintf(":%d", cfg.RPCPort)
	rpcHandler := rpc.NewHandler(bc, mempool, state, idx, cfg.Genesis.ChainID)
	rpcServer := rpc.NewServer(rpcAddr, rpcHandler, cfg.RPCAuthToken)
	if err := rpcServer.Start(); err != nil {
		log.Fatalf("rpc start: %v", err)
	}
	defer rpcServer.Stop()
	log.Printf("RPC listening on %s", rpcAddr)
	if cfg.RPCAuthToken != "" {
		log.Println("RPC Bearer token authentication enabled")
	}

	// ---- consensus loop ----
	interval := time.Duration(cfg.BlockInterval) * time.Second
	if interval <= 0 {
		interval = 2 * time.Second
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		poa.Run(interval, done)
	}()
	log.Printf("Consensus running (validator: %s)", privKey.Public().Hex())

	// ---- graceful shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")

	// Stop consensus first so no new blocks are written, then let the
	// deferred calls close RPC and the DB in LIFO order.
	close(done)
	wg.Wait()
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
