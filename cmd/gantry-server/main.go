// Package main is Gantry's server process: it starts the broker, then wires
// the catalog and stream services to it as ordinary broker clients, and
// blocks until SIGINT/SIGTERM.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gantryio/gantry/internal/blob"
	"github.com/gantryio/gantry/internal/broker"
	"github.com/gantryio/gantry/internal/brokerclient"
	"github.com/gantryio/gantry/internal/catalog"
	"github.com/gantryio/gantry/internal/config"
	"github.com/gantryio/gantry/internal/kv"
	"github.com/gantryio/gantry/internal/stream"
)

func main() {
	var cfg *config.Config
	var configSource string

	if len(os.Args) >= 2 {
		configFile := os.Args[1]
		loadedCfg, err := config.Load(configFile)
		if err != nil {
			log.Fatalf("failed to load config from %s: %v", configFile, err)
		}
		cfg = loadedCfg
		configSource = fmt.Sprintf("config file: %s", configFile)
	} else if _, err := os.Stat("config/gantry.yaml"); err == nil {
		loadedCfg, err := config.Load("config/gantry.yaml")
		if err != nil {
			log.Printf("warning: config/gantry.yaml exists but failed to load: %v", err)
			log.Printf("using hardcoded defaults instead")
			cfg = config.Default()
			configSource = "hardcoded defaults (config/gantry.yaml failed to parse)"
		} else {
			cfg = loadedCfg
			configSource = "config/gantry.yaml"
		}
	} else {
		log.Printf("no config file specified and config/gantry.yaml not found")
		cfg = config.Default()
		configSource = "hardcoded defaults"
	}

	log.Printf("starting %s using %s", cfg.AppName, configSource)
	if cfg.Debug {
		log.Printf("debug logging enabled")
	}

	store, err := kv.Open(kv.Config{Dir: cfg.KV.Dir, SyncWrites: cfg.KV.SyncWrites})
	if err != nil {
		log.Fatalf("failed to open catalog store at %s: %v", cfg.KV.Dir, err)
	}
	defer store.Close()

	blobs, err := blob.NewFileStore(cfg.Blob.Dir)
	if err != nil {
		log.Fatalf("failed to open blob store at %s: %v", cfg.Blob.Dir, err)
	}

	catalogSvc := catalog.New(store, cfg.Operator.Signers)
	streamSvc := stream.New(blobs, catalogSvc, cfg.Blob.ChunkSize)

	brokerSvc := broker.NewService(broker.Config{Port: cfg.Broker.Port, Debug: cfg.Broker.Debug})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := brokerSvc.Start(); err != nil {
			log.Printf("broker service error: %v", err)
		}
	}()

	// Give the broker's listener a moment to come up before the services
	// dial it.
	time.Sleep(100 * time.Millisecond)
	log.Printf("broker listening on %s", cfg.Broker.Port)

	done := make(chan struct{})

	catalogClient := brokerclient.New("localhost"+cfg.Broker.Port, "catalog")
	if err := catalogClient.Connect(); err != nil {
		log.Fatalf("catalog failed to connect to broker: %v", err)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := catalogSvc.Serve(catalogClient, cfg.Debug, done); err != nil {
			log.Printf("catalog service error: %v", err)
		}
	}()

	streamClient := brokerclient.New("localhost"+cfg.Broker.Port, "stream")
	if err := streamClient.Connect(); err != nil {
		log.Fatalf("stream failed to connect to broker: %v", err)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := streamSvc.Serve(streamClient, cfg.Debug, done); err != nil {
			log.Printf("stream service error: %v", err)
		}
	}()

	log.Printf("%s ready: catalog and stream services connected", cfg.AppName)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("received signal: %s, shutting down", sig)

	close(done)
	_ = catalogClient.Close()
	_ = streamClient.Close()
	_ = brokerSvc.Stop()

	shutdownDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		log.Println("all services shut down")
	case <-time.After(10 * time.Second):
		log.Println("shutdown timeout exceeded")
	}
}
