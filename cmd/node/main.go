package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kutluhann/kademlia-routing-table/config"
	"github.com/kutluhann/kademlia-routing-table/identity"
	"github.com/kutluhann/kademlia-routing-table/kademlia"
)

// statusResponse is the JSON body served at /status. This is a read-only
// debug endpoint, not a DHT wire protocol front-end.
type statusResponse struct {
	Address             string   `json:"address"`
	Size                int      `json:"size"`
	ActiveBuckets       int      `json:"active_buckets"`
	FirstNonEmptyBucket int      `json:"first_non_empty_bucket"`
	DesiredPeers        []string `json:"desired_peers"`
}

func main() {
	isGenesis := flag.Bool("genesis", false, "start without bootstrapping against another node")
	port := flag.Int("port", 8080, "port this node identifies itself with")
	httpPort := flag.Int("http", 8000, "HTTP port for the debug status endpoint")
	bootstrap := flag.String("bootstrap", "", "address (host:port) of a peer to seed the routing table from")
	keyFile := flag.String("identity", "identity.key", "path to this node's identity key file")
	flag.Parse()

	cfg := config.Init()

	fmt.Printf("Starting kademlia node on port %d...\n", *port)

	var id *identity.Identity
	if _, err := os.Stat(*keyFile); err == nil {
		fmt.Println("Loading existing identity from", *keyFile)
		id, err = identity.Load(*keyFile)
		if err != nil {
			log.Fatalf("FATAL: failed to load identity: %v", err)
		}
	} else {
		fmt.Println("Generating new identity...")
		id, err = identity.Generate()
		if err != nil {
			log.Fatalf("FATAL: failed to generate identity: %v", err)
		}
		if err := identity.Save(id, *keyFile); err != nil {
			log.Fatalf("FATAL: failed to save identity: %v", err)
		}
	}
	fmt.Printf("Identity ready, address %x\n", id.Address)

	table := kademlia.NewTable(kademlia.Address(id.Address), kademlia.Config{})
	cacheFile := cfg.CacheFile
	if cacheFile == "" {
		cacheFile = "routing_table.cache"
	}
	table.SetCacheFile(cacheFile)
	table.SetEncryptionKey(cfg.DerivedEncryptionKey())

	if err := table.Load(); err != nil {
		fmt.Println("No existing routing table cache loaded:", err)
	} else {
		fmt.Printf("Loaded routing table cache from %s (%d known peers)\n", cacheFile, table.Size())
	}

	if !*isGenesis {
		if *bootstrap == "" {
			log.Fatal("FATAL: -bootstrap is required for non-genesis nodes")
		}
		bootstrapUri, err := kademlia.ParseUri(*bootstrap)
		if err != nil {
			log.Fatalf("FATAL: invalid bootstrap address %q: %v", *bootstrap, err)
		}
		table.AddDesiredPeerURI(bootstrapUri, kademlia.DefaultDesiredExpiry)
		fmt.Printf("Pinned bootstrap peer at %s as desired\n", bootstrapUri)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		desired := make([]string, 0)
		for _, addr := range table.DesiredPeers() {
			desired = append(desired, addr.String())
		}
		resp := statusResponse{
			Address:             kademlia.Address(id.Address).String(),
			Size:                table.Size(),
			ActiveBuckets:       table.ActiveBuckets(),
			FirstNonEmptyBucket: table.FirstNonEmptyBucket(),
			DesiredPeers:        desired,
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
	go func() {
		addr := fmt.Sprintf(":%d", *httpPort)
		fmt.Println("Debug status endpoint listening on", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Fatalf("status server failed: %v", err)
		}
	}()

	stop := make(chan struct{})
	go maintenanceLoop(table, stop)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	close(stop)

	fmt.Println("Shutting down, saving routing table...")
	if err := table.Dump(); err != nil {
		log.Printf("failed to save routing table: %v", err)
	}
}

// maintenanceLoop periodically trims expired desired-peer pins and
// refreshes the table's permanent-connection candidates, the way a long
// running node keeps its routing state healthy without any caller
// driving it explicitly.
func maintenanceLoop(table *kademlia.Table, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			table.TrimDesiredPeers()
			table.ConvertDesiredUrisToAddresses()
			table.ProposePermanentConnections()
		}
	}
}
