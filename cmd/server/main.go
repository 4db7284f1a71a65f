package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tokenbank/internal/bank"
	"tokenbank/internal/config"
	"tokenbank/internal/history"
	"tokenbank/internal/ledger"
	"tokenbank/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	journal, err := newJournal(cfg)
	if err != nil {
		log.Fatalf("history store error: %v", err)
	}

	var client ledger.Client = ledger.NewStubClient()
	if cfg.PrivateKey != "" {
		ethClient, err := ledger.NewEthClient(context.Background(), ledger.EthClientConfig{
			RPCURL:        cfg.Chain.RPCURL,
			PrivateKeyHex: cfg.PrivateKey,
			TokenAddress:  cfg.Deployment.Contracts.Token,
			BankAddress:   cfg.Deployment.Contracts.TokenBank,
		})
		if err != nil {
			log.Fatalf("ledger client error: %v", err)
		}
		client = ethClient
	} else {
		log.Printf("no private key configured, using in-memory stub ledger")
	}

	ctrl, err := bank.NewController(bank.Config{
		Client:      client,
		Journal:     journal,
		Account:     cfg.Chain.Account,
		BankAddress: cfg.Deployment.Contracts.TokenBank,
	})
	if err != nil {
		log.Fatalf("controller error: %v", err)
	}

	// Prime the cached view state; a node that is down at startup is not
	// fatal, the cache just starts unobserved.
	startCtx, cancelStart := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ctrl.Refresh(startCtx); err != nil {
		log.Printf("initial refresh: %v", err)
	}
	cancelStart()

	apiServer := server.NewServer(cfg, ctrl, client, journal)
	ctrl.SetNotifier(apiServer.ObserveOutcome)

	go func() {
		if err := apiServer.Start(); err != nil {
			log.Printf("server stopped: %v", err)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(ctx)
	ctrl.Close()
}

func newJournal(cfg *config.AppConfig) (history.Store, error) {
	if cfg.Service.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return history.NewPostgresStore(ctx, cfg.Service.DatabaseURL)
	}
	return history.NewFileStore(cfg.Service.HistoryStorePath)
}
