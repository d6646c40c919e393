package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"basednames/internal/archive"
	"basednames/internal/chain"
	"basednames/internal/config"
	"basednames/internal/engine"
	"basednames/internal/explorer"
	"basednames/internal/server"
	"basednames/internal/social"
	"basednames/internal/wallet"

	"github.com/rs/zerolog"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store archive.Store = archive.NewMemoryStore()
	if cfg.Service.PostgresDSN != "" {
		pg, err := archive.NewPostgresStore(ctx, cfg.Service.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("refund archive error")
		}
		defer pg.Close()
		store = pg
	} else {
		log.Warn().Msg("no DATABASE_URL, refund archive is in-memory only")
	}

	seed := cfg.Chain.WalletSeed
	if cfg.Service.DryRun && seed == "" {
		seed = wallet.DryRunSeed
	}
	deriver, err := wallet.NewDeriver(seed)
	if err != nil {
		log.Fatal().Err(err).Msg("wallet seed error")
	}

	var chainClient chain.Client = chain.FakeClient{}
	if !cfg.Service.DryRun {
		chainClient, err = chain.NewEthClient(ctx, chain.EthClientConfig{
			RPCURL:            cfg.Chain.Network.RPCURL,
			RegistrarContract: cfg.Chain.Network.RegistrarContract,
			ExplorerURL:       cfg.Chain.Network.ExplorerLinkBase,
		}, deriver)
		if err != nil {
			log.Fatal().Err(err).Msg("chain client error")
		}
	} else {
		log.Warn().Msg("dry run: using the fake chain client")
	}

	var lookup explorer.Lookup = explorer.NopLookup{}
	if cfg.Chain.Network.ExplorerAPIURL != "" {
		lookup, err = explorer.NewClient(explorer.Config{
			BaseURL: cfg.Chain.Network.ExplorerAPIURL,
			APIKey:  cfg.Chain.ExplorerAPIKey,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("explorer client error")
		}
	}

	replier, err := social.NewCrosspostClient(social.CrosspostConfig{
		BaseURL:   cfg.Social.CrosspostBaseURL,
		AuthToken: cfg.Social.CrosspostToken,
		DryRun:    cfg.Service.DryRun,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("crosspost client error")
	}

	var searcher social.Searcher
	if cfg.Social.MasaBaseURL != "" {
		masa, err := social.NewMasaClient(social.MasaConfig{
			BaseURL: cfg.Social.MasaBaseURL,
			APIKey:  cfg.Social.MasaAPIKey,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("masa client error")
		}
		searcher = social.NewCachedSearcher(masa, cfg.Social.SearchCacheWindow)
	} else {
		log.Warn().Msg("no MASA_BASE_URL, mention sweeping disabled")
	}

	eng, err := engine.New(engine.Config{
		MentionQuery:        cfg.Engine.MentionQuery,
		SearchLimit:         cfg.Engine.SearchLimit,
		DepositPollInterval: cfg.Engine.DepositPollInterval,
		RefundPollInterval:  cfg.Engine.RefundPollInterval,
		MaxDepositAttempts:  cfg.Engine.MaxDepositAttempts,
		RefundBuffer:        cfg.Engine.RefundBuffer,
		InstructionWindow:   cfg.Engine.InstructionWindow,
		DedupeNames:         cfg.Engine.DedupeNames,
	}, engine.Deps{
		Chain:    chainClient,
		Lookup:   lookup,
		Replier:  replier,
		Searcher: searcher,
		Deriver:  deriver,
		Archive:  store,
		Logger:   log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("engine error")
	}
	eng.Start(ctx)

	if searcher != nil {
		go sweepLoop(ctx, eng, cfg.Engine.SweepInterval, log)
	}

	apiServer := server.NewServer(server.Config{
		HTTPPort:      cfg.Service.HTTPPort,
		AdminSecret:   cfg.Service.AdminSecret,
		HMACClockSkew: cfg.Service.HMACClockSkew,
	}, eng, chainClient, store, log)

	go func() {
		if err := apiServer.Start(); err != nil {
			log.Error().Err(err).Msg("server stopped")
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = apiServer.Shutdown(shutdownCtx)
}

func sweepLoop(ctx context.Context, eng *engine.Engine, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			processed, err := eng.Sweep(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("sweep failed")
				continue
			}
			if processed > 0 {
				log.Info().Int("processed", processed).Msg("sweep complete")
			}
		}
	}
}
