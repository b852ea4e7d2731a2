package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"shareflow/audit"
	"shareflow/config"
	"shareflow/db"
	"shareflow/governance"
	"shareflow/identity"
	"shareflow/ledger"
	"shareflow/market"
	"shareflow/wallet"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	ctx := context.Background()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("load configuration")
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("bootstrap database pool")
	}
	defer pool.Close()

	recorder := audit.NewRecorder()
	outbox := audit.NewOutbox()

	ledgerRepo := ledger.NewRepository(pool)
	ledgerSvc := ledger.NewService(pool, ledgerRepo, recorder, outbox)

	walletRepo := wallet.NewRepository(pool)
	walletSvc := wallet.NewService(pool, walletRepo, outbox)

	marketSvc := market.NewService(pool, market.NewRepository(pool), ledgerRepo, walletRepo, recorder, outbox)

	identitySvc := identity.NewService(identity.NewRepository(pool), cfg.JWTSecret)

	governanceSvc := governance.NewService(pool, governance.NewRepository(pool), ledgerSvc, identitySvc, recorder, outbox, governance.Config{
		QuorumNum:    cfg.QuorumNum,
		QuorumDen:    cfg.QuorumDen,
		VotingWindow: cfg.VotingWindow,
	})

	sweeper, err := governance.NewSweeper(governanceSvc, cfg.SweepInterval, log)
	if err != nil {
		log.Fatal().Err(err).Msg("configure proposal sweeper")
	}
	sweeper.Start()
	defer sweeper.Stop()

	log.Info().
		Dur("voting_window", cfg.VotingWindow).
		Int64("quorum_num", cfg.QuorumNum).
		Int64("quorum_den", cfg.QuorumDen).
		Bool("market_ready", marketSvc != nil).
		Bool("wallet_ready", walletSvc != nil).
		Msg("shareflow core ready")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down")
}
