package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nftlend/config"
	"nftlend/native/ledger"
	"nftlend/native/lend"
	"nftlend/observability/logging"
	svcconfig "nftlend/services/lendpoold/config"
	"nftlend/services/lendpoold/server"
	"nftlend/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendpoold/config.yaml", "path to lendpoold config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LEND_ENV"))
	logger := logging.Setup("lendpoold", env)

	cfg, err := svcconfig.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	params, err := config.Load(cfg.ParamsPath)
	if err != nil {
		log.Fatalf("load protocol params: %v", err)
	}

	var db storage.Database
	if cfg.DataDir != "" {
		db, err = storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			log.Fatalf("open database at %s: %v", cfg.DataDir, err)
		}
		defer db.Close()
	} else {
		logger.Warn("no data_dir configured, state is in-memory only")
		db = storage.NewMemDB()
	}

	pool, _, err := buildPool(db, params)
	if err != nil {
		log.Fatalf("build pool: %v", err)
	}

	svc := server.New(pool, cfg.Auth, logger)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var metricsServer *http.Server
	if cfg.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddress,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics listening", "address", cfg.MetricsAddress)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("lendpoold listening", "address", cfg.ListenAddress)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("forcing server stop", "error", err)
			_ = httpServer.Close()
		}
		if metricsServer != nil {
			_ = metricsServer.Shutdown(shutdownCtx)
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}

// poolCollaborators bundles the in-memory external ledgers the daemon runs
// against.
type poolCollaborators struct {
	Oracle   *ledger.StaticOracle
	Receipts *ledger.ReceiptBank
	Debts    *ledger.DebtBook
	Vault    *ledger.Vault
}

// buildPool wires the pool over the database and registers the markets the
// parameter file declares. Registration is idempotent across restarts.
func buildPool(db storage.Database, params *config.Config) (*lend.Pool, *poolCollaborators, error) {
	pool := lend.NewPool(lend.NewKVState(db))

	collaborators := &poolCollaborators{
		Oracle:   ledger.NewStaticOracle(),
		Receipts: ledger.NewReceiptBank(),
		Debts:    ledger.NewDebtBook(),
		Vault:    ledger.NewVault(),
	}
	pool.SetOracle(collaborators.Oracle)
	pool.SetReceiptLedger(collaborators.Receipts)
	pool.SetDebtLedger(collaborators.Debts)
	pool.SetCollateralCustody(collaborators.Vault)

	pool.SetMaxReserves(params.Pool.MaxReserves)
	pool.SetMaxNfts(params.Pool.MaxCollections)
	pool.SetMinBidDelta(params.Pool.MinBidDeltaBPS)
	pool.SetPaused(params.Pool.Paused)
	pool.SetRateModel(lend.NewKinkedRateModel(
		params.RateModel.BaseBPS,
		params.RateModel.Slope1BPS,
		params.RateModel.Slope2BPS,
		params.RateModel.OptimalBPS,
	))

	for _, p := range params.Prices {
		price, ok := new(big.Int).SetString(p.Price, 10)
		if !ok {
			continue
		}
		collaborators.Oracle.SetPrice(p.Asset, price)
	}

	for _, r := range params.Reserves {
		var cfg lend.ReserveConfiguration
		cfg.SetLTV(r.LTVBPS)
		cfg.SetLiqThreshold(r.LiqThresholdBPS)
		cfg.SetLiqBonus(r.LiqBonusBPS)
		cfg.SetDecimals(r.Decimals)
		cfg.SetReserveFactor(r.ReserveFactorBPS)
		cfg.SetActive(true)
		cfg.SetFrozen(r.Frozen)
		cfg.SetBorrowingEnabled(r.BorrowingEnabled)
		err := pool.RegisterReserve(r.Asset, r.ReceiptToken, r.DebtToken, cfg)
		if err != nil && !errors.Is(err, lend.ErrAlreadyRegistered) {
			return nil, nil, err
		}
		if r.BorrowCap != "" {
			capAmount, ok := new(big.Int).SetString(r.BorrowCap, 10)
			if ok {
				if err := pool.SetBorrowCap(r.Asset, capAmount); err != nil {
					return nil, nil, err
				}
			}
		}
		if r.UtilisationCapBPS > 0 {
			if err := pool.SetUtilisationCap(r.Asset, r.UtilisationCapBPS); err != nil {
				return nil, nil, err
			}
		}
	}

	for _, n := range params.Collections {
		var cfg lend.NftConfiguration
		cfg.SetLTV(n.LTVBPS)
		cfg.SetLiqThreshold(n.LiqThresholdBPS)
		cfg.SetLiqBonus(n.LiqBonusBPS)
		cfg.SetRedeemDurationHours(n.RedeemDurationHrs)
		cfg.SetAuctionDurationHours(n.AuctionDurationHrs)
		cfg.SetRedeemFine(n.RedeemFineBPS)
		cfg.SetRedeemThreshold(n.RedeemThresholdBPS)
		cfg.SetActive(true)
		cfg.SetFrozen(n.Frozen)
		err := pool.RegisterNft(n.Asset, n.Custody, cfg)
		if err != nil && !errors.Is(err, lend.ErrAlreadyRegistered) {
			return nil, nil, err
		}
	}

	return pool, collaborators, nil
}
