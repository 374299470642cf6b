package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rwalend/core/events"
	"rwalend/crypto"
	"rwalend/native/lending"
	"rwalend/native/oracle"
	"rwalend/native/token"
	"rwalend/observability"
	"rwalend/observability/logging"
	statelending "rwalend/state/lending"
	"rwalend/storage"
)

const (
	adminKeyEnv = "RWALEND_ADMIN_KEY"
	envNameEnv  = "RWALEND_ENV"

	priceDecimals = 6
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the pool configuration file")
	dataDir := flag.String("data", "./rwalend-data", "Directory for the state database")
	listenAddr := flag.String("listen", ":9464", "Listen address for the metrics endpoint")
	accrualEvery := flag.Duration("accrual-interval", time.Minute, "Interval between interest accrual sweeps")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envNameEnv))
	logger := logging.Setup("rwalendd", env)

	cfg, err := lending.LoadConfig(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	db, err := storage.NewLevelDB(*dataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	adminKey, err := loadAdminKey(os.Getenv(adminKeyEnv))
	if err != nil {
		panic(fmt.Sprintf("Failed to load admin key: %v", err))
	}
	admin := adminKey.PubKey().Address()
	moduleAddr := moduleAccount("rwalend/module/lending")
	backstopAddr := moduleAccount("rwalend/module/backstop")
	logger.Info("accounts resolved",
		slog.String("admin", admin.String()),
		slog.String("module", moduleAddr.String()),
		slog.String("backstop", backstopAddr.String()),
	)

	store := statelending.NewStore(db)
	ledger := token.NewLedger(moduleAddr)
	collateralPrices := oracle.NewStatic(priceDecimals)
	debtPrices := oracle.NewStatic(priceDecimals)

	engine := lending.NewEngine(admin, moduleAddr, backstopAddr)
	engine.SetState(store)
	engine.SetLedger(ledger)
	engine.SetCollateralFeed(oracle.NewFeed(collateralPrices, cfg.OracleMaxAgeSeconds))
	engine.SetDebtFeed(oracle.NewFeed(debtPrices, cfg.OracleMaxAgeSeconds))
	engine.SetAuctionParams(cfg.Auction.AuctionParams())
	engine.SetNowFunc(func() uint64 { return uint64(time.Now().Unix()) })
	engine.SetEmitter(&logEmitter{logger: logger})

	if err := bootstrap(engine, store, admin, cfg); err != nil {
		panic(fmt.Sprintf("Failed to bootstrap pool state: %v", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{Addr: *listenAddr, Handler: metricsMux()}
	go func() {
		logger.Info("metrics listening", slog.String("addr", *listenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.Any("error", err))
			stop()
		}
	}()

	runAccrualLoop(ctx, logger, engine, store, cfg, *accrualEvery)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", slog.Any("error", err))
	}
	logger.Info("rwalendd stopped")
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// loadAdminKey decodes the hex-encoded admin key from the environment, or
// generates an ephemeral one so a fresh node can come up without ceremony.
func loadAdminKey(raw string) (*crypto.PrivateKey, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if raw == "" {
		return crypto.GeneratePrivateKey()
	}
	keyBytes, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", adminKeyEnv, err)
	}
	return crypto.PrivateKeyFromBytes(keyBytes)
}

// moduleAccount derives a deterministic account address for an internal module
// from a stable label.
func moduleAccount(label string) crypto.Address {
	hash := ethcrypto.Keccak256([]byte(label))
	return crypto.NewAddress(crypto.RWAPrefix, hash[len(hash)-20:])
}

// bootstrap seeds pool parameters, reserves, and collateral factors from the
// configuration on first start. Existing state wins over the config file so a
// restart never clobbers admin changes made at runtime.
func bootstrap(engine *lending.Engine, store *statelending.Store, admin crypto.Address, cfg lending.Config) error {
	params, err := store.GetPoolParams()
	if err != nil {
		return err
	}
	if params == nil {
		if err := engine.SetBackstopAsset(admin, token.SymbolAsset(cfg.BackstopAsset)); err != nil {
			return err
		}
		if err := engine.SetBackstopThreshold(admin, cfg.BackstopThreshold); err != nil {
			return err
		}
		if err := engine.SetBackstopTakeRate(admin, cfg.BackstopTakeRateBps); err != nil {
			return err
		}
	}
	for _, reserve := range cfg.Reserves {
		existing, err := store.GetReserve(reserve.Asset())
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if err := engine.InitReserve(admin, reserve.Asset(), reserve.InterestParams()); err != nil {
			return err
		}
	}
	params, err = store.GetPoolParams()
	if err != nil {
		return err
	}
	for _, collateral := range cfg.Collateral {
		asset := token.SymbolAsset(collateral.Symbol)
		if params != nil {
			if _, ok := params.CollateralFactorBps(asset); ok {
				continue
			}
		}
		if err := engine.SetCollateralFactor(admin, asset, collateral.FactorBps); err != nil {
			return err
		}
	}
	return nil
}

// runAccrualLoop sweeps every configured reserve on a fixed interval, keeping
// rates current even when no one transacts, and refreshes the exported gauges.
func runAccrualLoop(ctx context.Context, logger *slog.Logger, engine *lending.Engine, store *statelending.Store, cfg lending.Config, every time.Duration) {
	metrics := observability.Lending()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, reserve := range cfg.Reserves {
			asset := reserve.Asset()
			start := time.Now()
			err := engine.Accrue(asset)
			metrics.Observe("accrue", time.Since(start), err)
			if err != nil {
				logger.Error("accrual failed",
					slog.String("asset", asset.Key()),
					slog.Any("error", err),
				)
				continue
			}
			exportReserveGauges(metrics, store, asset)
		}
		if total, err := engine.BackstopTotal(); err == nil {
			metrics.RecordBackstop(total)
		}
		if params, err := store.GetPoolParams(); err == nil && params != nil {
			metrics.RecordPoolState(int(params.State))
		}
	}
}

func exportReserveGauges(metrics *observability.LendingMetrics, store *statelending.Store, asset token.AssetID) {
	state, err := store.GetReserve(asset)
	if err != nil || state == nil {
		return
	}
	utilBps := uint64(0)
	if state.TotalDeposited.Sign() > 0 {
		util := new(big.Int).Mul(state.TotalBorrowed, big.NewInt(10_000))
		util.Quo(util, state.TotalDeposited)
		utilBps = util.Uint64()
	}
	rateBps := lending.RateBps(utilBps, state.Params, state.RateModifier)
	metrics.RecordReserve(asset.Key(), utilBps, rateBps, state.TotalDeposited, state.TotalBorrowed)
}

// logEmitter mirrors every pool event onto the structured log and the auction
// counters so keepers can follow liquidations without an indexer.
type logEmitter struct {
	logger *slog.Logger
}

func (l *logEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	l.logger.Info("pool event", slog.String("type", evt.EventType()))
	auctions := observability.Auctions()
	switch e := evt.(type) {
	case events.AuctionStarted:
		auctions.RecordStart(e.Token)
	case events.AuctionFilled:
		auctions.RecordFill(e.Token, e.DebtPaid)
	case events.AuctionClosed:
		status := "cancelled"
		if e.Expired {
			status = "expired"
		}
		auctions.RecordClose(e.Token, status)
	case events.BadDebt:
		auctions.RecordBadDebt(e.Asset)
	}
}
