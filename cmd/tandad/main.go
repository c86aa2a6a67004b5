package main

import (
	"context"
	"flag"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"tandachain/config"
	"tandachain/core/events"
	"tandachain/explorer"
	"tandachain/gateway"
	nativecommon "tandachain/native/common"
	"tandachain/native/collateral"
	"tandachain/native/fund"
	"tandachain/native/pricefeed"
	"tandachain/native/terms"
	"tandachain/native/yield"
	"tandachain/observability"
	"tandachain/observability/logging"
	"tandachain/state"
)

// devPrice is the collateral/stable answer served by the built-in feed until
// an external oracle is wired: 2000.00000000 at 8 decimals.
var devPrice = big.NewInt(200_000_000_000)

func main() {
	configPath := flag.String("config", "tandad.toml", "path to the node configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := logging.Setup("tandad", cfg.LogLevel)

	store := state.NewStore()

	collateralVault := moduleAddress("module/collateral-vault")
	stableVault := moduleAddress("module/fund-vault")
	yieldCustody := moduleAddress("module/yield-custody")

	feed := pricefeed.NewStaticFeed(devPrice, 8)
	feed.SetUptime(true, time.Unix(0, 0))
	adapter := pricefeed.NewAdapter(feed, feed,
		time.Duration(cfg.SequencerGraceSeconds)*time.Second,
		time.Duration(cfg.PriceStalenessSeconds)*time.Second,
	)

	pauses := nativecommon.NewPauses()
	pauses.SetPaused("collateral", cfg.Pauses.Collateral)
	pauses.SetPaused("fund", cfg.Pauses.Fund)
	pauses.SetPaused("yield", cfg.Pauses.Yield)

	colEngine := collateral.NewEngine(collateralVault)
	colEngine.SetState(store)
	colEngine.SetConverter(adapter)
	colEngine.SetSecurityBps(cfg.SecurityBps)
	colEngine.SetSweepAfter(time.Duration(cfg.SweepAfterSeconds) * time.Second)
	colEngine.SetPauses(pauses)

	fundEngine := fund.NewEngine(stableVault, collateralVault)
	fundEngine.SetState(store)
	fundEngine.SetLedger(colEngine)
	fundEngine.SetPauses(pauses)
	colEngine.SetObligations(fundEngine)

	yieldEngine := yield.NewEngine(collateralVault, yieldCustody)
	yieldEngine.SetState(store)
	yieldEngine.SetVault(yield.NewMemoryVault())
	yieldEngine.SetPauses(pauses)
	fundEngine.SetRecaller(yieldEngine)

	index, err := explorer.Open(cfg.ExplorerDSN, logger)
	if err != nil {
		logger.Error("open event index", "err", err)
		os.Exit(1)
	}
	emitter := events.NewFanout(index, observability.NewMetricsRecorder())
	colEngine.SetEmitter(emitter)
	fundEngine.SetEmitter(emitter)
	yieldEngine.SetEmitter(emitter)

	registry := terms.NewRegistry(store, colEngine, fundEngine, yieldEngine)
	registry.SetEmitter(emitter)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := gateway.New(registry, index, logger)
	logger.Info("gateway listening", "addr", cfg.ListenAddress)
	if err := server.Serve(ctx, cfg.ListenAddress); err != nil {
		logger.Error("gateway stopped", "err", err)
		os.Exit(1)
	}
}

// moduleAddress derives a stable vault address from a namespaced label.
func moduleAddress(label string) [20]byte {
	var addr [20]byte
	digest := ethcrypto.Keccak256([]byte("tandachain/" + label))
	copy(addr[:], digest[12:])
	return addr
}
