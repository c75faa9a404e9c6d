package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sbhlabs/tokendex/params"
	"github.com/sbhlabs/tokendex/pkg/api"
	"github.com/sbhlabs/tokendex/pkg/exchange"
	"github.com/sbhlabs/tokendex/pkg/storage"
	"github.com/sbhlabs/tokendex/pkg/token"
	"github.com/sbhlabs/tokendex/pkg/util"
)

// Dev tokens deployed at startup, mirroring the seeded markets the web client
// knows about. Supplies are minted to the dev users so they can deposit.
var devTokens = []struct {
	name, symbol string
	owner        string
}{
	{"Quy Token", "QUY", params.DevAdminAddress},
	{"SBH Token", "SBH", params.DevUser1Address},
	{"Wibu Token", "WIBU", params.DevUser2Address},
}

const devTokenSupply = 1_000_000_000

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	// ---- Persistence ----
	store, err := storage.Open(cfg.Node.DBPath)
	if err != nil {
		sugar.Fatalw("store_open_failed", "path", cfg.Node.DBPath, "err", err)
	}
	defer store.Close()

	snap, err := store.LoadSnapshot(cfg.Exchange.FeePercent)
	if err != nil {
		sugar.Fatalw("snapshot_load_failed", "err", err)
	}

	// ---- Token registry with dev assets ----
	// The custodian address stands in for the exchange contract address.
	custodian := common.HexToAddress("0x00000000000000000000000000000000000De001")
	registry := token.NewRegistry(custodian)
	for _, dt := range devTokens {
		t, err := registry.Deploy(dt.name, dt.symbol, 18, devTokenSupply, common.HexToAddress(dt.owner))
		if err != nil {
			sugar.Fatalw("token_deploy_failed", "symbol", dt.symbol, "err", err)
		}
		sugar.Infow("token_deployed", "symbol", t.Symbol, "address", t.Address.Hex(), "owner", dt.owner)
	}

	// ---- Exchange ----
	x, err := exchange.New(exchange.Config{
		Admin:      cfg.Exchange.Admin,
		FeeAccount: cfg.Exchange.FeeAccount,
		FeePercent: cfg.Exchange.FeePercent,
	}, registry)
	if err != nil {
		sugar.Fatalw("exchange_init_failed", "err", err)
	}
	x.Store = store
	x.Logger = sugar
	x.Restore(snap)

	sugar.Infow("exchange_restored",
		"orders", snap.OrdersCount,
		"fee_percent", snap.FeePercent,
		"fee_account", cfg.Exchange.FeeAccount.Hex(),
		"admin", cfg.Exchange.Admin.Hex())

	// ---- API server ----
	apiServer := api.NewServer(x, registry, store, sugar)
	x.Feed = apiServer.Hub()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := apiServer.Start(cfg.Node.APIAddr, cfg.Node.CORSOrigins); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("node_started", "api_addr", cfg.Node.APIAddr, "db_path", cfg.Node.DBPath)

	<-ctx.Done()
	sugar.Info("node_shutting_down")
}
