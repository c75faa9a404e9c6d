package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Dev account addresses (hardhat's well-known keys): deployer/admin, fee
// account, and two trading users. The matching private keys live in cmd/seed.
const (
	DevAdminAddress      = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	DevFeeAccountAddress = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	DevUser1Address      = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
	DevUser2Address      = "0x90F79bf6EB2c4f870365E785982E1f101E93b906"
)

// Exchange holds the deployment parameters of the ledger.
type Exchange struct {
	Admin      common.Address // may change the fee percent
	FeeAccount common.Address // collects trade fees
	FeePercent int64          // whole percent of the get side
}

// Node holds the daemon's runtime settings.
type Node struct {
	APIAddr     string
	DBPath      string
	LogFile     string
	CORSOrigins []string
}

type Config struct {
	Exchange Exchange
	Node     Node
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			Admin:      common.HexToAddress(DevAdminAddress),
			FeeAccount: common.HexToAddress(DevFeeAccountAddress),
			FeePercent: 10,
		},
		Node: Node{
			APIAddr:     ":8080",
			DBPath:      "data/tokendex.db",
			LogFile:     "data/node.log",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("ADMIN_ADDRESS"); common.IsHexAddress(v) {
		cfg.Exchange.Admin = common.HexToAddress(v)
	}
	if v := os.Getenv("FEE_ACCOUNT"); common.IsHexAddress(v) {
		cfg.Exchange.FeeAccount = common.HexToAddress(v)
	}
	if v := os.Getenv("FEE_PERCENT"); v != "" {
		if p, err := strconv.ParseInt(v, 10, 64); err == nil && p >= 0 && p <= 100 {
			cfg.Exchange.FeePercent = p
		}
	}

	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.Node.APIAddr = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Node.DBPath = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Node.CORSOrigins = strings.Split(v, ",")
	}

	return cfg
}
