package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const erc20JSON = `[
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

// Pre-standard tokens (MKR, SAI) return name and symbol as bytes32.
const erc20Bytes32JSON = `[
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"bytes32"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"bytes32"}],"stateMutability":"view","type":"function"}
]`

// Uniswap V2 pairs and V3 pools both expose token0/token1.
const poolJSON = `[
	{"constant":true,"inputs":[],"name":"token0","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"token1","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

var (
	erc20ABI        = mustParseABI(erc20JSON)
	erc20Bytes32ABI = mustParseABI(erc20Bytes32JSON)
	poolABI         = mustParseABI(poolJSON)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("chain: invalid built-in ABI: " + err.Error())
	}
	return parsed
}
