package chain

import (
	"embed"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed abi/*.json
var abiFS embed.FS

var (
	omnibusABI = mustABI("abi/omnibus.json")
	coldABI    = mustABI("abi/cold_vault.json")
	guardABI   = mustABI("abi/policy_guard.json")
)

var (
	depositTopic       = omnibusABI.Events["Deposit"].ID
	submittedTopic     = omnibusABI.Events["Submitted"].ID
	moveRequestedTopic = coldABI.Events["MoveRequested"].ID
)

func mustABI(name string) *abi.ABI {
	raw, err := abiFS.ReadFile(name)
	if err != nil {
		panic(err)
	}
	parsed, err := abi.JSON(strings.NewReader(string(raw)))
	if err != nil {
		panic(name + ": " + err.Error())
	}
	return &parsed
}
