// Package contracts holds the ABIs of the marketplace contracts the indexer listens to.
package contracts

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/core-coin/speculum/internal/models"
)

// NotifierManagerABI is the ABI of the notifier marketplace manager contract
const NotifierManagerABI = `[
{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"provider","type":"address"},{"indexed":false,"internalType":"string","name":"url","type":"string"}],"name":"ProviderRegistered","type":"event"},
{"anonymous":false,"inputs":[{"indexed":false,"internalType":"bytes32","name":"hash","type":"bytes32"},{"indexed":true,"internalType":"address","name":"provider","type":"address"},{"indexed":false,"internalType":"address","name":"token","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"},{"indexed":true,"internalType":"address","name":"consumer","type":"address"}],"name":"SubscriptionCreated","type":"event"}
]`

// StakingABI is the ABI shared by the per-domain staking contracts
const StakingABI = `[
{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"user","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"},{"indexed":true,"internalType":"address","name":"token","type":"address"}],"name":"Staked","type":"event"},
{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"user","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"},{"indexed":true,"internalType":"address","name":"token","type":"address"}],"name":"Unstaked","type":"event"}
]`

// StorageManagerABI is the ABI of the storage marketplace manager contract
const StorageManagerABI = `[
{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"provider","type":"address"},{"indexed":false,"internalType":"uint64","name":"capacity","type":"uint64"}],"name":"CapacitySet","type":"event"},
{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"provider","type":"address"},{"indexed":false,"internalType":"uint128","name":"maximumDuration","type":"uint128"}],"name":"MaximumDurationSet","type":"event"},
{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"provider","type":"address"},{"indexed":false,"internalType":"uint64","name":"period","type":"uint64"},{"indexed":false,"internalType":"uint256","name":"price","type":"uint256"},{"indexed":true,"internalType":"address","name":"token","type":"address"}],"name":"PriceSet","type":"event"}
]`

// Parse parses one of the ABI constants.
func Parse(abiJSON string) (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse ABI: %w", err)
	}
	return parsed, nil
}

// MustParse is Parse for the compiled-in constants.
func MustParse(abiJSON string) abi.ABI {
	parsed, err := Parse(abiJSON)
	if err != nil {
		panic(err)
	}
	return parsed
}

// For returns the ABI of a named contract of a domain.
func For(domain models.Domain, contract string) (abi.ABI, error) {
	switch {
	case contract == "staking":
		return Parse(StakingABI)
	case domain == models.DomainNotifier && contract == "manager":
		return Parse(NotifierManagerABI)
	case domain == models.DomainStorage && contract == "manager":
		return Parse(StorageManagerABI)
	}
	return abi.ABI{}, fmt.Errorf("no ABI for %s %s contract", domain, contract)
}
