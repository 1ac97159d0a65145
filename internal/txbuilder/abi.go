package txbuilder

import (
	"bytes"
	"embed"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed abi/*.json
var abiFiles embed.FS

var (
	erc20ABI       = mustLoadABI("erc20.json")
	lendingPoolABI = mustLoadABI("lending_pool.json")
	messengerABI   = mustLoadABI("messenger.json")
	transmitterABI = mustLoadABI("transmitter.json")
	vaultABI       = mustLoadABI("vault.json")
)

func mustLoadABI(name string) abi.ABI {
	data, err := abiFiles.ReadFile("abi/" + name)
	if err != nil {
		panic(fmt.Sprintf("txbuilder: read %s: %v", name, err))
	}
	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		panic(fmt.Sprintf("txbuilder: parse %s: %v", name, err))
	}
	return parsed
}

func pack(contract abi.ABI, method string, args ...any) ([]byte, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}
	return data, nil
}
