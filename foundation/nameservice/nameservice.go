// Package nameservice reads the zblock/accounts folder and creates a name
// service lookup for the ledger accounts.
package nameservice

import (
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// NameService maintains a map of accounts for name lookup.
type NameService struct {
	accounts map[common.Address]string
	names    map[string]common.Address
}

// New constructs a name service with accounts from the zblock/accounts folder.
func New(root string) (*NameService, error) {
	ns := NameService{
		accounts: make(map[common.Address]string),
		names:    make(map[string]common.Address),
	}

	fn := func(fileName string, info fs.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("walkdir failure: %w", err)
		}

		if path.Ext(fileName) != ".ecdsa" {
			return nil
		}

		privateKey, err := crypto.LoadECDSA(fileName)
		if err != nil {
			return err
		}

		address := crypto.PubkeyToAddress(privateKey.PublicKey)
		name := strings.TrimSuffix(path.Base(fileName), ".ecdsa")

		ns.accounts[address] = name
		ns.names[name] = address

		return nil
	}

	if err := filepath.Walk(root, fn); err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}

	return &ns, nil
}

// Lookup returns the name for the specified account.
func (ns *NameService) Lookup(address common.Address) string {
	name, exists := ns.accounts[address]
	if !exists {
		return address.Hex()
	}
	return name
}

// Resolve returns the account for a name or a hex address.
func (ns *NameService) Resolve(nameOrAddress string) (common.Address, error) {
	if address, exists := ns.names[nameOrAddress]; exists {
		return address, nil
	}

	if !common.IsHexAddress(nameOrAddress) {
		return common.Address{}, fmt.Errorf("%q is not a known name or an address", nameOrAddress)
	}

	return common.HexToAddress(nameOrAddress), nil
}

// Copy returns a copy of the map of names and accounts.
func (ns *NameService) Copy() map[common.Address]string {
	cpy := make(map[common.Address]string, len(ns.accounts))
	for address, name := range ns.accounts {
		cpy[address] = name
	}
	return cpy
}
