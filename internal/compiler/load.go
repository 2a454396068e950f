package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/goldenpath/internal/record"
)

// LoadContracts compiles every contract declared in a CUE source file.
// Contracts live under the top-level "contract" struct, keyed by name:
//
//	contract: agentchat: {
//	    events: { ... }
//	    transitions: [ ... ]
//	}
//
// Compilation only; callers run Validate separately so they can decide
// whether warnings are fatal.
func LoadContracts(path string) ([]*record.Contract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contract file: %w", err)
	}
	return LoadContractsBytes(data, path)
}

// LoadContractsBytes compiles contracts from in-memory CUE source.
// The filename is used for error positions only.
func LoadContractsBytes(data []byte, filename string) ([]*record.Contract, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	root := v.LookupPath(cue.ParsePath("contract"))
	if !root.Exists() {
		return nil, &CompileError{
			Field:   "contract",
			Message: "no top-level 'contract' struct declared",
			Pos:     v.Pos(),
		}
	}

	iter, err := root.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var contracts []*record.Contract
	for iter.Next() {
		c, err := CompileContract(iter.Value())
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}
	if len(contracts) == 0 {
		return nil, &CompileError{
			Field:   "contract",
			Message: "'contract' struct declares no contracts",
			Pos:     root.Pos(),
		}
	}
	return contracts, nil
}

// LoadContract compiles a file expected to declare exactly one contract.
func LoadContract(path string) (*record.Contract, error) {
	contracts, err := LoadContracts(path)
	if err != nil {
		return nil, err
	}
	if len(contracts) != 1 {
		return nil, fmt.Errorf("%s declares %d contracts, expected exactly one", path, len(contracts))
	}
	return contracts[0], nil
}
