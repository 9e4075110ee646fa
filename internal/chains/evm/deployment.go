package evm

import (
	"bytes"
	"context"

	"github.com/celution/bountyd/internal/failures"
)

// CBOR metadata marker (Solidity >=0.6.0) - "ipfs" in CBOR
var metadataMarker = []byte{0xa2, 0x64, 0x69, 0x70, 0x66, 0x73}

// StripMetadata removes the CBOR metadata appended to runtime bytecode.
func StripMetadata(code []byte) []byte {
	idx := bytes.LastIndex(code, metadataMarker)
	if idx < 2 {
		return code
	}
	return code[:idx-2]
}

// CheckDeployment confirms the configured contract address holds code. When
// expected runtime bytecode is given, the executable part must match it;
// metadata differences are tolerated.
func (g *Gateway) CheckDeployment(ctx context.Context, expected []byte) error {
	const op = "chain.check_deployment"
	if err := g.limiter.Wait(ctx); err != nil {
		return classify(op, err)
	}

	deployed, err := g.backend.CodeAt(ctx, g.address, nil)
	if err != nil {
		return classify(op, err)
	}
	if len(deployed) == 0 {
		return failures.New(failures.NotFound, op, "no contract code at "+g.address.Hex(), nil)
	}
	if len(expected) == 0 {
		return nil
	}
	if !bytes.Equal(StripMetadata(deployed), StripMetadata(expected)) {
		return failures.New(failures.NotFound, op, "deployed bytecode does not match the bounty contract", nil)
	}
	return nil
}
