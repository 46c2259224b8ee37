// Package rental provides an asset rental registry that pays inspectors in
// fungible tokens.
//
// Rental is designed as a library, not a service. A Registry owns a fixed
// collection of assets (bikes, scooters, tools), each in exactly one state:
//
//   - Available: nobody holds it
//   - InUse(user): a rider has it
//   - Inspection(inspector): someone is checking it
//
// Anyone may take an Available asset for use or for inspection. Only the
// current holder may return it. Returning from use frees the asset at once;
// returning from inspection dispatches a reward transfer through a
// token.Service and frees the asset only after the transfer succeeds. If the
// transfer fails the asset stays in Inspection and the inspector may try
// again.
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/rental"
//	    "github.com/xraph/rental/store/memory"
//	)
//
//	reg := rental.New(memory.New(), tokens,
//	    rental.WithTokenAccount("sub.ft_jk.testnet"),
//	    rental.WithSelfAccount("bikes.testnet"),
//	)
//	if err := reg.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer reg.Stop()
//
//	if err := reg.Initialize(ctx, 5); err != nil {
//	    log.Fatal(err)
//	}
//
// # Callers
//
// Mutating calls read the caller from the context:
//
//	ctx = rental.WithCaller(ctx, "alice.testnet")
//	err := reg.BeginUse(ctx, 0)
//
// A call without a caller fails with ErrNoCaller.
//
// # Settlement
//
// EndUseOrInspection returns a *settlement.Handle when it dispatched a
// reward. The call itself returns as soon as the transfer is issued; the
// registry lock is not held while the token service works. The handle
// resolves once the result has been applied:
//
//	h, err := reg.EndUseOrInspection(ctx, 3)
//	if h != nil {
//	    outcome, err := h.Wait(ctx) // settled, held or aborted
//	}
//
// At most one settlement per asset is outstanding at a time. Only the
// registry's own coordinator can complete an inspection return; no exported
// method moves an asset out of Inspection.
//
// # Storage
//
// Stores live under store/: memory for tests and sandboxes, and grove-backed
// sqlite, postgres and mongo backends. Every asset write is conditional on
// the version it read.
//
// # TypeID
//
// Registry records, settlements and transfers use TypeID identifiers:
//
//	reg_01h2xcejqtf2nbrexx3vqjhp41   // Registry ID
//	stl_01h2xcejqtf2nbrexx3vqjhp41   // Settlement ID
//	xfer_01h455vb4pex5vsknk084sn02q  // Transfer ID
package rental
