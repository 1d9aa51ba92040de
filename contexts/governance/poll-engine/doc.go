// Package pollengine implements the Poll Engine inside the governance
// context.
//
// The module owns poll and vote lifecycle orchestration against an
// append-only on-chain ledger, fast local reads over a store that mirrors
// ledger state, and the reconciliation worker that repairs drift between the
// two. Business rules live in the application/domain layers; the chain, the
// database, and the event bus sit behind ports and adapters.
package pollengine
