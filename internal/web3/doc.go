// Package web3 houses blockchain connectivity utilities: the chain client
// interface consumed by the transaction flows, unsigned transaction payloads
// handed to the user for signing, minimal contract ABI fragments, and the
// multi-chain configuration helpers. Transactions are only ever built here,
// never signed or submitted — signing happens client-side in the user's
// wallet.
package web3
