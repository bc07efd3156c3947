// Package domain defines the data model shared by the account tree, the
// state keeper and the settlement sender: accounts, priority operations,
// transactions, account updates, and the pending/sealed block records
// that flow between them.
package domain
