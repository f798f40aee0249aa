// Package zheap implements tuple visibility for the undo-log based zheap
// storage format: the latest row version stays in place on the page and
// prior versions are pushed into a per-page, per-transaction undo log.
//
// The package owns five visibility predicates (SatisfiesMVCC,
// SatisfiesUpdate, SatisfiesDirty, SatisfiesOldestXmin, IsSurelyDead) and
// the undo-chain traversal they share. It does not write undo, roll back
// aborted transactions, garbage-collect undo, or decide index visibility.
// Those are the job of collaborators reached through the TransactionOracle,
// UndoStore and PageMetadata interfaces this package consumes.
package zheap
