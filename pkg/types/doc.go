// Package types defines the batch-scoped data model shared by the keyphrase
// evaluation components.
//
// A Batch carries padded source sequences and a fixed grid of target
// keyphrase slots per document:
//
//	Trg     [batch, max_kp_num, max_kp_len]  token ids
//	TrgOOV  [batch, max_kp_num, max_kp_len]  ids with OOV words mapped past the vocabulary
//	TrgMask [batch, max_kp_num, max_kp_len]  1 for loss-bearing positions
//
// In classic (non fixed-slot) mode the slot dimension is 1 and the length is
// the longest concatenated target of the batch.
//
// # Slots
//
// Every slot is tagged with a SlotKind: a real keyphrase, the null
// (background) keyphrase, or padding. Halves describes how slots split into
// present and absent groups.
package types
