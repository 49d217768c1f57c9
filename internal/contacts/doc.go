// Package contacts infers co-presence events between tagged animals from the
// extracted trigger table.
//
// The inference runs in three stages:
//
//	Stage 1, partition: triggers are grouped by physical location (the
//	  resolved grid cell when a movement history is supplied, otherwise the
//	  logger hardware ID), so matching never compares triggers across
//	  locations and stays O(T*k) instead of O(T^2) over the whole dataset.
//
//	Stage 2, match: per location, a sliding set of recently-active animals
//	  pairs each incoming trigger with every other animal still inside the
//	  max-contact window, emitting one candidate interval per pairing.
//
//	Stage 3, merge: candidate intervals are grouped by unordered animal
//	  pair and location and collapsed into maximal events. Consecutive
//	  intervals merge while the gap between them is at most the threshold.
//
// The output is deterministic: identical inputs yield identically-ordered
// results, and a rebuilt Contact table fully replaces the previous one.
package contacts
