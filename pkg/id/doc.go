// Package id generates 128-bit, lexicographically sortable identifiers
// used for batches. An ID encodes [8 bytes ms timestamp][8 bytes sequence]
// big-endian, so ids sort by creation time and never collide within a
// process even under clock regression.
package id
