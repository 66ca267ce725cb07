// Package wa models the raw protocol values that cross the capability boundary:
// web message envelopes, message keys, the polymorphic message payload, and the
// upstream event categories a connected socket emits.
//
// Values mirror the JSON shape produced by the multi-device protocol libraries
// (camelCase keys, 64-bit numbers that may arrive as numbers, strings or
// {low, high} objects). Nothing here performs I/O.
package wa
