// Package connection provides the shared push-channel registry.
//
// A Registry owns at most one transport per channel key and shares it between
// any number of subscribers. The transport is opened by the first subscriber,
// reopened after a fixed delay whenever it drops while subscribers remain, and
// closed when the last subscriber leaves. Transport failures never reach
// subscribers; they only move the channel through its status values.
//
// The registry is independent of what travels over a channel. Payloads are
// delivered as raw bytes, synchronously and in arrival order, on a single
// reader goroutine per channel.
package connection
