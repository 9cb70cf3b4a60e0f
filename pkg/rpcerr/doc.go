// Package rpcerr defines the error kinds surfaced by hutch calls: timeouts,
// lost peers, reconstructed remote failures, credit violations and unknown
// names. Match them with errors.As or the Is helpers.
package rpcerr
