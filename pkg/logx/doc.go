// Package logx wraps zerolog for boorubot. Console output is human readable
// with a short caller, the optional file sink is JSON, and an optional chat
// sink forwards warnings to an operator chat under a rate limit.
package logx
