package config

import "time"

const (
	// Websocket transport
	WSWriteWait      = 10 * time.Second
	WSPongWait       = 60 * time.Second
	WSPingPeriod     = (WSPongWait * 9) / 10
	WSMaxMessageSize = 64 * 1024
	WSSendBuffer     = 256

	// Calls
	DefaultCallRingTimeout   = 60 * time.Second
	DefaultCallSweepInterval = 5 * time.Second
	DefaultCallRetention     = 5 * time.Minute
	DefaultMaxCallDuration   = 4 * time.Hour
	CallWriteTimeout         = 5 * time.Second

	// Matching
	InterestRetryAttempts = 3
	InterestRetryBackoff  = 50 * time.Millisecond

	// Reconciliation
	TextDedupWindow     = 2 * time.Second
	WinkDedupWindow     = 10 * time.Second
	ReconcileContentLen = 64

	// Chat
	MaxChatContentLen   = 4096
	MaxTempIDLen        = 64
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// Registry shards. Must be a power of two.
const RegistryShards = 32
