package utils

import (
	"time"
)

// Token constants
const (
	// AccessTokenTTL is the time-to-live for tenant access tokens (24 hours)
	AccessTokenTTL = 24 * time.Hour
)

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)

// Segmentation constants
const (
	// DefaultSegmentBatchSize bounds the number of document ids bound into one evaluator query
	DefaultSegmentBatchSize = 30000

	// DefaultRecomputeInterval is the period of the background recomputation driver
	DefaultRecomputeInterval = 10 * time.Minute

	// DefaultTaskTimeout caps a single segment recomputation
	DefaultTaskTimeout = 30 * time.Minute
)

type contextKey string

// Request context keys
const (
	RequestIDKey contextKey = "request_id"
	UserAgentKey contextKey = "user_agent"
	IPAddressKey contextKey = "ip_address"
	EndpointKey  contextKey = "endpoint"
	TimeoutKey   contextKey = "timeout"
	CashboxIDKey contextKey = "cashbox_id"
)
