package gateway

import "errors"

var (
	// ErrSessionNotReady is returned for commands issued before the handshake
	// completed or while the gateway is disconnected.
	ErrSessionNotReady = errors.New("gateway: session not ready")

	// ErrSessionClosed is returned once Close has been called.
	ErrSessionClosed = errors.New("gateway: session closed")

	// ErrRetriesExhausted is returned by Run when max_retries consecutive
	// connection attempts failed.
	ErrRetriesExhausted = errors.New("gateway: reconnect retries exhausted")

	// ErrUnknownGateway is returned by the Manager for an unconfigured GatewayID.
	ErrUnknownGateway = errors.New("gateway: unknown gateway")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("gateway: session already running")

	// errHeartbeatSilence ends a connection that went quiet for the whole
	// silence timeout.
	errHeartbeatSilence = errors.New("gateway: no traffic within heartbeat silence timeout")
)
