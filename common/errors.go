package common

import "errors"

// ErrNotConnected is returned by a transport send attempt when no peer link
// is currently established. Sends are fire-and-forget: callers log and move
// on rather than retrying synchronously.
var ErrNotConnected = errors.New("transport: not connected")

// ErrImplausibleRTT means a handshake round-trip fell outside [0, 10s] and
// was rejected without updating the clock offset.
var ErrImplausibleRTT = errors.New("sync: implausible round-trip time")

// ErrChecksumMismatch means a received Beacon's CRC did not match its
// fields; the sample is dropped and counted in sync_failures.
var ErrChecksumMismatch = errors.New("sync: beacon checksum mismatch")

// ErrOutlierSample means a raw offset sample deviated from the filtered
// estimate by more than the active outlier threshold and was rejected.
var ErrOutlierSample = errors.New("sync: sample rejected as outlier")

// ErrStaleProposal means a ModeProposal's effective epoch had already
// passed by the time it was evaluated.
var ErrStaleProposal = errors.New("modecommit: proposal effective time already past")

// ErrEpochInvalidated means the Pattern Epoch was invalidated by a
// disconnect exceeding the safety window or by a role swap on reconnect,
// and activation is halted until a fresh epoch is installed.
var ErrEpochInvalidated = errors.New("pattern: epoch invalidated")

// ErrLockTimeout names a guarded accessor that could not acquire its lock
// within the bounded timeout. The accessors themselves do not return it:
// they report the timeout as ok=false alongside a safe zero value.
var ErrLockTimeout = errors.New("corestate: lock acquisition timed out")

// ErrAntiphaseLockNotAcquired means the Follower's bounded wait for
// handshake-complete + steady-state filter + fresh beacon elapsed without
// acquiring lock; actuation does not start.
var ErrAntiphaseLockNotAcquired = errors.New("pattern: antiphase lock not acquired")

// ErrQueueFull means a bounded cross-thread queue was at capacity; the
// newest enqueue was dropped rather than blocking the caller.
var ErrQueueFull = errors.New("router: queue full, dropped newest")
