package engine

// ErrorKind enumerates the engine's error taxonomy. Kinds are never typed
// as Go error values that unwind control flow — they are carried as plain
// strings inside ErrorObserved events, since the engine is infallible from
// the event loop's perspective.
type ErrorKind string

const (
	ErrKindInvalidInput      ErrorKind = "invalid_input"
	ErrKindPermissionDenied  ErrorKind = "permission_denied"
	ErrKindStaleLocation     ErrorKind = "stale_location"
	ErrKindPoorAccuracy      ErrorKind = "poor_accuracy"
	ErrKindExcessiveSpeed    ErrorKind = "excessive_speed"
	ErrKindStationary        ErrorKind = "stationary"
	ErrKindBelowThreshold    ErrorKind = "below_threshold"
	ErrKindBelowThresholdAfterSmoothing ErrorKind = "below_threshold_after_smoothing"
	ErrKindPersistenceFailed ErrorKind = "persistence_failed"
	ErrKindStateViolation    ErrorKind = "state_violation"
	// ErrKindSafeZoneExit is a SPEC_FULL supplement (§4.12): advisory only,
	// never blocks the FSM.
	ErrKindSafeZoneExit ErrorKind = "safe_zone_exit"
)

// RejectReason enumerates why GeoFilter declined to accept a fix. These are
// not user-facing errors — they are counters surfaced only in
// debug snapshots.
type RejectReason string

const (
	RejectNone                      RejectReason = ""
	RejectInvalid                   RejectReason = "invalid"
	RejectPoorAccuracy              RejectReason = "poor_accuracy"
	RejectStaleLocation             RejectReason = "stale_location"
	RejectInvalidTime               RejectReason = "invalid_time"
	RejectExcessiveSpeed            RejectReason = "excessive_speed"
	RejectStationary                RejectReason = "stationary"
	RejectBelowThreshold            RejectReason = "below_threshold"
	RejectBelowThresholdAfterSmooth RejectReason = "below_threshold_after_smoothing"
	AcceptFirstLocation             RejectReason = "first_location"
	AcceptAccepted                  RejectReason = "accepted"
)
