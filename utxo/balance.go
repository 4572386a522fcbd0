package utxo

import "fmt"

// OpaqueOutputError signals that a tracked output could not contribute to a
// balance because its asset or value is unknown. The output is excluded from
// the aggregate rather than counted as zero.
type OpaqueOutputError struct {
	// OutPoint names the offending output.
	OutPoint OutPoint

	// Reason is the recorded unblinding failure, if any.
	Reason error
}

// Error implements the error interface.
func (e *OpaqueOutputError) Error() string {
	if e.Reason != nil {
		return fmt.Sprintf("output %v has unknown asset or value: %v",
			e.OutPoint, e.Reason)
	}
	return fmt.Sprintf("output %v has unknown asset or value",
		e.OutPoint)
}

// Unwrap returns the recorded unblinding failure.
func (e *OpaqueOutputError) Unwrap() error {
	return e.Reason
}

// Balances sums the value of every revealed output per asset. Opaque outputs
// never contribute to a sum; each one is reported as an OpaqueOutputError so
// callers can surface the degraded rows explicitly.
func (s Set) Balances() (map[string]uint64, []*OpaqueOutputError) {
	balances := make(map[string]uint64)

	var opaque []*OpaqueOutputError
	for _, out := range s.Outputs() {
		if out.IsOpaque() {
			opaque = append(opaque, &OpaqueOutputError{
				OutPoint: out.OutPoint,
				Reason:   out.BlindingError,
			})
			continue
		}

		asset := out.Asset.UnwrapOr("")
		balances[asset] += out.Value.UnwrapOr(0)
	}

	return balances, opaque
}
