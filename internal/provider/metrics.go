package provider

// Metrics receives per-item failure and conflict-resolution counts. All
// methods must be cheap and non-blocking; implementations that forward to
// a metrics backend should buffer.
type Metrics interface {
	// ValidationFailure counts an outgoing item dropped for an oversized
	// encrypted payload.
	ValidationFailure(id string)

	// DecryptionFailure counts an incoming item dropped for malformed
	// ciphertext.
	DecryptionFailure(id string)

	// LocalOverride counts a conflict resolved in favor of a newer local
	// edit.
	LocalOverride(id string)
}

// NopMetrics discards all counts. Used when no sink is configured.
type NopMetrics struct{}

func (NopMetrics) ValidationFailure(string) {}
func (NopMetrics) DecryptionFailure(string) {}
func (NopMetrics) LocalOverride(string)     {}
