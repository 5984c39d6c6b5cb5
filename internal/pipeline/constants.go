package pipeline

// Defaults for proof receipt scanning.
const (
	// DefaultModelName is the default Gemini model used for parsing.
	DefaultModelName = "gemini-2.5-flash"

	// DefaultCurrency is assumed when a receipt does not print one.
	DefaultCurrency = "PKR"
)
