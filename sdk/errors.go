package gudang

import "fmt"

// APIError is returned when the ledger API responds with a non-success status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gudang: HTTP %d: %s", e.StatusCode, e.Message)
}
