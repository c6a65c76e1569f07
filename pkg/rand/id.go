package rand

import "github.com/google/uuid"

// Correlator returns a fresh Fiware-Correlator value.
func Correlator() string {
	return uuid.NewString()
}
