package trust

import (
	"errors"
	"fmt"
)

var (
	// ErrNXDomain means the queried name does not exist.
	ErrNXDomain = errors.New("dns: name does not exist")
	// ErrNoRecords means the name exists but has no records of the queried type.
	ErrNoRecords = errors.New("dns: no records of requested type")
	// ErrTimeout means the lookup did not complete within its deadline.
	ErrTimeout = errors.New("dns: lookup timed out")
	// ErrServFail means the upstream resolver failed to answer.
	ErrServFail = errors.New("dns: server failure")
	// ErrRefused means the upstream resolver refused the query.
	ErrRefused = errors.New("dns: query refused")
)

// LookupError records which lookup failed and why.
type LookupError struct {
	Type string // TXT or CNAME
	Name string
	Err  error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s lookup for %s: %v", e.Type, e.Name, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Reason renders the failure for display next to the record.
func (e *LookupError) Reason() string {
	switch {
	case errors.Is(e.Err, ErrNXDomain):
		return fmt.Sprintf("%s does not exist in DNS", e.Name)
	case errors.Is(e.Err, ErrNoRecords):
		return fmt.Sprintf("no %s record found at %s", e.Type, e.Name)
	case errors.Is(e.Err, ErrTimeout):
		return fmt.Sprintf("%s lookup for %s timed out", e.Type, e.Name)
	case errors.Is(e.Err, ErrServFail):
		return fmt.Sprintf("resolver failed answering %s lookup for %s", e.Type, e.Name)
	case errors.Is(e.Err, ErrRefused):
		return fmt.Sprintf("resolver refused %s lookup for %s", e.Type, e.Name)
	}
	return fmt.Sprintf("%s lookup for %s failed: %v", e.Type, e.Name, e.Err)
}
