package trust

import (
	"context"
	"sync"
	"time"
)

// MockResolver answers lookups from in-memory maps. Names are matched after
// normalization, so "Example.COM." and "example.com" are the same key.
type MockResolver struct {
	TXT   map[string][]string
	CNAME map[string]string
	// Fail maps a name to the error every lookup of it returns.
	Fail map[string]error
	// Delay is applied to every lookup before answering.
	Delay time.Duration

	mu    sync.Mutex
	calls []string
}

// LookupTXT implements Resolver.
func (m *MockResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	if err := m.before(ctx, "TXT", name); err != nil {
		return nil, err
	}
	recs, ok := m.TXT[normalizeHost(name)]
	if !ok || len(recs) == 0 {
		return nil, ErrNoRecords
	}
	return recs, nil
}

// LookupCNAME implements Resolver.
func (m *MockResolver) LookupCNAME(ctx context.Context, name string) (string, error) {
	if err := m.before(ctx, "CNAME", name); err != nil {
		return "", err
	}
	target, ok := m.CNAME[normalizeHost(name)]
	if !ok {
		return "", ErrNoRecords
	}
	return target, nil
}

// Calls returns the lookups issued so far as "TYPE name".
func (m *MockResolver) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockResolver) before(ctx context.Context, typ, name string) error {
	m.mu.Lock()
	m.calls = append(m.calls, typ+" "+normalizeHost(name))
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return contextError(ctx.Err())
		}
	}
	if err, ok := m.Fail[normalizeHost(name)]; ok {
		return err
	}
	return nil
}
