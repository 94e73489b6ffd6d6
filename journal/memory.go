package journal

import (
	"context"
	"encoding/json"
	"sync"
)

// Memory is a process-local journal for tests and dry runs.
type Memory struct {
	mu        sync.Mutex
	events    []Event
	snapshots []Snapshot
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(ctx context.Context, events ...Event) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Event, len(events))
	next := int64(len(m.events))
	for i, e := range events {
		next++
		e.Seq = next
		e.Payload = append(json.RawMessage(nil), e.Payload...)
		out[i] = e
	}
	m.events = append(m.events, out...)
	return out, nil
}

func (m *Memory) Since(ctx context.Context, after int64) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Event
	for _, e := range m.events {
		if e.Seq > after {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) ForPosition(ctx context.Context, positionID string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Event
	for _, e := range m.events {
		if e.PositionID == positionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) SaveSnapshot(ctx context.Context, s Snapshot) error {
	// round-trip so later mutation by the caller cannot leak in
	body, err := json.Marshal(s)
	if err != nil {
		return err
	}
	var cp Snapshot
	if err := json.Unmarshal(body, &cp); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, cp)
	return nil
}

func (m *Memory) LatestSnapshot(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.snapshots) == 0 {
		return Snapshot{}, ErrNoSnapshot
	}
	best := m.snapshots[0]
	for _, s := range m.snapshots[1:] {
		if s.Seq >= best.Seq {
			best = s
		}
	}
	return best, nil
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *Memory) Close() error { return nil }
