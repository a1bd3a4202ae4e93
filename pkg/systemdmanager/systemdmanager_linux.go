//go:build linux

package systemdmanager

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Manager holds one system bus connection. Safe for concurrent use.
type Manager struct {
	mu   sync.RWMutex
	conn *dbus.Conn
}

// New connects to the system bus. If ctx is nil, context.Background() is used.
func New(ctx context.Context) (*Manager, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return &Manager{conn: conn}, nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	return nil
}

// Do queues op for unit in "replace" mode and waits for the job to finish or
// ctx to end.
func (m *Manager) Do(ctx context.Context, op Op, unit string) (Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn == nil {
		return Result{}, fmt.Errorf("systemd connection is closed")
	}

	name := UnitName(unit)
	ch := make(chan string, 1)
	var err error
	switch op {
	case OpStart:
		_, err = m.conn.StartUnitContext(ctx, name, "replace", ch)
	case OpStop:
		_, err = m.conn.StopUnitContext(ctx, name, "replace", ch)
	case OpRestart:
		_, err = m.conn.RestartUnitContext(ctx, name, "replace", ch)
	case OpReload:
		_, err = m.conn.ReloadUnitContext(ctx, name, "replace", ch)
	default:
		return Result{}, fmt.Errorf("unknown unit op %q", op)
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to %s %s: %w", op, name, err)
	}

	select {
	case st := <-ch:
		return Result{Unit: name, Op: op, Status: st}, nil
	case <-ctx.Done():
		return Result{}, fmt.Errorf("%s %s: %w", op, name, ctx.Err())
	}
}

// ActiveState returns the unit's ActiveState (active, inactive, failed, ...).
func (m *Manager) ActiveState(ctx context.Context, unit string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn == nil {
		return "", fmt.Errorf("systemd connection is closed")
	}
	name := UnitName(unit)
	prop, err := m.conn.GetUnitPropertyContext(ctx, name, "ActiveState")
	if err != nil {
		if strings.Contains(err.Error(), "NoSuchUnit") {
			return "", fmt.Errorf("unit %s not found", name)
		}
		return "", err
	}
	s, _ := prop.Value.Value().(string)
	return s, nil
}
