//go:build !linux

package systemdmanager

import (
	"context"
	"errors"
)

var ErrUnsupported = errors.New("systemdmanager: unsupported OS (linux only)")

type Manager struct{}

func New(context.Context) (*Manager, error) { return nil, ErrUnsupported }

func (m *Manager) Close() error { return nil }

func (m *Manager) Do(context.Context, Op, string) (Result, error) { return Result{}, ErrUnsupported }

func (m *Manager) ActiveState(context.Context, string) (string, error) { return "", ErrUnsupported }
