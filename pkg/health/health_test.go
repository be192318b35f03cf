package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckerRegistry(t *testing.T) {
	ok := NewFuncChecker("ok", func(context.Context) error { return nil })
	broken := NewFuncChecker("broken", func(context.Context) error { return errors.New("down") })

	tests := []struct {
		name     string
		setup    func(r *CheckerRegistry)
		expected Status
	}{
		{
			name:     "all healthy",
			setup:    func(r *CheckerRegistry) { r.Register(ok) },
			expected: StatusHealthy,
		},
		{
			name: "required failure",
			setup: func(r *CheckerRegistry) {
				r.Register(ok)
				r.Register(broken)
			},
			expected: StatusUnhealthy,
		},
		{
			name: "optional failure degrades",
			setup: func(r *CheckerRegistry) {
				r.Register(ok)
				r.RegisterOptional(broken)
			},
			expected: StatusDegraded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewCheckerRegistry()
			tt.setup(r)
			h := r.Check(context.Background())
			assert.Equal(t, tt.expected, h.Status)
			assert.Equal(t, StatusHealthy, h.Checks["ok"].Status)
		})
	}
}

func TestKafkaCheckerWithoutBrokers(t *testing.T) {
	err := NewKafkaChecker(nil).Check(context.Background())
	assert.Error(t, err)
}
