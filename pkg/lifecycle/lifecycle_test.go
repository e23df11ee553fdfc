package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFireRunsInRegistrationOrder(t *testing.T) {
	h := NewHooks()
	var order []string

	h.OnHidden(func(ctx context.Context) { order = append(order, "save") })
	h.OnHidden(func(ctx context.Context) { panic("backup exploded") })
	h.OnHidden(func(ctx context.Context) { order = append(order, "flush") })
	h.OnVisible(func(ctx context.Context) { order = append(order, "visible") })

	h.Fire(context.Background(), EventHidden)
	assert.Equal(t, []string{"save", "flush"}, order)
	assert.Equal(t, 3, h.Count(EventHidden))
	assert.Equal(t, 0, h.Count(EventIdle))
}

func TestFireNilTable(t *testing.T) {
	var h *Hooks
	assert.NotPanics(t, func() { h.Fire(context.Background(), EventOnline) })
}

func TestParseEvent(t *testing.T) {
	tests := []struct {
		in      string
		want    Event
		wantErr bool
	}{
		{in: "visible", want: EventVisible},
		{in: "hidden", want: EventHidden},
		{in: "online", want: EventOnline},
		{in: "offline", want: EventOffline},
		{in: "idle", want: EventIdle},
		{in: "beforeunload", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEvent(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
