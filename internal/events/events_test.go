package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeAndEmitInOrder(t *testing.T) {
	r := NewRouter()
	l := r.Subscribe("test", ModuleMIDI, TypeParamChange, 4)

	for i := 0; i < 3; i++ {
		r.Emit(Event{
			Type:        TypeParamChange,
			Producer:    ModuleMIDI,
			ParamChange: &ParamChange{ParamRef: string(rune('a' + i))},
		})
	}

	for i := 0; i < 3; i++ {
		select {
		case ev := <-l.Events():
			require.NotNil(t, ev.ParamChange)
			assert.Equal(t, string(rune('a'+i)), ev.ParamChange.ParamRef)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestMultipleListenersEachGetACopy(t *testing.T) {
	r := NewRouter()
	l1 := r.Subscribe("one", ModuleSeq, TypeSystemFunc, 2)
	l2 := r.Subscribe("two", ModuleSeq, TypeSystemFunc, 2)

	r.Emit(Event{Type: TypeSystemFunc, Producer: ModuleSeq, SystemFunc: &SystemFunc{Type: SysFuncSeqRec}})

	for _, l := range []*Listener{l1, l2} {
		select {
		case ev := <-l.Events():
			assert.Equal(t, SysFuncSeqRec, ev.SystemFunc.Type)
		case <-time.After(time.Second):
			t.Fatal("listener did not receive its copy")
		}
	}
}

func TestNonMatchingProducerNotDelivered(t *testing.T) {
	r := NewRouter()
	l := r.Subscribe("only-midi", ModuleMIDI, TypeParamChange, 1)
	r.Emit(Event{Type: TypeParamChange, Producer: ModuleSurface, ParamChange: &ParamChange{}})

	select {
	case <-l.Events():
		t.Fatal("should not have received an event from a different producer")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestTryEmitDropsOnFullQueue(t *testing.T) {
	r := NewRouter()
	l := r.Subscribe("slow", ModuleGUI, TypeSfcFunc, 1)
	ok1 := r.TryEmit(Event{Type: TypeSfcFunc, Producer: ModuleGUI, SfcFunc: &SfcFunc{}})
	ok2 := r.TryEmit(Event{Type: TypeSfcFunc, Producer: ModuleGUI, SfcFunc: &SfcFunc{}})
	assert.True(t, ok1)
	assert.False(t, ok2)
	<-l.Events()
}
