// Package guibridge implements the outgoing GUI message queue and the
// edit-mode selector state machine the rest of the engine talks to.
// Pixel-level rendering is left to its consumer; internal/guiterm is a
// terminal consumer that drains this package's queue so it has a real
// subscriber to exercise, built around a bubbletea Program/Update/View
// loop.
package guibridge

import (
	"sync"
	"time"

	"github.com/schollz/duovox/internal/events"
	"github.com/schollz/duovox/internal/paramgraph"
	"github.com/schollz/duovox/internal/registry"
)

// MessageKind names one of the fixed-size outgoing record types.
type MessageKind int

const (
	MsgHomeRefresh MessageKind = iota
	MsgListUpdate
	MsgListItemUpdate
	MsgEnumParamUpdate
	MsgPopup
	MsgSoftButtonText
	MsgSetSystemColour
	MsgScreenCapture
	MsgBootWarningClear
)

// Message is one small fixed-size outgoing record.
type Message struct {
	Kind       MessageKind
	ParamRef   string
	ListIndex  int
	Text       string
	Text2      string
	Value      float64
	SystemColour string
}

// RootState names the edit-mode selector's top-level screen.
type RootState int

const (
	RootHome RootState = iota
	RootShowParam
	RootShowParamShort
	RootModMatrix
	RootManagePreset
	RootSystemMenu
	RootBankManagement
	RootWavetableManagement
	RootBackup
	RootQAStatus
	RootCalibrate
	RootWheelsCalibrate
	RootMotorStartupFailed
	RootRunDiagScript
)

// RenameSubState is the orthogonal rename sub-flow.
type RenameSubState int

const (
	RenameNone RenameSubState = iota
	RenameSelectChar
	RenameChangeChar
)

// BankMgmtSubState is the orthogonal bank-management sub-flow.
type BankMgmtSubState int

const (
	BankMgmtNone BankMgmtSubState = iota
	BankMgmtSelectArchive
	BankMgmtSelectDest
	BankMgmtImportMethod
)

// WheelsCalSubState is the orthogonal wheels-calibrate sub-flow.
type WheelsCalSubState int

const (
	WheelsCalPitchTop WheelsCalSubState = iota
	WheelsCalPitchMid1
	WheelsCalPitchBottom
	WheelsCalPitchMid2
	WheelsCalModTop
	WheelsCalModBottom
	WheelsCalCheckVersions
)

// showParamSuppressWindow is how long after a shown parameter changes an
// incoming change for a *different* parameter is suppressed, so a fast
// successive edit of one control doesn't cause the display to flicker to
// another parameter mid-gesture.
const showParamSuppressWindow = 50 * time.Millisecond

// EditState is the GUI's edit-mode selector.
type EditState struct {
	mu sync.Mutex

	Root         RootState
	Rename       RenameSubState
	BankMgmt     BankMgmtSubState
	WheelsCal    WheelsCalSubState

	shownParam      string
	shownParamIndex int
	shownParamAt    time.Time
	newList         bool
}

// ShowParam switches to SHOW_PARAM for a given parameter and marks the
// time so the suppression window below can compute.
func (e *EditState) ShowParam(paramRef string, index int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Root = RootShowParam
	e.shownParam = paramRef
	e.shownParamIndex = index
	e.shownParamAt = time.Now()
}

// ShouldSuppressChange reports whether a param-change event for paramRef
// should be dropped because a different parameter's display was just
// shown less than the suppression window ago.
func (e *EditState) ShouldSuppressChange(paramRef string, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Root != RootShowParam || e.shownParam == paramRef {
		return false
	}
	return now.Sub(e.shownParamAt) < showParamSuppressWindow
}

// SetNewList marks that the currently shown list should be treated as a
// fresh selection (resets scroll position) on its next refresh.
func (e *EditState) SetNewList(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.newList = v
}

// ConsumeNewList reports and clears the new-list flag.
func (e *EditState) ConsumeNewList() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := e.newList
	e.newList = false
	return v
}

// Bridge owns the lossy outgoing message queue and the edit-mode state,
// and translates observed ParamChange and ReloadPresets events into queued
// GUI messages. SystemFunc events are received but produce no message.
type Bridge struct {
	reg    *registry.Registry
	model  *paramgraph.Model
	router *events.Router

	Edit *EditState

	mu    sync.Mutex
	queue chan Message

	paramListener *events.Listener
	sysListener   *events.Listener
	reloadListener *events.Listener
	stop          chan struct{}
}

// New constructs a bridge with a bounded outgoing queue of the given
// capacity. The producer side (Start's goroutine) never blocks: once the
// queue is full, Publish drops the new message and keeps the ones already
// queued.
func New(reg *registry.Registry, model *paramgraph.Model, router *events.Router, queueCapacity int) *Bridge {
	if queueCapacity <= 0 {
		queueCapacity = 64
	}
	return &Bridge{
		reg:    reg,
		model:  model,
		router: router,
		Edit:   &EditState{},
		queue:  make(chan Message, queueCapacity),
	}
}

// Publish enqueues msg, dropping it silently if the queue is full. It
// reports whether the message was accepted.
func (b *Bridge) Publish(msg Message) bool {
	select {
	case b.queue <- msg:
		return true
	default:
		return false
	}
}

// Messages returns the receive side of the outgoing queue for a consumer
// (internal/guiterm) to drain.
func (b *Bridge) Messages() <-chan Message {
	return b.queue
}

// Start subscribes to ParamChange/SystemFunc/ReloadPresets and begins
// translating ParamChange and ReloadPresets events into queued GUI
// messages; SystemFunc events are drained and dropped.
func (b *Bridge) Start() {
	b.paramListener = b.router.Subscribe("gui-param", events.ModuleParamGraph, events.TypeParamChange, 64)
	b.sysListener = b.router.Subscribe("gui-sysfunc", events.ModuleParamGraph, events.TypeSystemFunc, 32)
	b.reloadListener = b.router.Subscribe("gui-reload", events.ModulePreset, events.TypeReloadPresets, 8)
	b.stop = make(chan struct{})
	go b.run()
}

// Stop ends message translation.
func (b *Bridge) Stop() {
	if b.stop != nil {
		close(b.stop)
	}
}

func (b *Bridge) run() {
	for {
		select {
		case <-b.stop:
			return
		case ev, ok := <-b.paramListener.Events():
			if !ok {
				return
			}
			b.handleParamChange(ev)
		case ev, ok := <-b.sysListener.Events():
			if !ok {
				return
			}
			_ = ev
		case <-b.reloadListener.Events():
			b.Edit.SetNewList(true)
			b.Publish(Message{Kind: MsgListUpdate})
		}
	}
}

func (b *Bridge) handleParamChange(ev events.Event) {
	if ev.ParamChange == nil || !ev.ParamChange.DisplayFlag {
		return
	}
	ref := ev.ParamChange.ParamRef
	if b.Edit.ShouldSuppressChange(ref, time.Now()) {
		return
	}
	p, ok := b.reg.LookupByPath(ref)
	if !ok {
		return
	}
	if p.Display.NumPositions > 1 {
		b.Publish(Message{Kind: MsgEnumParamUpdate, ParamRef: ref, Value: float64(b.model.ReadPosition(p))})
		return
	}
	b.Publish(Message{Kind: MsgListItemUpdate, ParamRef: ref, Value: b.model.ReadHuman(p, 0, 0)})
}

// PublishPopup queues a message popup.
func (b *Bridge) PublishPopup(text string) bool {
	return b.Publish(Message{Kind: MsgPopup, Text: text})
}

// PublishSoftButtonText queues updated soft-button labels.
func (b *Bridge) PublishSoftButtonText(left, right string) bool {
	return b.Publish(Message{Kind: MsgSoftButtonText, Text: left, Text2: right})
}

// PublishSystemColour queues a system-colour update, as a 6-hex-digit
// string validated by the caller (internal/preset owns the config field;
// internal/convert's human-value conversions don't apply to this field
// since it's not a parameter).
func (b *Bridge) PublishSystemColour(hex string) bool {
	return b.Publish(Message{Kind: MsgSetSystemColour, SystemColour: hex})
}

// PublishBootWarningClear queues the boot-warning-clear record.
func (b *Bridge) PublishBootWarningClear() bool {
	return b.Publish(Message{Kind: MsgBootWarningClear})
}

// PublishScreenCapture queues a screen-capture request.
func (b *Bridge) PublishScreenCapture() bool {
	return b.Publish(Message{Kind: MsgScreenCapture})
}

// PublishHomeRefresh queues a home-screen refresh.
func (b *Bridge) PublishHomeRefresh() bool {
	return b.Publish(Message{Kind: MsgHomeRefresh})
}
