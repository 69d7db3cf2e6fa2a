package candrv

import "github.com/fleetwire/pmucore/pkg/registry"

// J1939 PDU formats used by the keypad integration (spec §4.F).
const (
	PF_TSC1  = 0x00
	PF_PMU1  = 0xEF
	PF_PMU2  = 0xA7
	PF_PMU3  = 0xA6
)

// BuildJ1939ID synthesises a 29-bit extended CAN identifier from PGN
// components: id = 0x18<<24 | PF<<16 | PS<<8 | SA (spec §4.F, §6
// "J1939 CAN-ID synthesis").
func BuildJ1939ID(pf, ps, sa uint8) uint32 {
	return uint32(0x18)<<24 | uint32(pf)<<16 | uint32(ps)<<8 | uint32(sa)
}

// Keypad command codes (spec §4.F "RX command codes from the keypad").
const (
	KeypadCmdButtonState uint8 = 0x01
	KeypadCmdHeartbeat   uint8 = 0xF9
	KeypadCmdLEDAck      uint8 = 0x02
	KeypadCmdVersion     uint8 = 0x03
)

// Keypad TX command codes (spec §4.F "TX commands set LED colour/
// state, brightness, backlight").
const (
	KeypadCmdSetLED       uint8 = 0x10
	KeypadCmdSetBrightness uint8 = 0x11
	KeypadCmdSetBacklight  uint8 = 0x12
)

// LEDColour is the keypad's per-button LED colour selector.
type LEDColour uint8

const (
	LEDOff LEDColour = iota
	LEDRed
	LEDGreen
	LEDBlue
	LEDAmber
	LEDWhite
)

// KeypadButton is one physical button's resolved binding.
type KeypadButton struct {
	Index     uint8
	ChannelID registry.ChannelID
}

// Keypad resolves incoming J1939 keypad frames into button-state
// channel writes and tracks keypad heartbeat liveness (spec §4.F
// "Button index -> registered channel_id mapping is resolved once per
// keypad").
type Keypad struct {
	SA       uint8 // source address of this keypad on the bus
	buttons  map[uint8]registry.ChannelID
	lastBeat int64
}

func NewKeypad(sa uint8) *Keypad {
	return &Keypad{SA: sa, buttons: make(map[uint8]registry.ChannelID)}
}

// BindButton resolves button index to a channel id once, per spec's
// "resolved once per keypad" contract.
func (k *Keypad) BindButton(index uint8, id registry.ChannelID) {
	k.buttons[index] = id
}

// HandleFrame decodes one keypad RX frame, publishing button state to
// the registry. data[0] is the command code; for KeypadCmdButtonState,
// data[1] is the button index and data[2] is 0/1 for released/pressed.
func (k *Keypad) HandleFrame(reg *registry.Registry, nowMs int64, data []byte) {
	if len(data) < 1 {
		return
	}
	switch data[0] {
	case KeypadCmdHeartbeat:
		k.lastBeat = nowMs
	case KeypadCmdButtonState:
		if len(data) < 3 {
			return
		}
		id, ok := k.buttons[data[1]]
		if !ok || id == registry.Unbound {
			return
		}
		state := int32(0)
		if data[2] != 0 {
			state = 1
		}
		reg.SetValue(id, state)
	}
}

// Alive reports whether a heartbeat has been seen within timeoutMs.
func (k *Keypad) Alive(nowMs int64, timeoutMs int64) bool {
	return k.lastBeat != 0 && nowMs-k.lastBeat <= timeoutMs
}

// EncodeSetLED packs a KeypadCmdSetLED TX payload for one button.
func EncodeSetLED(buttonIndex uint8, colour LEDColour, on bool) [8]byte {
	var data [8]byte
	data[0] = KeypadCmdSetLED
	data[1] = buttonIndex
	data[2] = uint8(colour)
	if on {
		data[3] = 1
	}
	return data
}

// EncodeSetBrightness packs a KeypadCmdSetBrightness TX payload
// (0-100%).
func EncodeSetBrightness(percent uint8) [8]byte {
	var data [8]byte
	data[0] = KeypadCmdSetBrightness
	data[1] = percent
	return data
}
