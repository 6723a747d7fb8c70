package devices

import "log/slog"

// Key identifies a physical key on an MF2 keyboard.
type Key int

const (
	KeyNone Key = iota
	KeyEscape
	Key1
	Key2
	Key3
	Key4
	Key5
	Key6
	Key7
	Key8
	Key9
	Key0
	KeyMinus
	KeyEquals
	KeyBackspace
	KeyTab
	KeyQ
	KeyW
	KeyE
	KeyR
	KeyT
	KeyY
	KeyU
	KeyI
	KeyO
	KeyP
	KeyLeftBracket
	KeyRightBracket
	KeyEnter
	KeyLeftCtrl
	KeyA
	KeyS
	KeyD
	KeyF
	KeyG
	KeyH
	KeyJ
	KeyK
	KeyL
	KeySemicolon
	KeyApostrophe
	KeyGrave
	KeyLeftShift
	KeyBackslash
	KeyZ
	KeyX
	KeyC
	KeyV
	KeyB
	KeyN
	KeyM
	KeyComma
	KeyPeriod
	KeySlash
	KeyRightShift
	KeyKPMultiply
	KeyLeftAlt
	KeySpace
	KeyCapsLock
	KeyF1
	KeyF2
	KeyF3
	KeyF4
	KeyF5
	KeyF6
	KeyF7
	KeyF8
	KeyF9
	KeyF10
	KeyNumLock
	KeyScrollLock
	KeyKP7
	KeyKP8
	KeyKP9
	KeyKPMinus
	KeyKP4
	KeyKP5
	KeyKP6
	KeyKPPlus
	KeyKP1
	KeyKP2
	KeyKP3
	KeyKP0
	KeyKPPeriod
	KeyF11
	KeyF12
	KeyRightCtrl
	KeyRightAlt
	KeyKPEnter
	KeyKPDivide
	KeyInsert
	KeyHome
	KeyPageUp
	KeyDelete
	KeyEnd
	KeyPageDown
	KeyUp
	KeyLeft
	KeyDown
	KeyRight
	KeyLeftGUI
	KeyRightGUI
	KeyMenu
	KeyPrintScreen
	KeyPause
)

// KeyLocation tells apart keys the host reports with one code.
type KeyLocation int

const (
	KeyLocationStandard KeyLocation = iota
	KeyLocationLeft
	KeyLocationRight
	KeyLocationNumpad
)

var rightKeys = map[Key]Key{
	KeyLeftShift: KeyRightShift,
	KeyLeftCtrl:  KeyRightCtrl,
	KeyLeftAlt:   KeyRightAlt,
	KeyLeftGUI:   KeyRightGUI,
}

var numpadKeys = map[Key]Key{
	KeyEnter:    KeyKPEnter,
	KeySlash:    KeyKPDivide,
	KeyMinus:    KeyKPMinus,
	KeyPeriod:   KeyKPPeriod,
	KeyDelete:   KeyKPPeriod,
	Key0:        KeyKP0,
	KeyInsert:   KeyKP0,
	Key1:        KeyKP1,
	KeyEnd:      KeyKP1,
	Key2:        KeyKP2,
	KeyDown:     KeyKP2,
	Key3:        KeyKP3,
	KeyPageDown: KeyKP3,
	Key4:        KeyKP4,
	KeyLeft:     KeyKP4,
	Key5:        KeyKP5,
	Key6:        KeyKP6,
	KeyRight:    KeyKP6,
	Key7:        KeyKP7,
	KeyHome:     KeyKP7,
	Key8:        KeyKP8,
	KeyUp:       KeyKP8,
	Key9:        KeyKP9,
	KeyPageUp:   KeyKP9,
}

// ResolveKey maps a host key code plus its location to the physical key.
func ResolveKey(key Key, loc KeyLocation) Key {
	switch loc {
	case KeyLocationRight:
		if k, ok := rightKeys[key]; ok {
			return k
		}
	case KeyLocationNumpad:
		if k, ok := numpadKeys[key]; ok {
			return k
		}
	}
	return key
}

// scancodeEntry holds make and break sequences for sets 1, 2 and 3.
type scancodeEntry struct {
	make [3][]byte
	brk  [3][]byte
}

func plainKey(s1, s2, s3 byte) scancodeEntry {
	return scancodeEntry{
		make: [3][]byte{{s1}, {s2}, {s3}},
		brk:  [3][]byte{{s1 | 0x80}, {0xF0, s2}, {0xF0, s3}},
	}
}

// extendedKey is a key with an E0 prefix in sets 1 and 2.
func extendedKey(s1, s2, s3 byte) scancodeEntry {
	return scancodeEntry{
		make: [3][]byte{{0xE0, s1}, {0xE0, s2}, {s3}},
		brk:  [3][]byte{{0xE0, s1 | 0x80}, {0xE0, 0xF0, s2}, {0xF0, s3}},
	}
}

var scancodes = map[Key]scancodeEntry{
	KeyEscape:       plainKey(0x01, 0x76, 0x08),
	Key1:            plainKey(0x02, 0x16, 0x16),
	Key2:            plainKey(0x03, 0x1E, 0x1E),
	Key3:            plainKey(0x04, 0x26, 0x26),
	Key4:            plainKey(0x05, 0x25, 0x25),
	Key5:            plainKey(0x06, 0x2E, 0x2E),
	Key6:            plainKey(0x07, 0x36, 0x36),
	Key7:            plainKey(0x08, 0x3D, 0x3D),
	Key8:            plainKey(0x09, 0x3E, 0x3E),
	Key9:            plainKey(0x0A, 0x46, 0x46),
	Key0:            plainKey(0x0B, 0x45, 0x45),
	KeyMinus:        plainKey(0x0C, 0x4E, 0x4E),
	KeyEquals:       plainKey(0x0D, 0x55, 0x55),
	KeyBackspace:    plainKey(0x0E, 0x66, 0x66),
	KeyTab:          plainKey(0x0F, 0x0D, 0x0D),
	KeyQ:            plainKey(0x10, 0x15, 0x15),
	KeyW:            plainKey(0x11, 0x1D, 0x1D),
	KeyE:            plainKey(0x12, 0x24, 0x24),
	KeyR:            plainKey(0x13, 0x2D, 0x2D),
	KeyT:            plainKey(0x14, 0x2C, 0x2C),
	KeyY:            plainKey(0x15, 0x35, 0x35),
	KeyU:            plainKey(0x16, 0x3C, 0x3C),
	KeyI:            plainKey(0x17, 0x43, 0x43),
	KeyO:            plainKey(0x18, 0x44, 0x44),
	KeyP:            plainKey(0x19, 0x4D, 0x4D),
	KeyLeftBracket:  plainKey(0x1A, 0x54, 0x54),
	KeyRightBracket: plainKey(0x1B, 0x5B, 0x5B),
	KeyEnter:        plainKey(0x1C, 0x5A, 0x5A),
	KeyLeftCtrl:     plainKey(0x1D, 0x14, 0x11),
	KeyA:            plainKey(0x1E, 0x1C, 0x1C),
	KeyS:            plainKey(0x1F, 0x1B, 0x1B),
	KeyD:            plainKey(0x20, 0x23, 0x23),
	KeyF:            plainKey(0x21, 0x2B, 0x2B),
	KeyG:            plainKey(0x22, 0x34, 0x34),
	KeyH:            plainKey(0x23, 0x33, 0x33),
	KeyJ:            plainKey(0x24, 0x3B, 0x3B),
	KeyK:            plainKey(0x25, 0x42, 0x42),
	KeyL:            plainKey(0x26, 0x4B, 0x4B),
	KeySemicolon:    plainKey(0x27, 0x4C, 0x4C),
	KeyApostrophe:   plainKey(0x28, 0x52, 0x52),
	KeyGrave:        plainKey(0x29, 0x0E, 0x0E),
	KeyLeftShift:    plainKey(0x2A, 0x12, 0x12),
	KeyBackslash:    plainKey(0x2B, 0x5D, 0x5C),
	KeyZ:            plainKey(0x2C, 0x1A, 0x1A),
	KeyX:            plainKey(0x2D, 0x22, 0x22),
	KeyC:            plainKey(0x2E, 0x21, 0x21),
	KeyV:            plainKey(0x2F, 0x2A, 0x2A),
	KeyB:            plainKey(0x30, 0x32, 0x32),
	KeyN:            plainKey(0x31, 0x31, 0x31),
	KeyM:            plainKey(0x32, 0x3A, 0x3A),
	KeyComma:        plainKey(0x33, 0x41, 0x41),
	KeyPeriod:       plainKey(0x34, 0x49, 0x49),
	KeySlash:        plainKey(0x35, 0x4A, 0x4A),
	KeyRightShift:   plainKey(0x36, 0x59, 0x59),
	KeyKPMultiply:   plainKey(0x37, 0x7C, 0x7E),
	KeyLeftAlt:      plainKey(0x38, 0x11, 0x19),
	KeySpace:        plainKey(0x39, 0x29, 0x29),
	KeyCapsLock:     plainKey(0x3A, 0x58, 0x14),
	KeyF1:           plainKey(0x3B, 0x05, 0x07),
	KeyF2:           plainKey(0x3C, 0x06, 0x0F),
	KeyF3:           plainKey(0x3D, 0x04, 0x17),
	KeyF4:           plainKey(0x3E, 0x0C, 0x1F),
	KeyF5:           plainKey(0x3F, 0x03, 0x27),
	KeyF6:           plainKey(0x40, 0x0B, 0x2F),
	KeyF7:           plainKey(0x41, 0x83, 0x37),
	KeyF8:           plainKey(0x42, 0x0A, 0x3F),
	KeyF9:           plainKey(0x43, 0x01, 0x47),
	KeyF10:          plainKey(0x44, 0x09, 0x4F),
	KeyNumLock:      plainKey(0x45, 0x77, 0x76),
	KeyScrollLock:   plainKey(0x46, 0x7E, 0x5F),
	KeyKP7:          plainKey(0x47, 0x6C, 0x6C),
	KeyKP8:          plainKey(0x48, 0x75, 0x75),
	KeyKP9:          plainKey(0x49, 0x7D, 0x7D),
	KeyKPMinus:      plainKey(0x4A, 0x7B, 0x84),
	KeyKP4:          plainKey(0x4B, 0x6B, 0x6B),
	KeyKP5:          plainKey(0x4C, 0x73, 0x73),
	KeyKP6:          plainKey(0x4D, 0x74, 0x74),
	KeyKPPlus:       plainKey(0x4E, 0x79, 0x7C),
	KeyKP1:          plainKey(0x4F, 0x69, 0x69),
	KeyKP2:          plainKey(0x50, 0x72, 0x72),
	KeyKP3:          plainKey(0x51, 0x7A, 0x7A),
	KeyKP0:          plainKey(0x52, 0x70, 0x70),
	KeyKPPeriod:     plainKey(0x53, 0x71, 0x71),
	KeyF11:          plainKey(0x57, 0x78, 0x56),
	KeyF12:          plainKey(0x58, 0x07, 0x5E),

	KeyRightCtrl: extendedKey(0x1D, 0x14, 0x58),
	KeyRightAlt:  extendedKey(0x38, 0x11, 0x39),
	KeyKPEnter:   extendedKey(0x1C, 0x5A, 0x79),
	KeyKPDivide:  extendedKey(0x35, 0x4A, 0x77),
	KeyInsert:    extendedKey(0x52, 0x70, 0x67),
	KeyHome:      extendedKey(0x47, 0x6C, 0x6E),
	KeyPageUp:    extendedKey(0x49, 0x7D, 0x6F),
	KeyDelete:    extendedKey(0x53, 0x71, 0x64),
	KeyEnd:       extendedKey(0x4F, 0x69, 0x65),
	KeyPageDown:  extendedKey(0x51, 0x7A, 0x6D),
	KeyUp:        extendedKey(0x48, 0x75, 0x63),
	KeyLeft:      extendedKey(0x4B, 0x6B, 0x61),
	KeyDown:      extendedKey(0x50, 0x72, 0x60),
	KeyRight:     extendedKey(0x4D, 0x74, 0x6A),
	KeyLeftGUI:   extendedKey(0x5B, 0x1F, 0x8B),
	KeyRightGUI:  extendedKey(0x5C, 0x27, 0x8C),
	KeyMenu:      extendedKey(0x5D, 0x2F, 0x8D),

	KeyPrintScreen: {
		make: [3][]byte{{0xE0, 0x2A, 0xE0, 0x37}, {0xE0, 0x12, 0xE0, 0x7C}, {0x57}},
		brk:  [3][]byte{{0xE0, 0xB7, 0xE0, 0xAA}, {0xE0, 0xF0, 0x7C, 0xE0, 0xF0, 0x12}, {0xF0, 0x57}},
	},
	// Pause sends its whole sequence on press and nothing on release.
	KeyPause: {
		make: [3][]byte{{0xE1, 0x1D, 0x45, 0xE1, 0x9D, 0xC5}, {0xE1, 0x14, 0x77, 0xE1, 0xF0, 0x14, 0xF0, 0x77}, {0x62}},
		brk:  [3][]byte{nil, nil, {0xF0, 0x62}},
	},
}

// translation8042 converts set 2 codes to set 1, as the controller does
// when translation is enabled in the command byte.
var translation8042 = [256]byte{
	0xFF, 0x43, 0x41, 0x3F, 0x3D, 0x3B, 0x3C, 0x58, 0x64, 0x44, 0x42, 0x40, 0x3E, 0x0F, 0x29, 0x59,
	0x65, 0x38, 0x2A, 0x70, 0x1D, 0x10, 0x02, 0x5A, 0x66, 0x71, 0x2C, 0x1F, 0x1E, 0x11, 0x03, 0x5B,
	0x67, 0x2E, 0x2D, 0x20, 0x12, 0x05, 0x04, 0x5C, 0x68, 0x39, 0x2F, 0x21, 0x14, 0x13, 0x06, 0x5D,
	0x69, 0x31, 0x30, 0x23, 0x22, 0x15, 0x07, 0x5E, 0x6A, 0x72, 0x32, 0x24, 0x16, 0x08, 0x09, 0x5F,
	0x6B, 0x33, 0x25, 0x17, 0x18, 0x0B, 0x0A, 0x60, 0x6C, 0x34, 0x35, 0x26, 0x27, 0x19, 0x0C, 0x61,
	0x6D, 0x73, 0x28, 0x74, 0x1A, 0x0D, 0x62, 0x6E, 0x3A, 0x36, 0x1C, 0x1B, 0x75, 0x2B, 0x63, 0x76,
	0x55, 0x56, 0x77, 0x78, 0x79, 0x7A, 0x0E, 0x7B, 0x7C, 0x4F, 0x7D, 0x4B, 0x47, 0x7E, 0x7F, 0x6F,
	0x52, 0x53, 0x50, 0x4C, 0x4D, 0x48, 0x01, 0x45, 0x57, 0x4E, 0x51, 0x4A, 0x37, 0x49, 0x46, 0x54,
	0x80, 0x81, 0x82, 0x41, 0x54, 0x85, 0x86, 0x87, 0x88, 0x89, 0x8A, 0x8B, 0x8C, 0x8D, 0x8E, 0x8F,
	0x90, 0x91, 0x92, 0x93, 0x94, 0x95, 0x96, 0x97, 0x98, 0x99, 0x9A, 0x9B, 0x9C, 0x9D, 0x9E, 0x9F,
	0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5, 0xA6, 0xA7, 0xA8, 0xA9, 0xAA, 0xAB, 0xAC, 0xAD, 0xAE, 0xAF,
	0xB0, 0xB1, 0xB2, 0xB3, 0xB4, 0xB5, 0xB6, 0xB7, 0xB8, 0xB9, 0xBA, 0xBB, 0xBC, 0xBD, 0xBE, 0xBF,
	0xC0, 0xC1, 0xC2, 0xC3, 0xC4, 0xC5, 0xC6, 0xC7, 0xC8, 0xC9, 0xCA, 0xCB, 0xCC, 0xCD, 0xCE, 0xCF,
	0xD0, 0xD1, 0xD2, 0xD3, 0xD4, 0xD5, 0xD6, 0xD7, 0xD8, 0xD9, 0xDA, 0xDB, 0xDC, 0xDD, 0xDE, 0xDF,
	0xE0, 0xE1, 0xE2, 0xE3, 0xE4, 0xE5, 0xE6, 0xE7, 0xE8, 0xE9, 0xEA, 0xEB, 0xEC, 0xED, 0xEE, 0xEF,
	0xF0, 0xF1, 0xF2, 0xF3, 0xF4, 0xF5, 0xF6, 0xF7, 0xF8, 0xF9, 0xFA, 0xFB, 0xFC, 0xFD, 0xFE, 0xFF,
}

// Scancodes returns the bytes a key sends in scancode set 1-3, before any
// controller translation.
func Scancodes(key Key, set uint8, pressed bool) []byte {
	entry, ok := scancodes[key]
	if !ok || set < 1 || set > 3 {
		return nil
	}
	if pressed {
		return entry.make[set-1]
	}
	return entry.brk[set-1]
}

// Translate applies the 8042 set 2 to set 1 conversion to a byte sequence.
// An F0 prefix is folded into the following byte as bit 7.
func Translate(seq []byte) []byte {
	out := make([]byte, 0, len(seq))
	var escaped byte
	for _, b := range seq {
		if b == 0xF0 {
			escaped = 0x80
			continue
		}
		out = append(out, translation8042[b]|escaped)
		escaped = 0
	}
	return out
}

// generateScancode queues the bytes for a key event. Caller holds k.lock.
func (k *KeyboardDevice) generateScancode(key Key, pressed bool) {
	kb := &k.keyboard
	kb.lock.Lock()
	scanning, set := kb.scanningEnabled, kb.scancodeSet
	kb.lock.Unlock()

	if !k.ctrl.kbdClockEnabled || !scanning {
		return
	}
	seq := Scancodes(key, set, pressed)
	if seq == nil {
		if _, ok := scancodes[key]; !ok {
			k.logger.Warn("no scancode for key", slog.Int("key", int(key)))
		}
		return
	}
	if k.ctrl.translate {
		seq = Translate(seq)
	}
	for _, b := range seq {
		k.enqueueKeyboard(b)
	}
}

// KeyForRune maps a printable ASCII character to a key and whether Shift
// must be held. ok is false for characters without a key.
func KeyForRune(r rune) (key Key, shift bool, ok bool) {
	if r >= 'A' && r <= 'Z' {
		r += 'a' - 'A'
		shift = true
	}
	if k, found := runeKeys[r]; found {
		return k, shift, true
	}
	if k, found := shiftedRuneKeys[r]; found {
		return k, true, true
	}
	return KeyNone, false, false
}

var runeKeys = map[rune]Key{
	'a': KeyA, 'b': KeyB, 'c': KeyC, 'd': KeyD, 'e': KeyE, 'f': KeyF, 'g': KeyG,
	'h': KeyH, 'i': KeyI, 'j': KeyJ, 'k': KeyK, 'l': KeyL, 'm': KeyM, 'n': KeyN,
	'o': KeyO, 'p': KeyP, 'q': KeyQ, 'r': KeyR, 's': KeyS, 't': KeyT, 'u': KeyU,
	'v': KeyV, 'w': KeyW, 'x': KeyX, 'y': KeyY, 'z': KeyZ,
	'1': Key1, '2': Key2, '3': Key3, '4': Key4, '5': Key5,
	'6': Key6, '7': Key7, '8': Key8, '9': Key9, '0': Key0,
	'-': KeyMinus, '=': KeyEquals, '[': KeyLeftBracket, ']': KeyRightBracket,
	';': KeySemicolon, '\'': KeyApostrophe, '`': KeyGrave, '\\': KeyBackslash,
	',': KeyComma, '.': KeyPeriod, '/': KeySlash, ' ': KeySpace,
	'\r': KeyEnter, '\n': KeyEnter, '\t': KeyTab, 0x7F: KeyBackspace, 0x08: KeyBackspace,
	0x1B: KeyEscape,
}

var shiftedRuneKeys = map[rune]Key{
	'!': Key1, '@': Key2, '#': Key3, '$': Key4, '%': Key5,
	'^': Key6, '&': Key7, '*': Key8, '(': Key9, ')': Key0,
	'_': KeyMinus, '+': KeyEquals, '{': KeyLeftBracket, '}': KeyRightBracket,
	':': KeySemicolon, '"': KeyApostrophe, '~': KeyGrave, '|': KeyBackslash,
	'<': KeyComma, '>': KeyPeriod, '?': KeySlash,
}
