package offdata

import "reflect"

// funcPointer returns the entry point address of fn, used by Emitter.Off
// to approximate function identity.
func funcPointer(fn Listener) uintptr {
	if fn == nil {
		return 0
	}
	return reflect.ValueOf(fn).Pointer()
}
