package script

import (
	"reflect"
	"time"

	"github.com/ius/corebridge/runtimecore"
)

// SetTimeout implements the script-surface `setTimeout(fn, ms, ...args)`.
func (s *Script) SetTimeout(fn reflect.Value, delayMillis int64, args ...reflect.Value) runtimecore.TimerID {
	return s.core.SetTimeout(fn, args, time.Duration(delayMillis)*time.Millisecond)
}

// SetInterval implements the script-surface `setInterval(fn, ms, ...args)`.
func (s *Script) SetInterval(fn reflect.Value, intervalMillis int64, args ...reflect.Value) runtimecore.TimerID {
	return s.core.SetInterval(fn, args, time.Duration(intervalMillis)*time.Millisecond)
}

// ClearTimeout implements the script-surface `clearTimeout(id)`.
func (s *Script) ClearTimeout(id runtimecore.TimerID) bool { return s.core.ClearTimer(id) }

// ClearInterval implements the script-surface `clearInterval(id)`.
func (s *Script) ClearInterval(id runtimecore.TimerID) bool { return s.core.ClearTimer(id) }
