package provider

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"
)

// Default Lua entry points.
const (
	LuaReadFunction  = "read"
	LuaWriteFunction = "write"
)

// LuaError describes a failure inside a Lua value script.
type LuaError struct {
	Type    string // "syntax", "runtime", "api"
	Message string
	Line    int
	Source  string
}

func (e *LuaError) Error() string {
	where := e.Source
	if e.Line > 0 {
		where = fmt.Sprintf("%s:%d", e.Source, e.Line)
	}
	if where == "" {
		return fmt.Sprintf("lua %s error: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("lua %s error (%s): %s", e.Type, where, e.Message)
}

// Is compares LuaError values by Type.
func (e *LuaError) Is(target error) bool {
	var t *LuaError
	if errors.As(target, &t) {
		return e.Type == t.Type
	}
	return false
}

// ErrLuaClosed is returned after Close.
var ErrLuaClosed = errors.New("lua script closed")

// LuaScript runs a characteristic script. The script defines read() returning the
// value and may define write(data). One interpreter serves all calls, so calls are
// serialized; a call cannot be interrupted once started.
type LuaScript struct {
	mu     sync.Mutex
	state  *lua.State
	name   string
	logger *logrus.Logger
}

// NewLuaScript loads script under name (used in error messages) and checks that it
// defines read().
func NewLuaScript(name, script string, logger *logrus.Logger) (*LuaScript, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if strings.TrimSpace(script) == "" {
		return nil, &LuaError{Type: "api", Message: "empty script", Source: name}
	}

	L := lua.NewState()
	L.OpenLibs()
	s := &LuaScript{state: L, name: name, logger: logger}

	if err := L.DoString(script); err != nil {
		lerr := s.parseError("syntax", err)
		L.Close()
		return nil, lerr
	}
	if !s.hasFunction(LuaReadFunction) {
		L.Close()
		return nil, &LuaError{Type: "api", Message: "script does not define read()", Source: name}
	}

	logger.WithField("script", name).Debug("Lua value script loaded")
	return s, nil
}

func (s *LuaScript) hasFunction(fn string) bool {
	s.state.GetGlobal(fn)
	defer s.state.Pop(1)
	return s.state.IsFunction(-1)
}

// parseError turns "[string \"...\"]:3: message" into a LuaError.
func (s *LuaScript) parseError(errType string, err error) *LuaError {
	msg := err.Error()
	line := 0
	parts := strings.SplitN(msg, ":", 3)
	if len(parts) == 3 {
		if n, convErr := strconv.Atoi(strings.TrimSpace(parts[1])); convErr == nil {
			line = n
			msg = strings.TrimSpace(parts[2])
		}
	}
	return &LuaError{Type: errType, Message: msg, Line: line, Source: s.name}
}

// CanWrite reports whether the script defines write(data).
func (s *LuaScript) CanWrite() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return false
	}
	return s.hasFunction(LuaWriteFunction)
}

// Read calls read() and converts its result to bytes. Strings are used verbatim,
// numbers are formatted, nil yields an empty value and a table of integers is taken
// as a byte array.
func (s *LuaScript) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, ErrLuaClosed
	}

	L := s.state
	L.GetGlobal(LuaReadFunction)
	if err := L.Call(0, 1); err != nil {
		// A failed call leaves its message on the stack.
		L.Pop(1)
		return nil, s.parseError("runtime", err)
	}
	defer L.Pop(1)

	switch L.Type(-1) {
	case lua.LUA_TNIL:
		return []byte{}, nil
	case lua.LUA_TNUMBER:
		return []byte(strconv.FormatFloat(L.ToNumber(-1), 'f', -1, 64)), nil
	case lua.LUA_TSTRING:
		return []byte(L.ToString(-1)), nil
	case lua.LUA_TBOOLEAN:
		return []byte(strconv.FormatBool(L.ToBoolean(-1))), nil
	case lua.LUA_TTABLE:
		return s.tableBytes()
	default:
		return nil, &LuaError{Type: "api", Message: "read() returned an unsupported type", Source: s.name}
	}
}

func (s *LuaScript) tableBytes() ([]byte, error) {
	L := s.state
	n := int(L.ObjLen(-1))
	out := make([]byte, 0, n)
	for i := 1; i <= n; i++ {
		L.RawGeti(-1, i)
		if !L.IsNumber(-1) {
			L.Pop(1)
			return nil, &LuaError{Type: "api", Message: fmt.Sprintf("read() table element %d is not a number", i), Source: s.name}
		}
		v := L.ToInteger(-1)
		L.Pop(1)
		if v < 0 || v > 255 {
			return nil, &LuaError{Type: "api", Message: fmt.Sprintf("read() table element %d out of byte range", i), Source: s.name}
		}
		out = append(out, byte(v))
	}
	return out, nil
}

// Write calls write(data) with the written bytes as a Lua string.
func (s *LuaScript) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return ErrLuaClosed
	}

	L := s.state
	L.GetGlobal(LuaWriteFunction)
	if !L.IsFunction(-1) {
		L.Pop(1)
		return &LuaError{Type: "api", Message: "script does not define write()", Source: s.name}
	}
	L.PushBytes(data)
	if err := L.Call(1, 0); err != nil {
		L.Pop(1)
		return s.parseError("runtime", err)
	}
	s.logger.WithFields(logrus.Fields{
		"script": s.name,
		"bytes":  len(data),
	}).Debug("Lua write handled")
	return nil
}

// Close releases the interpreter.
func (s *LuaScript) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != nil {
		s.state.Close()
		s.state = nil
	}
}
