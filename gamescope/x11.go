package gamescope

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
)

// Root window properties set by gamescope
const (
	PropReshadeEffect = "GAMESCOPE_RESHADE_EFFECT"
	PropFocusedApp    = "GAMESCOPE_FOCUSED_APP"
)

// ErrNoProperty is returned when the root window does not carry a property
var ErrNoProperty = errors.New("property not set")

// maxPropertyLength is the GetProperty length in 32-bit units
const maxPropertyLength = 1 << 16

// PropertyReader reads properties of the X root window
type PropertyReader interface {
	String(name string) (string, error)
	Cardinal(name string) (uint32, error)
	Close()
}

// RootWindow reads properties from the root window of an X display
type RootWindow struct {
	conn *xgb.Conn
	root xproto.Window
}

// DialRoot connects to display (e.g. ":0") and resolves its root window
func DialRoot(display string) (*RootWindow, error) {
	conn, err := xgb.NewConnDisplay(display)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X display %s: %w", display, err)
	}
	setup := xproto.Setup(conn)
	if setup == nil || len(setup.Roots) == 0 {
		conn.Close()
		return nil, fmt.Errorf("X display %s has no screens", display)
	}
	return &RootWindow{conn: conn, root: setup.DefaultScreen(conn).Root}, nil
}

// dialPropertyReader adapts DialRoot to the PropertyReader interface
func dialPropertyReader(display string) (PropertyReader, error) {
	r, err := DialRoot(display)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Close closes the X connection
func (r *RootWindow) Close() {
	r.conn.Close()
}

func (r *RootWindow) get(name string) (*xproto.GetPropertyReply, error) {
	atom, err := xproto.InternAtom(r.conn, true, uint16(len(name)), name).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to intern %s: %w", name, err)
	}
	if atom.Atom == xproto.AtomNone {
		return nil, ErrNoProperty
	}

	reply, err := xproto.GetProperty(r.conn, false, r.root, atom.Atom,
		xproto.GetPropertyTypeAny, 0, maxPropertyLength).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if reply.Type == xproto.AtomNone {
		return nil, ErrNoProperty
	}
	return reply, nil
}

// String returns a text property
func (r *RootWindow) String(name string) (string, error) {
	reply, err := r.get(name)
	if err != nil {
		return "", err
	}
	return decodeString(reply.Format, reply.Value)
}

// Cardinal returns the first value of a 32-bit CARDINAL property
func (r *RootWindow) Cardinal(name string) (uint32, error) {
	reply, err := r.get(name)
	if err != nil {
		return 0, err
	}
	return decodeCardinal(reply.Format, reply.Value)
}

func decodeString(format byte, value []byte) (string, error) {
	if format != 8 {
		return "", fmt.Errorf("unexpected string format %d", format)
	}
	// Drop a trailing NUL terminator if present
	if i := bytes.IndexByte(value, 0); i >= 0 {
		value = value[:i]
	}
	return string(value), nil
}

func decodeCardinal(format byte, value []byte) (uint32, error) {
	if format != 32 || len(value) < 4 {
		return 0, fmt.Errorf("unexpected cardinal format %d (%d bytes)", format, len(value))
	}
	return xgb.Get32(value), nil
}
