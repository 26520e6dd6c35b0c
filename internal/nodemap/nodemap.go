// Package nodemap models a GenICam-style feature map: named, typed nodes
// with access flags and numeric limits, addressed by name the way camera
// SDKs expose them (ExposureTime, Gain, PixelFormat, ...).
package nodemap

import (
	"fmt"
	"sync"
)

type Kind int

const (
	KindInteger Kind = iota
	KindFloat
	KindEnumeration
	KindBoolean
	KindString
	KindCommand
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindEnumeration:
		return "enumeration"
	case KindBoolean:
		return "boolean"
	case KindString:
		return "string"
	case KindCommand:
		return "command"
	default:
		return "unknown"
	}
}

type node struct {
	name     string
	kind     Kind
	readable bool
	writable bool

	intValue   int64
	intMin     int64
	intMax     int64
	floatValue float64
	floatMin   float64
	floatMax   float64
	enumValue  string
	entries    []string
	boolValue  bool
	strValue   string
	execute    func() error
}

// Info is a read-only view of a node, used for listing and display.
type Info struct {
	Name     string
	Kind     Kind
	Readable bool
	Writable bool
	Value    string
	Min      string
	Max      string
	Entries  []string
}

// Callback observes committed value changes for one node.
type Callback func(name string)

// Nodemap is safe for concurrent use. Change callbacks run after the
// write lock is released, so a callback may read other nodes.
type Nodemap struct {
	mu        sync.RWMutex
	nodes     map[string]*node
	order     []string
	callbacks map[string][]Callback
}

func New() *Nodemap {
	return &Nodemap{
		nodes:     make(map[string]*node),
		callbacks: make(map[string][]Callback),
	}
}

func (m *Nodemap) add(n *node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.nodes[n.name]; !exists {
		m.order = append(m.order, n.name)
	}
	m.nodes[n.name] = n
}

func (m *Nodemap) AddInteger(name string, value, min, max int64, writable bool) {
	m.add(&node{name: name, kind: KindInteger, readable: true, writable: writable,
		intValue: value, intMin: min, intMax: max})
}

func (m *Nodemap) AddFloat(name string, value, min, max float64, writable bool) {
	m.add(&node{name: name, kind: KindFloat, readable: true, writable: writable,
		floatValue: value, floatMin: min, floatMax: max})
}

func (m *Nodemap) AddEnumeration(name, value string, entries []string, writable bool) {
	m.add(&node{name: name, kind: KindEnumeration, readable: true, writable: writable,
		enumValue: value, entries: append([]string(nil), entries...)})
}

func (m *Nodemap) AddBoolean(name string, value, writable bool) {
	m.add(&node{name: name, kind: KindBoolean, readable: true, writable: writable, boolValue: value})
}

func (m *Nodemap) AddString(name, value string, writable bool) {
	m.add(&node{name: name, kind: KindString, readable: true, writable: writable, strValue: value})
}

func (m *Nodemap) AddCommand(name string, execute func() error) {
	m.add(&node{name: name, kind: KindCommand, writable: true, execute: execute})
}

func (m *Nodemap) lookup(name string, kind Kind) (*node, error) {
	n, ok := m.nodes[name]
	if !ok {
		return nil, fmt.Errorf("nodemap: node %q not found", name)
	}
	if n.kind != kind {
		return nil, fmt.Errorf("nodemap: node %q is %s, not %s", name, n.kind, kind)
	}
	return n, nil
}

func (m *Nodemap) readable(name string, kind Kind) (*node, error) {
	n, err := m.lookup(name, kind)
	if err != nil {
		return nil, err
	}
	if !n.readable {
		return nil, fmt.Errorf("nodemap: node %q is not readable", name)
	}
	return n, nil
}

func (m *Nodemap) writableNode(name string, kind Kind) (*node, error) {
	n, err := m.lookup(name, kind)
	if err != nil {
		return nil, err
	}
	if !n.writable {
		return nil, fmt.Errorf("nodemap: node %q is not writable", name)
	}
	return n, nil
}

func (m *Nodemap) Integer(name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, err := m.readable(name, KindInteger)
	if err != nil {
		return 0, err
	}
	return n.intValue, nil
}

func (m *Nodemap) IntegerLimits(name string) (min, max int64, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, err := m.readable(name, KindInteger)
	if err != nil {
		return 0, 0, err
	}
	return n.intMin, n.intMax, nil
}

func (m *Nodemap) SetInteger(name string, value int64) error {
	m.mu.Lock()
	n, err := m.writableNode(name, KindInteger)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if value < n.intMin || value > n.intMax {
		m.mu.Unlock()
		return fmt.Errorf("nodemap: %q value %d outside [%d, %d]", name, value, n.intMin, n.intMax)
	}
	n.intValue = value
	cbs := m.callbacksFor(name)
	m.mu.Unlock()
	notify(cbs, name)
	return nil
}

func (m *Nodemap) Float(name string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, err := m.readable(name, KindFloat)
	if err != nil {
		return 0, err
	}
	return n.floatValue, nil
}

func (m *Nodemap) FloatLimits(name string) (min, max float64, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, err := m.readable(name, KindFloat)
	if err != nil {
		return 0, 0, err
	}
	return n.floatMin, n.floatMax, nil
}

func (m *Nodemap) SetFloat(name string, value float64) error {
	m.mu.Lock()
	n, err := m.writableNode(name, KindFloat)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if value < n.floatMin || value > n.floatMax {
		m.mu.Unlock()
		return fmt.Errorf("nodemap: %q value %g outside [%g, %g]", name, value, n.floatMin, n.floatMax)
	}
	n.floatValue = value
	cbs := m.callbacksFor(name)
	m.mu.Unlock()
	notify(cbs, name)
	return nil
}

func (m *Nodemap) Enumeration(name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, err := m.readable(name, KindEnumeration)
	if err != nil {
		return "", err
	}
	return n.enumValue, nil
}

func (m *Nodemap) SetEnumeration(name, entry string) error {
	m.mu.Lock()
	n, err := m.writableNode(name, KindEnumeration)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	found := false
	for _, e := range n.entries {
		if e == entry {
			found = true
			break
		}
	}
	if !found {
		m.mu.Unlock()
		return fmt.Errorf("nodemap: %q has no entry %q (entries: %v)", name, entry, n.entries)
	}
	n.enumValue = entry
	cbs := m.callbacksFor(name)
	m.mu.Unlock()
	notify(cbs, name)
	return nil
}

func (m *Nodemap) Boolean(name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, err := m.readable(name, KindBoolean)
	if err != nil {
		return false, err
	}
	return n.boolValue, nil
}

func (m *Nodemap) SetBoolean(name string, value bool) error {
	m.mu.Lock()
	n, err := m.writableNode(name, KindBoolean)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	n.boolValue = value
	cbs := m.callbacksFor(name)
	m.mu.Unlock()
	notify(cbs, name)
	return nil
}

func (m *Nodemap) String(name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, err := m.readable(name, KindString)
	if err != nil {
		return "", err
	}
	return n.strValue, nil
}

func (m *Nodemap) SetString(name, value string) error {
	m.mu.Lock()
	n, err := m.writableNode(name, KindString)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	n.strValue = value
	cbs := m.callbacksFor(name)
	m.mu.Unlock()
	notify(cbs, name)
	return nil
}

// Execute runs a command node's action.
func (m *Nodemap) Execute(name string) error {
	m.mu.RLock()
	n, err := m.lookup(name, KindCommand)
	m.mu.RUnlock()
	if err != nil {
		return err
	}
	if n.execute == nil {
		return nil
	}
	return n.execute()
}

// Kind reports a node's kind without reading its value.
func (m *Nodemap) Kind(name string) (Kind, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[name]
	if !ok {
		return 0, false
	}
	return n.kind, true
}

// OnChange registers a callback fired after each committed write to name.
func (m *Nodemap) OnChange(name string, cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[name] = append(m.callbacks[name], cb)
}

func (m *Nodemap) callbacksFor(name string) []Callback {
	return append([]Callback(nil), m.callbacks[name]...)
}

func notify(cbs []Callback, name string) {
	for _, cb := range cbs {
		cb(name)
	}
}

// List returns node views in registration order.
func (m *Nodemap) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.order))
	for _, name := range m.order {
		n := m.nodes[name]
		info := Info{
			Name:     n.name,
			Kind:     n.kind,
			Readable: n.readable,
			Writable: n.writable,
		}
		switch n.kind {
		case KindInteger:
			info.Value = fmt.Sprintf("%d", n.intValue)
			info.Min = fmt.Sprintf("%d", n.intMin)
			info.Max = fmt.Sprintf("%d", n.intMax)
		case KindFloat:
			info.Value = fmt.Sprintf("%g", n.floatValue)
			info.Min = fmt.Sprintf("%g", n.floatMin)
			info.Max = fmt.Sprintf("%g", n.floatMax)
		case KindEnumeration:
			info.Value = n.enumValue
			info.Entries = append([]string(nil), n.entries...)
		case KindBoolean:
			info.Value = fmt.Sprintf("%t", n.boolValue)
		case KindString:
			info.Value = n.strValue
		}
		out = append(out, info)
	}
	return out
}
