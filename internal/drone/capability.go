package drone

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

var (
	ErrCapabilityExists  = errors.New("drone: capability already registered")
	ErrInvalidCapability = errors.New("drone: invalid capability spec")
)

// Capability names in the default registry.
const (
	CapTakeoff     = "takeoff"
	CapLand        = "land"
	CapEmergency   = "emergency"
	CapMoveUp      = "move_up"
	CapMoveDown    = "move_down"
	CapMoveLeft    = "move_left"
	CapMoveRight   = "move_right"
	CapMoveForward = "move_forward"
	CapMoveBack    = "move_back"
	CapRotateCW    = "rotate_cw"
	CapRotateCCW   = "rotate_ccw"
	CapFlip        = "flip"
	CapGo          = "go"
	CapSetSpeed    = "set_speed"
	CapStreamOn    = "streamon"
	CapStreamOff   = "streamoff"
)

const (
	argKindInt      = "int"
	argKindFlipSide = "flip"
)

// CapabilitySpec describes one named handle operation and its argument shape.
type CapabilitySpec struct {
	Name        string
	Description string
	Args        []string
}

// Arity is the exact number of arguments the capability takes.
func (s CapabilitySpec) Arity() int {
	return len(s.Args)
}

// Check validates args against the spec before anything is dispatched.
func (s CapabilitySpec) Check(args []string) error {
	if len(args) != len(s.Args) {
		return fmt.Errorf("%w: %s takes %d args, got %d", ErrInvalidArgs, s.Name, len(s.Args), len(args))
	}
	for i, kind := range s.Args {
		v := strings.TrimSpace(args[i])
		switch kind {
		case argKindInt:
			if _, err := strconv.Atoi(v); err != nil {
				return fmt.Errorf("%w: %s arg[%d]=%q is not an integer", ErrInvalidArgs, s.Name, i, args[i])
			}
		case argKindFlipSide:
			switch v {
			case "l", "r", "f", "b":
			default:
				return fmt.Errorf("%w: %s arg[%d]=%q must be one of l,r,f,b", ErrInvalidArgs, s.Name, i, args[i])
			}
		}
	}
	return nil
}

// Registry stores capability specs by name.
type Registry struct {
	mu    sync.RWMutex
	items map[string]CapabilitySpec
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]CapabilitySpec)}
}

// DefaultRegistry returns a registry holding DefaultCapabilities.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, spec := range DefaultCapabilities() {
		if err := r.Register(spec); err != nil {
			panic("drone: default capability rejected: " + err.Error())
		}
	}
	return r
}

// DefaultCapabilities lists the standard flying-agent command set.
func DefaultCapabilities() []CapabilitySpec {
	distance := []string{argKindInt}
	return []CapabilitySpec{
		{Name: CapTakeoff, Description: "auto takeoff"},
		{Name: CapLand, Description: "auto land"},
		{Name: CapEmergency, Description: "stop all motors"},
		{Name: CapMoveUp, Description: "ascend by cm", Args: distance},
		{Name: CapMoveDown, Description: "descend by cm", Args: distance},
		{Name: CapMoveLeft, Description: "fly left by cm", Args: distance},
		{Name: CapMoveRight, Description: "fly right by cm", Args: distance},
		{Name: CapMoveForward, Description: "fly forward by cm", Args: distance},
		{Name: CapMoveBack, Description: "fly back by cm", Args: distance},
		{Name: CapRotateCW, Description: "rotate clockwise by degrees", Args: distance},
		{Name: CapRotateCCW, Description: "rotate counter-clockwise by degrees", Args: distance},
		{Name: CapFlip, Description: "flip toward l|r|f|b", Args: []string{argKindFlipSide}},
		{Name: CapGo, Description: "fly to relative x y z at speed", Args: []string{argKindInt, argKindInt, argKindInt, argKindInt}},
		{Name: CapSetSpeed, Description: "set speed in cm/s", Args: distance},
		{Name: CapStreamOn, Description: "enable video stream"},
		{Name: CapStreamOff, Description: "disable video stream"},
	}
}

// ValidateSpec checks required spec fields and name format.
func ValidateSpec(spec CapabilitySpec) error {
	name := strings.TrimSpace(spec.Name)
	if name == "" || strings.TrimSpace(spec.Description) == "" {
		return fmt.Errorf("%w: name and description are required", ErrInvalidCapability)
	}
	if !isValidName(name) {
		return fmt.Errorf("%w: invalid name format %q", ErrInvalidCapability, name)
	}
	for i, kind := range spec.Args {
		if kind != argKindInt && kind != argKindFlipSide {
			return fmt.Errorf("%w: %s arg[%d] has unknown kind %q", ErrInvalidCapability, name, i, kind)
		}
	}
	return nil
}

func (r *Registry) Register(spec CapabilitySpec) error {
	spec.Name = strings.TrimSpace(spec.Name)
	if err := ValidateSpec(spec); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[spec.Name]; ok {
		return fmt.Errorf("%w: %s", ErrCapabilityExists, spec.Name)
	}
	r.items[spec.Name] = spec
	return nil
}

func (r *Registry) Resolve(name string) (CapabilitySpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.items[strings.TrimSpace(name)]
	return spec, ok
}

// Check resolves name and validates args in one step.
func (r *Registry) Check(name string, args []string) (CapabilitySpec, error) {
	spec, ok := r.Resolve(name)
	if !ok {
		return CapabilitySpec{}, fmt.Errorf("%w: %q", ErrUnknownCapability, name)
	}
	if err := spec.Check(args); err != nil {
		return CapabilitySpec{}, err
	}
	return spec, nil
}

// List returns specs ordered by name.
func (r *Registry) List() []CapabilitySpec {
	r.mu.RLock()
	list := make([]CapabilitySpec, 0, len(r.items))
	for _, spec := range r.items {
		list = append(list, spec)
	}
	r.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list
}

func isValidName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		isSep := c == '_'
		if !(isLower || isDigit || isSep) {
			return false
		}
		if isSep && (i == 0 || i == len(name)-1) {
			return false
		}
	}
	return true
}
