// Package mapping holds the values agreed on by the cluster: the binding of a
// (platform, type id) pair to a class name, and the discovery messages that
// propose, accept and reject such bindings.
package mapping

import (
	"fmt"
	"strings"
	"unicode"
)

// Key identifies a binding slot.
type Key struct {
	PlatformID uint8
	TypeID     int32
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%d", k.PlatformID, k.TypeID)
}

// Item is one binding. Build it with NewItem; treat it as immutable.
type Item struct {
	PlatformID uint8
	TypeID     int32
	ClassName  string
}

// NewItem validates and builds an Item. Class names travel in a
// whitespace-delimited protocol and must not contain spaces.
func NewItem(platformID uint8, typeID int32, className string) (Item, error) {
	if className == "" {
		return Item{}, fmt.Errorf("%w: empty class name", ErrInvalidItem)
	}
	if strings.IndexFunc(className, unicode.IsSpace) >= 0 {
		return Item{}, fmt.Errorf("%w: class name %q contains whitespace", ErrInvalidItem, className)
	}
	return Item{PlatformID: platformID, TypeID: typeID, ClassName: className}, nil
}

func (i Item) Key() Key {
	return Key{PlatformID: i.PlatformID, TypeID: i.TypeID}
}

// ConflictsWith reports whether o binds the same key to another class.
func (i Item) ConflictsWith(o Item) bool {
	return i.Key() == o.Key() && i.ClassName != o.ClassName
}

func (i Item) String() string {
	return fmt.Sprintf("[platform=%d, typeId=%d, clsName=%s]", i.PlatformID, i.TypeID, i.ClassName)
}

// TypeID derives the default type id of a class name: the 31-multiplier
// string hash of the lower-cased name, so the same name maps to the same id
// on every platform that uses the default id mapper.
func TypeID(className string) int32 {
	var h int32
	for _, r := range strings.ToLower(className) {
		if r > 0xFFFF {
			// Hash the UTF-16 surrogate pair like a 16-bit string would.
			r -= 0x10000
			h = 31*h + int32(0xD800+(r>>10))
			h = 31*h + int32(0xDC00+(r&0x3FF))
			continue
		}
		h = 31*h + int32(r)
	}
	return h
}
