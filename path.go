package dbus

import (
	"errors"
	"fmt"
	"strings"
)

// ObjectPath is the path of an object exported on a DBus
// connection.
type ObjectPath string

func (p ObjectPath) String() string { return string(p) }

// Valid reports whether p is a well-formed DBus object path.
func (p ObjectPath) Valid() error {
	s := string(p)
	if s == "" {
		return errors.New("empty object path")
	}
	if s[0] != '/' {
		return fmt.Errorf("object path %q does not begin with /", s)
	}
	if s == "/" {
		return nil
	}
	if strings.HasSuffix(s, "/") {
		return fmt.Errorf("object path %q has a trailing /", s)
	}
	for _, elem := range strings.Split(s[1:], "/") {
		if elem == "" {
			return fmt.Errorf("object path %q has an empty element", s)
		}
		for _, c := range elem {
			if !isPathChar(c) {
				return fmt.Errorf("object path %q contains invalid character %q", s, c)
			}
		}
	}
	return nil
}

func isPathChar(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
}

// Child returns the path of the direct child of p named elem.
func (p ObjectPath) Child(elem string) ObjectPath {
	if p == "/" {
		return ObjectPath("/" + elem)
	}
	return ObjectPath(string(p) + "/" + elem)
}

// IsAncestorOf reports whether p is a strict ancestor of o.
func (p ObjectPath) IsAncestorOf(o ObjectPath) bool {
	if p == o {
		return false
	}
	if p == "/" {
		return strings.HasPrefix(string(o), "/")
	}
	return strings.HasPrefix(string(o), string(p)+"/")
}

// childName returns the name of the direct child of p that lies on
// the way to descendant o. It reports false if o is not a strict
// descendant of p.
func (p ObjectPath) childName(o ObjectPath) (string, bool) {
	if !p.IsAncestorOf(o) {
		return "", false
	}
	rest := strings.TrimPrefix(string(o), string(p))
	rest = strings.TrimPrefix(rest, "/")
	name, _, _ := strings.Cut(rest, "/")
	return name, name != ""
}
