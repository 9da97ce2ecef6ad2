package protobuf

import (
	"errors"
	"fmt"
	"slices"

	"google.golang.org/protobuf/reflect/protoreflect"
)

var (
	// ErrDescriptorNotFound reports a descriptor tree in which a message is
	// not present at its recorded position inside its parent, or sits under
	// a parent kind that cannot nest messages.
	ErrDescriptorNotFound = errors.New("message descriptor not found in its parent scope")
	// ErrIndexOutOfRange reports a message index path that does not resolve
	// inside the given file.
	ErrIndexOutOfRange = errors.New("message index out of range for file")
)

// MessageIndex computes the path locating md inside its file: the position
// of each enclosing message within its parent's message list, outermost
// first. The sole first top-level message gets [0], which the wire layer
// encodes in its reserved one-byte form.
func MessageIndex(md protoreflect.MessageDescriptor) ([]int, error) {
	var path []int
	for current := protoreflect.Descriptor(md); ; {
		i := current.Index()
		switch parent := current.Parent().(type) {
		case protoreflect.MessageDescriptor:
			if i >= parent.Messages().Len() || parent.Messages().Get(i) != current {
				return nil, fmt.Errorf("%w: %s", ErrDescriptorNotFound, current.FullName())
			}
			path = append(path, i)
			current = parent
		case protoreflect.FileDescriptor:
			if i >= parent.Messages().Len() || parent.Messages().Get(i) != current {
				return nil, fmt.Errorf("%w: %s", ErrDescriptorNotFound, current.FullName())
			}
			path = append(path, i)
			slices.Reverse(path)
			return path, nil
		default:
			return nil, fmt.Errorf("%w: %s has no containing file", ErrDescriptorNotFound, current.FullName())
		}
	}
}

// MessageAt resolves a message index path against fd, walking from the
// file's top-level messages down through nested message lists. It is the
// inverse of MessageIndex over the same file.
func MessageAt(fd protoreflect.FileDescriptor, index []int) (protoreflect.MessageDescriptor, error) {
	if len(index) == 0 {
		return nil, fmt.Errorf("%w: empty index in %s", ErrIndexOutOfRange, fd.Path())
	}
	if index[0] < 0 || index[0] >= fd.Messages().Len() {
		return nil, fmt.Errorf("%w: %v in %s", ErrIndexOutOfRange, index, fd.Path())
	}
	md := fd.Messages().Get(index[0])
	for _, i := range index[1:] {
		if i < 0 || i >= md.Messages().Len() {
			return nil, fmt.Errorf("%w: %v in %s", ErrIndexOutOfRange, index, fd.Path())
		}
		md = md.Messages().Get(i)
	}
	return md, nil
}
