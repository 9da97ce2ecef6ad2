// Package protobuf implements schema registry serialization for protobuf
// messages. Serialized records carry the registry framing from pkg/wire: a
// magic byte, the schema id, and the message index locating the bound type
// inside its schema file, followed by the standard protobuf encoding of the
// message.
package protobuf

import (
	"encoding/base64"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/milindl/schemawire/pkg/schemaregistry"
)

// fileSchema renders fd into its registerable form: the serialized
// FileDescriptorProto in standard base64.
func fileSchema(fd protoreflect.FileDescriptor, refs []schemaregistry.Reference) (schemaregistry.Schema, error) {
	fdp := protodesc.ToFileDescriptorProto(fd)
	raw, err := proto.Marshal(fdp)
	if err != nil {
		return schemaregistry.Schema{}, fmt.Errorf("marshal file descriptor %s: %w", fd.Path(), err)
	}
	return schemaregistry.Schema{
		Schema:     base64.StdEncoding.EncodeToString(raw),
		Type:       schemaregistry.SchemaTypeProtobuf,
		References: refs,
	}, nil
}
