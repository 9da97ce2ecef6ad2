package protobuf

import (
	"context"
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/milindl/schemawire/pkg/schemaregistry"
)

func buildFile(t testing.TB, fdp *descriptorpb.FileDescriptorProto, deps *protoregistry.Files) protoreflect.FileDescriptor {
	t.Helper()
	if deps == nil {
		deps = new(protoregistry.Files)
	}
	fd, err := protodesc.NewFile(fdp, deps)
	if err != nil {
		t.Fatalf("build descriptor %s: %v", fdp.GetName(), err)
	}
	return fd
}

func registerFile(t testing.TB, reg *protoregistry.Files, fd protoreflect.FileDescriptor) {
	t.Helper()
	if err := reg.RegisterFile(fd); err != nil {
		t.Fatalf("register descriptor %s: %v", fd.Path(), err)
	}
}

func stringField(name string, number int32) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
	}
}

func int64Field(name string, number int32) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   descriptorpb.FieldDescriptorProto_TYPE_INT64.Enum(),
	}
}

func messageField(name string, number int32, typeName string) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(name),
		Number:   proto.Int32(number),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
		TypeName: proto.String(typeName),
	}
}

// orderFile holds a single top-level message, the shape that gets the
// reserved one-byte index.
func orderFile(t testing.TB) protoreflect.FileDescriptor {
	t.Helper()
	return buildFile(t, &descriptorpb.FileDescriptorProto{
		Name:    proto.String("order.proto"),
		Package: proto.String("demo"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("Order"),
				Field: []*descriptorpb.FieldDescriptorProto{
					stringField("id", 1),
					int64Field("amount", 2),
				},
			},
		},
	}, nil)
}

// catalogFile exercises nesting: Catalog{Entry{Meta}, Item} plus a second
// top-level message Audit.
func catalogFile(t testing.TB) protoreflect.FileDescriptor {
	t.Helper()
	return buildFile(t, &descriptorpb.FileDescriptorProto{
		Name:    proto.String("catalog.proto"),
		Package: proto.String("demo"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name:  proto.String("Catalog"),
				Field: []*descriptorpb.FieldDescriptorProto{stringField("name", 1)},
				NestedType: []*descriptorpb.DescriptorProto{
					{
						Name: proto.String("Entry"),
						NestedType: []*descriptorpb.DescriptorProto{
							{Name: proto.String("Meta")},
						},
					},
					{
						Name:  proto.String("Item"),
						Field: []*descriptorpb.FieldDescriptorProto{stringField("sku", 1)},
					},
				},
			},
			{
				Name: proto.String("Audit"),
			},
		},
	}, nil)
}

// checkoutFiles builds a dependency graph: checkout.proto imports
// [customer.proto, payment.proto], and customer.proto imports
// [address.proto]. Returns the root file.
func checkoutFiles(t testing.TB) protoreflect.FileDescriptor {
	t.Helper()
	reg := new(protoregistry.Files)

	address := buildFile(t, &descriptorpb.FileDescriptorProto{
		Name:    proto.String("address.proto"),
		Package: proto.String("demo"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name:  proto.String("Address"),
				Field: []*descriptorpb.FieldDescriptorProto{stringField("city", 1)},
			},
		},
	}, reg)
	registerFile(t, reg, address)

	customer := buildFile(t, &descriptorpb.FileDescriptorProto{
		Name:       proto.String("customer.proto"),
		Package:    proto.String("demo"),
		Syntax:     proto.String("proto3"),
		Dependency: []string{"address.proto"},
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("Customer"),
				Field: []*descriptorpb.FieldDescriptorProto{
					stringField("name", 1),
					messageField("address", 2, ".demo.Address"),
				},
			},
		},
	}, reg)
	registerFile(t, reg, customer)

	payment := buildFile(t, &descriptorpb.FileDescriptorProto{
		Name:    proto.String("payment.proto"),
		Package: proto.String("demo"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name:  proto.String("Payment"),
				Field: []*descriptorpb.FieldDescriptorProto{stringField("method", 1)},
			},
		},
	}, reg)
	registerFile(t, reg, payment)

	checkout := buildFile(t, &descriptorpb.FileDescriptorProto{
		Name:       proto.String("checkout.proto"),
		Package:    proto.String("demo"),
		Syntax:     proto.String("proto3"),
		Dependency: []string{"customer.proto", "payment.proto"},
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("Checkout"),
				Field: []*descriptorpb.FieldDescriptorProto{
					messageField("customer", 1, ".demo.Customer"),
					messageField("payment", 2, ".demo.Payment"),
				},
			},
		},
	}, reg)
	registerFile(t, reg, checkout)
	return checkout
}

// eventFile imports a well-known type, for the skip-known-types paths.
func eventFile(t testing.TB) protoreflect.FileDescriptor {
	t.Helper()
	reg := new(protoregistry.Files)
	registerFile(t, reg, timestamppb.File_google_protobuf_timestamp_proto)

	return buildFile(t, &descriptorpb.FileDescriptorProto{
		Name:       proto.String("event.proto"),
		Package:    proto.String("demo"),
		Syntax:     proto.String("proto3"),
		Dependency: []string{"google/protobuf/timestamp.proto"},
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("Event"),
				Field: []*descriptorpb.FieldDescriptorProto{
					stringField("id", 1),
					messageField("at", 2, ".google.protobuf.Timestamp"),
				},
			},
		},
	}, nil)
}

func newOrder(t testing.TB, fd protoreflect.FileDescriptor) *dynamicpb.Message {
	t.Helper()
	md := fd.Messages().Get(0)
	msg := dynamicpb.NewMessage(md)
	msg.Set(md.Fields().ByName("id"), protoreflect.ValueOfString("order-1"))
	msg.Set(md.Fields().ByName("amount"), protoreflect.ValueOfInt64(1299))
	return msg
}

// trackingRegistry counts and records the store calls that reach it.
type trackingRegistry struct {
	schemaregistry.Registry
	registerSubjects []string
	schemas          map[string]schemaregistry.Schema
	registers        int
	lookups          int
	latests          int
}

func newTrackingRegistry() *trackingRegistry {
	return &trackingRegistry{
		Registry: schemaregistry.NewLocalRegistry(),
		schemas:  make(map[string]schemaregistry.Schema),
	}
}

func (r *trackingRegistry) Register(ctx context.Context, subject string, schema schemaregistry.Schema, normalize bool) (int, error) {
	r.registers++
	r.registerSubjects = append(r.registerSubjects, subject)
	r.schemas[subject] = schema
	return r.Registry.Register(ctx, subject, schema, normalize)
}

func (r *trackingRegistry) Lookup(ctx context.Context, subject string, schema schemaregistry.Schema, normalize bool) (schemaregistry.SubjectSchema, error) {
	r.lookups++
	return r.Registry.Lookup(ctx, subject, schema, normalize)
}

func (r *trackingRegistry) Latest(ctx context.Context, subject string) (schemaregistry.SubjectSchema, error) {
	r.latests++
	return r.Registry.Latest(ctx, subject)
}

// stubRegistry answers every call with one fixed id and version.
type stubRegistry struct {
	id      int
	version int
}

func (s *stubRegistry) Register(context.Context, string, schemaregistry.Schema, bool) (int, error) {
	return s.id, nil
}

func (s *stubRegistry) Lookup(context.Context, string, schemaregistry.Schema, bool) (schemaregistry.SubjectSchema, error) {
	return schemaregistry.SubjectSchema{ID: s.id, Version: s.version}, nil
}

func (s *stubRegistry) Latest(context.Context, string) (schemaregistry.SubjectSchema, error) {
	return schemaregistry.SubjectSchema{ID: s.id, Version: s.version}, nil
}

func (s *stubRegistry) Version(context.Context, string, int) (schemaregistry.SubjectSchema, error) {
	return schemaregistry.SubjectSchema{ID: s.id, Version: s.version}, nil
}

func (s *stubRegistry) Versions(context.Context, string) ([]int, error) {
	return []int{s.version}, nil
}

func (s *stubRegistry) SchemaByID(context.Context, int) (schemaregistry.Schema, error) {
	return schemaregistry.Schema{}, nil
}

func (s *stubRegistry) Close() error { return nil }
