package protobuf

import (
	"bytes"
	"context"
	"errors"
	"math"
	"slices"
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/milindl/schemawire/pkg/schemaregistry"
	"github.com/milindl/schemawire/pkg/serde"
	"github.com/milindl/schemawire/pkg/wire"
)

func TestSerializeSoleTopLevelType(t *testing.T) {
	fd := orderFile(t)
	msg := newOrder(t, fd)

	ser, err := NewSerializer(&stubRegistry{id: 7, version: 1}, dynamicpb.NewMessage(fd.Messages().Get(0)), serde.Config{
		serde.OptDeprecatedIndexFormat: false,
	})
	if err != nil {
		t.Fatalf("NewSerializer failed: %v", err)
	}

	out, err := ser.Serialize(context.Background(), serde.Context{Topic: "orders", Field: serde.FieldValue}, msg)
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	payload, err := proto.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	want := append([]byte{0x00, 0x00, 0x00, 0x00, 0x07, 0x00}, payload...)
	if !bytes.Equal(out, want) {
		t.Fatalf("framed % x, expected % x", out, want)
	}
}

func TestSerializeNestedTypeIndex(t *testing.T) {
	fd := catalogFile(t)
	item := fd.Messages().Get(0).Messages().Get(1)

	msg := dynamicpb.NewMessage(item)
	msg.Set(item.Fields().ByName("sku"), protoreflect.ValueOfString("sku-1"))

	tests := []struct {
		name       string
		deprecated bool
		wantIndex  []byte
	}{
		{"zigzag", false, []byte{0x04, 0x00, 0x02}},
		{"deprecated", true, []byte{0x02, 0x00, 0x01}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ser, err := NewSerializer(&stubRegistry{id: 100007, version: 1}, dynamicpb.NewMessage(item), serde.Config{
				serde.OptDeprecatedIndexFormat: tc.deprecated,
			})
			if err != nil {
				t.Fatalf("NewSerializer failed: %v", err)
			}
			out, err := ser.Serialize(context.Background(), serde.Context{Topic: "items", Field: serde.FieldValue}, msg)
			if err != nil {
				t.Fatalf("Serialize failed: %v", err)
			}

			wantHeader := []byte{0x00, 0x00, 0x01, 0x86, 0xa7}
			if !bytes.Equal(out[:wire.HeaderLen], wantHeader) {
				t.Fatalf("header % x, expected % x", out[:wire.HeaderLen], wantHeader)
			}
			gotIndex := out[wire.HeaderLen : wire.HeaderLen+len(tc.wantIndex)]
			if !bytes.Equal(gotIndex, tc.wantIndex) {
				t.Fatalf("index bytes % x, expected % x", gotIndex, tc.wantIndex)
			}
			payload, err := proto.Marshal(msg)
			if err != nil {
				t.Fatalf("marshal payload: %v", err)
			}
			if !bytes.Equal(out[wire.HeaderLen+len(tc.wantIndex):], payload) {
				t.Fatalf("payload does not follow the message index")
			}
		})
	}
}

func TestSerializeNilMessage(t *testing.T) {
	fd := orderFile(t)
	ser, err := NewSerializer(schemaregistry.NewLocalRegistry(), dynamicpb.NewMessage(fd.Messages().Get(0)), serde.Config{
		serde.OptDeprecatedIndexFormat: false,
	})
	if err != nil {
		t.Fatalf("NewSerializer failed: %v", err)
	}

	out, err := ser.Serialize(context.Background(), serde.Context{Topic: "orders", Field: serde.FieldValue}, nil)
	if err != nil {
		t.Fatalf("Serialize(nil) failed: %v", err)
	}
	if out != nil {
		t.Fatalf("Serialize(nil) produced % x, expected nil", out)
	}
}

func TestSerializeTypeMismatch(t *testing.T) {
	orders := orderFile(t)
	catalog := catalogFile(t)

	ser, err := NewSerializer(schemaregistry.NewLocalRegistry(), dynamicpb.NewMessage(orders.Messages().Get(0)), serde.Config{
		serde.OptDeprecatedIndexFormat: false,
	})
	if err != nil {
		t.Fatalf("NewSerializer failed: %v", err)
	}

	_, err = ser.Serialize(context.Background(), serde.Context{Topic: "orders", Field: serde.FieldValue}, dynamicpb.NewMessage(catalog.Messages().Get(0)))
	if !errors.Is(err, serde.ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
}

func TestSerializeResolvesEachSubjectOnce(t *testing.T) {
	fd := orderFile(t)
	msg := newOrder(t, fd)
	reg := newTrackingRegistry()

	ser, err := NewSerializer(reg, dynamicpb.NewMessage(fd.Messages().Get(0)), serde.Config{
		serde.OptDeprecatedIndexFormat: false,
	})
	if err != nil {
		t.Fatalf("NewSerializer failed: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := ser.Serialize(ctx, serde.Context{Topic: "orders", Field: serde.FieldValue}, msg); err != nil {
			t.Fatalf("Serialize %d failed: %v", i, err)
		}
	}
	if reg.registers != 1 {
		t.Fatalf("expected 1 register call for a repeated subject, got %d", reg.registers)
	}

	if _, err := ser.Serialize(ctx, serde.Context{Topic: "returns", Field: serde.FieldValue}, msg); err != nil {
		t.Fatalf("Serialize to second topic failed: %v", err)
	}
	if reg.registers != 2 {
		t.Fatalf("expected a fresh register call for a new subject, got %d total", reg.registers)
	}
	want := []string{"orders-value", "returns-value"}
	if !slices.Equal(reg.registerSubjects, want) {
		t.Fatalf("registered subjects %v, expected %v", reg.registerSubjects, want)
	}
}

func TestSerializeLookupOnlyMode(t *testing.T) {
	fd := orderFile(t)
	msg := newOrder(t, fd)
	ctx := context.Background()

	reg := newTrackingRegistry()
	schema, err := fileSchema(fd, nil)
	if err != nil {
		t.Fatalf("render schema: %v", err)
	}
	if _, err := reg.Register(ctx, "orders-value", schema, false); err != nil {
		t.Fatalf("seed register failed: %v", err)
	}

	ser, err := NewSerializer(reg, dynamicpb.NewMessage(fd.Messages().Get(0)), serde.Config{
		serde.OptAutoRegisterSchemas:   false,
		serde.OptDeprecatedIndexFormat: false,
	})
	if err != nil {
		t.Fatalf("NewSerializer failed: %v", err)
	}
	if _, err := ser.Serialize(ctx, serde.Context{Topic: "orders", Field: serde.FieldValue}, msg); err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	if reg.registers != 1 {
		t.Fatalf("lookup-only serializer registered a schema: %d register calls", reg.registers)
	}
	if reg.lookups != 1 {
		t.Fatalf("expected 1 lookup, got %d", reg.lookups)
	}

	stranger, err := NewSerializer(newTrackingRegistry(), dynamicpb.NewMessage(fd.Messages().Get(0)), serde.Config{
		serde.OptAutoRegisterSchemas:   false,
		serde.OptDeprecatedIndexFormat: false,
	})
	if err != nil {
		t.Fatalf("NewSerializer failed: %v", err)
	}
	_, err = stranger.Serialize(ctx, serde.Context{Topic: "orders", Field: serde.FieldValue}, msg)
	if !errors.Is(err, schemaregistry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for an unregistered subject, got %v", err)
	}
}

func TestSerializeUseLatestVersion(t *testing.T) {
	fd := orderFile(t)
	msg := newOrder(t, fd)
	ctx := context.Background()

	reg := newTrackingRegistry()
	schema, err := fileSchema(fd, nil)
	if err != nil {
		t.Fatalf("render schema: %v", err)
	}
	id, err := reg.Register(ctx, "orders-value", schema, false)
	if err != nil {
		t.Fatalf("seed register failed: %v", err)
	}

	ser, err := NewSerializer(reg, dynamicpb.NewMessage(fd.Messages().Get(0)), serde.Config{
		serde.OptAutoRegisterSchemas:   false,
		serde.OptUseLatestVersion:      true,
		serde.OptDeprecatedIndexFormat: false,
	})
	if err != nil {
		t.Fatalf("NewSerializer failed: %v", err)
	}

	var out []byte
	for i := 0; i < 2; i++ {
		if out, err = ser.Serialize(ctx, serde.Context{Topic: "orders", Field: serde.FieldValue}, msg); err != nil {
			t.Fatalf("Serialize %d failed: %v", i, err)
		}
	}
	if reg.latests != 1 {
		t.Fatalf("expected 1 latest-version fetch, got %d", reg.latests)
	}
	if reg.lookups != 0 || reg.registers != 1 {
		t.Fatalf("latest-version mode touched the store: %d lookups, %d registers", reg.lookups, reg.registers)
	}

	env, err := wire.Parse(out, true)
	if err != nil {
		t.Fatalf("parse framed record: %v", err)
	}
	if env.SchemaID != uint32(id) {
		t.Fatalf("framed schema id %d, expected %d", env.SchemaID, id)
	}
}

func TestSerializeRegistersDependenciesInOrder(t *testing.T) {
	fd := checkoutFiles(t)
	reg := newTrackingRegistry()

	ser, err := NewSerializer(reg, dynamicpb.NewMessage(fd.Messages().Get(0)), serde.Config{
		serde.OptDeprecatedIndexFormat: false,
	})
	if err != nil {
		t.Fatalf("NewSerializer failed: %v", err)
	}
	if _, err := ser.Serialize(context.Background(), serde.Context{Topic: "checkout", Field: serde.FieldValue}, dynamicpb.NewMessage(fd.Messages().Get(0))); err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	wantOrder := []string{"address.proto", "customer.proto", "payment.proto", "checkout-value"}
	if !slices.Equal(reg.registerSubjects, wantOrder) {
		t.Fatalf("registration order %v, expected %v", reg.registerSubjects, wantOrder)
	}

	wantTop := []schemaregistry.Reference{
		{Name: "customer.proto", Subject: "customer.proto", Version: 1},
		{Name: "payment.proto", Subject: "payment.proto", Version: 1},
	}
	if got := reg.schemas["checkout-value"].References; !slices.Equal(got, wantTop) {
		t.Fatalf("top-level references %v, expected %v", got, wantTop)
	}
	wantCustomer := []schemaregistry.Reference{
		{Name: "address.proto", Subject: "address.proto", Version: 1},
	}
	if got := reg.schemas["customer.proto"].References; !slices.Equal(got, wantCustomer) {
		t.Fatalf("customer references %v, expected %v", got, wantCustomer)
	}
	if got := reg.schemas["address.proto"].References; len(got) != 0 {
		t.Fatalf("leaf schema carries references: %v", got)
	}
}

func TestSerializeWellKnownTypeReferences(t *testing.T) {
	fd := eventFile(t)
	event := fd.Messages().Get(0)
	ctx := context.Background()
	sctx := serde.Context{Topic: "events", Field: serde.FieldValue}

	msg := dynamicpb.NewMessage(event)
	msg.Set(event.Fields().ByName("id"), protoreflect.ValueOfString("evt-1"))

	t.Run("skipped", func(t *testing.T) {
		reg := newTrackingRegistry()
		ser, err := NewSerializer(reg, dynamicpb.NewMessage(event), serde.Config{
			serde.OptSkipKnownTypes:        true,
			serde.OptDeprecatedIndexFormat: false,
		})
		if err != nil {
			t.Fatalf("NewSerializer failed: %v", err)
		}
		if _, err := ser.Serialize(ctx, sctx, msg); err != nil {
			t.Fatalf("Serialize failed: %v", err)
		}
		if !slices.Equal(reg.registerSubjects, []string{"events-value"}) {
			t.Fatalf("registered subjects %v, expected only the event schema", reg.registerSubjects)
		}
		if refs := reg.schemas["events-value"].References; len(refs) != 0 {
			t.Fatalf("well-known import leaked into references: %v", refs)
		}
	})

	t.Run("referenced", func(t *testing.T) {
		reg := newTrackingRegistry()
		ser, err := NewSerializer(reg, dynamicpb.NewMessage(event), serde.Config{
			serde.OptDeprecatedIndexFormat: false,
		})
		if err != nil {
			t.Fatalf("NewSerializer failed: %v", err)
		}
		if _, err := ser.Serialize(ctx, sctx, msg); err != nil {
			t.Fatalf("Serialize failed: %v", err)
		}
		wantOrder := []string{"google/protobuf/timestamp.proto", "events-value"}
		if !slices.Equal(reg.registerSubjects, wantOrder) {
			t.Fatalf("registered subjects %v, expected %v", reg.registerSubjects, wantOrder)
		}
		wantRefs := []schemaregistry.Reference{
			{Name: "google/protobuf/timestamp.proto", Subject: "google/protobuf/timestamp.proto", Version: 1},
		}
		if got := reg.schemas["events-value"].References; !slices.Equal(got, wantRefs) {
			t.Fatalf("references %v, expected %v", got, wantRefs)
		}
	})
}

func TestSerializeCustomSubjectStrategies(t *testing.T) {
	fd := checkoutFiles(t)
	reg := newTrackingRegistry()

	ser, err := NewSerializer(reg, dynamicpb.NewMessage(fd.Messages().Get(0)), serde.Config{
		serde.OptDeprecatedIndexFormat: false,
		serde.OptSubjectNameStrategy:   serde.RecordNameStrategy,
		serde.OptReferenceSubjectNameStrategy: func(_ serde.Context, refName string) (string, error) {
			return "refs." + refName, nil
		},
	})
	if err != nil {
		t.Fatalf("NewSerializer failed: %v", err)
	}
	if _, err := ser.Serialize(context.Background(), serde.Context{Topic: "checkout", Field: serde.FieldValue}, dynamicpb.NewMessage(fd.Messages().Get(0))); err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	want := []string{"refs.address.proto", "refs.customer.proto", "refs.payment.proto", "demo.Checkout"}
	if !slices.Equal(reg.registerSubjects, want) {
		t.Fatalf("registered subjects %v, expected %v", reg.registerSubjects, want)
	}
}

func TestNewSerializerConfigErrors(t *testing.T) {
	fd := orderFile(t)
	prototype := dynamicpb.NewMessage(fd.Messages().Get(0))
	reg := schemaregistry.NewLocalRegistry()

	t.Run("nil registry", func(t *testing.T) {
		if _, err := NewSerializer(nil, prototype, serde.Config{serde.OptDeprecatedIndexFormat: false}); !errors.Is(err, serde.ErrInvalidConfiguration) {
			t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
		}
	})
	t.Run("nil prototype", func(t *testing.T) {
		if _, err := NewSerializer(reg, nil, serde.Config{serde.OptDeprecatedIndexFormat: false}); !errors.Is(err, serde.ErrInvalidConfiguration) {
			t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
		}
	})

	cases := []struct {
		name string
		conf serde.Config
	}{
		{"missing index format flag", serde.Config{}},
		{"index format flag not a bool", serde.Config{serde.OptDeprecatedIndexFormat: "yes"}},
		{"unknown key", serde.Config{serde.OptDeprecatedIndexFormat: false, "use.deprecated.format": true}},
		{"latest alongside auto registration", serde.Config{serde.OptDeprecatedIndexFormat: false, serde.OptUseLatestVersion: true}},
		{"strategy not a function", serde.Config{serde.OptDeprecatedIndexFormat: false, serde.OptSubjectNameStrategy: 42}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewSerializer(reg, prototype, tc.conf); !errors.Is(err, serde.ErrInvalidConfiguration) {
				t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
			}
		})
	}
}

func TestSerializeRejectsUnframeableSchemaID(t *testing.T) {
	fd := orderFile(t)
	msg := newOrder(t, fd)

	for _, id := range []int{-1, math.MaxUint32 + 1} {
		ser, err := NewSerializer(&stubRegistry{id: id, version: 1}, dynamicpb.NewMessage(fd.Messages().Get(0)), serde.Config{
			serde.OptDeprecatedIndexFormat: false,
		})
		if err != nil {
			t.Fatalf("NewSerializer failed: %v", err)
		}
		if _, err := ser.Serialize(context.Background(), serde.Context{Topic: "orders", Field: serde.FieldValue}, msg); err == nil {
			t.Fatalf("schema id %d was framed, expected an error", id)
		}
	}
}
