package main

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"

	"github.com/milindl/schemawire/internal/cli"
	"github.com/milindl/schemawire/internal/telemetry"
	"github.com/milindl/schemawire/pkg/schemaregistry"
	"github.com/milindl/schemawire/pkg/wire"
)

const cliVersion = "0.0.0-dev"

const tracerName = "schemawire/cli"

func main() {
	if err := run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	command := newRootCommand()
	parsedArgs := []string{}
	if len(args) > 1 {
		parsedArgs = args[1:]
	}
	command.SetArgs(parsedArgs)
	return command.Execute()
}

func newRootCommand() *cobra.Command {
	command := &cobra.Command{
		Use:          "schemawire",
		Short:        "schema registry wire format tooling",
		Version:      cliVersion,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	command.PersistentFlags().String("config", "", "path to schemawire config file")
	command.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return cli.InitViperFromCommand(cmd, cli.ViperConfig{
			EnvPrefix:    "SCHEMAWIRE",
			ConfigEnvVar: "SCHEMAWIRE_CONFIG",
			ConfigName:   "schemawire",
		})
	}

	inspect := &cobra.Command{
		Use:   "inspect [hex record]",
		Short: "decode a framed record without touching the registry",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runInspect,
	}
	addInspectFlags(inspect)
	command.AddCommand(inspect)

	register := &cobra.Command{
		Use:   "register",
		Short: "register schemas from a file or a manifest",
		Args:  cobra.NoArgs,
		RunE:  runRegister,
	}
	addRegisterFlags(register)
	command.AddCommand(register)

	latest := &cobra.Command{
		Use:   "latest",
		Short: "show the latest version registered under a subject",
		Args:  cobra.NoArgs,
		RunE:  runLatest,
	}
	addLatestFlags(latest)
	command.AddCommand(latest)

	versions := &cobra.Command{
		Use:   "versions",
		Short: "list the versions registered under a subject",
		Args:  cobra.NoArgs,
		RunE:  runVersions,
	}
	addVersionsFlags(versions)
	command.AddCommand(versions)

	command.InitDefaultCompletionCmd()

	command.AddCommand(&cobra.Command{
		Use:     "version",
		Short:   "show version",
		Args:    cobra.NoArgs,
		Aliases: []string{"v"},
		RunE: func(*cobra.Command, []string) error {
			fmt.Printf("schemawire %s\n", cliVersion)
			return nil
		},
	})
	return command
}

func addRegistryFlags(cmd *cobra.Command) {
	cmd.Flags().String("registry", "", "registry backend: csr|apicurio|postgres|local")
	cmd.Flags().String("url", "", "schema registry base url")
	cmd.Flags().String("username", "", "basic auth username")
	cmd.Flags().String("password", "", "basic auth password")
	cmd.Flags().String("token", "", "bearer token")
	cmd.Flags().String("dsn", "", "postgres registry dsn")
	cmd.Flags().Duration("timeout", 10*time.Second, "registry request timeout")
	cmd.Flags().Bool("apicurio-compat", true, "use the apicurio confluent-compat api")
}

func addOutputFlags(cmd *cobra.Command, withYAML bool) {
	cmd.Flags().Bool("json", false, "output JSON for scripting")
	if withYAML {
		cmd.Flags().Bool("yaml", false, "output YAML for scripting")
	}
	cmd.Flags().Bool("pretty", false, "pretty-print JSON output")
}

func addInspectFlags(cmd *cobra.Command) {
	cmd.Flags().String("file", "", "file holding one framed record")
	cmd.Flags().String("format", "protobuf", "record format: protobuf|avro|json")
	cmd.Flags().Bool("deprecated-format", false, "read the message index as plain varints")
	addOutputFlags(cmd, true)
}

func addRegisterFlags(cmd *cobra.Command) {
	addRegistryFlags(cmd)
	cmd.Flags().String("subject", "", "subject to register under")
	cmd.Flags().String("file", "", "schema file")
	cmd.Flags().String("schema-type", "", "schema type: avro|protobuf|json (inferred from the file extension when empty)")
	cmd.Flags().Bool("normalize", false, "ask the registry to normalize the schema")
	cmd.Flags().String("manifest", "", "yaml manifest of subjects to register")
	addOutputFlags(cmd, false)
}

func addLatestFlags(cmd *cobra.Command) {
	addRegistryFlags(cmd)
	cmd.Flags().String("subject", "", "subject name")
	addOutputFlags(cmd, true)
}

func addVersionsFlags(cmd *cobra.Command) {
	addRegistryFlags(cmd)
	cmd.Flags().String("subject", "", "subject name")
	addOutputFlags(cmd, false)
}

type recordDetails struct {
	SchemaID      uint32 `json:"schema_id" yaml:"schema_id"`
	MessageIndex  []int  `json:"message_index,omitempty" yaml:"message_index,omitempty"`
	PayloadBytes  int    `json:"payload_bytes" yaml:"payload_bytes"`
	PayloadBase64 string `json:"payload_base64,omitempty" yaml:"payload_base64,omitempty"`
}

func runInspect(cmd *cobra.Command, args []string) (err error) {
	_, span := telemetry.Start(cmd.Context(), tracerName, "cli.inspect")
	defer func() { telemetry.End(span, err) }()

	data, err := recordBytes(cmd, args)
	if err != nil {
		return err
	}
	format := strings.ToLower(strings.TrimSpace(cli.ResolveStringFlag(cmd, "format")))
	details, err := describeRecord(data, format, cli.ResolveBoolFlag(cmd, "deprecated-format"))
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("schema.id", int(details.SchemaID)))

	return emit(cmd, details, func() {
		fmt.Printf("schema id: %d\n", details.SchemaID)
		if details.MessageIndex != nil {
			fmt.Printf("message index: %v\n", details.MessageIndex)
		}
		fmt.Printf("payload: %d bytes\n", details.PayloadBytes)
	})
}

func recordBytes(cmd *cobra.Command, args []string) ([]byte, error) {
	if path := cli.ResolveStringFlag(cmd, "file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read record file: %w", err)
		}
		return data, nil
	}
	if len(args) == 0 {
		return nil, errors.New("--file or a hex record argument is required")
	}
	return decodeHexRecord(args[0])
}

func decodeHexRecord(arg string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, arg)
	cleaned = strings.TrimPrefix(cleaned, "0x")
	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("decode hex record: %w", err)
	}
	return data, nil
}

func describeRecord(data []byte, format string, deprecated bool) (recordDetails, error) {
	switch format {
	case "protobuf":
		env, err := wire.Parse(data, !deprecated)
		if err != nil {
			return recordDetails{}, err
		}
		return recordDetails{
			SchemaID:      env.SchemaID,
			MessageIndex:  env.Index,
			PayloadBytes:  len(env.Payload),
			PayloadBase64: base64.StdEncoding.EncodeToString(env.Payload),
		}, nil
	case "avro", "json":
		id, payload, err := wire.ParseHeader(data)
		if err != nil {
			return recordDetails{}, err
		}
		return recordDetails{
			SchemaID:      id,
			PayloadBytes:  len(payload),
			PayloadBase64: base64.StdEncoding.EncodeToString(payload),
		}, nil
	default:
		return recordDetails{}, fmt.Errorf("unsupported record format %q", format)
	}
}

type registryEntry struct {
	subject   string
	schema    schemaregistry.Schema
	normalize bool
}

type registrationManifest struct {
	Subjects []manifestSubject `yaml:"subjects"`
}

type manifestSubject struct {
	Subject    string              `yaml:"subject"`
	File       string              `yaml:"file"`
	Type       string              `yaml:"type"`
	Normalize  bool                `yaml:"normalize"`
	References []manifestReference `yaml:"references"`
}

type manifestReference struct {
	Name    string `yaml:"name"`
	Subject string `yaml:"subject"`
	Version int    `yaml:"version"`
}

type registration struct {
	Subject string `json:"subject" yaml:"subject"`
	ID      int    `json:"id" yaml:"id"`
	Type    string `json:"type" yaml:"type"`
}

type registrationOutput struct {
	Count         int            `json:"count" yaml:"count"`
	Registrations []registration `json:"registrations" yaml:"registrations"`
}

func runRegister(cmd *cobra.Command, _ []string) (err error) {
	ctx, span := telemetry.Start(cmd.Context(), tracerName, "cli.register")
	defer func() { telemetry.End(span, err) }()

	entries, err := registrationEntries(cmd)
	if err != nil {
		return err
	}
	registry, err := registryFromCommand(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = registry.Close() }()

	results := make([]registration, 0, len(entries))
	for _, entry := range entries {
		id, err := registry.Register(ctx, entry.subject, entry.schema, entry.normalize)
		if err != nil {
			return fmt.Errorf("register %s: %w", entry.subject, err)
		}
		results = append(results, registration{
			Subject: entry.subject,
			ID:      id,
			Type:    string(entry.schema.Type),
		})
	}
	span.SetAttributes(attribute.Int("subjects", len(results)))

	return emit(cmd, registrationOutput{Count: len(results), Registrations: results}, func() {
		rows := make([][]string, 0, len(results))
		for _, item := range results {
			rows = append(rows, []string{item.Subject, fmt.Sprintf("%d", item.ID), item.Type})
		}
		renderTextTable([]string{"SUBJECT", "ID", "TYPE"}, rows)
	})
}

func registrationEntries(cmd *cobra.Command) ([]registryEntry, error) {
	if manifestPath := cli.ResolveStringFlag(cmd, "manifest"); manifestPath != "" {
		return loadManifest(manifestPath)
	}
	subject := strings.TrimSpace(cli.ResolveStringFlag(cmd, "subject"))
	path := cli.ResolveStringFlag(cmd, "file")
	if subject == "" || path == "" {
		return nil, errors.New("--subject and --file are required without --manifest")
	}
	text, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	schemaType, err := resolveSchemaType(cli.ResolveStringFlag(cmd, "schema-type"), path)
	if err != nil {
		return nil, err
	}
	return []registryEntry{{
		subject:   subject,
		normalize: cli.ResolveBoolFlag(cmd, "normalize"),
		schema:    schemaregistry.Schema{Schema: string(text), Type: schemaType},
	}}, nil
}

func resolveSchemaType(raw, path string) (schemaregistry.SchemaType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "avro":
		return schemaregistry.SchemaTypeAvro, nil
	case "protobuf", "proto":
		return schemaregistry.SchemaTypeProtobuf, nil
	case "json", "jsonschema":
		return schemaregistry.SchemaTypeJSON, nil
	case "":
	default:
		return "", fmt.Errorf("unsupported schema type %q", raw)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".avsc", ".avro":
		return schemaregistry.SchemaTypeAvro, nil
	case ".proto":
		return schemaregistry.SchemaTypeProtobuf, nil
	case ".json":
		return schemaregistry.SchemaTypeJSON, nil
	}
	return "", fmt.Errorf("cannot infer schema type from %q; pass --schema-type", path)
}

func loadManifest(path string) ([]registryEntry, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var doc registrationManifest
	if err := yaml.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(doc.Subjects) == 0 {
		return nil, errors.New("manifest lists no subjects")
	}

	baseDir := filepath.Dir(path)
	entries := make([]registryEntry, 0, len(doc.Subjects))
	for _, item := range doc.Subjects {
		if strings.TrimSpace(item.Subject) == "" {
			return nil, errors.New("manifest subject entries need a subject name")
		}
		schemaPath := item.File
		if !filepath.IsAbs(schemaPath) {
			schemaPath = filepath.Join(baseDir, schemaPath)
		}
		text, err := os.ReadFile(schemaPath)
		if err != nil {
			return nil, fmt.Errorf("read schema for %s: %w", item.Subject, err)
		}
		schemaType, err := resolveSchemaType(item.Type, item.File)
		if err != nil {
			return nil, fmt.Errorf("subject %s: %w", item.Subject, err)
		}
		refs := make([]schemaregistry.Reference, 0, len(item.References))
		for _, ref := range item.References {
			refs = append(refs, schemaregistry.Reference{Name: ref.Name, Subject: ref.Subject, Version: ref.Version})
		}
		entries = append(entries, registryEntry{
			subject:   item.Subject,
			normalize: item.Normalize,
			schema:    schemaregistry.Schema{Schema: string(text), Type: schemaType, References: refs},
		})
	}
	return entries, nil
}

type subjectVersionOutput struct {
	Subject    string                     `json:"subject" yaml:"subject"`
	ID         int                        `json:"id" yaml:"id"`
	Version    int                        `json:"version" yaml:"version"`
	Type       string                     `json:"type,omitempty" yaml:"type,omitempty"`
	Schema     string                     `json:"schema" yaml:"schema"`
	References []schemaregistry.Reference `json:"references,omitempty" yaml:"references,omitempty"`
}

func runLatest(cmd *cobra.Command, _ []string) (err error) {
	subject := strings.TrimSpace(cli.ResolveStringFlag(cmd, "subject"))
	if subject == "" {
		return errors.New("--subject is required")
	}
	ctx, span := telemetry.Start(cmd.Context(), tracerName, "cli.latest", attribute.String("subject", subject))
	defer func() { telemetry.End(span, err) }()

	registry, err := registryFromCommand(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = registry.Close() }()

	latest, err := registry.Latest(ctx, subject)
	if err != nil {
		return fmt.Errorf("latest version of %s: %w", subject, err)
	}
	out := subjectVersionOutput{
		Subject:    latest.Subject,
		ID:         latest.ID,
		Version:    latest.Version,
		Type:       string(latest.Type),
		Schema:     latest.Schema.Schema,
		References: latest.References,
	}
	return emit(cmd, out, func() {
		fmt.Printf("subject=%s version=%d id=%d type=%s\n", out.Subject, out.Version, out.ID, out.Type)
		fmt.Println(out.Schema)
	})
}

type versionsOutput struct {
	Subject  string                 `json:"subject" yaml:"subject"`
	Count    int                    `json:"count" yaml:"count"`
	Versions []subjectVersionOutput `json:"versions" yaml:"versions"`
}

func runVersions(cmd *cobra.Command, _ []string) (err error) {
	subject := strings.TrimSpace(cli.ResolveStringFlag(cmd, "subject"))
	if subject == "" {
		return errors.New("--subject is required")
	}
	ctx, span := telemetry.Start(cmd.Context(), tracerName, "cli.versions", attribute.String("subject", subject))
	defer func() { telemetry.End(span, err) }()

	registry, err := registryFromCommand(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = registry.Close() }()

	versions, err := registry.Versions(ctx, subject)
	if err != nil {
		return fmt.Errorf("versions of %s: %w", subject, err)
	}
	records := make([]subjectVersionOutput, 0, len(versions))
	for _, v := range versions {
		item, err := registry.Version(ctx, subject, v)
		if err != nil {
			return fmt.Errorf("version %d of %s: %w", v, subject, err)
		}
		records = append(records, subjectVersionOutput{
			Subject:    item.Subject,
			ID:         item.ID,
			Version:    item.Version,
			Type:       string(item.Type),
			Schema:     item.Schema.Schema,
			References: item.References,
		})
	}

	return emit(cmd, versionsOutput{Subject: subject, Count: len(records), Versions: records}, func() {
		rows := make([][]string, 0, len(records))
		for _, item := range records {
			rows = append(rows, []string{
				fmt.Sprintf("%d", item.Version),
				fmt.Sprintf("%d", item.ID),
				item.Type,
				fmt.Sprintf("%d", len(item.References)),
			})
		}
		renderTextTable([]string{"VERSION", "ID", "TYPE", "REFS"}, rows)
	})
}

func registryFromCommand(cmd *cobra.Command) (schemaregistry.Registry, error) {
	options := map[string]string{
		schemaregistry.OptRegistryType:           cli.ResolveStringFlag(cmd, "registry"),
		schemaregistry.OptRegistryURL:            cli.ResolveStringFlag(cmd, "url"),
		schemaregistry.OptRegistryUsername:       cli.ResolveStringFlag(cmd, "username"),
		schemaregistry.OptRegistryPassword:       cli.ResolveStringFlag(cmd, "password"),
		schemaregistry.OptRegistryToken:          cli.ResolveStringFlag(cmd, "token"),
		schemaregistry.OptRegistryDSN:            cli.ResolveStringFlag(cmd, "dsn"),
		schemaregistry.OptRegistryApicurioCompat: fmt.Sprintf("%t", cli.ResolveBoolFlag(cmd, "apicurio-compat")),
	}
	if timeout := cli.ResolveDurationFlag(cmd, "timeout"); timeout > 0 {
		options[schemaregistry.OptRegistryTimeout] = timeout.String()
	}
	return schemaregistry.NewRegistry(cmd.Context(), schemaregistry.ConfigFromOptions(options))
}

func emit(cmd *cobra.Command, payload any, text func()) error {
	jsonOutput := cli.ResolveBoolFlag(cmd, "json")
	prettyOutput := cli.ResolveBoolFlag(cmd, "pretty")
	yamlOutput := false
	if cmd.Flags().Lookup("yaml") != nil {
		yamlOutput = cli.ResolveBoolFlag(cmd, "yaml")
	}
	if prettyOutput {
		jsonOutput = true
	}
	if jsonOutput && yamlOutput {
		return errors.New("use either --json or --yaml")
	}

	if yamlOutput {
		out, err := yaml.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		_, err = os.Stdout.Write(out)
		return err
	}
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		if prettyOutput {
			enc.SetIndent("", "  ")
		}
		if err := enc.Encode(payload); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	}
	text()
	return nil
}

func renderTextTable(headers []string, rows [][]string) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	header := make(table.Row, len(headers))
	for i, value := range headers {
		header[i] = value
	}
	t.AppendHeader(header)
	for _, rowValues := range rows {
		row := make(table.Row, len(rowValues))
		for i, value := range rowValues {
			row[i] = value
		}
		t.AppendRow(row)
	}
	t.Render()
}
