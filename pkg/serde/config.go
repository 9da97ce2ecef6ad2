package serde

import "fmt"

// Option keys recognized across the serdes. Each constructor validates the
// subset it honors and rejects everything else, so a misspelled key fails at
// construction instead of silently keeping its default.
const (
	// OptAutoRegisterSchemas registers unknown schemas on first use when
	// true. Defaults to true. Mutually exclusive with OptUseLatestVersion.
	OptAutoRegisterSchemas = "auto_register_schemas"
	// OptNormalizeSchemas asks the registry to normalize the schema text
	// during registration and lookup. Defaults to false.
	OptNormalizeSchemas = "normalize_schemas"
	// OptUseLatestVersion skips registration and lookup entirely, framing
	// records with the id of the subject's latest registered version.
	// Defaults to false.
	OptUseLatestVersion = "use_latest_version"
	// OptSkipKnownTypes leaves imports under google/protobuf/ out of the
	// reference graph. Defaults to false.
	OptSkipKnownTypes = "skip_known_types"
	// OptSubjectNameStrategy supplies a SubjectNameFunc. Defaults to
	// TopicNameStrategy.
	OptSubjectNameStrategy = "subject_name_strategy"
	// OptReferenceSubjectNameStrategy supplies a ReferenceSubjectNameFunc.
	// Defaults to ReferenceSubjectNameStrategy.
	OptReferenceSubjectNameStrategy = "reference_subject_name_strategy"
	// OptDeprecatedIndexFormat selects the pre-zig-zag message index layout.
	// There is no default: the two layouts are mutually unreadable, so the
	// protobuf serdes refuse to guess and require an explicit choice.
	OptDeprecatedIndexFormat = "use_deprecated_index_format"
	// OptValidateRecords validates JSON records against their schema during
	// serialization and deserialization. Defaults to true.
	OptValidateRecords = "validate_records"
)

// Config carries serde options keyed by the Opt constants. Values are
// type-checked during construction; bool options take bool values and the
// strategy options take the corresponding function type.
type Config map[string]any

// Validate rejects any key outside recognized.
func (c Config) Validate(recognized ...string) error {
	for key := range c {
		known := false
		for _, k := range recognized {
			if key == k {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("%w: unrecognized option %q", ErrInvalidConfiguration, key)
		}
	}
	return nil
}

// Bool returns the bool option at key, or def when the key is absent.
func (c Config) Bool(key string, def bool) (bool, error) {
	v, ok := c[key]
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: option %q must be a bool, got %T", ErrInvalidConfiguration, key, v)
	}
	return b, nil
}

// RequiredBool returns the bool option at key, failing when it is absent.
func (c Config) RequiredBool(key string) (bool, error) {
	if _, ok := c[key]; !ok {
		return false, fmt.Errorf("%w: option %q must be set explicitly", ErrInvalidConfiguration, key)
	}
	return c.Bool(key, false)
}

// SubjectName returns the subject name strategy at key, or def when absent.
func (c Config) SubjectName(key string, def SubjectNameFunc) (SubjectNameFunc, error) {
	v, ok := c[key]
	if !ok {
		return def, nil
	}
	switch fn := v.(type) {
	case SubjectNameFunc:
		return fn, nil
	case func(Context, string) (string, error):
		return fn, nil
	default:
		return nil, fmt.Errorf("%w: option %q must be a SubjectNameFunc, got %T", ErrInvalidConfiguration, key, v)
	}
}

// ReferenceSubjectName returns the reference subject strategy at key, or def
// when absent.
func (c Config) ReferenceSubjectName(key string, def ReferenceSubjectNameFunc) (ReferenceSubjectNameFunc, error) {
	v, ok := c[key]
	if !ok {
		return def, nil
	}
	switch fn := v.(type) {
	case ReferenceSubjectNameFunc:
		return fn, nil
	case func(Context, string) (string, error):
		return fn, nil
	default:
		return nil, fmt.Errorf("%w: option %q must be a ReferenceSubjectNameFunc, got %T", ErrInvalidConfiguration, key, v)
	}
}
