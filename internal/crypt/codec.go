package crypt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// Transform selects how a column is serialised before sealing and after opening.
//
// JSON decoding on read is opt-in per column rather than attempted on every
// value. String columns come back exactly as stored even when the text parses
// as JSON, so a role named "123" or "true" keeps its string type. Codec.Decrypt,
// which has no schema, still attempts the decode on every value.
type Transform int

const (
	// String columns hold plain strings; opened values are never JSON-decoded.
	String Transform = iota
	// JSON columns hold arrays or objects serialised as JSON.
	JSON
)

// Schema maps column names to their transform.
type Schema map[string]Transform

// Columns returns the schema columns in a stable order.
func (s Schema) Columns() []string {
	cols := make([]string, 0, len(s))
	for c := range s {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// Encryptable is implemented by entities that persist confidential columns.
type Encryptable interface {
	EncryptedFields() Schema
}

// Row is the column view of an entity at the persistence boundary.
type Row map[string]any

// String returns the column as a string; NULL and non-strings yield "".
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case string:
		return v
	case *string:
		if v != nil {
			return *v
		}
	}
	return ""
}

// NullString returns nil for NULL columns.
func (r Row) NullString(col string) *string {
	switch v := r[col].(type) {
	case string:
		return &v
	case *string:
		return v
	}
	return nil
}

// Strings returns a JSON array column as a string slice.
func (r Row) Strings(col string) []string {
	switch v := r[col].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
				continue
			}
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

// FailureHook observes read-path decrypt fallbacks.
type FailureHook func(entity, column string)

// Codec applies a Cipher to values and to entity rows.
type Codec struct {
	cipher    *Cipher
	logger    *slog.Logger
	onFailure FailureHook
}

// Option configures a Codec.
type Option func(*Codec)

// WithLogger sets the logger used for decrypt warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Codec) { c.logger = logger }
}

// WithFailureHook registers a callback for every decrypt fallback.
func WithFailureHook(hook FailureHook) Option {
	return func(c *Codec) { c.onFailure = hook }
}

// NewCodec wraps cipher.
func NewCodec(cipher *Cipher, opts ...Option) *Codec {
	c := &Codec{cipher: cipher}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encrypt seals v. Strings are sealed as-is, arrays, maps and structs as JSON,
// other scalars via their default formatting. A nil value stays nil. Errors
// from the primitive are returned: the write path must not store plaintext.
func (c *Codec) Encrypt(v any) (*string, error) {
	plain, isNull, err := serialise(v)
	if err != nil {
		return nil, err
	}
	if isNull {
		return nil, nil
	}
	sealed, err := c.cipher.EncryptString(plain)
	if err != nil {
		return nil, err
	}
	return &sealed, nil
}

// Decrypt opens ct. Valid JSON is returned decoded, anything else as the
// plaintext string. If ct cannot be opened it is returned unchanged.
func (c *Codec) Decrypt(ct *string) any {
	if ct == nil {
		return nil
	}
	plain, ok := c.open("", "", *ct)
	if !ok {
		return *ct
	}
	return decodeJSON(plain)
}

// DecryptString opens ct without attempting JSON decoding. The second result
// is false when the value could not be opened and ct is returned unchanged.
func (c *Codec) DecryptString(ct string) (string, bool) {
	return c.open("", "", ct)
}

// BlindIndex exposes the keyed digest of the underlying cipher.
func (c *Codec) BlindIndex(value string) string {
	return c.cipher.BlindIndex(value)
}

// BlindIndexes returns the current digest of value first, then one per
// previous key.
func (c *Codec) BlindIndexes(value string) []string {
	return c.cipher.BlindIndexes(value)
}

// Seal returns a copy of row whose schema columns hold sealed *string values.
// Columns absent from row are left absent.
func (c *Codec) Seal(e Encryptable, row Row) (Row, error) {
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	schema := e.EncryptedFields()
	for _, col := range schema.Columns() {
		v, ok := row[col]
		if !ok {
			continue
		}
		sealed, err := c.Encrypt(v)
		if err != nil {
			return nil, fmt.Errorf("crypt: seal %T.%s: %w", e, col, err)
		}
		out[col] = sealed
	}
	return out, nil
}

// Open returns a copy of row with schema columns opened: String columns as
// string, JSON columns decoded. NULL columns stay nil. Columns that fail to
// open keep their stored value and are reported in failed.
func (c *Codec) Open(e Encryptable, row Row) (opened Row, failed []string) {
	opened = make(Row, len(row))
	for k, v := range row {
		opened[k] = v
	}
	entity := fmt.Sprintf("%T", e)
	schema := e.EncryptedFields()
	for _, col := range schema.Columns() {
		raw := row.NullString(col)
		if raw == nil {
			opened[col] = nil
			continue
		}
		plain, ok := c.open(entity, col, *raw)
		if !ok {
			opened[col] = *raw
			failed = append(failed, col)
			continue
		}
		if schema[col] == JSON {
			opened[col] = decodeJSON(plain)
			continue
		}
		opened[col] = plain
	}
	return opened, failed
}

// Reseal re-encrypts ct with the current key. A value opened by the current
// key is returned unchanged with changed=false. A value that is not shaped
// like a sealed payload is treated as legacy plaintext and sealed as-is. A
// payload-shaped value no key opens is left alone and reported with
// ErrAuthentication, since sealing it again would bury the original.
func (c *Codec) Reseal(ct string) (sealed string, changed bool, err error) {
	plain, current, openErr := c.cipher.open(ct)
	switch {
	case openErr == nil && current:
		return ct, false, nil
	case errors.Is(openErr, ErrMalformed):
		plain = ct
	case openErr != nil:
		return "", false, fmt.Errorf("crypt: reseal: %w", openErr)
	}
	sealed, err = c.cipher.EncryptString(plain)
	if err != nil {
		return "", false, err
	}
	return sealed, true, nil
}

func (c *Codec) open(entity, col, ct string) (string, bool) {
	plain, err := c.cipher.DecryptString(ct)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("decrypt failed, returning stored value",
				slog.String("entity", entity),
				slog.String("column", col),
				slog.Any("error", err))
		}
		if c.onFailure != nil {
			c.onFailure(entity, col)
		}
		return ct, false
	}
	return plain, true
}

func serialise(v any) (string, bool, error) {
	switch t := v.(type) {
	case nil:
		return "", true, nil
	case string:
		return t, false, nil
	case *string:
		if t == nil {
			return "", true, nil
		}
		return *t, false, nil
	case []byte:
		return string(t), false, nil
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(t), false, nil
	case fmt.Stringer:
		return t.String(), false, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", false, fmt.Errorf("crypt: serialise: %w", err)
	}
	if bytes.Equal(data, []byte("null")) {
		return "", true, nil
	}
	return string(data), false, nil
}

func decodeJSON(plain string) any {
	if !json.Valid([]byte(plain)) {
		return plain
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(plain)))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return plain
	}
	return out
}
