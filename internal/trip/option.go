package trip

import "encoding/json"

// Option holds a value that may be absent, such as the speed before the
// first fix has arrived.
type Option[T any] struct {
	Value T
	Valid bool
}

func Some[T any](v T) Option[T] { return Option[T]{Value: v, Valid: true} }

func None[T any]() Option[T] { return Option[T]{} }

// Or returns the value, or def when absent.
func (o Option[T]) Or(def T) T {
	if !o.Valid {
		return def
	}
	return o.Value
}

// MarshalJSON encodes an absent value as null.
func (o Option[T]) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

func (o *Option[T]) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*o = Option[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}
