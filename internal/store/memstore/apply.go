package memstore

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"dispatchd/internal/store"
)

var timeType = reflect.TypeOf(time.Time{})

// fieldByTag finds the struct field whose firestore tag name is name.
func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag, _ := tagOf(t.Field(i))
		if tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func tagOf(f reflect.StructField) (string, []string) {
	tag := f.Tag.Get("firestore")
	if tag == "" || tag == "-" {
		return "", nil
	}
	parts := strings.Split(tag, ",")
	return parts[0], parts[1:]
}

// applyUpdates writes updates into doc, a pointer to a document struct, the
// way the Firestore backend resolves the same transforms server-side.
func applyUpdates(doc any, updates []store.Update, now time.Time) error {
	v := reflect.ValueOf(doc).Elem()
	for _, u := range updates {
		f, ok := fieldByTag(v, u.Field)
		if !ok {
			return fmt.Errorf("memstore: unknown field %q on %s", u.Field, v.Type().Name())
		}
		if err := applyOne(f, u.Value, now); err != nil {
			return fmt.Errorf("memstore: field %q: %w", u.Field, err)
		}
	}
	return nil
}

func applyOne(f reflect.Value, value any, now time.Time) error {
	switch val := value.(type) {
	case store.Sentinel:
		switch val {
		case store.Delete:
			f.Set(reflect.Zero(f.Type()))
			return nil
		case store.ServerTimestamp:
			return assign(f, now)
		}
		return fmt.Errorf("unsupported sentinel %d", val)
	case store.Increment:
		return increment(f, int64(val))
	case store.ArrayUnion:
		return arrayUnion(f, val)
	}
	return assign(f, value)
}

func assign(f reflect.Value, value any) error {
	if value == nil {
		f.Set(reflect.Zero(f.Type()))
		return nil
	}
	src := reflect.ValueOf(value)
	if f.Kind() == reflect.Ptr && src.Type() != f.Type() {
		elem := reflect.New(f.Type().Elem())
		if err := assign(elem.Elem(), value); err != nil {
			return err
		}
		f.Set(elem)
		return nil
	}
	converted, err := convert(src, f.Type())
	if err != nil {
		return err
	}
	f.Set(converted)
	return nil
}

func convert(src reflect.Value, to reflect.Type) (reflect.Value, error) {
	if src.Type().AssignableTo(to) {
		return src, nil
	}
	// Go converts integers to strings as runes; Firestore never does.
	if to.Kind() == reflect.String && src.Kind() != reflect.String {
		return reflect.Value{}, fmt.Errorf("cannot store %s in %s", src.Type(), to)
	}
	if src.Type().ConvertibleTo(to) {
		return src.Convert(to), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot store %s in %s", src.Type(), to)
}

func increment(f reflect.Value, by int64) error {
	switch f.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f.SetInt(f.Int() + by)
	case reflect.Float32, reflect.Float64:
		f.SetFloat(f.Float() + float64(by))
	default:
		return fmt.Errorf("cannot increment %s", f.Type())
	}
	return nil
}

func arrayUnion(f reflect.Value, elems []any) error {
	if f.Kind() != reflect.Slice {
		return fmt.Errorf("cannot union into %s", f.Type())
	}
	out := f
	for _, e := range elems {
		ev, err := convert(reflect.ValueOf(e), f.Type().Elem())
		if err != nil {
			return err
		}
		present := false
		for i := 0; i < out.Len(); i++ {
			if out.Index(i).Interface() == ev.Interface() {
				present = true
				break
			}
		}
		if !present {
			out = reflect.Append(out, ev)
		}
	}
	f.Set(out)
	return nil
}

// stampServerTime returns a copy of record with zero `serverTimestamp` fields
// set to now.
func stampServerTime(record any, now time.Time) any {
	v := reflect.ValueOf(record)
	isPtr := v.Kind() == reflect.Ptr
	if isPtr {
		if v.IsNil() {
			return record
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return record
	}
	cp := reflect.New(v.Type()).Elem()
	cp.Set(v)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		_, opts := tagOf(t.Field(i))
		f := cp.Field(i)
		for _, o := range opts {
			if o == "serverTimestamp" && f.Type() == timeType && f.Interface().(time.Time).IsZero() {
				f.Set(reflect.ValueOf(now))
			}
		}
	}
	if isPtr {
		return cp.Addr().Interface()
	}
	return cp.Interface()
}
