package schema

import (
	"github.com/weaveproject/weave/pkg/errs"
	"github.com/weaveproject/weave/pkg/jsonval"
)

// Validate is a pure function from (value, schema) to result, covering
// the JSON-schema subset spec.md §3 names: type, minimum, maximum,
// enum, isRequired, properties, items, plus "required" (an explicit
// array-of-names form used at the object root, e.g. command
// parameters) and additionalProperties.
func Validate(v jsonval.Value, sch jsonval.Value) error {
	if sch.Kind() != jsonval.KindObject {
		// No schema constraints declared: anything passes.
		return nil
	}

	if typ, ok := stringField(sch, "type"); ok {
		if err := checkType(v, typ); err != nil {
			return err
		}
	}

	if enumV, ok := sch.Get("enum"); ok {
		if err := checkEnum(v, enumV); err != nil {
			return err
		}
	}

	switch v.Kind() {
	case jsonval.KindInt, jsonval.KindFloat:
		if err := checkRange(v, sch); err != nil {
			return err
		}
	case jsonval.KindObject:
		if err := checkObject(v, sch); err != nil {
			return err
		}
	case jsonval.KindArray:
		if err := checkArray(v, sch); err != nil {
			return err
		}
	}

	return nil
}

func stringField(sch jsonval.Value, key string) (string, bool) {
	f, ok := sch.Get(key)
	if !ok {
		return "", false
	}
	return f.AsString()
}

func checkType(v jsonval.Value, typ string) error {
	ok := false
	switch typ {
	case "string":
		ok = v.Kind() == jsonval.KindString
	case "integer":
		ok = v.Kind() == jsonval.KindInt
	case "number":
		ok = v.Kind() == jsonval.KindInt || v.Kind() == jsonval.KindFloat
	case "boolean":
		ok = v.Kind() == jsonval.KindBool
	case "object":
		ok = v.Kind() == jsonval.KindObject
	case "array":
		ok = v.Kind() == jsonval.KindArray
	default:
		// Unrecognized declared type: treat as unconstrained rather
		// than failing every value against it.
		return nil
	}
	if !ok {
		return errs.New(errs.DomainSchema, errs.CodeTypeMismatch, "schema.Validate", "expected "+typ+", got "+v.Kind().String())
	}
	return nil
}

func checkEnum(v jsonval.Value, enumV jsonval.Value) error {
	allowed, ok := enumV.AsArray()
	if !ok {
		return nil
	}
	for _, a := range allowed {
		if jsonval.Equal(a, v) {
			return nil
		}
	}
	return errs.New(errs.DomainSchema, errs.CodeInvalidEnumValue, "schema.Validate", "value not in enum")
}

func checkRange(v jsonval.Value, sch jsonval.Value) error {
	f, _ := v.AsFloat()
	if minV, ok := sch.Get("minimum"); ok {
		if m, ok := minV.AsFloat(); ok && f < m {
			return errs.New(errs.DomainSchema, errs.CodeInvalidParameter, "schema.Validate", "value below minimum")
		}
	}
	if maxV, ok := sch.Get("maximum"); ok {
		if m, ok := maxV.AsFloat(); ok && f > m {
			return errs.New(errs.DomainSchema, errs.CodeInvalidParameter, "schema.Validate", "value above maximum")
		}
	}
	return nil
}

func checkObject(v jsonval.Value, sch jsonval.Value) error {
	propsV, hasProps := sch.Get("properties")
	additionalOK := true
	if aV, ok := sch.Get("additionalProperties"); ok {
		if b, ok := aV.AsBool(); ok {
			additionalOK = b
		}
	}

	required := map[string]bool{}
	if reqV, ok := sch.Get("required"); ok {
		if arr, ok := reqV.AsArray(); ok {
			for _, r := range arr {
				if s, ok := r.AsString(); ok {
					required[s] = true
				}
			}
		}
	}
	if hasProps {
		for _, name := range propsV.Keys() {
			propSch, _ := propsV.Get(name)
			if isReq, ok := propSch.Get("isRequired"); ok {
				if b, ok := isReq.AsBool(); ok && b {
					required[name] = true
				}
			}
		}
	}
	for name := range required {
		if _, present := v.Get(name); !present {
			return errs.New(errs.DomainSchema, errs.CodeRequiredMissing, "schema.Validate", "missing required property \""+name+"\"")
		}
	}

	for _, key := range v.Keys() {
		val, _ := v.Get(key)
		if !hasProps {
			continue
		}
		propSch, declared := propsV.Get(key)
		if !declared {
			if !additionalOK {
				return errs.New(errs.DomainSchema, errs.CodePropertyNotDefined, "schema.Validate", "property \""+key+"\" not defined")
			}
			continue
		}
		if err := Validate(val, propSch); err != nil {
			return err
		}
	}
	return nil
}

func checkArray(v jsonval.Value, sch jsonval.Value) error {
	itemsSch, ok := sch.Get("items")
	if !ok {
		return nil
	}
	arr, _ := v.AsArray()
	for _, e := range arr {
		if err := Validate(e, itemsSch); err != nil {
			return err
		}
	}
	return nil
}
